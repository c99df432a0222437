// Package apiclient is the authenticated HTTP client for the finance backend.
//
// Every call attaches the stored bearer credential. When the backend answers
// 401 to a call that carried a credential, the client renews the credential
// through the refresh endpoint (one refresh shared by all concurrent callers)
// and retries the call exactly once. A call sent without a credential never
// triggers a refresh.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"

	"famfin/internal/credential"
	"famfin/internal/log"
)

const (
	DefaultRefreshPath = "/auth/refresh"

	headerRequestID = "X-Request-ID"
)

var errMissingToken = errors.New("refresh response carries no access token")

// Options configures a Client.
type Options struct {
	BaseURL     string
	RefreshPath string
	Store       credential.Store
	// HTTPClient must keep cookies between calls (a Jar) for the refresh
	// endpoint to see the renewal cookie. When nil a client with a cookie jar
	// is created.
	HTTPClient *http.Client
	// Timeout and Transport apply to the created HTTP client only. Zero
	// values leave the net/http defaults in place.
	Timeout   time.Duration
	Transport http.RoundTripper
	Logger    *log.Logger
}

// ForcedLogout is emitted when the credential could not be renewed and the
// slot was cleared.
type ForcedLogout struct {
	Reason error
	At     time.Time
}

// Client performs authenticated calls against one backend base URL.
type Client struct {
	baseURL     string
	refreshPath string
	store       credential.Store
	http        *http.Client
	logger      *log.Logger
	refresher   *RefreshCoordinator

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(ForcedLogout)
}

// response is one fully-read HTTP attempt.
type response struct {
	status int
	body   []byte
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("missing base URL")
	}
	if opts.Store == nil {
		return nil, errors.New("missing credential store")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpClient = &http.Client{Jar: jar, Timeout: opts.Timeout, Transport: opts.Transport}
	}

	refreshPath := opts.RefreshPath
	if refreshPath == "" {
		refreshPath = DefaultRefreshPath
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}

	c := &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		refreshPath: refreshPath,
		store:       opts.Store,
		http:        httpClient,
		logger:      logger.WithComponent(log.ComponentAPI),
		listeners:   make(map[int]func(ForcedLogout)),
	}
	c.refresher = NewRefreshCoordinator(c.refreshCredential, c.readSlot)
	return c, nil
}

// Refresher exposes the coordinator, mainly for diagnostics.
func (c *Client) Refresher() *RefreshCoordinator {
	return c.refresher
}

// Store returns the credential slot the client reads and writes.
func (c *Client) Store() credential.Store {
	return c.store
}

// OnForcedLogout registers fn to be called once per failed refresh. fn runs
// asynchronously, after the refresh has settled for every waiter.
func (c *Client) OnForcedLogout(fn func(ForcedLogout)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) Get(ctx context.Context, path string, opts ...Option) (Result, error) {
	return c.Do(ctx, newRequest(http.MethodGet, path, nil, opts))
}

func (c *Client) Post(ctx context.Context, path string, body any, opts ...Option) (Result, error) {
	return c.Do(ctx, newRequest(http.MethodPost, path, body, opts))
}

func (c *Client) Put(ctx context.Context, path string, body any, opts ...Option) (Result, error) {
	return c.Do(ctx, newRequest(http.MethodPut, path, body, opts))
}

func (c *Client) Patch(ctx context.Context, path string, body any, opts ...Option) (Result, error) {
	return c.Do(ctx, newRequest(http.MethodPatch, path, body, opts))
}

func (c *Client) Delete(ctx context.Context, path string, opts ...Option) (Result, error) {
	return c.Do(ctx, newRequest(http.MethodDelete, path, nil, opts))
}

// Fetch performs req and decodes the payload into T.
func Fetch[T any](ctx context.Context, c *Client, req Request) (T, error) {
	var out T
	res, err := c.Do(ctx, req)
	if err != nil {
		return out, err
	}
	if err := res.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// Do executes one logical call: send, and on a 401 with a credential
// attached, renew the credential and send once more. The second response is
// final whatever its status.
func (c *Client) Do(ctx context.Context, req Request) (Result, error) {
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}

	requestID := uuid.NewString()

	token := req.Credential
	explicit := token != ""
	if !explicit {
		token = c.loadCredential(ctx)
	}

	resp, err := c.send(ctx, req, body, token, requestID, 1)
	if err != nil {
		return nil, err
	}

	if resp.status == http.StatusUnauthorized {
		if token == "" {
			return nil, httpError(KindUnauthorized, resp.status, resp.body)
		}

		fresh, err := c.renew(ctx, token, explicit)
		if err != nil {
			return nil, err
		}

		resp, err = c.send(ctx, req, body, fresh, requestID, 2)
		if err != nil {
			return nil, err
		}
	}

	return interpret(resp)
}

// renew returns the credential to retry with. Explicit credentials always
// go through a refresh; stored ones may already have been renewed by a
// concurrent caller, in which case the stored value is reused.
func (c *Client) renew(ctx context.Context, sent string, explicit bool) (string, error) {
	var (
		token  string
		shared bool
		err    error
	)
	if explicit {
		token, shared, err = c.refresher.Do(ctx)
	} else {
		token, shared, err = c.refresher.Renew(ctx, sent)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return "", networkError(err)
		}
		return "", refreshFailedError(err)
	}
	c.logger.DebugContext(ctx, "Credential renewed", log.FieldShared, shared)
	return token, nil
}

// readSlot reads the stored credential for the refresh coordinator. A read
// error makes the coordinator refresh instead of assuming the slot is empty.
func (c *Client) readSlot(ctx context.Context) (string, error) {
	token, err := c.store.Load(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "Failed to read credential before refresh", log.FieldError, err)
	}
	return token, err
}

func (c *Client) loadCredential(ctx context.Context) string {
	token, err := c.store.Load(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "Failed to read credential, sending unauthenticated", log.FieldError, err)
		return ""
	}
	return token
}

func (c *Client) send(ctx context.Context, req Request, body []byte, token, requestID string, attempt int) (*response, error) {
	target, err := c.url(req)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	cacheControl := req.CacheControl
	if cacheControl == "" {
		cacheControl = "no-store"
	}
	httpReq.Header.Set("Cache-Control", cacheControl)
	httpReq.Header.Set(headerRequestID, requestID)
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.ErrorContext(ctx, "Request failed",
			log.NewFields().
				WithHTTPRequest(req.Method, req.Path, attempt).
				WithRequestID(requestID).
				WithError(err).
				ToSlice()...)
		return nil, networkError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(fmt.Errorf("read response body: %w", err))
	}

	c.logger.DebugContext(ctx, "Request completed",
		log.NewFields().
			WithHTTPRequest(req.Method, req.Path, attempt).
			WithHTTPResponse(resp.StatusCode, time.Since(start).Milliseconds()).
			WithRequestID(requestID).
			ToSlice()...)

	return &response{status: resp.StatusCode, body: data}, nil
}

func (c *Client) url(req Request) (string, error) {
	if req.Path == "" {
		return "", errors.New("missing request path")
	}
	target := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}
	return target, nil
}

func interpret(resp *response) (Result, error) {
	if resp.status == http.StatusNoContent {
		return emptyResult(), nil
	}
	if resp.status < 200 || resp.status > 299 {
		return nil, httpError(KindHTTP, resp.status, resp.body)
	}

	body := bytes.TrimSpace(resp.body)
	if len(body) == 0 {
		return emptyResult(), nil
	}
	if !json.Valid(body) {
		return nil, &Error{
			Kind:    KindHTTP,
			Status:  resp.status,
			Message: "invalid JSON response",
			Body:    resp.body,
		}
	}
	return Result(body), nil
}

// refreshCredential runs inside the coordinator, so its side effects
// (persisting, clearing, logout notification) happen once per refresh no
// matter how many callers wait on it.
func (c *Client) refreshCredential(ctx context.Context) (string, error) {
	logger := c.logger.WithComponent(log.ComponentAuth)

	token, err := c.requestRefresh(ctx)
	if err != nil {
		logger.WarnContext(ctx, "Credential refresh failed, clearing session",
			log.FieldOperation, log.OpRefresh, log.FieldError, err)
		if clearErr := c.store.Clear(ctx); clearErr != nil {
			logger.ErrorContext(ctx, "Failed to clear credential", log.FieldError, clearErr)
		}
		c.emitForcedLogout(ForcedLogout{Reason: err, At: time.Now()})
		return "", err
	}

	if err := c.store.Save(ctx, token); err != nil {
		logger.ErrorContext(ctx, "Failed to persist refreshed credential", log.FieldError, err)
	}
	logger.InfoContext(ctx, "Credential refreshed", log.FieldOperation, log.OpRefresh)
	return token, nil
}

func (c *Client) requestRefresh(ctx context.Context) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+strings.TrimLeft(c.refreshPath, "/"), nil)
	if err != nil {
		return "", fmt.Errorf("create refresh request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Cache-Control", "no-store")
	httpReq.Header.Set(headerRequestID, uuid.NewString())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("refresh endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"accessToken"`
		Data        *struct {
			AccessToken string `json:"accessToken"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}

	token := payload.AccessToken
	if token == "" && payload.Data != nil {
		token = payload.Data.AccessToken
	}
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}

// emitForcedLogout runs the listeners on their own goroutine so a slow
// listener cannot hold the refresh that every waiter is blocked on.
func (c *Client) emitForcedLogout(ev ForcedLogout) {
	c.mu.Lock()
	fns := make([]func(ForcedLogout), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	if len(fns) == 0 {
		return
	}
	go func() {
		for _, fn := range fns {
			fn(ev)
		}
	}()
}
