package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"famfin/internal/credential"
	"famfin/internal/log"
)

// fakeBackend accepts bearer tokens listed in valid and mints newToken on
// POST /auth/refresh when refreshStatus is 200.
type fakeBackend struct {
	mu            sync.Mutex
	valid         map[string]bool
	newToken      string
	refreshStatus int
	refreshBody   string
	requireCookie bool

	refreshCalls atomic.Int32
	hits         map[string]int
	lastHeader   http.Header

	// unauthorizedBarrier, when set, holds every 401 response until the
	// WaitGroup is released.
	unauthorizedBarrier *sync.WaitGroup
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		valid:         map[string]bool{"tok1": true},
		newToken:      "tok2",
		refreshStatus: http.StatusOK,
		hits:          make(map[string]int),
	}
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/api/auth/login" {
		http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "r1", Path: "/"})
		writeJSON(w, http.StatusOK, map[string]any{"accessToken": "expired"})
		return
	}

	if r.URL.Path == "/api/auth/refresh" {
		b.refreshCalls.Add(1)
		if b.requireCookie {
			if c, err := r.Cookie("refresh_token"); err != nil || c.Value != "r1" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "missing refresh cookie"})
				return
			}
		}
		if b.refreshStatus != http.StatusOK {
			writeJSON(w, b.refreshStatus, map[string]any{"message": "refresh rejected"})
			return
		}
		b.mu.Lock()
		b.valid[b.newToken] = true
		b.mu.Unlock()
		if b.refreshBody != "" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(b.refreshBody))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"accessToken": b.newToken})
		return
	}

	b.mu.Lock()
	b.hits[r.URL.Path]++
	b.lastHeader = r.Header.Clone()
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	authorized := b.valid[token]
	barrier := b.unauthorizedBarrier
	b.mu.Unlock()

	if r.URL.Path == "/api/always-401" || !authorized {
		if barrier != nil {
			barrier.Done()
			barrier.Wait()
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Token expired", "error": "unauthorized"})
		return
	}

	switch r.URL.Path {
	case "/api/empty":
		w.WriteHeader(http.StatusNoContent)
	case "/api/broken":
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"message": "boom",
			"error":   "internal",
			"details": map[string]any{"field": "amount"},
		})
	case "/api/echo":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusCreated, map[string]any{"method": r.Method, "body": body, "query": r.URL.RawQuery})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"path": r.URL.Path, "token": token})
	}
}

func (b *fakeBackend) hitCount(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, backend *fakeBackend, token string) (*Client, *credential.MemoryStore) {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	store := credential.NewMemoryStore(token)
	c, err := New(Options{
		BaseURL: srv.URL + "/api",
		Store:   store,
		Logger:  log.Discard(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, store
}

// waitForLogouts waits for asynchronous logout listeners and checks that no
// extra notification follows.
func waitForLogouts(t *testing.T, logouts *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for logouts.Load() < want && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := logouts.Load(); got != want {
		t.Errorf("logout notifications = %d, want %d", got, want)
	}
}

func decodeMap(t *testing.T, res Result) map[string]any {
	t.Helper()
	var m map[string]any
	if err := res.Decode(&m); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return m
}

func TestClient_SuccessWithoutRefresh(t *testing.T) {
	backend := newFakeBackend()
	c, _ := newTestClient(t, backend, "tok1")

	res, err := c.Get(context.Background(), "/resource")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got := decodeMap(t, res)
	if got["path"] != "/api/resource" || got["token"] != "tok1" {
		t.Errorf("unexpected result: %v", got)
	}
	if n := backend.refreshCalls.Load(); n != 0 {
		t.Errorf("refresh calls = %d, want 0", n)
	}
}

func TestClient_RequestHeaders(t *testing.T) {
	backend := newFakeBackend()
	c, _ := newTestClient(t, backend, "tok1")

	if _, err := c.Get(context.Background(), "/resource", WithHeader("X-Household", "h1")); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	h := backend.lastHeader
	if h.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", h.Get("Content-Type"))
	}
	if h.Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q", h.Get("Cache-Control"))
	}
	if h.Get("Authorization") != "Bearer tok1" {
		t.Errorf("Authorization = %q", h.Get("Authorization"))
	}
	if h.Get("X-Household") != "h1" {
		t.Errorf("X-Household = %q", h.Get("X-Household"))
	}
	if h.Get(headerRequestID) == "" {
		t.Error("missing request ID header")
	}

	if _, err := c.Get(context.Background(), "/resource", WithCacheControl("max-age=60")); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := backend.lastHeader.Get("Cache-Control"); got != "max-age=60" {
		t.Errorf("Cache-Control override = %q", got)
	}
}

func TestClient_RefreshAndRetry(t *testing.T) {
	backend := newFakeBackend()
	c, store := newTestClient(t, backend, "expired")

	res, err := c.Get(context.Background(), "/resource")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := decodeMap(t, res); got["token"] != "tok2" {
		t.Errorf("retried with token %v, want tok2", got["token"])
	}
	if tok, _ := store.Load(context.Background()); tok != "tok2" {
		t.Errorf("stored credential = %q, want tok2", tok)
	}
	if n := backend.refreshCalls.Load(); n != 1 {
		t.Errorf("refresh calls = %d, want 1", n)
	}
	if n := backend.hitCount("/api/resource"); n != 2 {
		t.Errorf("resource hits = %d, want 2", n)
	}
}

func TestClient_RefreshTokenNestedUnderData(t *testing.T) {
	backend := newFakeBackend()
	backend.refreshBody = `{"data":{"accessToken":"tok2"}}`
	c, store := newTestClient(t, backend, "expired")

	if _, err := c.Get(context.Background(), "/resource"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tok, _ := store.Load(context.Background()); tok != "tok2" {
		t.Errorf("stored credential = %q, want tok2", tok)
	}
}

func TestClient_RefreshFailureClearsSlotAndLogsOut(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			backend := newFakeBackend()
			backend.refreshStatus = status
			c, store := newTestClient(t, backend, "expired")

			var logouts atomic.Int32
			c.OnForcedLogout(func(ForcedLogout) { logouts.Add(1) })

			_, err := c.Get(context.Background(), "/resource")
			if !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("Get() error = %v, want ErrUnauthorized", err)
			}
			if !errors.Is(err, ErrRefreshFailed) {
				t.Errorf("Get() error = %v, want ErrRefreshFailed", err)
			}
			var apiErr *Error
			if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Message != "Unauthorized" {
				t.Errorf("unexpected error shape: %#v", err)
			}
			if tok, _ := store.Load(context.Background()); tok != "" {
				t.Errorf("credential slot = %q, want cleared", tok)
			}
			waitForLogouts(t, &logouts, 1)
			if n := backend.hitCount("/api/resource"); n != 1 {
				t.Errorf("resource hits = %d, want 1 (no retry)", n)
			}
		})
	}
}

func TestClient_RefreshResponseWithoutToken(t *testing.T) {
	backend := newFakeBackend()
	backend.refreshBody = `{"ok":true}`
	c, store := newTestClient(t, backend, "expired")

	_, err := c.Get(context.Background(), "/resource")
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("Get() error = %v, want ErrRefreshFailed", err)
	}
	if !errors.Is(err, errMissingToken) {
		t.Errorf("expected missing-token cause, got %v", err)
	}
	if tok, _ := store.Load(context.Background()); tok != "" {
		t.Errorf("credential slot = %q, want cleared", tok)
	}
}

func TestClient_NoCredentialNeverRefreshes(t *testing.T) {
	backend := newFakeBackend()
	c, _ := newTestClient(t, backend, "")

	var logouts atomic.Int32
	c.OnForcedLogout(func(ForcedLogout) { logouts.Add(1) })

	_, err := c.Get(context.Background(), "/resource")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Get() error = %v, want ErrUnauthorized", err)
	}
	if errors.Is(err, ErrRefreshFailed) {
		t.Errorf("unauthenticated 401 must not be reported as a refresh failure")
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if apiErr.Kind != KindUnauthorized || apiErr.Status != http.StatusUnauthorized {
		t.Errorf("unexpected error: %+v", apiErr)
	}
	if apiErr.Payload.Message != "Token expired" || apiErr.Payload.Error != "unauthorized" {
		t.Errorf("server payload not preserved: %+v", apiErr.Payload)
	}
	if n := backend.refreshCalls.Load(); n != 0 {
		t.Errorf("refresh calls = %d, want 0", n)
	}
	if n := logouts.Load(); n != 0 {
		t.Errorf("logout notifications = %d, want 0", n)
	}
}

func TestClient_RetryIsTerminal(t *testing.T) {
	backend := newFakeBackend()
	c, _ := newTestClient(t, backend, "expired")

	_, err := c.Get(context.Background(), "/always-401")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("Get() error = %v, want *Error", err)
	}
	if apiErr.Kind != KindHTTP || apiErr.Status != http.StatusUnauthorized {
		t.Errorf("retry failure should surface as-is, got %+v", apiErr)
	}
	if n := backend.refreshCalls.Load(); n != 1 {
		t.Errorf("refresh calls = %d, want 1", n)
	}
	if n := backend.hitCount("/api/always-401"); n != 2 {
		t.Errorf("hits = %d, want 2", n)
	}
}

func TestClient_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const n = 8
	backend := newFakeBackend()
	barrier := &sync.WaitGroup{}
	barrier.Add(n)
	backend.unauthorizedBarrier = barrier
	c, store := newTestClient(t, backend, "expired")

	var wg sync.WaitGroup
	errs := make(chan error, n)
	tokens := make(chan any, n)
	for i := 0; i < n; i++ {
		path := "/a"
		if i%2 == 1 {
			path = "/b"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Get(context.Background(), path)
			if err != nil {
				errs <- err
				return
			}
			var m map[string]any
			_ = res.Decode(&m)
			tokens <- m["token"]
		}()
	}
	wg.Wait()
	close(errs)
	close(tokens)

	for err := range errs {
		t.Errorf("Get() error = %v", err)
	}
	for tok := range tokens {
		if tok != "tok2" {
			t.Errorf("retried with %v, want tok2", tok)
		}
	}
	if got := backend.refreshCalls.Load(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
	if tok, _ := store.Load(context.Background()); tok != "tok2" {
		t.Errorf("stored credential = %q, want tok2", tok)
	}
	if backend.hitCount("/api/a")+backend.hitCount("/api/b") != 2*n {
		t.Errorf("each call should be sent twice: a=%d b=%d", backend.hitCount("/api/a"), backend.hitCount("/api/b"))
	}
}

func TestClient_ConcurrentRefreshFailureLogsOutOnce(t *testing.T) {
	const n = 6
	backend := newFakeBackend()
	backend.refreshStatus = http.StatusUnauthorized
	barrier := &sync.WaitGroup{}
	barrier.Add(n)
	backend.unauthorizedBarrier = barrier
	c, store := newTestClient(t, backend, "expired")

	var logouts atomic.Int32
	c.OnForcedLogout(func(ForcedLogout) { logouts.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), "/resource"); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("Get() error = %v, want ErrUnauthorized", err)
			}
		}()
	}
	wg.Wait()

	if got := backend.refreshCalls.Load(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
	waitForLogouts(t, &logouts, 1)
	if tok, _ := store.Load(context.Background()); tok != "" {
		t.Errorf("credential slot = %q, want cleared", tok)
	}
}

func TestClient_SlowLogoutListenerDoesNotHoldWaiters(t *testing.T) {
	const n = 4
	backend := newFakeBackend()
	backend.refreshStatus = http.StatusInternalServerError
	barrier := &sync.WaitGroup{}
	barrier.Add(n)
	backend.unauthorizedBarrier = barrier
	c, _ := newTestClient(t, backend, "expired")

	release := make(chan struct{})
	defer close(release)
	var logouts atomic.Int32
	c.OnForcedLogout(func(ForcedLogout) {
		logouts.Add(1)
		<-release
	})

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := c.Get(context.Background(), "/resource"); !errors.Is(err, ErrUnauthorized) {
					t.Errorf("Get() error = %v, want ErrUnauthorized", err)
				}
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callers still blocked while the logout listener runs")
	}
	waitForLogouts(t, &logouts, 1)
}

func TestClient_RefreshUsesSessionCookie(t *testing.T) {
	backend := newFakeBackend()
	backend.requireCookie = true
	c, store := newTestClient(t, backend, "")

	res, err := c.Post(context.Background(), "/auth/login", map[string]string{"email": "a@b.c"})
	if err != nil {
		t.Fatalf("login error = %v", err)
	}
	var login struct {
		AccessToken string `json:"accessToken"`
	}
	if err := res.Decode(&login); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if err := store.Save(context.Background(), login.AccessToken); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := c.Get(context.Background(), "/resource"); err != nil {
		t.Fatalf("Get() after login error = %v", err)
	}
	if tok, _ := store.Load(context.Background()); tok != "tok2" {
		t.Errorf("stored credential = %q, want tok2", tok)
	}
}

func TestClient_ExplicitCredential(t *testing.T) {
	backend := newFakeBackend()
	c, store := newTestClient(t, backend, "")

	res, err := c.Get(context.Background(), "/resource", WithCredential("tok1"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := decodeMap(t, res); got["token"] != "tok1" {
		t.Errorf("sent token %v, want tok1", got["token"])
	}
	if tok, _ := store.Load(context.Background()); tok != "" {
		t.Errorf("explicit credential must not be stored, got %q", tok)
	}
}

func TestClient_ExplicitExpiredCredentialRefreshes(t *testing.T) {
	backend := newFakeBackend()
	c, store := newTestClient(t, backend, "")

	res, err := c.Get(context.Background(), "/resource", WithCredential("expired"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := decodeMap(t, res); got["token"] != "tok2" {
		t.Errorf("retried with %v, want tok2", got["token"])
	}
	if tok, _ := store.Load(context.Background()); tok != "tok2" {
		t.Errorf("stored credential = %q, want tok2", tok)
	}
}

func TestClient_NoContent(t *testing.T) {
	c, _ := newTestClient(t, newFakeBackend(), "tok1")

	res, err := c.Delete(context.Background(), "/empty")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := decodeMap(t, res); len(got) != 0 {
		t.Errorf("expected empty object, got %v", got)
	}

	res[0] = 'X'
	again, err := c.Delete(context.Background(), "/empty")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if string(again) != "{}" {
		t.Errorf("second empty result = %q, want {}", again)
	}
}

func TestClient_HTTPErrorPayload(t *testing.T) {
	c, _ := newTestClient(t, newFakeBackend(), "tok1")

	_, err := c.Get(context.Background(), "/broken")
	if !errors.Is(err, ErrHTTP) {
		t.Fatalf("Get() error = %v, want ErrHTTP", err)
	}
	if StatusCode(err) != http.StatusInternalServerError {
		t.Errorf("StatusCode() = %d, want 500", StatusCode(err))
	}
	var apiErr *Error
	errors.As(err, &apiErr)
	if apiErr.Message != "boom" || apiErr.Payload.Error != "internal" || apiErr.Payload.Details["field"] != "amount" {
		t.Errorf("unexpected payload: %+v", apiErr.Payload)
	}
}

func TestClient_BodyAndQuery(t *testing.T) {
	c, _ := newTestClient(t, newFakeBackend(), "tok1")

	res, err := c.Patch(context.Background(), "/echo",
		map[string]any{"name": "Savings"},
		WithQuery(url.Values{"household": {"h1"}}))
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	got := decodeMap(t, res)
	if got["method"] != http.MethodPatch || got["query"] != "household=h1" {
		t.Errorf("unexpected echo: %v", got)
	}
	if body, _ := got["body"].(map[string]any); body["name"] != "Savings" {
		t.Errorf("body not sent: %v", got["body"])
	}
}

func TestClient_NoCaching(t *testing.T) {
	backend := newFakeBackend()
	c, _ := newTestClient(t, backend, "tok1")

	for i := 0; i < 2; i++ {
		if _, err := c.Get(context.Background(), "/resource"); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}
	if n := backend.hitCount("/api/resource"); n != 2 {
		t.Errorf("hits = %d, want 2", n)
	}
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New(Options{BaseURL: base, Store: credential.NewMemoryStore("tok1"), Logger: log.Discard()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = c.Get(context.Background(), "/resource")
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("Get() error = %v, want ErrNetwork", err)
	}
	if StatusCode(err) != 0 {
		t.Errorf("StatusCode() = %d, want 0", StatusCode(err))
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{Store: credential.NewMemoryStore("")}); err == nil {
		t.Error("expected error for missing base URL")
	}
	if _, err := New(Options{BaseURL: "http://localhost"}); err == nil {
		t.Error("expected error for missing store")
	}
}

func TestFetch(t *testing.T) {
	c, _ := newTestClient(t, newFakeBackend(), "tok1")

	got, err := Fetch[struct {
		Path string `json:"path"`
	}](context.Background(), c, Request{Method: http.MethodGet, Path: "/typed"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.Path != "/api/typed" {
		t.Errorf("Path = %q, want /api/typed", got.Path)
	}
}
