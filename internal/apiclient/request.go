package apiclient

import (
	"encoding/json"
	"net/http"
	"net/url"
)

// Request fully describes one logical call. It is built per call and never
// persisted; a retry reuses it unchanged apart from the credential.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
	// Credential overrides the stored credential when non-empty.
	Credential string
	// CacheControl overrides the default "no-store" directive.
	CacheControl string
}

// Option customizes a Request.
type Option func(*Request)

// WithHeader adds a custom header.
func WithHeader(key, value string) Option {
	return func(r *Request) {
		if r.Header == nil {
			r.Header = make(http.Header)
		}
		r.Header.Add(key, value)
	}
}

// WithCredential sends the call with token instead of the stored credential.
func WithCredential(token string) Option {
	return func(r *Request) { r.Credential = token }
}

// WithCacheControl replaces the Cache-Control directive.
func WithCacheControl(directive string) Option {
	return func(r *Request) { r.CacheControl = directive }
}

// WithQuery sets query parameters.
func WithQuery(q url.Values) Option {
	return func(r *Request) { r.Query = q }
}

// WithBody attaches a JSON body, for methods whose helpers take none.
func WithBody(body any) Option {
	return func(r *Request) { r.Body = body }
}

func newRequest(method, path string, body any, opts []Option) Request {
	r := Request{Method: method, Path: path, Body: body}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	}
	return json.Marshal(body)
}
