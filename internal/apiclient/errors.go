package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed call.
type Kind int

const (
	// KindHTTP is any non-2xx response, including the response to the
	// single post-refresh retry.
	KindHTTP Kind = iota
	// KindUnauthorized is a 401 received while no credential was attached.
	KindUnauthorized
	// KindRefreshFailed means a credential existed but could not be renewed.
	KindRefreshFailed
	// KindNetwork is a transport failure before any status was received.
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http_error"
	case KindUnauthorized:
		return "unauthorized"
	case KindRefreshFailed:
		return "refresh_failed"
	case KindNetwork:
		return "network_error"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is. ErrUnauthorized matches both KindUnauthorized and
// KindRefreshFailed since callers handle them the same way.
var (
	ErrHTTP          = errors.New("http error")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRefreshFailed = errors.New("credential refresh failed")
	ErrNetwork       = errors.New("network error")
)

// ErrorPayload is the backend error body: { message, error?, details? }.
type ErrorPayload struct {
	Message string         `json:"message"`
	Error   string         `json:"error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Error is returned by every failed call.
type Error struct {
	Kind    Kind
	Status  int // 0 for KindNetwork
	Message string
	Payload ErrorPayload
	// Body is the raw response body when one was received.
	Body []byte
	// Err is the underlying cause (transport or refresh failure).
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s (%d): %s: %v", e.Kind, e.Status, e.Message, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrHTTP:
		return e.Kind == KindHTTP
	case ErrUnauthorized:
		return e.Kind == KindUnauthorized || e.Kind == KindRefreshFailed
	case ErrRefreshFailed:
		return e.Kind == KindRefreshFailed
	case ErrNetwork:
		return e.Kind == KindNetwork
	}
	return false
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

func httpError(kind Kind, status int, body []byte) *Error {
	e := &Error{Kind: kind, Status: status, Body: body}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &e.Payload); err != nil {
			e.Payload = ErrorPayload{}
		}
	}
	e.Message = e.Payload.Message
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func refreshFailedError(cause error) *Error {
	return &Error{
		Kind:    KindRefreshFailed,
		Status:  http.StatusUnauthorized,
		Message: "Unauthorized",
		Payload: ErrorPayload{Message: "Unauthorized"},
		Err:     cause,
	}
}

func networkError(cause error) *Error {
	return &Error{
		Kind:    KindNetwork,
		Message: "request failed",
		Err:     cause,
	}
}
