package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Result is the parsed JSON payload of a successful call. A 204 response
// yields an empty object.
type Result json.RawMessage

// emptyResult returns a fresh empty object each call; callers may mutate it.
func emptyResult() Result { return Result(`{}`) }

// Decode unmarshals the payload into v.
func (r Result) Decode(v any) error {
	if len(r) == 0 {
		return nil
	}
	if err := json.Unmarshal(r, v); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// Data returns the value nested under a top-level "data" field when the
// payload is such an envelope, and the payload itself otherwise.
func (r Result) Data() Result {
	trimmed := bytes.TrimSpace(r)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return r
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return r
	}
	if data, ok := envelope["data"]; ok && !bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return Result(data)
	}
	return r
}

// String implements fmt.Stringer.
func (r Result) String() string {
	return string(r)
}
