// Package finance provides typed services over the backend REST API:
// authentication, accounts, transactions, settings and the dashboard.
//
// Services are thin: they shape requests, unwrap the backend's optional
// "data" envelope and validate input locally before sending it.
package finance

import (
	"errors"
	"fmt"
	"net/url"

	"famfin/internal/apiclient"
)

var ErrMissingID = errors.New("missing id")

// decode unwraps the data envelope of res into T.
func decode[T any](res apiclient.Result, err error) (T, error) {
	var out T
	if err != nil {
		return out, err
	}
	if err := res.Data().Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func resourcePath(collection, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%s: %w", collection, ErrMissingID)
	}
	return collection + "/" + url.PathEscape(id), nil
}
