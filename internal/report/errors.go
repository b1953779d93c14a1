// internal/report/errors.go
package report

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized reports a 401 from the API: the token or cookies no
	// longer authenticate. Records fetched before the rejection are kept.
	ErrUnauthorized = errors.New("report API rejected credentials")
	// ErrNoCredentials reports a session with neither token nor cookies.
	ErrNoCredentials = errors.New("session carries no usable credentials")
)

// APIError is a non-401 HTTP failure from the report API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("report API returned %d: %s", e.Status, e.Body)
}

// bodySnippet bounds the response text carried in errors and logs.
func bodySnippet(body string) string {
	const max = 300
	if len(body) > max {
		return body[:max]
	}
	return body
}
