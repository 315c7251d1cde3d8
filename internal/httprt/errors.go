package httprt

import (
	"errors"
	"fmt"
)

// ErrMissingPathParam is returned when a URL placeholder has no value.
var ErrMissingPathParam = errors.New("httprt: missing path parameter")

// StatusError reports a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}
