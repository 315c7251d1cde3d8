// Package queryid tags a context with the id of the query it serves.
package queryid

import (
	"context"

	"github.com/google/uuid"
)

// key is the context key for the query ID.
type key struct{}

// NewContext returns a copy of parent carrying a new random query ID, and
// the ID itself.
func NewContext(parent context.Context) (context.Context, string) {
	id := uuid.NewString()
	return context.WithValue(parent, key{}, id), id
}

// WithID returns a copy of parent carrying id.
func WithID(parent context.Context, id string) context.Context {
	return context.WithValue(parent, key{}, id)
}

// FromContext extracts the query ID from ctx.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(key{}).(string)
	return id, ok
}
