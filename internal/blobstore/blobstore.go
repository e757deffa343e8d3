// Package blobstore provides durable object storage keyed by slash-separated
// names, the analog of a cloud bucket.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and Delete for a missing object.
var ErrNotFound = errors.New("object not found")

// Store is a flat object store. Put must be atomic: a reader never observes
// a partially written object, and a failed Put leaves any previous object
// intact.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}
