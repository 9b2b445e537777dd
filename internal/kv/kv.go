// Package kv provides the per-browser key-value storage that stands in for
// a browser's localStorage and sessionStorage.
//
// A Backend hands out namespaced Stores. Clear wipes a whole namespace; it
// is what sign-out uses, so callers never need to know which keys exist.
package kv

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("kv: backend closed")

type Store interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

type Backend interface {
	Namespace(name string) Store
	Close() error
}
