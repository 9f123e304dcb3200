/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package storage provides the key/value store that backs saved game
// state. Values are opaque byte slices; callers own the encoding.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has never been set or has
// been deleted.
var ErrNotFound = errors.New("key not found")

// Store is a flat key/value store. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}
