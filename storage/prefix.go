/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package storage

import "context"

type prefixed struct {
	inner  Store
	prefix string
}

// WithPrefix scopes every key to prefix, so several owners can share a
// store without seeing each other's values. Closing the returned Store
// does not close inner.
func WithPrefix(inner Store, prefix string) Store {
	return &prefixed{
		inner:  inner,
		prefix: prefix + ":",
	}
}

func (p *prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.inner.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key string, value []byte) error {
	return p.inner.Set(ctx, p.prefix+key, value)
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	return p.inner.Delete(ctx, p.prefix+key)
}

func (p *prefixed) Close() error {
	return nil
}
