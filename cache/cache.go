// Package cache holds the remote document caches used by the federation fetcher.
package cache

import (
	"context"
	"time"
)

// Nop is a cache that never holds anything. It is used when no Redis address
// is configured.
type Nop struct{}

func (Nop) Get(ctx context.Context, key string) ([]byte, bool, error) { return nil, false, nil }

func (Nop) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error { return nil }

func (Nop) Delete(ctx context.Context, key string) error { return nil }
