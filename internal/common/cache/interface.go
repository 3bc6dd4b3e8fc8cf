package cache

import (
	"context"
)

// Cache defines the cache operations the workspace relies on.
// This abstraction allows switching between Redis and an in-memory fake in tests.
type Cache interface {
	SetOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// SetOps defines set operations
type SetOps interface {
	// SAdd adds one or more members to a set
	SAdd(ctx context.Context, key string, members ...interface{}) error

	// SMembers returns all members of a set
	SMembers(ctx context.Context, key string) ([]string, error)
}
