// Package cache provides the two lifetime scopes used by the proctoring
// client: a request scope living for one top-level operation and a session
// scope living for one LMS user session.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMiss is returned by Store.Get when the key is absent or expired.
	ErrMiss = errors.New("cache miss")
	// ErrWrite wraps any failure to persist a cache entry.
	ErrWrite = errors.New("cache write failed")
)

// Scope names used for metrics and logs.
const (
	ScopeRequest = "request"
	ScopeSession = "session"
)

// Store is a byte-oriented key/value store with per-entry expiry.
type Store interface {
	// Namespace identifies the backing instance so identical keys in
	// different scopes never collide.
	Namespace() string
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Add stores value only when key is absent and reports whether it did.
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}
