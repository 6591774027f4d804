package cache

import "context"

type requestKey struct{}
type sessionKey struct{}

// Begin opens a request scope on ctx. Everything cached through the returned
// context lives as long as that store is referenced, which is one top-level
// operation.
func Begin(ctx context.Context, store Store) context.Context {
	return context.WithValue(ctx, requestKey{}, store)
}

// WithSession attaches the store of the caller's LMS session.
func WithSession(ctx context.Context, store Store) context.Context {
	return context.WithValue(ctx, sessionKey{}, store)
}

// RequestFrom returns the request scope attached to ctx, or nil.
func RequestFrom(ctx context.Context) Store {
	s, _ := ctx.Value(requestKey{}).(Store)
	return s
}

// SessionFrom returns the session scope attached to ctx, falling back to
// the given store when none is attached.
func SessionFrom(ctx context.Context, fallback Store) Store {
	if s, ok := ctx.Value(sessionKey{}).(Store); ok && s != nil {
		return s
	}
	return fallback
}
