package proctor

import "context"

type actorKey struct{}

// WithActor records the LMS user on whose behalf calls are made. It keys
// failure deduplication.
func WithActor(ctx context.Context, userID int) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

func actorFrom(ctx context.Context) int {
	id, _ := ctx.Value(actorKey{}).(int)
	return id
}
