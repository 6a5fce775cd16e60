package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the acting user id supplied by the upstream
// authentication layer. The core treats it as an opaque identifier.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext returns the actor id, or zero when the request carried none.
func ActorFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(actorContextKey{}).(int64); ok {
		return v
	}
	return 0
}
