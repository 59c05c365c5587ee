package auth

import "context"

type contextKey string

const authContextKey contextKey = "hass_agent_auth"

// Caller identifies the authenticated client of a request.
type Caller struct {
	TokenHash   string
	TokenPrefix string
}

func ContextWithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, authContextKey, c)
}

func CallerFromContext(ctx context.Context) (*Caller, bool) {
	c, ok := ctx.Value(authContextKey).(*Caller)
	return c, ok
}
