package auth

import (
	"context"
	"strings"
)

type contextKey string

const (
	actorKey   contextKey = "actor"
	sessionKey contextKey = "sessionID"
)

const (
	// SystemActor is used when a request carries no actor identity.
	SystemActor = "system"
	// SystemSession is the undo session used when a request carries no session id.
	SystemSession = "system"
)

// ContextWithActor returns a new context that carries the acting user.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey, strings.TrimSpace(actor))
}

// ContextWithSession returns a new context that carries the undo session id.
func ContextWithSession(ctx context.Context, sessionID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionKey, strings.TrimSpace(sessionID))
}

// ActorFromContext retrieves the acting user, if any.
func ActorFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, actorKey)
}

// SessionFromContext retrieves the undo session id, if any.
func SessionFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, sessionKey)
}

// Actor returns the acting user or SystemActor.
func Actor(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor
	}
	return SystemActor
}

// Session returns the undo session id or SystemSession.
func Session(ctx context.Context) string {
	if session, ok := SessionFromContext(ctx); ok {
		return session
	}
	return SystemSession
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(key).(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}
