package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActorFallsBackToSystem(t *testing.T) {
	require.Equal(t, SystemActor, Actor(context.Background()))
	require.Equal(t, SystemActor, Actor(ContextWithActor(context.Background(), "   ")))

	ctx := ContextWithActor(context.Background(), " maria ")
	actor, ok := ActorFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "maria", actor)
}

func TestSessionRoundTrip(t *testing.T) {
	require.Equal(t, SystemSession, Session(context.Background()))

	ctx := ContextWithSession(context.Background(), "tab-42")
	require.Equal(t, "tab-42", Session(ctx))
	require.Equal(t, SystemActor, Actor(ctx))
}
