package scope

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveActorScopeAutoDetection(t *testing.T) {
	// S3: direct chat, ambient actor known, no shared tokens.
	r := Resolve(Context{ChatType: "direct", ActorID: "tg:+1234"}, "what did I say yesterday?")
	require.Equal(t, ScopeActor, r.Scope)
	require.Equal(t, "tg:+1234", r.Filters.ActorID)
}

func TestResolveSharedContextDowngradesToGlobal(t *testing.T) {
	// S4: direct chat, same ambient, query contains "we".
	r := Resolve(Context{ChatType: "direct", ActorID: "tg:+1234"}, "what did we decide together?")
	require.Equal(t, ScopeGlobal, r.Scope)
	require.Empty(t, r.Filters.ActorID)
}

func TestResolveSharedContextInGroupStaysSession(t *testing.T) {
	r := Resolve(Context{ChatType: "group", SessionKey: "agent:a:chan:group:42"}, "what does everyone think?")
	require.Equal(t, ScopeSession, r.Scope)
	require.Equal(t, "agent:a:chan:group:42", r.Filters.SessionKey)
}

func TestResolveDefaultsToSessionScope(t *testing.T) {
	r := Resolve(Context{ChatType: "group", SessionKey: "agent:a:chan:group:42"}, "what time is the meeting")
	require.Equal(t, ScopeSession, r.Scope)
}

func TestResolveNoAmbientActorFallsBackToSession(t *testing.T) {
	r := Resolve(Context{ChatType: "direct"}, "what did I say yesterday?")
	require.Equal(t, ScopeSession, r.Scope)
}

func TestResolveExplicitOverrideShortCircuits(t *testing.T) {
	r := Resolve(Context{ChatType: "direct", ActorID: "tg:+1234", SessionScopeOverride: ScopeGlobal}, "we decided")
	require.Equal(t, ScopeGlobal, r.Scope)
}

func TestResolveIsPure(t *testing.T) {
	ctx := Context{ChatType: "direct", ActorID: "tg:+1234"}
	query := "what did we decide together?"
	a := Resolve(ctx, query)
	b := Resolve(ctx, query)
	require.Equal(t, a, b)
}
