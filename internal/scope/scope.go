// Package scope resolves the privacy-critical search scope as a pure
// function: given ambient query context and the raw query text, it
// decides whether memory files may be searched at all for this call.
package scope

import (
	"regexp"
	"strings"

	"github.com/agentmemory/memoryindex/internal/store"
)

// Scope is the breadth a search runs at: session (this transcript
// only), actor (this user across sessions; memory files allowed), or
// global (no privacy filter).
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeActor   Scope = "actor"
	ScopeGlobal  Scope = "global"
)

// Context is the ambient call context supplied by the tool surface.
type Context struct {
	SessionKey string
	ChatType   string // "direct" | "group" | ...
	ActorID    string
	ActorType  string

	// Overrides. An explicit SessionScopeOverride short-circuits the
	// decision table entirely.
	SessionScopeOverride Scope
	ActorIDOverride      string
	ActorTypeOverride    string
	RoleOverride         string
}

// sharedContextTokens are matched case-insensitively at word
// boundaries. Any hit means the query is about shared context, so a
// personal actor scope would be wrong.
var sharedContextTokens = []string{
	"we", "our", "us", "team", "group", "everyone", "anyone", "all",
	"channel", "server", "thread", "guild", "room", "together", "others", "people",
}

var tokenPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(sharedContextTokens, "|") + `)\b`)

// Resolved is the output of Resolve: a concrete scope plus the filter
// set the store's search methods consume directly.
type Resolved struct {
	Scope   Scope
	Filters store.Filters
}

// Resolve is a pure function: for identical (ctx, query) it always
// returns the same Resolved value.
func Resolve(ctx Context, query string) Resolved {
	if ctx.SessionScopeOverride != "" {
		return Resolved{
			Scope: ctx.SessionScopeOverride,
			Filters: store.Filters{
				Scope:      string(ctx.SessionScopeOverride),
				SessionKey: ctx.SessionKey,
				ActorID:    firstNonEmpty(ctx.ActorIDOverride, ctx.ActorID),
				ActorType:  firstNonEmpty(ctx.ActorTypeOverride, ctx.ActorType),
				Role:       ctx.RoleOverride,
			},
		}
	}

	hasSharedTokens := tokenPattern.MatchString(query)

	var resolvedScope Scope
	var actorID string

	switch {
	case hasSharedTokens:
		if ctx.ChatType == "group" {
			resolvedScope = ScopeSession
		} else {
			resolvedScope = ScopeGlobal
		}
	case ctx.ActorID != "" && ctx.ChatType == "direct":
		resolvedScope = ScopeActor
		actorID = ctx.ActorID
	default:
		resolvedScope = ScopeSession
	}

	return Resolved{
		Scope: resolvedScope,
		Filters: store.Filters{
			Scope:      string(resolvedScope),
			SessionKey: ctx.SessionKey,
			ActorID:    actorID,
			ActorType:  ctx.ActorTypeOverride,
			Role:       ctx.RoleOverride,
		},
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
