// Package actor builds the canonical actor directory from an external
// session store snapshot. Lookup itself is delegated to
// internal/store.LookupActors; this package owns the build side.
package actor

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentmemory/memoryindex/internal/store"
)

// SessionSnapshot is one entry of the external session store snapshot:
// per-session identity resolved from the session's origin and delivery
// context.
type SessionSnapshot struct {
	SessionKey  string
	SessionID   string
	UserID      string // resolvable from origin.from / deliveryContext.to / lastTo
	Channel     string
	ChatType    string
	OriginLabel string
}

// Store is the subset of *store.Store the directory writes through.
type Store interface {
	UpsertActor(ctx context.Context, a store.Actor) error
	UpsertAlias(ctx context.Context, alias store.ActorAlias) error
}

// SnapshotSource supplies the external session store snapshot a session
// sync reads identities from.
type SnapshotSource interface {
	Snapshots(ctx context.Context) ([]SessionSnapshot, error)
}

// Directory upserts canonical actors and aliases from a batch of session
// snapshots into the store, the way a session sync pass would.
type Directory struct {
	store Store
}

func New(s Store) *Directory {
	return &Directory{store: s}
}

// Sync upserts one human actor per session with a resolvable UserID,
// plus an alias when OriginLabel is present, and a synthetic
// "agent:<agent_id>" actor per distinct agent id embedded in the
// session keys of those sessions. Sessions without a UserID are skipped
// entirely, so they contribute no agent actor either.
func (d *Directory) Sync(ctx context.Context, snapshots []SessionSnapshot) error {
	seenAgents := map[string]bool{}

	for _, snap := range snapshots {
		if snap.UserID == "" {
			continue
		}

		actor := store.Actor{
			ActorID:     snap.UserID,
			ActorType:   "human",
			DisplayName: snap.OriginLabel,
		}
		if err := d.store.UpsertActor(ctx, actor); err != nil {
			return fmt.Errorf("upsert human actor %s: %w", snap.UserID, err)
		}

		if snap.OriginLabel != "" {
			alias := store.ActorAlias{
				AliasNorm:  strings.ToLower(strings.TrimSpace(snap.OriginLabel)),
				ActorID:    snap.UserID,
				Alias:      snap.OriginLabel,
				Source:     snap.Channel,
				Confidence: 1,
			}
			if err := d.store.UpsertAlias(ctx, alias); err != nil {
				return fmt.Errorf("upsert alias for %s: %w", snap.UserID, err)
			}
		}

		if agentID := agentIDFromSessionKey(snap.SessionKey); agentID != "" && !seenAgents[agentID] {
			seenAgents[agentID] = true
			agentActor := store.Actor{
				ActorID:     "agent:" + agentID,
				ActorType:   "agent",
				DisplayName: agentID,
			}
			if err := d.store.UpsertActor(ctx, agentActor); err != nil {
				return fmt.Errorf("upsert agent actor %s: %w", agentID, err)
			}
		}
	}

	return nil
}

// agentIDFromSessionKey extracts the agent id from session keys shaped
// like "agent:<agent_id>:chan:<...>".
func agentIDFromSessionKey(sessionKey string) string {
	parts := strings.SplitN(sessionKey, ":", 3)
	if len(parts) >= 2 && parts[0] == "agent" {
		return parts[1]
	}
	return ""
}

// AgentIDFromSessionKey is the exported form of agentIDFromSessionKey,
// used by the indexer to resolve the synthetic "agent:<agent_id>" actor
// id for assistant-authored chunks without duplicating the parsing rule.
func AgentIDFromSessionKey(sessionKey string) string {
	return agentIDFromSessionKey(sessionKey)
}
