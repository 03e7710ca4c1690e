// Package store persists chunks, files, embedding cache rows, and the
// actor directory in Postgres+pgvector, and serves the keyword and
// vector search queries the retriever fuses.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Chunk is the unit of indexing and search.
type Chunk struct {
	ID               uuid.UUID
	Path             string
	Source           string // "memory" | "sessions"
	SessionKey       string // empty when not applicable
	Role             string // "user" | "assistant" | "system"
	ActorType        string // "human" | "agent"
	ActorID          string
	MessageID        string
	MessageCreatedAt time.Time // zero value when not applicable
	StartLine        int
	EndLine          int
	Hash             string
	Model            string
	Text             string
	Embedding        []float32
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FileRecord is one row per indexed path per source.
type FileRecord struct {
	Path       string
	Source     string
	SessionKey string
	Hash       string
	MTime      time.Time
	Size       int64
	Role       string
	ActorType  string
	ActorID    string
}

// Meta is the singleton indexing identity record.
type Meta struct {
	Model        string
	Provider     string
	ProviderKey  string // fingerprint
	ChunkTokens  int
	ChunkOverlap int
	VectorDims   int
}

// Matches reports whether the given embedding/chunking identity still
// agrees with the persisted Meta row; a mismatch on model, provider,
// provider key, or chunk tokens forces a full rebuild. Overlap and
// vector dims are recorded but don't trigger one.
func (m Meta) Matches(other Meta) bool {
	return m.Model == other.Model &&
		m.Provider == other.Provider &&
		m.ProviderKey == other.ProviderKey &&
		m.ChunkTokens == other.ChunkTokens
}

// Actor is a canonical directory entry, referenced by chunks but owned
// by the actor directory.
type Actor struct {
	ActorID     string
	ActorType   string
	DisplayName string
	Metadata    map[string]any
}

// ActorAlias maps a normalized alias to a canonical actor.
type ActorAlias struct {
	AliasNorm  string
	ActorID    string
	Alias      string
	Source     string
	Confidence float64
	Metadata   map[string]any
}

// Filters is the resolved scope filter set a query is executed under,
// produced by the scope resolver and consumed verbatim by the store's
// search methods. The zero value imposes no filter (global).
type Filters struct {
	Scope         string // "session" | "actor" | "global"
	SessionKey    string
	ActorID       string
	ActorType     string
	Role          string
	UpdatedAfter  *time.Time
	UpdatedBefore *time.Time
}

// Candidate is one row returned by a keyword or vector search, carrying
// enough chunk data for the retriever to build a result without a
// second round trip.
type Candidate struct {
	ChunkID   uuid.UUID
	Path      string
	Source    string
	StartLine int
	EndLine   int
	Text      string
	Score     float64 // keyword: rank (higher better); vector: 1-distance
}
