// Package manager wires one agent's store, embedding provider, indexer,
// sync coordinator, retriever, and tool surface together, and owns the
// process-wide registry of per-agent managers with an explicit
// close/teardown pathway.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agentmemory/memoryindex/internal/actor"
	"github.com/agentmemory/memoryindex/internal/config"
	"github.com/agentmemory/memoryindex/internal/embedding"
	"github.com/agentmemory/memoryindex/internal/indexer"
	"github.com/agentmemory/memoryindex/internal/memerr"
	"github.com/agentmemory/memoryindex/internal/retriever"
	"github.com/agentmemory/memoryindex/internal/store"
	"github.com/agentmemory/memoryindex/internal/syncer"
	"github.com/agentmemory/memoryindex/internal/toolsurface"
	"github.com/agentmemory/memoryindex/internal/watcher"
)

// AgentSpec describes the workspace one Manager is built for.
type AgentSpec struct {
	AgentID      string
	WorkspaceDir string
	ExtraPaths   []string
	SessionsDir  string
	Resolver     indexer.SessionResolver

	// Snapshots, when set, supplies the external session store snapshot
	// the actor directory is rebuilt from on every session sync.
	Snapshots actor.SnapshotSource
}

// Manager is a fully wired instance of the memory index for one agent.
// Construction is the only place an unavailable dependency surfaces as
// a hard error: a provider that can't be built at all, or an
// unreachable store, fails New rather than degrading at call time.
type Manager struct {
	agentID string
	cfg     config.Config
	store   *store.Store
	embed   embedding.Provider
	cache   *embedding.Cache
	index   *indexer.Indexer
	sync    *syncer.Coordinator
	watch   *watcher.Watcher
	Tools   *toolsurface.Surface

	fallback *embedding.Status
}

// New constructs a fully wired Manager for one agent. It is the only
// place initialization-time misconfiguration propagates as a hard error
// to the caller; everything downstream absorbs errors into envelopes.
func New(ctx context.Context, cfg config.Config, spec AgentSpec, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}

	provider, fallbackStatus, err := embedding.New(cfg.Provider)
	if err != nil {
		return nil, err
	}

	st, err := store.New(ctx, cfg.Store.Postgres.DSN(), cfg.Store.Postgres.Schema, cfg.Store.Postgres.MaxConnections, provider.Dimensions())
	if err != nil {
		return nil, memerr.Unavailablef("connect store: %v", err)
	}

	providerID := provider.Identity()
	want := store.Meta{
		Model: providerID.Model, Provider: providerID.ID, ProviderKey: providerID.Fingerprint,
		ChunkTokens: cfg.Chunking.Tokens, ChunkOverlap: cfg.Chunking.Overlap, VectorDims: provider.Dimensions(),
	}
	if _, err := st.Reconcile(ctx, want); err != nil {
		st.Close()
		return nil, memerr.StoreFailuref(err, "reconcile meta")
	}
	if err := st.EnsureSchemaForDimension(ctx, provider.Dimensions()); err != nil {
		st.Close()
		return nil, memerr.StoreFailuref(err, "ensure schema for dimension")
	}

	maxEntries := 0
	if cfg.Cache.Enabled {
		maxEntries = cfg.Cache.MaxEntries
	}
	cache, err := embedding.NewCache(provider, st, maxEntries)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build embedding cache: %w", err)
	}

	ix, err := indexer.New(indexer.Config{
		AgentID:      spec.AgentID,
		WorkspaceDir: spec.WorkspaceDir,
		ExtraPaths:   spec.ExtraPaths,
		SessionsDir:  spec.SessionsDir,
		Sources:      cfg.Sources,
		Chunking:     cfg.Chunking,
	}, st, provider, cache, spec.Resolver, log.With("agent_id", spec.AgentID))
	if err != nil {
		st.Close()
		return nil, err
	}
	if spec.Snapshots != nil {
		ix.WithActorDirectory(actor.New(st), spec.Snapshots)
	}

	coord := syncer.New(ix, log.With("agent_id", spec.AgentID))

	r := retriever.New(st, provider, cfg.Query.Hybrid)
	tools := toolsurface.New(r, st, coord, cfg.Citations, spec.WorkspaceDir, spec.ExtraPaths)

	m := &Manager{
		agentID: spec.AgentID, cfg: cfg, store: st, embed: provider, cache: cache,
		index: ix, sync: coord, Tools: tools, fallback: fallbackStatus,
	}

	if cfg.SyncCfg.OnSearch {
		if w, werr := watcher.New(spec.WorkspaceDir, coord, log); werr != nil {
			log.Warn("filesystem watcher unavailable, dirty-flag optimization disabled", "agent_id", spec.AgentID, "error", werr)
		} else {
			m.watch = w
		}
	}

	return m, nil
}

// Sync runs (or joins) one indexing pass.
func (m *Manager) Sync(ctx context.Context, reason string, progress syncer.Progress) error {
	return m.sync.Sync(ctx, reason, progress)
}

// WarmSession triggers a debounced fire-and-forget sync on session
// start.
func (m *Manager) WarmSession(sessionKey string) {
	if m.cfg.SyncCfg.OnSessionStart {
		m.sync.WarmSession(sessionKey)
	}
}

// Status aggregates per-source counts and provider fallback state.
func (m *Manager) Status(ctx context.Context) (indexer.Status, error) {
	return m.index.StatusSnapshot(ctx, m.fallback)
}

// Close releases the store connection pool and stops the watcher.
func (m *Manager) Close() error {
	if m.watch != nil {
		m.watch.Close()
	}
	m.store.Close()
	return nil
}

// Registry is the process-wide map of per-agent managers, with an
// explicit teardown path rather than a bare global cache.
type Registry struct {
	mu       sync.Mutex
	managers map[string]*Manager
}

func NewRegistry() *Registry {
	return &Registry{managers: make(map[string]*Manager)}
}

// GetOrCreate returns the existing Manager for spec.AgentID, or builds
// and stores a new one.
func (reg *Registry) GetOrCreate(ctx context.Context, cfg config.Config, spec AgentSpec, log *slog.Logger) (*Manager, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if m, ok := reg.managers[spec.AgentID]; ok {
		return m, nil
	}

	m, err := New(ctx, cfg, spec, log)
	if err != nil {
		return nil, err
	}
	reg.managers[spec.AgentID] = m
	return m, nil
}

// Close tears down every registered manager, collecting (not
// short-circuiting on) the first error.
func (reg *Registry) Close() error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var firstErr error
	for id, m := range reg.managers {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close manager %s: %w", id, err)
		}
		delete(reg.managers, id)
	}
	return firstErr
}
