// Package syncer coordinates sync passes: it de-duplicates concurrent
// sync calls behind a single in-flight future, debounces session
// warm-up, and optionally kicks off a background sync when a search
// hits a dirty index.
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentmemory/memoryindex/internal/indexer"
)

// Indexer is the subset of *indexer.Indexer the coordinator drives.
type Indexer interface {
	Sync(ctx context.Context, progress indexer.Progress) error
}

// Progress receives {completed, total, label} updates. It is
// indexer.Progress under the hood so *indexer.Indexer satisfies Indexer
// directly, without an adapter.
type Progress = indexer.Progress

const warmDedupeWindow = 60 * time.Second

// Coordinator serializes sync passes for one agent: a second caller
// arriving while a sync is in flight awaits the same result rather than
// starting a redundant pass.
type Coordinator struct {
	indexer Indexer
	log     *slog.Logger

	mu      sync.Mutex
	running *inflight
	dirty   bool

	warmMu sync.Mutex
	warmed map[string]time.Time
}

type inflight struct {
	done   chan struct{}
	err    error
	reason string
}

func New(indexer Indexer, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{indexer: indexer, log: log, warmed: make(map[string]time.Time)}
}

// Sync is idempotent under concurrency: if a sync is already in
// progress, the caller awaits that run's result instead of starting a
// new one.
func (c *Coordinator) Sync(ctx context.Context, reason string, progress Progress) error {
	c.mu.Lock()
	if c.running != nil {
		run := c.running
		c.mu.Unlock()
		select {
		case <-run.done:
			return run.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	run := &inflight{done: make(chan struct{}), reason: reason}
	c.running = run
	c.mu.Unlock()

	err := c.indexer.Sync(ctx, progress)

	c.mu.Lock()
	c.running = nil
	if err == nil {
		c.dirty = false
	}
	c.mu.Unlock()

	run.err = err
	close(run.done)
	return err
}

// WarmSession triggers a fire-and-forget sync for a session start. Each
// session_key is de-duplicated for 60s so repeated warm calls in a hot
// loop don't each spawn a sync. Failures are logged and dropped.
func (c *Coordinator) WarmSession(sessionKey string) {
	c.warmMu.Lock()
	if last, ok := c.warmed[sessionKey]; ok && time.Since(last) < warmDedupeWindow {
		c.warmMu.Unlock()
		return
	}
	c.warmed[sessionKey] = time.Now()
	c.pruneWarmedLocked()
	c.warmMu.Unlock()

	go func() {
		if err := c.Sync(context.Background(), "warm_session:"+sessionKey, nil); err != nil {
			c.log.Warn("warm session sync failed", "session_key", sessionKey, "error", err)
		}
	}()
}

// pruneWarmedLocked drops warm-session entries older than the dedupe
// window; callers must hold warmMu.
func (c *Coordinator) pruneWarmedLocked() {
	cutoff := time.Now().Add(-warmDedupeWindow)
	for k, t := range c.warmed {
		if t.Before(cutoff) {
			delete(c.warmed, k)
		}
	}
}

// MarkDirty flags the index as needing a re-sync, set opportunistically
// by a filesystem watcher between syncs.
func (c *Coordinator) MarkDirty() {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
}

// Dirty reports whether the index has been flagged dirty since the last
// successful sync.
func (c *Coordinator) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// NotifySearch kicks off a background sync if the index is dirty. The
// caller's search proceeds against current state either way.
func (c *Coordinator) NotifySearch() {
	if !c.Dirty() {
		return
	}
	go func() {
		if err := c.Sync(context.Background(), "on_search", nil); err != nil {
			c.log.Warn("on-search background sync failed", "error", err)
		}
	}()
}
