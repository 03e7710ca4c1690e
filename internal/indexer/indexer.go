// Package indexer walks workspace memory files and session transcripts,
// diffs them by content hash against the store's file records, and
// re-chunks and re-embeds only what changed.
package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agentmemory/memoryindex/internal/actor"
	"github.com/agentmemory/memoryindex/internal/chunker"
	"github.com/agentmemory/memoryindex/internal/config"
	"github.com/agentmemory/memoryindex/internal/embedding"
	"github.com/agentmemory/memoryindex/internal/memerr"
	"github.com/agentmemory/memoryindex/internal/session"
	"github.com/agentmemory/memoryindex/internal/store"
)

const (
	sourceMemory   = "memory"
	sourceSessions = "sessions"
)

// SessionResolver maps a session key to the human actor id that owns
// it, backed by the external session store snapshot. A nil resolver
// leaves message actor ids unresolved for user turns; assistant turns
// still resolve to "agent:<agent id>", taken from the session key and,
// when the key carries none, from Config.AgentID.
type SessionResolver interface {
	Resolve(sessionKey string) (userID string)
}

// Store is the subset of *store.Store the indexer depends on.
type Store interface {
	GetFileRecord(ctx context.Context, path, source string) (store.FileRecord, bool, error)
	ListFileRecords(ctx context.Context, source string) ([]store.FileRecord, error)
	UpsertFileChunks(ctx context.Context, file store.FileRecord, chunks []store.Chunk) error
	DeleteFile(ctx context.Context, path, source string) error
	CountsBySource(ctx context.Context) (map[string]struct{ Files, Chunks int }, error)
}

// Config describes one agent's workspace and sync scope.
type Config struct {
	AgentID      string
	WorkspaceDir string
	ExtraPaths   []string
	SessionsDir  string // <agent_dir>/sessions
	Sources      []string
	Chunking     config.ChunkingConfig
}

// Indexer runs sync passes over one agent's memory and session sources.
type Indexer struct {
	cfg      Config
	store    Store
	embedder embedding.Provider
	cache    *embedding.Cache
	resolver SessionResolver
	log      *slog.Logger

	actors    *actor.Directory
	snapshots actor.SnapshotSource
}

// Progress receives {completed, total, label} updates during a sync
// pass. Reporting is optional; a nil Progress is skipped.
type Progress interface {
	Report(completed, total int, label string)
}

func New(cfg Config, st Store, embedder embedding.Provider, cache *embedding.Cache, resolver SessionResolver, log *slog.Logger) (*Indexer, error) {
	if len(cfg.Sources) == 0 {
		return nil, memerr.ValidationErrorf("indexer requires at least one source")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{cfg: cfg, store: st, embedder: embedder, cache: cache, resolver: resolver, log: log}, nil
}

// WithActorDirectory wires the actor-directory build into session syncs:
// each pass over the sessions source first upserts actors and aliases
// from the snapshot source. Both arguments must be non-nil.
func (ix *Indexer) WithActorDirectory(d *actor.Directory, src actor.SnapshotSource) {
	ix.actors = d
	ix.snapshots = src
}

// Sync runs one indexing pass over every configured source. Per-file
// errors are absorbed and logged so one bad file cannot abort the pass;
// Sync itself only fails on an unknown source, on errors enumerating a
// source or listing its stored file records, and on cancellation.
func (ix *Indexer) Sync(ctx context.Context, progress Progress) error {
	for _, src := range ix.cfg.Sources {
		var err error
		switch src {
		case sourceMemory:
			err = ix.syncMemory(ctx, progress)
		case sourceSessions:
			err = ix.syncSessions(ctx, progress)
		default:
			err = memerr.ValidationErrorf("unknown source %q", src)
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return memerr.FromContext(ctx)
		}
	}
	return nil
}

// --- memory source -------------------------------------------------

type memoryCandidate struct {
	relPath string
	absPath string
	mtime   time.Time
	size    int64
}

func (ix *Indexer) syncMemory(ctx context.Context, progress Progress) error {
	candidates, err := ix.enumerateMemoryFiles()
	if err != nil {
		return fmt.Errorf("enumerate memory files: %w", err)
	}

	existing, err := ix.store.ListFileRecords(ctx, sourceMemory)
	if err != nil {
		return fmt.Errorf("list existing memory file records: %w", err)
	}
	existingByPath := make(map[string]store.FileRecord, len(existing))
	for _, f := range existing {
		existingByPath[f.Path] = f
	}

	seen := make(map[string]bool, len(candidates))
	total := len(candidates)
	for i, c := range candidates {
		if ctx.Err() != nil {
			return memerr.FromContext(ctx)
		}
		seen[c.relPath] = true

		content, err := os.ReadFile(c.absPath)
		if err != nil {
			ix.log.Warn("read memory file failed", "path", c.relPath, "error", err)
			continue
		}
		hash := chunker.HashText(string(content))

		if prev, ok := existingByPath[c.relPath]; ok && prev.Hash == hash {
			if progress != nil {
				progress.Report(i+1, total, "memory:"+c.relPath)
			}
			continue
		}

		file := store.FileRecord{
			Path:      c.relPath,
			Source:    sourceMemory,
			Hash:      hash,
			MTime:     c.mtime,
			Size:      c.size,
			Role:      "system",
			ActorType: "agent",
			ActorID:   "agent:" + ix.cfg.AgentID,
		}

		if err := ix.indexFile(ctx, file, string(content), baseChunkMeta{
			Role: "system", ActorType: "agent", ActorID: "agent:" + ix.cfg.AgentID,
		}); err != nil {
			ix.log.Warn("index memory file failed", "path", c.relPath, "error", err)
			continue
		}
		if progress != nil {
			progress.Report(i+1, total, "memory:"+c.relPath)
		}
	}

	for path := range existingByPath {
		if !seen[path] {
			if err := ix.store.DeleteFile(ctx, path, sourceMemory); err != nil {
				ix.log.Warn("delete stale memory file failed", "path", path, "error", err)
			}
		}
	}
	return nil
}

// enumerateMemoryFiles walks the workspace and every configured extra
// path, accepting only *.md files and rejecting symlinks.
func (ix *Indexer) enumerateMemoryFiles() ([]memoryCandidate, error) {
	var out []memoryCandidate
	roots := append([]string{ix.cfg.WorkspaceDir}, ix.cfg.ExtraPaths...)

	for _, root := range roots {
		if root == "" {
			continue
		}
		info, err := os.Lstat(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", root, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			continue
		}
		if !info.IsDir() {
			if isMarkdown(root) {
				out = append(out, memoryCandidate{
					relPath: relPathFor(ix.cfg.WorkspaceDir, root),
					absPath: root,
					mtime:   info.ModTime(),
					size:    info.Size(),
				})
			}
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type()&fs.ModeSymlink != 0 {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if !isMarkdown(path) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			out = append(out, memoryCandidate{
				relPath: relPathFor(ix.cfg.WorkspaceDir, path),
				absPath: path,
				mtime:   info.ModTime(),
				size:    info.Size(),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].relPath < out[j].relPath })
	return out, nil
}

func isMarkdown(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".md")
}

// relPathFor returns path relative to workspace with forward slashes.
// Paths outside the workspace (extra paths) keep their absolute form so
// they stay unique.
func relPathFor(workspace, path string) string {
	if workspace != "" {
		if rel, err := filepath.Rel(workspace, path); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}

// --- session source --------------------------------------------------

func (ix *Indexer) syncSessions(ctx context.Context, progress Progress) error {
	if ix.cfg.SessionsDir == "" {
		return nil
	}

	// Refresh the actor directory first so chunks inserted below can
	// reference actors the lookup side already knows about. Directory
	// failures degrade the sync, they don't abort it.
	if ix.actors != nil && ix.snapshots != nil {
		if snaps, err := ix.snapshots.Snapshots(ctx); err != nil {
			ix.log.Warn("read session store snapshot failed", "error", err)
		} else if err := ix.actors.Sync(ctx, snaps); err != nil {
			ix.log.Warn("actor directory sync failed", "error", err)
		}
	}
	entries, err := os.ReadDir(ix.cfg.SessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("list sessions directory: %w", err)
	}

	existing, err := ix.store.ListFileRecords(ctx, sourceSessions)
	if err != nil {
		return fmt.Errorf("list existing session file records: %w", err)
	}
	existingByPath := make(map[string]store.FileRecord, len(existing))
	for _, f := range existing {
		existingByPath[f.Path] = f
	}

	var candidates []fs.DirEntry
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		if info, err := e.Info(); err == nil && info.Mode()&os.ModeSymlink != 0 {
			continue
		}
		candidates = append(candidates, e)
	}

	seen := make(map[string]bool, len(candidates))
	total := len(candidates)
	for i, e := range candidates {
		if ctx.Err() != nil {
			return memerr.FromContext(ctx)
		}
		relPath := e.Name()
		sessionKey := sessionKeyFromFilename(relPath)
		seen[relPath] = true

		absPath := filepath.Join(ix.cfg.SessionsDir, relPath)
		f, err := os.Open(absPath)
		if err != nil {
			ix.log.Warn("open session transcript failed", "path", relPath, "error", err)
			continue
		}
		messages, err := session.Parse(f, sessionKey)
		f.Close()
		if err != nil {
			ix.log.Warn("parse session transcript failed", "path", relPath, "error", err)
			continue
		}

		hash := session.HashTranscript(messages)

		if prev, ok := existingByPath[relPath]; ok && prev.Hash == hash {
			if progress != nil {
				progress.Report(i+1, total, "sessions:"+relPath)
			}
			continue
		}

		info, _ := e.Info()
		var mtime time.Time
		var size int64
		if info != nil {
			mtime, size = info.ModTime(), info.Size()
		}

		userID := ix.resolveUser(sessionKey)
		agentID := actor.AgentIDFromSessionKey(sessionKey)
		if agentID == "" {
			agentID = ix.cfg.AgentID
		}

		file := store.FileRecord{
			Path:       relPath,
			Source:     sourceSessions,
			SessionKey: sessionKey,
			Hash:       hash,
			MTime:      mtime,
			Size:       size,
		}

		chunks, err := ix.chunkSessionMessages(ctx, messages, sessionKey, userID, agentID)
		if err != nil {
			ix.log.Warn("chunk/embed session transcript failed", "path", relPath, "error", err)
			continue
		}

		if err := ix.store.UpsertFileChunks(ctx, file, chunks); err != nil {
			ix.log.Warn("persist session transcript failed", "path", relPath, "error", err)
			continue
		}
		if progress != nil {
			progress.Report(i+1, total, "sessions:"+relPath)
		}
	}

	for path, rec := range existingByPath {
		if !seen[path] {
			if err := ix.store.DeleteFile(ctx, path, sourceSessions); err != nil {
				ix.log.Warn("delete stale session file failed", "path", path, "session_key", rec.SessionKey, "error", err)
			}
		}
	}
	return nil
}

func (ix *Indexer) resolveUser(sessionKey string) string {
	if ix.resolver == nil {
		return ""
	}
	return ix.resolver.Resolve(sessionKey)
}

// sessionKeyFromFilename derives the session key from a transcript's
// base filename: transcripts live at <agent_dir>/sessions/<key>.jsonl.
func sessionKeyFromFilename(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// --- shared chunk/embed path ------------------------------------------

type baseChunkMeta struct {
	Role       string
	ActorType  string
	ActorID    string
	SessionKey string
}

// indexFile chunks and embeds a single memory file's content and
// persists the file row and its chunks in one transaction.
func (ix *Indexer) indexFile(ctx context.Context, file store.FileRecord, content string, meta baseChunkMeta) error {
	raw := chunker.Split(content, chunker.Options{Tokens: ix.cfg.Chunking.Tokens, Overlap: ix.cfg.Chunking.Overlap})
	if len(raw) == 0 {
		return ix.store.UpsertFileChunks(ctx, file, nil)
	}

	hashes := make([]string, len(raw))
	texts := make([]string, len(raw))
	for i, c := range raw {
		hashes[i] = c.Hash
		texts[i] = c.Text
	}

	vectors, err := ix.cache.EmbedWithHashes(ctx, hashes, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}

	identity := ix.embedder.Identity()
	chunks := make([]store.Chunk, len(raw))
	for i, c := range raw {
		chunks[i] = store.Chunk{
			Path:       file.Path,
			Source:     file.Source,
			SessionKey: meta.SessionKey,
			Role:       meta.Role,
			ActorType:  meta.ActorType,
			ActorID:    meta.ActorID,
			StartLine:  c.StartLine,
			EndLine:    c.EndLine,
			Hash:       c.Hash,
			Model:      identity.Model,
			Text:       c.Text,
			Embedding:  vectors[i],
		}
	}

	return ix.store.UpsertFileChunks(ctx, file, chunks)
}

// chunkSessionMessages chunks each message independently, carrying the
// message's role, actor, id, and timestamp onto every derived chunk,
// then embeds the whole file's chunks in one batch.
func (ix *Indexer) chunkSessionMessages(ctx context.Context, messages []session.Message, sessionKey, userID, agentID string) ([]store.Chunk, error) {
	type pending struct {
		chunk     chunker.Chunk
		role      string
		actorType string
		actorID   string
		messageID string
		messageAt time.Time
	}

	var all []pending
	for _, m := range messages {
		actorType, actorID := actorForRole(m.Role, userID, agentID)
		for _, c := range chunker.Split(m.Text, chunker.Options{Tokens: ix.cfg.Chunking.Tokens, Overlap: ix.cfg.Chunking.Overlap}) {
			all = append(all, pending{
				chunk: c, role: m.Role, actorType: actorType, actorID: actorID,
				messageID: m.MessageID, messageAt: m.CreatedAt,
			})
		}
	}
	if len(all) == 0 {
		return nil, nil
	}

	hashes := make([]string, len(all))
	texts := make([]string, len(all))
	for i, p := range all {
		hashes[i] = p.chunk.Hash
		texts[i] = p.chunk.Text
	}

	vectors, err := ix.cache.EmbedWithHashes(ctx, hashes, texts)
	if err != nil {
		return nil, fmt.Errorf("embed session chunks: %w", err)
	}

	identity := ix.embedder.Identity()
	out := make([]store.Chunk, len(all))
	for i, p := range all {
		out[i] = store.Chunk{
			Path:             sessionKey + ".jsonl",
			Source:           sourceSessions,
			SessionKey:       sessionKey,
			Role:             p.role,
			ActorType:        p.actorType,
			ActorID:          p.actorID,
			MessageID:        p.messageID,
			MessageCreatedAt: p.messageAt,
			StartLine:        p.chunk.StartLine,
			EndLine:          p.chunk.EndLine,
			Hash:             p.chunk.Hash,
			Model:            identity.Model,
			Text:             p.chunk.Text,
			Embedding:        vectors[i],
		}
	}
	return out, nil
}

func actorForRole(role, userID, agentID string) (actorType, actorID string) {
	if role == "assistant" {
		return "agent", "agent:" + agentID
	}
	return "human", userID
}

// Status is a point-in-time diagnostics snapshot of the index.
type Status struct {
	Counts   map[string]struct{ Files, Chunks int }
	Provider string
	Model    string
	Fallback *embedding.Status
}

// StatusSnapshot aggregates per-source file/chunk counts and the active
// provider's fallback state.
func (ix *Indexer) StatusSnapshot(ctx context.Context, fallback *embedding.Status) (Status, error) {
	counts, err := ix.store.CountsBySource(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count by source: %w", err)
	}
	id := ix.embedder.Identity()
	return Status{Counts: counts, Provider: id.ID, Model: id.Model, Fallback: fallback}, nil
}
