package toolsurface

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentmemory/memoryindex/internal/config"
	"github.com/agentmemory/memoryindex/internal/embedding"
	"github.com/agentmemory/memoryindex/internal/retriever"
	"github.com/agentmemory/memoryindex/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeQuerier struct {
	keyword []store.Candidate
	filters store.Filters
}

func (f *fakeQuerier) SearchKeyword(ctx context.Context, query string, filters store.Filters, limit int) ([]store.Candidate, error) {
	f.filters = filters
	return f.keyword, nil
}

func (f *fakeQuerier) SearchVector(ctx context.Context, vec []float32, filters store.Filters, limit int) ([]store.Candidate, error) {
	return nil, nil
}

type fakeProvider struct{}

func (fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}
func (fakeProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) { return nil, nil }
func (fakeProvider) Identity() embedding.Identity                                   { return embedding.Identity{ID: "fake"} }
func (fakeProvider) Dimensions() int                                                { return 0 }

type fakeActors struct {
	lastLimit int
	hits      []store.ActorLookupResult
}

func (f *fakeActors) LookupActors(ctx context.Context, query string, limit int) ([]store.ActorLookupResult, error) {
	f.lastLimit = limit
	return f.hits, nil
}

type fakeSync struct{ notified int }

func (f *fakeSync) NotifySearch() { f.notified++ }

func newSurface(q *fakeQuerier, actors *fakeActors, sync *fakeSync, citations config.Citations, workspace string, extra []string, opts ...Option) *Surface {
	r := retriever.New(q, fakeProvider{}, config.HybridConfig{})
	return New(r, actors, sync, citations, workspace, extra, opts...)
}

func TestSearchResolvesScopeAndNotifiesSync(t *testing.T) {
	idA := uuid.New()
	q := &fakeQuerier{keyword: []store.Candidate{{ChunkID: idA, Path: "a.md", Score: 1, StartLine: 1, EndLine: 2}}}
	sync := &fakeSync{}
	s := newSurface(q, &fakeActors{}, sync, config.CitationsOff, "/ws", nil)

	env := s.Search(context.Background(), SearchParams{Query: "just us", MaxResults: 5}, AmbientContext{ChatType: "group"})
	require.Empty(t, env.Error)
	require.Len(t, env.Results, 1)
	require.Equal(t, 1, sync.notified)
	// "us" is a shared-context token, and ChatType is "group", so the
	// scope resolver should have scoped the query to the session.
	require.Equal(t, "session", q.filters.Scope)
}

func TestSearchEmptyQueryErrors(t *testing.T) {
	s := newSurface(&fakeQuerier{}, &fakeActors{}, &fakeSync{}, config.CitationsOff, "/ws", nil)
	env := s.Search(context.Background(), SearchParams{Query: "  "}, AmbientContext{})
	require.Equal(t, "query required", env.Error)
}

func TestSearchCancelledContextReturnsDisabled(t *testing.T) {
	s := newSurface(&fakeQuerier{}, &fakeActors{}, &fakeSync{}, config.CitationsOff, "/ws", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env := s.Search(ctx, SearchParams{Query: "hello"}, AmbientContext{})
	require.True(t, env.Disabled)
}

func TestDecorateCitationsOffOmitsCitation(t *testing.T) {
	idA := uuid.New()
	q := &fakeQuerier{keyword: []store.Candidate{{ChunkID: idA, Path: "a.md", Score: 1, StartLine: 3, EndLine: 3, Text: "hi"}}}
	s := newSurface(q, &fakeActors{}, &fakeSync{}, config.CitationsOff, "/ws", nil)

	env := s.Search(context.Background(), SearchParams{Query: "hello"}, AmbientContext{ChatType: "direct"})
	require.Len(t, env.Results, 1)
	require.Empty(t, env.Results[0].Citation)
}

func TestDecorateCitationsAutoOnInDirectChat(t *testing.T) {
	idA := uuid.New()
	q := &fakeQuerier{keyword: []store.Candidate{{ChunkID: idA, Path: "a.md", Score: 1, StartLine: 3, EndLine: 3, Text: "hi"}}}
	s := newSurface(q, &fakeActors{}, &fakeSync{}, config.CitationsAuto, "/ws", nil)

	env := s.Search(context.Background(), SearchParams{Query: "hello"}, AmbientContext{ChatType: "direct"})
	require.Len(t, env.Results, 1)
	require.Equal(t, "a.md#L3", env.Results[0].Citation)
}

func TestDecorateCitationsAutoOffOutsideDirectChat(t *testing.T) {
	idA := uuid.New()
	q := &fakeQuerier{keyword: []store.Candidate{{ChunkID: idA, Path: "a.md", Score: 1, StartLine: 3, EndLine: 3, Text: "hi"}}}
	s := newSurface(q, &fakeActors{}, &fakeSync{}, config.CitationsAuto, "/ws", nil)

	env := s.Search(context.Background(), SearchParams{Query: "hello"}, AmbientContext{ChatType: "group"})
	require.Len(t, env.Results, 1)
	require.Empty(t, env.Results[0].Citation)
}

func TestRecallAppliesTimeWindowHours(t *testing.T) {
	idA := uuid.New()
	q := &fakeQuerier{keyword: []store.Candidate{{ChunkID: idA, Path: "a.md", Score: 1}}}
	s := newSurface(q, &fakeActors{}, &fakeSync{}, config.CitationsOff, "/ws", nil)

	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	env := s.Recall(context.Background(), SearchParams{Query: "hello", TimeWindowHours: 24}, AmbientContext{}, now)
	require.Empty(t, env.Error)
	require.NotNil(t, q.filters.UpdatedAfter)
	require.Equal(t, now.Add(-24*time.Hour), *q.filters.UpdatedAfter)
}

func TestSearchContextPathsNarrowRecencyWindow(t *testing.T) {
	idA := uuid.New()
	q := &fakeQuerier{keyword: []store.Candidate{{ChunkID: idA, Path: "a.md", Score: 1}}}
	s := newSurface(q, &fakeActors{}, &fakeSync{}, config.CitationsOff, "/ws", nil)

	env := s.Search(context.Background(), SearchParams{
		Query:        "hello",
		ContextPaths: []string{"/agent/memory/2026-07-10.md"},
	}, AmbientContext{})
	require.Empty(t, env.Error)
	require.NotNil(t, q.filters.UpdatedAfter)
	require.Equal(t, time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC), *q.filters.UpdatedAfter)
	require.NotNil(t, q.filters.UpdatedBefore)
}

func TestClampTruncatesAndStopsAtBudget(t *testing.T) {
	results := []Result{
		{Snippet: "0123456789"},
		{Snippet: "abcdefghij"},
	}
	out := clamp(results, 15)
	require.Len(t, out, 2)
	require.Equal(t, "0123456789", out[0].Snippet)
	require.Equal(t, "abcde", out[1].Snippet)
}

func TestClampDisabledWhenBudgetNonPositive(t *testing.T) {
	results := []Result{{Snippet: "0123456789"}}
	out := clamp(results, 0)
	require.Equal(t, results, out)
}

func TestGetRejectsNonMarkdownPath(t *testing.T) {
	dir := t.TempDir()
	s := newSurface(&fakeQuerier{}, &fakeActors{}, &fakeSync{}, config.CitationsOff, dir, nil)
	env := s.Get("notes.txt", 0, 0)
	require.True(t, env.Disabled)
}

func TestGetRejectsPathEscapingWorkspace(t *testing.T) {
	dir := t.TempDir()
	s := newSurface(&fakeQuerier{}, &fakeActors{}, &fakeSync{}, config.CitationsOff, dir, nil)
	env := s.Get("../outside.md", 0, 0)
	require.True(t, env.Disabled)
}

func TestGetRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.md")
	require.NoError(t, os.WriteFile(target, []byte("hi"), 0o644))
	link := filepath.Join(dir, "link.md")
	require.NoError(t, os.Symlink(target, link))

	s := newSurface(&fakeQuerier{}, &fakeActors{}, &fakeSync{}, config.CitationsOff, dir, nil)
	env := s.Get("link.md", 0, 0)
	require.True(t, env.Disabled)
}

func TestGetReturnsFileTextAndSlice(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("one\ntwo\nthree\nfour"), 0o644))

	s := newSurface(&fakeQuerier{}, &fakeActors{}, &fakeSync{}, config.CitationsOff, dir, nil)
	env := s.Get("notes.md", 0, 0)
	require.Equal(t, "one\ntwo\nthree\nfour", env.Text)

	sliced := s.Get("notes.md", 2, 2)
	require.Equal(t, "two\nthree", sliced.Text)
}

func TestGetAllowsExtraPath(t *testing.T) {
	workspace := t.TempDir()
	extra := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(extra, "shared.md"), []byte("shared"), 0o644))

	s := newSurface(&fakeQuerier{}, &fakeActors{}, &fakeSync{}, config.CitationsOff, workspace, []string{extra})
	env := s.Get("shared.md", 0, 0)
	require.Equal(t, "shared", env.Text)
}

func TestActorLookupClampsLimit(t *testing.T) {
	actors := &fakeActors{hits: []store.ActorLookupResult{{Actor: store.Actor{ActorID: "a1", DisplayName: "Alice"}, Confidence: 0.9}}}
	s := newSurface(&fakeQuerier{}, actors, &fakeSync{}, config.CitationsOff, "/ws", nil)

	env := s.ActorLookup(context.Background(), "alice", 500)
	require.Equal(t, 50, actors.lastLimit)
	require.Len(t, env.Actors, 1)
	require.Equal(t, "a1", env.Actors[0].ActorID)
}

func TestActorLookupEmptyQueryErrors(t *testing.T) {
	s := newSurface(&fakeQuerier{}, &fakeActors{}, &fakeSync{}, config.CitationsOff, "/ws", nil)
	env := s.ActorLookup(context.Background(), "  ", 10)
	require.Equal(t, "query required", env.Error)
}
