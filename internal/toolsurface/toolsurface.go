// Package toolsurface exposes the four agent-facing operations
// (memory_search, memory_recall, memory_get, actor_lookup) as plain Go
// methods an external agent runtime's transport layer can wrap. Every
// runtime error is absorbed into the result envelope; only
// construction-time misconfiguration surfaces as a hard error, and that
// happens in the manager, not here.
package toolsurface

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentmemory/memoryindex/internal/config"
	"github.com/agentmemory/memoryindex/internal/memerr"
	"github.com/agentmemory/memoryindex/internal/recency"
	"github.com/agentmemory/memoryindex/internal/retriever"
	"github.com/agentmemory/memoryindex/internal/scope"
	"github.com/agentmemory/memoryindex/internal/store"
)

// SearchParams is the parameter record backing memory_search and
// memory_recall.
type SearchParams struct {
	Query      string
	Mode       string // "" | "hybrid" | "vector" | "keyword"
	MaxResults int
	MinScore   float64

	SessionScope string // override; "" = auto-resolve
	ActorType    string
	ActorID      string
	Role         string

	// TimeWindowHours, when > 0, is memory_recall's recall window: the
	// search is additionally bounded to updated_after = now - hours.
	TimeWindowHours int

	// ContextPaths, when non-empty, feeds the ambient context files an
	// agent runtime currently has open (e.g. memory/2026-07-29.md,
	// MEMORY.md) through the recency window extraction. It combines with
	// TimeWindowHours: whichever bound is tighter wins on each side.
	ContextPaths []string
}

// AmbientContext is the per-call context the host supplies: ambient
// session/actor identity and chat shape, used by the scope resolver.
type AmbientContext struct {
	SessionKey string
	ChatType   string
	ActorID    string
	ActorType  string
}

// Result mirrors retriever.Result plus the optional citation
// decoration. Decoration lives at the tool surface, never the
// retriever, so the retriever stays deterministic.
type Result struct {
	Path      string  `json:"path"`
	StartLine int     `json:"startLine"`
	EndLine   int     `json:"endLine"`
	Score     float64 `json:"score"`
	Snippet   string  `json:"snippet"`
	Source    string  `json:"source"`
	Citation  string  `json:"citation,omitempty"`
}

// Actor is one actor_lookup hit.
type Actor struct {
	ActorID     string  `json:"actorId"`
	ActorType   string  `json:"actorType"`
	DisplayName string  `json:"displayName"`
	Confidence  float64 `json:"confidence"`
}

// Envelope is the uniform return shape of every tool: one of
// results/actors/text, plus optional disabled/error/provider/model/
// fallback/citations fields.
type Envelope struct {
	Results   []Result `json:"results,omitempty"`
	Actors    []Actor  `json:"actors,omitempty"`
	Text      string   `json:"text,omitempty"`
	Disabled  bool     `json:"disabled,omitempty"`
	Error     string   `json:"error,omitempty"`
	Provider  string   `json:"provider,omitempty"`
	Model     string   `json:"model,omitempty"`
	Fallback  string   `json:"fallback,omitempty"`
	Citations string   `json:"citations,omitempty"`
}

// ActorLookuper is the subset of *store.Store actor_lookup depends on.
type ActorLookuper interface {
	LookupActors(ctx context.Context, query string, limit int) ([]store.ActorLookupResult, error)
}

// SyncNotifier is the subset of *syncer.Coordinator the tool surface
// nudges on search.
type SyncNotifier interface {
	NotifySearch()
}

// Surface wires the scope resolver, retriever, and actor directory into
// the four agent-facing operations.
type Surface struct {
	retriever *retriever.Retriever
	actors    ActorLookuper
	sync      SyncNotifier
	citations config.Citations

	workspaceDir string
	extraPaths   []string

	charBudget int // <=0 disables clamping
}

type Option func(*Surface)

// WithCharBudget enables memory_search/memory_recall result clamping:
// once the accumulated snippet length would exceed budget, the
// overflowing snippet is truncated and the result list ends there.
func WithCharBudget(budget int) Option {
	return func(s *Surface) { s.charBudget = budget }
}

func New(r *retriever.Retriever, actors ActorLookuper, sync SyncNotifier, citations config.Citations, workspaceDir string, extraPaths []string, opts ...Option) *Surface {
	s := &Surface{
		retriever:    r,
		actors:       actors,
		sync:         sync,
		citations:    citations,
		workspaceDir: workspaceDir,
		extraPaths:   extraPaths,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Search implements memory_search.
func (s *Surface) Search(ctx context.Context, params SearchParams, ambient AmbientContext) Envelope {
	return s.search(ctx, params, ambient, time.Time{})
}

// Recall implements memory_recall: same as Search, but bounded to
// updated_after = now - TimeWindowHours.
func (s *Surface) Recall(ctx context.Context, params SearchParams, ambient AmbientContext, now time.Time) Envelope {
	return s.search(ctx, params, ambient, now)
}

func (s *Surface) search(ctx context.Context, params SearchParams, ambient AmbientContext, recallNow time.Time) Envelope {
	if err := ctx.Err(); err != nil {
		return Envelope{Disabled: true}
	}

	if strings.TrimSpace(params.Query) == "" {
		return Envelope{Error: "query required"}
	}

	if s.sync != nil {
		s.sync.NotifySearch()
	}

	resolved := scope.Resolve(scope.Context{
		SessionKey:           ambient.SessionKey,
		ChatType:             ambient.ChatType,
		ActorID:              ambient.ActorID,
		ActorType:            ambient.ActorType,
		SessionScopeOverride: scope.Scope(params.SessionScope),
		ActorIDOverride:      params.ActorID,
		ActorTypeOverride:    params.ActorType,
		RoleOverride:         params.Role,
	}, params.Query)

	filters := resolved.Filters
	if params.TimeWindowHours > 0 && !recallNow.IsZero() {
		after := recallNow.Add(-time.Duration(params.TimeWindowHours) * time.Hour)
		filters.UpdatedAfter = &after
	}
	if len(params.ContextPaths) > 0 {
		window := recency.FromContextPaths(params.ContextPaths, time.Now())
		if window.UpdatedAfter != nil && (filters.UpdatedAfter == nil || window.UpdatedAfter.After(*filters.UpdatedAfter)) {
			filters.UpdatedAfter = window.UpdatedAfter
		}
		if window.UpdatedBefore != nil && (filters.UpdatedBefore == nil || window.UpdatedBefore.Before(*filters.UpdatedBefore)) {
			filters.UpdatedBefore = window.UpdatedBefore
		}
	}

	results, err := s.retriever.Search(ctx, retriever.Request{
		Query:      params.Query,
		Mode:       retriever.Mode(params.Mode),
		MaxResults: params.MaxResults,
		MinScore:   params.MinScore,
		Filters:    filters,
	})
	if err != nil {
		if memerr.IsCancellation(err) {
			return Envelope{Error: "cancelled"}
		}
		return Envelope{Error: err.Error()}
	}

	decorated := s.decorate(ambient, results)
	decorated = clamp(decorated, s.charBudget)

	return Envelope{Results: decorated, Citations: string(s.citations)}
}

// decorate appends a path#Lstart[-Lend] citation line to each snippet
// when citations are on; auto means on in direct chats, off otherwise.
func (s *Surface) decorate(ambient AmbientContext, results []retriever.Result) []Result {
	on := s.citations == config.CitationsOn || (s.citations == config.CitationsAuto && ambient.ChatType == "direct")

	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = Result{
			Path: r.Path, StartLine: r.StartLine, EndLine: r.EndLine,
			Score: r.Score, Snippet: r.Snippet, Source: r.Source,
		}
		if on {
			cite := fmt.Sprintf("%s#L%d", r.Path, r.StartLine)
			if r.EndLine != r.StartLine {
				cite = fmt.Sprintf("%s-%d", cite, r.EndLine)
			}
			out[i].Citation = cite
			out[i].Snippet = r.Snippet + "\n" + cite
		}
	}
	return out
}

// clamp keeps full snippets until budget is exhausted, truncates the
// first snippet that would overflow, and ends the list there.
// budget<=0 disables clamping.
func clamp(results []Result, budget int) []Result {
	if budget <= 0 {
		return results
	}
	out := make([]Result, 0, len(results))
	used := 0
	for _, r := range results {
		remaining := budget - used
		if remaining <= 0 {
			break
		}
		if len(r.Snippet) > remaining {
			r.Snippet = r.Snippet[:remaining]
			out = append(out, r)
			break
		}
		used += len(r.Snippet)
		out = append(out, r)
	}
	return out
}

// Get implements memory_get: reads a markdown file from the workspace
// or an approved extra path, rejecting symlinks, non-.md paths, and
// paths escaping the workspace unless they resolve into a configured
// extra path.
func (s *Surface) Get(path string, from, lines int) Envelope {
	if strings.TrimSpace(path) == "" {
		return Envelope{Disabled: true, Error: "path required"}
	}
	if !strings.EqualFold(filepath.Ext(path), ".md") {
		return Envelope{Disabled: true, Error: "path required"}
	}

	resolved, err := s.resolvePath(path)
	if err != nil {
		return Envelope{Disabled: true, Error: "path required"}
	}

	text, err := readMarkdown(resolved)
	if err != nil {
		return Envelope{Disabled: true, Error: err.Error()}
	}

	if from > 0 || lines > 0 {
		text = sliceLines(text, from, lines)
	}

	return Envelope{Text: text}
}

// ActorLookup implements actor_lookup.
func (s *Surface) ActorLookup(ctx context.Context, query string, limit int) Envelope {
	if err := ctx.Err(); err != nil {
		return Envelope{Disabled: true}
	}
	if strings.TrimSpace(query) == "" {
		return Envelope{Error: "query required"}
	}
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	hits, err := s.actors.LookupActors(ctx, query, limit)
	if err != nil {
		if memerr.IsCancellation(err) {
			return Envelope{Error: "cancelled"}
		}
		return Envelope{Error: err.Error()}
	}

	out := make([]Actor, len(hits))
	for i, h := range hits {
		out[i] = Actor{
			ActorID: h.Actor.ActorID, ActorType: h.Actor.ActorType,
			DisplayName: h.Actor.DisplayName, Confidence: h.Confidence,
		}
	}
	return Envelope{Actors: out}
}

// resolvePath rejects symlinks and maps path onto an absolute file
// under the workspace or a configured extra path. A relative path is
// first tried against the workspace, then against each extra path in
// order; an absolute path must already fall under one of them.
func (s *Surface) resolvePath(path string) (string, error) {
	var candidate string
	if filepath.IsAbs(path) {
		candidate = filepath.Clean(path)
		if !underRoot(s.workspaceDir, candidate) && !underAnyRoot(s.extraPaths, candidate) {
			return "", fmt.Errorf("path escapes workspace")
		}
	} else {
		candidate = filepath.Clean(filepath.Join(s.workspaceDir, path))
		inWorkspace := underRoot(s.workspaceDir, candidate)
		if _, err := os.Lstat(candidate); !inWorkspace || err != nil {
			// Not an existing entry under the workspace; try each extra path.
			found := false
			for _, extra := range s.extraPaths {
				try := filepath.Clean(filepath.Join(extra, path))
				if _, err := os.Lstat(try); underRoot(extra, try) && err == nil {
					candidate = try
					found = true
					break
				}
			}
			if !found && !inWorkspace {
				return "", fmt.Errorf("path escapes workspace")
			}
		}
	}

	info, err := os.Lstat(candidate)
	if err != nil {
		return "", err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("symlinks are not permitted")
	}
	return candidate, nil
}

func underRoot(root, path string) bool {
	if root == "" {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func underAnyRoot(roots []string, path string) bool {
	for _, r := range roots {
		if underRoot(r, path) {
			return true
		}
	}
	return false
}

func readMarkdown(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// sliceLines returns a 1-based, inclusive-count slice of text: from is
// the first line to include (1 if <= 0), lines is how many lines to
// return (to end of file if <= 0).
func sliceLines(text string, from, lines int) string {
	all := strings.Split(text, "\n")
	if from <= 0 {
		from = 1
	}
	start := from - 1
	if start >= len(all) {
		return ""
	}
	end := len(all)
	if lines > 0 && start+lines < end {
		end = start + lines
	}
	return strings.Join(all[start:end], "\n")
}
