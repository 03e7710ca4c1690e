// Package retriever executes two-signal search: a keyword pass over the
// full-text index, a vector pass over the cosine-ordered embedding
// index, and a weighted fusion of the two when mode is hybrid.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/agentmemory/memoryindex/internal/config"
	"github.com/agentmemory/memoryindex/internal/embedding"
	"github.com/agentmemory/memoryindex/internal/store"
)

// Mode selects which signal(s) the search draws on.
type Mode string

const (
	ModeHybrid  Mode = "hybrid"
	ModeVector  Mode = "vector"
	ModeKeyword Mode = "keyword"
)

const snippetLimit = 700

// Request is the fully-resolved set of inputs a search executes under:
// the scope resolver's filters have already been applied by the caller.
type Request struct {
	Query      string
	Mode       Mode
	MaxResults int
	MinScore   float64
	Filters    store.Filters
}

// Result is one search hit.
type Result struct {
	Path      string
	StartLine int
	EndLine   int
	Score     float64
	Snippet   string
	Source    string
}

// Querier is the subset of *store.Store the retriever depends on, kept
// narrow so it can be faked in tests.
type Querier interface {
	SearchKeyword(ctx context.Context, query string, filters store.Filters, limit int) ([]store.Candidate, error)
	SearchVector(ctx context.Context, vec []float32, filters store.Filters, limit int) ([]store.Candidate, error)
}

// Retriever executes searches against a store, fusing keyword and vector
// signals per the weights in config.HybridConfig.
type Retriever struct {
	store    Querier
	embedder embedding.Provider
	hybrid   config.HybridConfig
}

func New(s Querier, embedder embedding.Provider, hybrid config.HybridConfig) *Retriever {
	return &Retriever{store: s, embedder: embedder, hybrid: hybrid}
}

// Search runs req and returns results sorted by fused score and clamped
// to MaxResults. An empty or whitespace-only query returns an empty
// result set immediately, without touching the store.
func (r *Retriever) Search(ctx context.Context, req Request) ([]Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, nil
	}

	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}
	minScore := req.MinScore

	candidates := clamp(1, 200, int(float64(maxResults)*candidateMultiplier(r.hybrid)))

	mode := req.Mode
	if mode == "" {
		mode = ModeHybrid
	}
	if mode == ModeHybrid && !r.hybrid.Enabled {
		mode = ModeVector
	}

	var keywordHits []store.Candidate
	var vectorHits []store.Candidate

	// effectiveMode starts as the requested mode but degrades to keyword
	// when a query embedding can't be produced or comes back all-zero.
	// Keyword-only mode never embeds.
	effectiveMode := mode

	if mode != ModeVector {
		hits, err := r.store.SearchKeyword(ctx, req.Query, req.Filters, candidates)
		if err != nil {
			return nil, fmt.Errorf("keyword search: %w", err)
		}
		keywordHits = hits
	}

	if mode != ModeKeyword {
		vec, embedErr := r.embedder.EmbedQuery(ctx, req.Query)
		if embedErr != nil || isZeroVector(vec) {
			effectiveMode = ModeKeyword
			if keywordHits == nil {
				hits, err := r.store.SearchKeyword(ctx, req.Query, req.Filters, candidates)
				if err != nil {
					return nil, fmt.Errorf("keyword fallback search: %w", err)
				}
				keywordHits = hits
			}
		} else {
			hits, err := r.store.SearchVector(ctx, vec, req.Filters, candidates)
			if err != nil {
				return nil, fmt.Errorf("vector search: %w", err)
			}
			vectorHits = hits
		}
	}

	var fused []fusedCandidate
	switch effectiveMode {
	case ModeKeyword:
		fused = fuseSingle(keywordHits)
	case ModeVector:
		fused = fuseSingle(vectorHits)
	default:
		fused = fuse(keywordHits, vectorHits, r.hybrid.VectorWeight, r.hybrid.TextWeight)
	}

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		if fused[i].vectorScore != fused[j].vectorScore {
			return fused[i].vectorScore > fused[j].vectorScore
		}
		return fused[i].textScore > fused[j].textScore
	})

	out := make([]Result, 0, maxResults)
	for _, f := range fused {
		if f.score < minScore {
			continue
		}
		out = append(out, Result{
			Path:      f.path,
			StartLine: f.startLine,
			EndLine:   f.endLine,
			Score:     f.score,
			Snippet:   truncateSnippet(f.text),
			Source:    f.source,
		})
		if len(out) >= maxResults {
			break
		}
	}
	return out, nil
}

type fusedCandidate struct {
	chunkID     string
	path        string
	source      string
	startLine   int
	endLine     int
	text        string
	vectorScore float64
	textScore   float64
	score       float64
}

func fuseSingle(hits []store.Candidate) []fusedCandidate {
	out := make([]fusedCandidate, 0, len(hits))
	for _, h := range hits {
		out = append(out, fusedCandidate{
			chunkID:   h.ChunkID.String(),
			path:      h.Path,
			source:    h.Source,
			startLine: h.StartLine,
			endLine:   h.EndLine,
			text:      h.Text,
			score:     h.Score,
		})
	}
	return out
}

// fuse combines keyword and vector candidate lists by chunk id, scoring
// each with score = vectorWeight*vScore + textWeight*tScore, treating a
// missing signal as 0.
func fuse(keyword, vector []store.Candidate, vectorWeight, textWeight float64) []fusedCandidate {
	byID := make(map[string]*fusedCandidate)
	var order []string

	for _, k := range keyword {
		id := k.ChunkID.String()
		c, ok := byID[id]
		if !ok {
			c = &fusedCandidate{chunkID: id, path: k.Path, source: k.Source, startLine: k.StartLine, endLine: k.EndLine, text: k.Text}
			byID[id] = c
			order = append(order, id)
		}
		c.textScore = k.Score
	}
	for _, v := range vector {
		id := v.ChunkID.String()
		c, ok := byID[id]
		if !ok {
			c = &fusedCandidate{chunkID: id, path: v.Path, source: v.Source, startLine: v.StartLine, endLine: v.EndLine, text: v.Text}
			byID[id] = c
			order = append(order, id)
		}
		c.vectorScore = v.Score
	}

	out := make([]fusedCandidate, 0, len(order))
	for _, id := range order {
		c := byID[id]
		c.score = vectorWeight*c.vectorScore + textWeight*c.textScore
		out = append(out, *c)
	}
	return out
}

func candidateMultiplier(h config.HybridConfig) float64 {
	if h.CandidateMultiplier <= 0 {
		return 4
	}
	return h.CandidateMultiplier
}

func clamp(lo, hi, v int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isZeroVector(v []float32) bool {
	if len(v) == 0 {
		return true
	}
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}

// truncateSnippet clamps text to snippetLimit UTF-16 code units without
// splitting a surrogate pair: only a high surrogate left dangling at
// the cut point is dropped, a complete pair ending exactly at the limit
// is kept.
func truncateSnippet(text string) string {
	units := utf16.Encode([]rune(text))
	if len(units) <= snippetLimit {
		return text
	}
	cut := snippetLimit
	if isHighSurrogate(units[cut-1]) {
		cut--
	}
	return string(utf16.Decode(units[:cut]))
}

func isHighSurrogate(u uint16) bool {
	return u >= 0xD800 && u < 0xDC00
}
