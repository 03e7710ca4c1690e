package embedding

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry is one row of the persisted embedding cache, scoped by provider
// fingerprint and chunk hash.
type Entry struct {
	Provider    string
	Model       string
	Fingerprint string
	Hash        string
	Vector      []float32
}

// PersistentCache is the store-backed half of the read-through cache;
// internal/store implements it against the embedding_cache table so this
// package never imports pgx directly.
type PersistentCache interface {
	GetMany(ctx context.Context, provider, model, fingerprint string, hashes []string) (map[string][]float32, error)
	PutMany(ctx context.Context, entries []Entry) error
}

// cacheKey is the LRU key: fingerprints already fold in provider/model, so
// a cache key only needs fingerprint+hash, but providers can share a
// fingerprint space in theory, so we keep all four for clarity.
type cacheKey string

func makeCacheKey(provider, model, fingerprint, hash string) cacheKey {
	return cacheKey(strings.Join([]string{provider, model, fingerprint, hash}, "\x1f"))
}

// Cache is a two-tier read-through embedding cache: an in-process LRU
// sitting in front of a persistent store-backed layer, deduplicating by
// hash before ever calling the provider.
type Cache struct {
	provider Provider
	store    PersistentCache
	lru      *lru.Cache[cacheKey, []float32]
}

// NewCache wraps provider with a read-through cache. maxEntries <= 0
// disables the in-process LRU layer (store-only caching).
func NewCache(provider Provider, store PersistentCache, maxEntries int) (*Cache, error) {
	var l *lru.Cache[cacheKey, []float32]
	if maxEntries > 0 {
		var err error
		l, err = lru.New[cacheKey, []float32](maxEntries)
		if err != nil {
			return nil, fmt.Errorf("create embedding LRU cache: %w", err)
		}
	}
	return &Cache{provider: provider, store: store, lru: l}, nil
}

// EmbedWithHashes resolves a vector for each (hash, text) pair, reusing
// cached vectors for repeated hashes and making exactly one provider
// call for the deduplicated set of misses.
//
// hashes[i] is the content hash chunk-i was computed over; texts[i] is
// its exact text. Returned vectors are in the same order as the input.
func (c *Cache) EmbedWithHashes(ctx context.Context, hashes, texts []string) ([][]float32, error) {
	if len(hashes) != len(texts) {
		return nil, fmt.Errorf("hashes and texts length mismatch: %d vs %d", len(hashes), len(texts))
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	id := c.provider.Identity()
	out := make([][]float32, len(hashes))

	// First pass: in-process LRU.
	missIdx := make([]int, 0, len(hashes))
	for i, h := range hashes {
		if c.lru != nil {
			if v, ok := c.lru.Get(makeCacheKey(id.ID, id.Model, id.Fingerprint, h)); ok {
				out[i] = v
				continue
			}
		}
		missIdx = append(missIdx, i)
	}
	if len(missIdx) == 0 {
		return out, nil
	}

	// Second pass: persistent store, deduplicated by hash.
	uniqueMissHashes := dedupeHashes(missIdx, hashes)
	stored, err := c.store.GetMany(ctx, id.ID, id.Model, id.Fingerprint, uniqueMissHashes)
	if err != nil {
		return nil, fmt.Errorf("read embedding cache: %w", err)
	}

	var stillMissIdx []int
	for _, i := range missIdx {
		if v, ok := stored[hashes[i]]; ok {
			out[i] = v
			if c.lru != nil {
				c.lru.Add(makeCacheKey(id.ID, id.Model, id.Fingerprint, hashes[i]), v)
			}
			continue
		}
		stillMissIdx = append(stillMissIdx, i)
	}
	if len(stillMissIdx) == 0 {
		return out, nil
	}

	// Third pass: provider call for the deduplicated-by-hash misses only.
	// Normalized-text dedupe is a diagnostic signal layered on top, never
	// a second cache key.
	uniqueHashToRep := make(map[string]int, len(stillMissIdx))
	var reqTexts []string
	var reqHashes []string
	for _, i := range stillMissIdx {
		h := hashes[i]
		if _, seen := uniqueHashToRep[h]; seen {
			continue
		}
		uniqueHashToRep[h] = i
		reqTexts = append(reqTexts, texts[i])
		reqHashes = append(reqHashes, h)
	}

	logNormalizedTextCollisions(reqTexts)

	vecs, err := c.provider.EmbedBatch(ctx, reqTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(reqTexts) {
		return nil, fmt.Errorf("provider returned %d vectors for %d requested texts", len(vecs), len(reqTexts))
	}

	entries := make([]Entry, 0, len(vecs))
	hashToVec := make(map[string][]float32, len(vecs))
	for j, v := range vecs {
		if len(v) == 0 {
			return nil, fmt.Errorf("provider returned an empty vector for hash %s", reqHashes[j])
		}
		hashToVec[reqHashes[j]] = v
		entries = append(entries, Entry{
			Provider:    id.ID,
			Model:       id.Model,
			Fingerprint: id.Fingerprint,
			Hash:        reqHashes[j],
			Vector:      v,
		})
	}

	if err := c.store.PutMany(ctx, entries); err != nil {
		return nil, fmt.Errorf("persist embedding cache: %w", err)
	}

	// Fan out one embedding to all chunks sharing that hash.
	for _, i := range stillMissIdx {
		v := hashToVec[hashes[i]]
		out[i] = v
		if c.lru != nil {
			c.lru.Add(makeCacheKey(id.ID, id.Model, id.Fingerprint, hashes[i]), v)
		}
	}

	return out, nil
}

func dedupeHashes(idx []int, hashes []string) []string {
	seen := make(map[string]struct{}, len(idx))
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		h := hashes[i]
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// logNormalizedTextCollisions is a diagnostic-only second dedupe pass:
// it never changes which texts are embedded, it only exists so a caller
// wiring a logger in can notice near-duplicate content hashing
// differently (e.g. trailing whitespace).
func logNormalizedTextCollisions(texts []string) map[string][]int {
	normalized := make(map[string][]int)
	for i, t := range texts {
		n := strings.ToLower(strings.TrimSpace(t))
		normalized[n] = append(normalized[n], i)
	}
	return normalized
}
