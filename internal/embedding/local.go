package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/agentmemory/memoryindex/internal/config"
	"github.com/agentmemory/memoryindex/internal/memerr"
)

// localProvider is the in-process, no-network embedder: the declared
// fallback target for remote providers, and the default fallback-chain
// termination. It produces a deterministic vector without any network
// call so the rest of the pipeline keeps working when no provider is
// reachable.
//
// Determinism matters more than semantic quality here: repeated calls
// with the same text must produce the same vector, since it shares the
// cache keyed by (provider, model, fingerprint, hash) like any other
// provider.
type localProvider struct {
	dims int
}

func newLocalProvider(cfg config.ProviderConfig) (Provider, error) {
	dims := cfg.Local.Dimensions
	if dims <= 0 {
		return nil, memerr.ValidationErrorf("local provider requires a positive dimension")
	}
	return &localProvider{dims: dims}, nil
}

func (p *localProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = deterministicVector(t, p.dims)
	}
	return out, nil
}

func (p *localProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return deterministicVector(text, p.dims), nil
}

func (p *localProvider) Identity() Identity {
	return Identity{
		ID:          "local",
		Model:       "local-hash",
		Fingerprint: Fingerprint("local", "local-hash", "", nil),
	}
}

func (p *localProvider) Dimensions() int { return p.dims }

// deterministicVector expands a sha256 digest of text into a unit vector
// of length dims by repeated re-hashing, interpreting 4 bytes at a time
// as a uint32 and mapping it into [-1, 1].
func deterministicVector(text string, dims int) []float32 {
	vec := make([]float32, dims)
	seed := sha256.Sum256([]byte(text))
	block := seed[:]
	for i := 0; i < dims; i++ {
		if i > 0 && i%8 == 0 {
			next := sha256.Sum256(block)
			block = next[:]
		}
		offset := (i % 8) * 4
		bits := binary.BigEndian.Uint32(block[offset : offset+4])
		vec[i] = (float32(bits)/float32(math.MaxUint32))*2 - 1
	}
	return normalize(vec)
}

func normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}
