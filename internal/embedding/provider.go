// Package embedding abstracts batch embedding behind a small interface
// with a fallback chain and a stable identity fingerprint used to
// partition the embedding cache.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/agentmemory/memoryindex/internal/config"
	"github.com/agentmemory/memoryindex/internal/memerr"
)

// Identity describes a provider's cache-partitioning key material.
type Identity struct {
	ID          string // "openai", "gemini", "local"
	Model       string
	Fingerprint string
}

// Provider embeds batches of text and single queries, and reports its
// identity for cache partitioning.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Identity() Identity
	Dimensions() int
}

// Status reports fallback state for diagnostics.
type Status struct {
	Provider       string
	Model          string
	FallbackFrom   string
	FallbackReason string
}

// Fingerprint hashes the provider identity material that partitions the
// embedding cache: provider id, model, base URL, and a curated subset of
// headers (sorted so key order never affects the digest).
func Fingerprint(providerID, model, baseURL string, headers map[string]string) string {
	h := sha256.New()
	fmt.Fprintf(h, "id=%s\nmodel=%s\nbase_url=%s\n", providerID, model, baseURL)

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "header:%s=%s\n", strings.ToLower(k), headers[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// New builds the configured provider, falling back to cfg.Fallback on
// initialization failure. Runtime (per-call) errors are never silently
// downgraded here; only construction-time failures trigger fallback.
func New(cfg config.ProviderConfig) (Provider, *Status, error) {
	primary, err := build(cfg, cfg.Provider)
	if err == nil {
		return primary, nil, nil
	}

	if cfg.Fallback == "" || cfg.Fallback == cfg.Provider {
		return nil, nil, memerr.Unavailablef("embedding provider %q failed to initialize: %v", cfg.Provider, err)
	}

	fallback, ferr := build(cfg, cfg.Fallback)
	if ferr != nil {
		return nil, nil, memerr.Unavailablef("embedding provider %q failed (%v), fallback %q also failed: %v", cfg.Provider, err, cfg.Fallback, ferr)
	}

	status := &Status{
		Provider:       cfg.Fallback,
		Model:          cfg.Model,
		FallbackFrom:   cfg.Provider,
		FallbackReason: err.Error(),
	}
	return fallback, status, nil
}

func build(cfg config.ProviderConfig, providerID string) (Provider, error) {
	switch providerID {
	case "openai":
		return newOpenAIProvider(cfg)
	case "gemini":
		return newGeminiProvider(cfg)
	case "local":
		return newLocalProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", providerID)
	}
}
