package embedding

import (
	"context"
	"testing"

	"github.com/agentmemory/memoryindex/internal/config"
	"github.com/stretchr/testify/require"
)

func TestLocalProviderDeterministic(t *testing.T) {
	p, err := newLocalProvider(config.ProviderConfig{Local: config.LocalProviderConfig{Dimensions: 16}})
	require.NoError(t, err)

	a, err := p.EmbedQuery(context.Background(), "hello world")
	require.NoError(t, err)
	b, err := p.EmbedQuery(context.Background(), "hello world")
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := p.EmbedQuery(context.Background(), "something else")
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestLocalProviderBatchPreservesLengthAndOrder(t *testing.T) {
	p, err := newLocalProvider(config.ProviderConfig{Local: config.LocalProviderConfig{Dimensions: 8}})
	require.NoError(t, err)

	texts := []string{"one", "two", "three"}
	vecs, err := p.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for _, v := range vecs {
		require.Len(t, v, 8)
	}

	single, err := p.EmbedQuery(context.Background(), "two")
	require.NoError(t, err)
	require.Equal(t, single, vecs[1])
}

func TestLocalProviderRejectsNonPositiveDimension(t *testing.T) {
	_, err := newLocalProvider(config.ProviderConfig{Local: config.LocalProviderConfig{Dimensions: 0}})
	require.Error(t, err)
}

func TestFingerprintStableUnderHeaderOrder(t *testing.T) {
	a := Fingerprint("openai", "text-embed-3", "https://api.x", map[string]string{"A": "1", "B": "2"})
	b := Fingerprint("openai", "text-embed-3", "https://api.x", map[string]string{"B": "2", "A": "1"})
	require.Equal(t, a, b)
}

func TestFingerprintChangesWithBaseURL(t *testing.T) {
	a := Fingerprint("openai", "text-embed-3", "https://api.x", nil)
	b := Fingerprint("openai", "text-embed-3", "https://api.y", nil)
	require.NotEqual(t, a, b)
}

func TestNewFallsBackToLocalOnInitFailure(t *testing.T) {
	cfg := config.ProviderConfig{
		Provider: "openai",
		Model:    "text-embed-3",
		Remote:   config.RemoteProviderConfig{BaseURL: "https://api.openai.com/v1"}, // no API key: init fails
		Local:    config.LocalProviderConfig{Dimensions: 8},
		Fallback: "local",
	}

	p, status, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, status)
	require.Equal(t, "openai", status.FallbackFrom)
	require.Equal(t, "local", p.Identity().ID)
}

func TestNewFailsWhenNoFallbackConfigured(t *testing.T) {
	cfg := config.ProviderConfig{
		Provider: "openai",
		Model:    "text-embed-3",
		Remote:   config.RemoteProviderConfig{BaseURL: "https://api.openai.com/v1"},
	}
	_, _, err := New(cfg)
	require.Error(t, err)
}
