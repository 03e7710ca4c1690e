package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, "openai", cfg.Provider.Provider)
	require.Equal(t, 1536, cfg.Provider.Dimensions)
	require.Equal(t, CitationsAuto, cfg.Citations)
	require.ElementsMatch(t, []string{"memory", "sessions"}, cfg.Sources)
}

func TestFromEnvRejectsNonPositiveDimensionsForRemoteProviders(t *testing.T) {
	t.Setenv("MEMORY_PROVIDER", "openai")
	t.Setenv("MEMORY_EMBED_DIMENSIONS", "0")

	_, err := FromEnv()
	require.Error(t, err)
}

func TestFromEnvAllowsZeroDimensionsForLocalProvider(t *testing.T) {
	t.Setenv("MEMORY_PROVIDER", "local")
	t.Setenv("MEMORY_EMBED_DIMENSIONS", "0")

	_, err := FromEnv()
	require.NoError(t, err)
}

func TestValidateRejectsUnknownCitationsMode(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Citations = "sometimes"
	require.Error(t, validate(&cfg))
}

func TestValidateRejectsEmptySources(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Sources = nil
	require.Error(t, validate(&cfg))
}

func TestValidateRejectsUnknownSource(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Sources = []string{"memory", "bogus"}
	require.Error(t, validate(&cfg))
}

func baseValidConfig() Config {
	return Config{
		Citations: CitationsAuto,
		Provider:  ProviderConfig{Provider: "local", Model: "local-embed"},
		Chunking:  ChunkingConfig{Tokens: 400, Overlap: 40},
		Sources:   []string{"memory", "sessions"},
		Store: StoreConfig{
			Postgres: PostgresConfig{URL: "postgres://u:p@localhost:5432/db"},
		},
	}
}
