package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/agentmemory/memoryindex/internal/config"
	"github.com/agentmemory/memoryindex/internal/memerr"
)

// openAIProvider hand-rolls the request against the OpenAI-compatible
// embeddings endpoint: a raw net/http POST rather than a vendor SDK,
// since the wire contract is a few lines of JSON and the
// fallback/fingerprint machinery needs to wrap it anyway.
type openAIProvider struct {
	baseURL string
	apiKey  string
	model   string
	headers map[string]string
	client  *http.Client
	dims    int
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func newOpenAIProvider(cfg config.ProviderConfig) (Provider, error) {
	if cfg.Remote.APIKey == "" {
		return nil, fmt.Errorf("openai provider requires an API key")
	}
	return &openAIProvider{
		baseURL: strings.TrimRight(cfg.Remote.BaseURL, "/"),
		apiKey:  cfg.Remote.APIKey,
		model:   cfg.Model,
		headers: cfg.Remote.Headers,
		client:  &http.Client{Timeout: cfg.Remote.Timeout},
		dims:    cfg.Dimensions,
	}, nil
}

func (p *openAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(openAIEmbedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal openai embed request: %w", err)
	}

	url := p.baseURL + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create openai embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, memerr.ProviderFailuref(err, "call openai embeddings endpoint")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, memerr.ProviderFailuref(fmt.Errorf("status %d: %s", resp.StatusCode, data), "openai embeddings endpoint returned non-200")
	}

	var payload openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, memerr.ProviderFailuref(err, "decode openai embed response")
	}

	if len(payload.Data) != len(texts) {
		return nil, memerr.ProviderFailuref(nil, "openai returned %d vectors for %d inputs", len(payload.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range payload.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, memerr.ProviderFailuref(nil, "openai returned out-of-range index %d", d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, memerr.ProviderFailuref(nil, "openai returned an empty embedding")
		}
		out[d.Index] = d.Embedding
		if p.dims == 0 {
			p.dims = len(d.Embedding)
		}
	}
	return out, nil
}

func (p *openAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *openAIProvider) Identity() Identity {
	return Identity{
		ID:          "openai",
		Model:       p.model,
		Fingerprint: Fingerprint("openai", p.model, p.baseURL, p.headers),
	}
}

func (p *openAIProvider) Dimensions() int { return p.dims }
