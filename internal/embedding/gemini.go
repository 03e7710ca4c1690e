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

// geminiProvider targets the batchEmbedContents wire format:
// POST {base_url}/models/{model}:batchEmbedContents.
type geminiProvider struct {
	baseURL string
	apiKey  string
	model   string
	headers map[string]string
	client  *http.Client
	dims    int
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiBatchRequest struct {
	Requests []geminiEmbedRequest `json:"requests"`
}

type geminiEmbedRequest struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type geminiBatchResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

func newGeminiProvider(cfg config.ProviderConfig) (Provider, error) {
	if cfg.Remote.APIKey == "" {
		return nil, fmt.Errorf("gemini provider requires an API key")
	}
	return &geminiProvider{
		baseURL: strings.TrimRight(cfg.Remote.BaseURL, "/"),
		apiKey:  cfg.Remote.APIKey,
		model:   cfg.Model,
		headers: cfg.Remote.Headers,
		client:  &http.Client{Timeout: cfg.Remote.Timeout},
		dims:    cfg.Dimensions,
	}, nil
}

func (p *geminiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqs := make([]geminiEmbedRequest, len(texts))
	for i, t := range texts {
		reqs[i] = geminiEmbedRequest{
			Model:   "models/" + p.model,
			Content: geminiContent{Parts: []geminiPart{{Text: t}}},
		}
	}

	body, err := json.Marshal(geminiBatchRequest{Requests: reqs})
	if err != nil {
		return nil, fmt.Errorf("marshal gemini batch request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:batchEmbedContents?key=%s", p.baseURL, p.model, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create gemini batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, memerr.ProviderFailuref(err, "call gemini batchEmbedContents endpoint")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, memerr.ProviderFailuref(fmt.Errorf("status %d: %s", resp.StatusCode, data), "gemini batchEmbedContents returned non-200")
	}

	var payload geminiBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, memerr.ProviderFailuref(err, "decode gemini batch response")
	}

	if len(payload.Embeddings) != len(texts) {
		return nil, memerr.ProviderFailuref(nil, "gemini returned %d vectors for %d inputs", len(payload.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, e := range payload.Embeddings {
		if len(e.Values) == 0 {
			return nil, memerr.ProviderFailuref(nil, "gemini returned an empty embedding")
		}
		out[i] = e.Values
		if p.dims == 0 {
			p.dims = len(e.Values)
		}
	}
	return out, nil
}

func (p *geminiProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *geminiProvider) Identity() Identity {
	return Identity{
		ID:          "gemini",
		Model:       p.model,
		Fingerprint: Fingerprint("gemini", p.model, p.baseURL, p.headers),
	}
}

func (p *geminiProvider) Dimensions() int { return p.dims }
