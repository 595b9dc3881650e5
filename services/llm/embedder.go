package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// HTTPEmbedder calls an embedding service's /batch_embed endpoint.
// Every vector it returns must have the configured dimension; mismatches
// are rejected here rather than poisoning the index.
type HTTPEmbedder struct {
	httpClient *http.Client
	batchURL   string
	dim        int
}

type batchEmbedRequest struct {
	Texts []string `json:"texts"`
}

type batchEmbedResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

func NewHTTPEmbedder(baseURL string, dim int) (*HTTPEmbedder, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("embedding service URL not set")
	}
	if dim <= 0 {
		dim = 768
	}
	return &HTTPEmbedder{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		batchURL:   strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/embed") + "/batch_embed",
		dim:        dim,
	}, nil
}

// Dimension returns the configured vector dimension.
func (e *HTTPEmbedder) Dimension() int { return e.dim }

func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	jsonData, err := json.Marshal(batchEmbedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.batchURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to build batch embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call /batch_embed endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read /batch_embed response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("/batch_embed returned status %d: %s", resp.StatusCode, string(body))
	}

	var batchResp batchEmbedResponse
	if err := json.Unmarshal(body, &batchResp); err != nil {
		return nil, fmt.Errorf("failed to decode batch embed response: %w", err)
	}
	if len(batchResp.Vectors) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d texts",
			len(batchResp.Vectors), len(texts))
	}
	for i, v := range batchResp.Vectors {
		if len(v) != e.dim {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), e.dim)
		}
	}
	return batchResp.Vectors, nil
}
