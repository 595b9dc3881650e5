package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// LocalLlamaCppClient talks to a llama.cpp server's /completion endpoint.
type LocalLlamaCppClient struct {
	httpClient *http.Client
	baseURL    string
}

type llamaCppPayload struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature *float32 `json:"temperature,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

type llamaCppResp struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

func NewLocalLlamaCppClient(baseURL string) (*LocalLlamaCppClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("local llm base URL not set")
	}
	return &LocalLlamaCppClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}, nil
}

func (l *LocalLlamaCppClient) buildPayload(prompt string, params GenerationParams, stream bool) llamaCppPayload {
	payload := llamaCppPayload{Prompt: prompt, NPredict: 2048, Stream: stream}
	if params.MaxTokens != nil {
		payload.NPredict = *params.MaxTokens
	}
	if params.Temperature != nil {
		payload.Temperature = params.Temperature
	} else {
		var defaultTemperature float32 = 0.2
		payload.Temperature = &defaultTemperature
	}
	if params.TopK != nil {
		payload.TopK = params.TopK
	}
	if params.TopP != nil {
		payload.TopP = params.TopP
	}
	payload.Stop = params.Stop
	return payload
}

// Generate implements the LLMClient interface.
func (l *LocalLlamaCppClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	completionURL := l.baseURL + "/completion"
	reqBody, err := json.Marshal(l.buildPayload(prompt, params, false))
	if err != nil {
		return "", fmt.Errorf("failed to marshal the payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, completionURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("Calling llama.cpp Generate", "url", completionURL)
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make a request to the llm: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read the llm's response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm returned status %d: %s", resp.StatusCode, string(body))
	}

	var llmResponseBody llamaCppResp
	if err := json.Unmarshal(body, &llmResponseBody); err != nil {
		return "", fmt.Errorf("failed to parse the llm response: %w", err)
	}
	return llmResponseBody.Content, nil
}

// GenerateStream implements the LLMClient interface. llama.cpp streams
// SSE lines of the form "data: {json}"; the final event has stop=true.
func (l *LocalLlamaCppClient) GenerateStream(ctx context.Context, prompt string, params GenerationParams) (<-chan Chunk, error) {
	completionURL := l.baseURL + "/completion"
	reqBody, err := json.Marshal(l.buildPayload(prompt, params, true))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal the payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, completionURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open llm stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("llm stream returned status %d: %s", resp.StatusCode, string(body))
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				out <- Chunk{Type: ChunkError, Err: ctx.Err()}
				return
			default:
			}

			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var event llamaCppResp
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				slog.Warn("Skipping malformed llama.cpp stream event", "error", err)
				continue
			}
			if event.Content != "" {
				select {
				case out <- Chunk{Type: ChunkContent, Content: event.Content}:
				case <-ctx.Done():
					out <- Chunk{Type: ChunkError, Err: ctx.Err()}
					return
				}
			}
			if event.Stop {
				out <- Chunk{Type: ChunkComplete}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- Chunk{Type: ChunkError, Err: fmt.Errorf("llm stream read failed: %w", err)}
			return
		}
		// Stream ended without a stop event. Treat as complete.
		out <- Chunk{Type: ChunkComplete}
	}()
	return out, nil
}
