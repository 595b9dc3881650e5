package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient is the remote reasoning backend over any OpenAI-compatible
// API (api.openai.com or a self-hosted gateway).
type OpenAIClient struct {
	client       *openai.Client
	model        string
	systemPrompt string
}

// NewOpenAIClient builds a client. baseURL may be empty for the default
// endpoint; systemPrompt may be empty for a generic assistant persona.
func NewOpenAIClient(apiKey, model, baseURL, systemPrompt string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("remote llm api key not set")
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("Remote model not set, defaulting to gpt-4o-mini")
	}
	if systemPrompt == "" {
		systemPrompt = "You are a helpful assistant."
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	slog.Info("Initializing OpenAI-compatible client", "model", model)
	return &OpenAIClient{
		client:       openai.NewClientWithConfig(cfg),
		model:        model,
		systemPrompt: systemPrompt,
	}, nil
}

func (o *OpenAIClient) buildRequest(prompt string, params GenerationParams, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: stream,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

// Generate implements the LLMClient interface.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(prompt, params, false))
	if err != nil {
		return "", fmt.Errorf("remote llm call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("remote llm returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream implements the LLMClient interface.
func (o *OpenAIClient) GenerateStream(ctx context.Context, prompt string, params GenerationParams) (<-chan Chunk, error) {
	stream, err := o.client.CreateChatCompletionStream(ctx, o.buildRequest(prompt, params, true))
	if err != nil {
		return nil, fmt.Errorf("remote llm stream failed to open: %w", err)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				out <- Chunk{Type: ChunkComplete}
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				out <- Chunk{Type: ChunkError, Err: err}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case out <- Chunk{Type: ChunkContent, Content: delta}:
			case <-ctx.Done():
				out <- Chunk{Type: ChunkError, Err: ctx.Err()}
				return
			}
		}
	}()
	return out, nil
}
