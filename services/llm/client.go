package llm

import "context"

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// ChunkType discriminates stream frames emitted by GenerateStream.
type ChunkType string

const (
	ChunkContent  ChunkType = "content"
	ChunkComplete ChunkType = "complete"
	ChunkError    ChunkType = "error"
)

// Chunk is one frame of a generation stream. A stream always ends with
// exactly one complete or error chunk, after which the channel closes.
type Chunk struct {
	Type    ChunkType
	Content string
	Err     error
}

// Usage reports token accounting when the backend provides it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LLMClient defines the standard interface for any chat backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// GenerateStream returns a channel of chunks. The producer closes the
	// channel after the terminal chunk. Cancelling ctx stops production
	// at the next chunk boundary.
	GenerateStream(ctx context.Context, prompt string, params GenerationParams) (<-chan Chunk, error)
}
