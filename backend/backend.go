package backend

import (
	"context"

	"llm_fanout/models"
)

// BackendMetadata describes the outbound call made for a request
type BackendMetadata struct {
	URL        string // Backend URL that was called
	RawRequest string // Raw JSON sent to backend
}

// Backend defines the interface for an LLM backend host
type Backend interface {
	// Generate starts a streamed text generation.
	// The returned channel is closed when the stream ends, the backend signals done,
	// or ctx is cancelled.
	Generate(ctx context.Context, req models.GenerateRequest) (<-chan models.GenerateResponse, *BackendMetadata, error)

	// ListModels returns available models
	ListModels(ctx context.Context) (models.TagsResponse, error)
}
