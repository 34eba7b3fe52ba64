package models

import "time"

// Ollama API types

// GenerateOptions holds the decoding parameters sent with a generate request
type GenerateOptions struct {
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// GenerateRequest represents an Ollama generate request
type GenerateRequest struct {
	Model   string           `json:"model"`
	Prompt  string           `json:"prompt"`
	Stream  bool             `json:"stream"`
	Options *GenerateOptions `json:"options,omitempty"`
	System  string           `json:"system,omitempty"`
}

// GenerateResponse represents one line of an Ollama generate stream
type GenerateResponse struct {
	Model              string    `json:"model"`
	CreatedAt          time.Time `json:"created_at"`
	Response           string    `json:"response"`
	Done               bool      `json:"done"`
	DoneReason         string    `json:"done_reason,omitempty"`
	TotalDuration      int64     `json:"total_duration,omitempty"`
	LoadDuration       int64     `json:"load_duration,omitempty"`
	PromptEvalCount    int       `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64     `json:"prompt_eval_duration,omitempty"`
	EvalCount          int       `json:"eval_count,omitempty"`
	EvalDuration       int64     `json:"eval_duration,omitempty"`
	Error              string    `json:"error,omitempty"` // in-stream failure, terminal
}

// TagsResponse represents the response of Ollama's /api/tags
type TagsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ModelInfo represents information about a model
type ModelInfo struct {
	Name       string       `json:"name"`
	Model      string       `json:"model,omitempty"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details,omitempty"`
}

// ModelDetails contains detailed model information
type ModelDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// Inventory API types

// InventoryModel is one entry of GET /models
type InventoryModel struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Provider string `json:"provider"`
}

// InventoryResponse is the body of GET /models
type InventoryResponse struct {
	Models []InventoryModel `json:"models"`
}

// RefreshResponse is the body of POST /models/refresh
type RefreshResponse struct {
	Message string           `json:"message"`
	Models  []InventoryModel `json:"models"`
}

// SummaryRequest is the body of POST /meta-summary
type SummaryRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// SummaryFrame is one data frame of the meta-summary stream
type SummaryFrame struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}
