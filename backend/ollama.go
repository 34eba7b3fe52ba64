package backend

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

	"llm_fanout/models"
)

const maxLineBytes = 1024 * 1024

// OllamaBackend implements the Backend interface for Ollama
type OllamaBackend struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewOllamaBackend creates a new Ollama backend.
// Calls are bounded by their contexts, so the client itself has no timeout:
// a fixed client timeout would cut long generation streams short.
func NewOllamaBackend(endpoint string, logger *slog.Logger) *OllamaBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaBackend{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{},
		logger:   logger,
	}
}

// Endpoint returns the base URL of the Ollama host
func (o *OllamaBackend) Endpoint() string {
	return o.endpoint
}

// Generate handles text generation requests by forwarding to Ollama
func (o *OllamaBackend) Generate(ctx context.Context, req models.GenerateRequest) (<-chan models.GenerateResponse, *BackendMetadata, error) {
	respChan := make(chan models.GenerateResponse, 10)
	metadata := &BackendMetadata{URL: o.endpoint + "/api/generate"}

	data, err := json.Marshal(req)
	if err != nil {
		close(respChan)
		return respChan, metadata, fmt.Errorf("failed to marshal request: %w", err)
	}

	metadata.RawRequest = string(data)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, metadata.URL, bytes.NewReader(data))
	if err != nil {
		close(respChan)
		return respChan, metadata, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		close(respChan)
		return respChan, metadata, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		close(respChan)
		o.logger.Debug("ollama generate rejected", "model", req.Model, "status", resp.StatusCode, "body", string(body))
		return respChan, metadata, fmt.Errorf("Ollama API returned status %d", resp.StatusCode)
	}

	// Handle streaming response
	go func() {
		defer resp.Body.Close()
		defer close(respChan)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var genResp models.GenerateResponse
			if err := json.Unmarshal(line, &genResp); err != nil {
				o.logger.Debug("skipping malformed stream line", "model", req.Model, "error", err)
				continue
			}

			select {
			case respChan <- genResp:
			case <-ctx.Done():
				return
			}

			if genResp.Done || genResp.Error != "" {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			o.logger.Warn("ollama stream ended with error", "model", req.Model, "error", err)
			select {
			case respChan <- models.GenerateResponse{Model: req.Model, Error: fmt.Sprintf("stream read failed: %v", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return respChan, metadata, nil
}

// ListModels returns available models from Ollama
func (o *OllamaBackend) ListModels(ctx context.Context) (models.TagsResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint+"/api/tags", nil)
	if err != nil {
		return models.TagsResponse{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return models.TagsResponse{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return models.TagsResponse{}, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var tagsResp models.TagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tagsResp); err != nil {
		return models.TagsResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}

	return tagsResp, nil
}
