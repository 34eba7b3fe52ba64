package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"llm_fanout/backend"
	"llm_fanout/models"
	"llm_fanout/registry"
)

// ModelLookup resolves a display name to a registered model.
type ModelLookup interface {
	Lookup(name string) (registry.Model, error)
}

// SummarySettings holds the meta-summary generation parameters
type SummarySettings struct {
	Timeout     time.Duration
	NumPredict  int
	Temperature float64
	TopP        float64
}

// DefaultSummarySettings returns the meta-summary defaults
func DefaultSummarySettings() SummarySettings {
	return SummarySettings{
		Timeout:     180 * time.Second,
		NumPredict:  1500,
		Temperature: 0.3,
		TopP:        0.9,
	}
}

// SummaryHandler handles POST /meta-summary: one model, streamed as data frames
type SummaryHandler struct {
	backend     backend.Backend
	lookup      ModelLookup
	settings    SummarySettings
	logMessages bool
	logger      *slog.Logger
}

// NewSummaryHandler creates a new meta-summary handler
func NewSummaryHandler(b backend.Backend, lookup ModelLookup, settings SummarySettings, logMessages bool, logger *slog.Logger) *SummaryHandler {
	return &SummaryHandler{
		backend:     b,
		lookup:      lookup,
		settings:    settings,
		logMessages: logMessages,
		logger:      logger,
	}
}

// ServeHTTP implements the http.Handler interface
func (h *SummaryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req models.SummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", h.logger)
		return
	}
	req.Model = strings.TrimSpace(req.Model)
	if req.Model == "" || strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "Missing model or prompt", h.logger)
		return
	}

	model, err := h.lookup.Lookup(req.Model)
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Model %s not found", req.Model), h.logger)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), h.logger)
		return
	}

	if h.logMessages {
		h.logger.Info("meta-summary request", "model", model.FullName, "prompt", req.Prompt)
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.settings.Timeout)
	defer cancel()

	// Set headers for streaming
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	stream := &frameWriter{w: w}
	respChan, _, err := h.backend.Generate(ctx, models.GenerateRequest{
		Model:  model.FullName,
		Prompt: req.Prompt,
		Stream: true,
		Options: &models.GenerateOptions{
			Temperature: h.settings.Temperature,
			TopP:        h.settings.TopP,
			NumPredict:  h.settings.NumPredict,
		},
	})
	if err != nil {
		h.logger.Warn("meta-summary backend error", "model", model.FullName, "error", err)
		stream.write(models.SummaryFrame{Error: err.Error()})
		return
	}

	var full strings.Builder
	done, failed := false, false
	for resp := range respChan {
		if resp.Error != "" {
			h.logger.Warn("meta-summary stream failed", "model", model.FullName, "error", resp.Error)
			stream.write(models.SummaryFrame{Error: resp.Error})
			failed = true
			break
		}
		if resp.Response != "" {
			full.WriteString(resp.Response)
			if err := stream.write(models.SummaryFrame{Content: resp.Response}); err != nil {
				h.logger.Debug("meta-summary client gone", "error", err)
				cancel()
				return
			}
		}
		if resp.Done {
			done = true
			stream.write(models.SummaryFrame{Done: true})
			break
		}
	}
	// drain so the producer can exit
	for range respChan {
	}

	if !done && !failed {
		msg := "stream ended before completion"
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
			msg = fmt.Sprintf("Model %s timed out", req.Model)
		}
		stream.write(models.SummaryFrame{Error: msg})
	}

	if h.logMessages {
		h.logger.Info("meta-summary complete", "model", model.FullName, "summary", full.String())
	}
}

// frameWriter writes "data: <json>\n\n" frames and flushes each one
type frameWriter struct {
	w http.ResponseWriter
}

func (f *frameWriter) write(frame models.SummaryFrame) error {
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f.w, "data: %s\n\n", b); err != nil {
		return err
	}
	if fl, ok := f.w.(http.Flusher); ok {
		fl.Flush()
	}
	return nil
}
