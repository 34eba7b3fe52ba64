package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"llm_fanout/models"
	"llm_fanout/registry"
)

// Inventory is the registry surface the inventory endpoints need.
type Inventory interface {
	List() []registry.Model
	Refresh(ctx context.Context) []registry.Model
}

// ModelsHandler handles GET /models and POST /models/refresh
type ModelsHandler struct {
	inventory Inventory
	logger    *slog.Logger
}

// NewModelsHandler creates a new models handler
func NewModelsHandler(inventory Inventory, logger *slog.Logger) *ModelsHandler {
	return &ModelsHandler{
		inventory: inventory,
		logger:    logger,
	}
}

// List returns the current registry snapshot
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.InventoryResponse{Models: inventoryModels(h.inventory.List())}, h.logger)
}

// Refresh re-discovers the models and returns the new snapshot
func (h *ModelsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	snapshot := h.inventory.Refresh(r.Context())
	writeJSON(w, http.StatusOK, models.RefreshResponse{
		Message: "Models refreshed successfully",
		Models:  inventoryModels(snapshot),
	}, h.logger)
}

func inventoryModels(snapshot []registry.Model) []models.InventoryModel {
	out := make([]models.InventoryModel, 0, len(snapshot))
	for _, m := range snapshot {
		out = append(out, models.InventoryModel{
			Name:     m.Name,
			FullName: m.FullName,
			Provider: m.Provider,
		})
	}
	return out
}

// Health reports liveness
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *slog.Logger) {
	writeJSON(w, status, models.ErrorResponse{Error: msg}, logger)
}
