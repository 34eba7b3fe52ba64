package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"llm_fanout/database"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

// RunStore is the read side of the run log.
type RunStore interface {
	GetRecentRuns(limit, offset int) ([]database.RunEntry, error)
	GetRunByID(id string) (*database.RunEntry, error)
	GetTotalCount() (int64, error)
}

// RunsResponse is the body of GET /runs
type RunsResponse struct {
	Total  int64               `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
	Runs   []database.RunEntry `json:"runs"`
}

// RunsHandler serves the run history
type RunsHandler struct {
	store  RunStore
	logger *slog.Logger
}

// NewRunsHandler creates a new runs handler
func NewRunsHandler(store RunStore, logger *slog.Logger) *RunsHandler {
	return &RunsHandler{store: store, logger: logger}
}

// List serves a page of recent runs
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultPageSize)
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	total, err := h.store.GetTotalCount()
	if err != nil {
		h.logger.Error("failed to count runs", "error", err)
		writeError(w, http.StatusInternalServerError, "Database error", h.logger)
		return
	}

	runs, err := h.store.GetRecentRuns(limit, offset)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "Database error", h.logger)
		return
	}
	if runs == nil {
		runs = []database.RunEntry{}
	}

	writeJSON(w, http.StatusOK, RunsResponse{Total: total, Limit: limit, Offset: offset, Runs: runs}, h.logger)
}

// Get serves one run with its calls
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.store.GetRunByID(id)
	if err != nil {
		h.logger.Error("failed to load run", "run", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Database error", h.logger)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "Run not found", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, run, h.logger)
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
