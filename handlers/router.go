package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"llm_fanout/middleware"
)

// Routes collects the handlers mounted by NewRouter. Nil handlers are not
// mounted.
type Routes struct {
	Session   *SessionHandler
	Models    *ModelsHandler
	Summary   *SummaryHandler
	Runs      *RunsHandler
	Metrics   http.Handler
	StaticDir string
}

// RouterConfig holds the cross-cutting middleware settings
type RouterConfig struct {
	Logger         *slog.Logger
	Verbose        bool
	EnableCORS     bool
	AllowedOrigins []string
	Observer       middleware.HTTPObserver
}

// NewRouter builds the HTTP surface
func NewRouter(routes Routes, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.RequestLogging(cfg.Logger, cfg.Verbose, cfg.Observer))
	if cfg.EnableCORS {
		r.Use(middleware.CORS(cfg.AllowedOrigins))
	}

	r.Get("/health", Health)
	if routes.Session != nil {
		r.Handle("/ws", routes.Session)
	}
	if routes.Models != nil {
		r.Get("/models", routes.Models.List)
		r.Post("/models/refresh", routes.Models.Refresh)
	}
	if routes.Summary != nil {
		r.Method(http.MethodPost, "/meta-summary", routes.Summary)
	}
	if routes.Runs != nil {
		r.Get("/runs", routes.Runs.List)
		r.Get("/runs/{id}", routes.Runs.Get)
	}
	if routes.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", routes.Metrics)
	}
	if routes.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(routes.StaticDir)))
	}
	return r
}
