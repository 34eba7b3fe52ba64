// Package registry holds the set of models the server fans questions out to.
//
// The set is an immutable snapshot behind an atomic pointer: Refresh builds a
// new snapshot and swaps it in, so readers never observe a partial update and
// never block on a refresh.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"llm_fanout/models"
)

// ProviderOllama is the provider reported for every discovered model.
const ProviderOllama = "ollama"

// ErrNotFound is returned by Lookup for unknown display names.
var ErrNotFound = errors.New("model not found")

// Model is one generation backend.
type Model struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Provider string `json:"provider"`
}

// Lister is the discovery side of a backend.
type Lister interface {
	ListModels(ctx context.Context) (models.TagsResponse, error)
}

// Cache persists the last good snapshot across restarts.
type Cache interface {
	Load(ctx context.Context) ([]Model, error)
	Store(ctx context.Context, snapshot []Model) error
}

// SizeObserver is notified with the snapshot size after every swap.
type SizeObserver interface {
	SetRegistryModels(n int)
}

// Registry owns the current model snapshot.
type Registry struct {
	lister   Lister
	cache    Cache
	observer SizeObserver
	timeout  time.Duration
	logger   *slog.Logger

	snapshot atomic.Pointer[[]Model]
}

type Option func(*Registry)

// WithCache enables warm starts from, and write-through to, cache.
func WithCache(cache Cache) Option {
	return func(r *Registry) {
		r.cache = cache
	}
}

// WithDiscoveryTimeout bounds each discovery call.
func WithDiscoveryTimeout(timeout time.Duration) Option {
	return func(r *Registry) {
		r.timeout = timeout
	}
}

// WithObserver reports snapshot sizes, e.g. to metrics.
func WithObserver(observer SizeObserver) Option {
	return func(r *Registry) {
		r.observer = observer
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New creates an empty registry. Call Init before serving.
func New(lister Lister, opts ...Option) *Registry {
	r := &Registry{
		lister:  lister,
		timeout: 10 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.swap(nil)
	return r
}

// List returns the current snapshot. Callers must not modify it.
func (r *Registry) List() []Model {
	return *r.snapshot.Load()
}

// Lookup finds a model by display name.
func (r *Registry) Lookup(name string) (Model, error) {
	for _, m := range r.List() {
		if m.Name == name {
			return m, nil
		}
	}
	return Model{}, ErrNotFound
}

// Init performs the startup load. When discovery yields nothing and a cache
// is configured, the cached snapshot is restored instead.
func (r *Registry) Init(ctx context.Context) []Model {
	snapshot := r.Refresh(ctx)
	if len(snapshot) > 0 || r.cache == nil {
		return snapshot
	}

	cached, err := r.cache.Load(ctx)
	if err != nil {
		r.logger.Warn("failed to load cached models", "error", err)
		return snapshot
	}
	cached = sanitize(cached)
	if len(cached) == 0 {
		return snapshot
	}

	r.swap(cached)
	r.logger.Info("restored models from cache", "models", names(cached))
	return cached
}

// Refresh re-discovers the models and replaces the snapshot. Any discovery
// error yields an empty snapshot; Refresh itself never fails.
func (r *Registry) Refresh(ctx context.Context) []Model {
	discoverCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var snapshot []Model
	tags, err := r.lister.ListModels(discoverCtx)
	if err != nil {
		r.logger.Error("error getting available models", "error", err)
	} else {
		snapshot = Build(tags)
	}

	r.swap(snapshot)
	r.logger.Info("available models", "models", names(snapshot))

	if r.cache != nil && len(snapshot) > 0 {
		if err := r.cache.Store(ctx, snapshot); err != nil {
			r.logger.Warn("failed to cache models", "error", err)
		}
	}
	return snapshot
}

func (r *Registry) swap(snapshot []Model) {
	if snapshot == nil {
		snapshot = []Model{}
	}
	r.snapshot.Store(&snapshot)
	if r.observer != nil {
		r.observer.SetRegistryModels(len(snapshot))
	}
}

// Build maps an /api/tags listing to a snapshot. Display names drop the
// version qualifier; when two raw names collide the later one wins but keeps
// the earlier one's position.
func Build(tags models.TagsResponse) []Model {
	snapshot := make([]Model, 0, len(tags.Models))
	index := make(map[string]int, len(tags.Models))

	for _, info := range tags.Models {
		full := strings.TrimSpace(info.Name)
		if full == "" {
			continue
		}
		name := DisplayName(full)
		if name == "" {
			continue
		}
		m := Model{ID: name, Name: name, FullName: full, Provider: ProviderOllama}
		if i, ok := index[name]; ok {
			snapshot[i] = m
			continue
		}
		index[name] = len(snapshot)
		snapshot = append(snapshot, m)
	}
	return snapshot
}

// DisplayName strips everything from the first ':' on.
func DisplayName(fullName string) string {
	name, _, _ := strings.Cut(fullName, ":")
	return name
}

func sanitize(snapshot []Model) []Model {
	out := snapshot[:0:0]
	for _, m := range snapshot {
		if m.FullName == "" || m.Name == "" {
			continue
		}
		if m.ID == "" {
			m.ID = m.Name
		}
		if m.Provider == "" {
			m.Provider = ProviderOllama
		}
		out = append(out, m)
	}
	return out
}

func names(snapshot []Model) []string {
	out := make([]string, len(snapshot))
	for i, m := range snapshot {
		out[i] = m.Name
	}
	return out
}
