package registry_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_fanout/logging"
	"llm_fanout/models"
	"llm_fanout/registry"
)

type fakeLister struct {
	mu   sync.Mutex
	tags models.TagsResponse
	err  error
}

func (f *fakeLister) ListModels(ctx context.Context) (models.TagsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tags, f.err
}

func (f *fakeLister) set(tags models.TagsResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags, f.err = tags, err
}

func tags(names ...string) models.TagsResponse {
	var resp models.TagsResponse
	for _, n := range names {
		resp.Models = append(resp.Models, models.ModelInfo{Name: n})
	}
	return resp
}

type memCache struct {
	stored []registry.Model
	err    error
}

func (c *memCache) Load(ctx context.Context) ([]registry.Model, error) { return c.stored, c.err }
func (c *memCache) Store(ctx context.Context, s []registry.Model) error {
	c.stored = append([]registry.Model(nil), s...)
	return nil
}

type sizeRecorder struct{ sizes []int }

func (s *sizeRecorder) SetRegistryModels(n int) { s.sizes = append(s.sizes, n) }

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "llama3", registry.DisplayName("llama3:8b-instruct"))
	assert.Equal(t, "mistral", registry.DisplayName("mistral"))
	assert.Equal(t, "a", registry.DisplayName("a:b:c"))
}

func TestBuild_CollisionLastWriteWins(t *testing.T) {
	snapshot := registry.Build(tags("llama3:8b", "mistral:7b", "llama3:70b", ""))

	require.Len(t, snapshot, 2)
	assert.Equal(t, registry.Model{ID: "llama3", Name: "llama3", FullName: "llama3:70b", Provider: "ollama"}, snapshot[0])
	assert.Equal(t, "mistral:7b", snapshot[1].FullName)
}

func TestRefresh_ReplacesSnapshot(t *testing.T) {
	lister := &fakeLister{tags: tags("llama3:8b-instruct")}
	sizes := &sizeRecorder{}
	r := registry.New(lister, registry.WithLogger(logging.NewNop()), registry.WithObserver(sizes))
	assert.Empty(t, r.List())

	r.Refresh(context.Background())
	before := r.List()
	require.Len(t, before, 1)
	assert.Equal(t, "llama3", before[0].Name)

	lister.set(tags("phi3:mini", "gemma:2b"), nil)
	after := r.Refresh(context.Background())
	assert.Len(t, after, 2)
	assert.Equal(t, after, r.List())

	// the old snapshot is untouched
	assert.Equal(t, "llama3:8b-instruct", before[0].FullName)
	assert.Equal(t, []int{0, 1, 2}, sizes.sizes)
}

func TestRefresh_IdempotentForIdenticalUpstream(t *testing.T) {
	lister := &fakeLister{tags: tags("a:1", "b:2", "c")}
	r := registry.New(lister, registry.WithLogger(logging.NewNop()))

	first := r.Refresh(context.Background())
	second := r.Refresh(context.Background())
	assert.ElementsMatch(t, first, second)
}

func TestRefresh_FailsOpenToEmpty(t *testing.T) {
	lister := &fakeLister{tags: tags("a:1")}
	r := registry.New(lister, registry.WithLogger(logging.NewNop()))
	r.Refresh(context.Background())
	require.Len(t, r.List(), 1)

	lister.set(models.TagsResponse{}, errors.New("connection refused"))
	snapshot := r.Refresh(context.Background())
	assert.Empty(t, snapshot)
	assert.Empty(t, r.List())
}

func TestInit_WarmStartFromCache(t *testing.T) {
	cache := &memCache{stored: []registry.Model{
		{Name: "llama3", FullName: "llama3:8b"},
		{Name: "broken"},
	}}
	lister := &fakeLister{err: errors.New("ollama down")}
	r := registry.New(lister, registry.WithLogger(logging.NewNop()), registry.WithCache(cache))

	snapshot := r.Init(context.Background())
	require.Len(t, snapshot, 1)
	assert.Equal(t, registry.Model{ID: "llama3", Name: "llama3", FullName: "llama3:8b", Provider: "ollama"}, snapshot[0])
}

func TestInit_WritesThroughToCache(t *testing.T) {
	cache := &memCache{}
	lister := &fakeLister{tags: tags("qwen:7b")}
	r := registry.New(lister, registry.WithLogger(logging.NewNop()), registry.WithCache(cache))

	r.Init(context.Background())
	require.Len(t, cache.stored, 1)
	assert.Equal(t, "qwen:7b", cache.stored[0].FullName)
}

func TestInit_CacheErrorIsNotFatal(t *testing.T) {
	cache := &memCache{err: errors.New("redis down")}
	lister := &fakeLister{err: errors.New("ollama down")}
	r := registry.New(lister, registry.WithLogger(logging.NewNop()), registry.WithCache(cache))

	assert.Empty(t, r.Init(context.Background()))
}

func TestLookup(t *testing.T) {
	r := registry.New(&fakeLister{tags: tags("llama3:8b")}, registry.WithLogger(logging.NewNop()))
	r.Refresh(context.Background())

	m, err := r.Lookup("llama3")
	require.NoError(t, err)
	assert.Equal(t, "llama3:8b", m.FullName)

	_, err = r.Lookup("nope")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestList_ConcurrentWithRefresh(t *testing.T) {
	lister := &fakeLister{tags: tags("a:1", "b:1", "c:1")}
	r := registry.New(lister, registry.WithLogger(logging.NewNop()))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				n := len(r.List())
				assert.True(t, n == 0 || n == 3)
			}
		}()
	}
	for j := 0; j < 20; j++ {
		r.Refresh(context.Background())
	}
	wg.Wait()
}
