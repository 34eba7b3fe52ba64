package backend_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_fanout/backend"
	"llm_fanout/logging"
	"llm_fanout/models"
)

func TestOllamaBackend_GenerateStreamsAndSkipsMalformedLines(t *testing.T) {
	var got models.GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprintln(w, `{"response":"Hel","done":false}`)
		fmt.Fprintln(w, `not json`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `{"response":"lo","done":true}`)
		fmt.Fprintln(w, `{"response":"ignored","done":false}`)
	}))
	defer srv.Close()

	b := backend.NewOllamaBackend(srv.URL+"/", logging.NewNop())
	ch, meta, err := b.Generate(context.Background(), models.GenerateRequest{
		Model:  "llama3:8b",
		Prompt: "hi",
		Stream: true,
		Options: &models.GenerateOptions{
			Temperature: 0.7,
			TopP:        0.9,
			NumPredict:  100,
			Stop:        []string{"---"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/api/generate", meta.URL)

	var parts []string
	for resp := range ch {
		parts = append(parts, resp.Response)
	}
	assert.Equal(t, []string{"Hel", "lo"}, parts)
	assert.Equal(t, "llama3:8b", got.Model)
	assert.True(t, got.Stream)
	require.NotNil(t, got.Options)
	assert.Equal(t, 100, got.Options.NumPredict)
	assert.Equal(t, []string{"---"}, got.Options.Stop)
}

func TestOllamaBackend_GenerateNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	b := backend.NewOllamaBackend(srv.URL, logging.NewNop())
	ch, _, err := b.Generate(context.Background(), models.GenerateRequest{Model: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")

	_, open := <-ch
	assert.False(t, open)
}

func TestOllamaBackend_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		fmt.Fprint(w, `{"models":[{"name":"llama3:8b-instruct"},{"name":"mistral:latest"}]}`)
	}))
	defer srv.Close()

	b := backend.NewOllamaBackend(srv.URL, logging.NewNop())
	tags, err := b.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, tags.Models, 2)
	assert.Equal(t, "llama3:8b-instruct", tags.Models[0].Name)
}

func TestOllamaBackend_ListModelsBadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":`)
	}))
	defer srv.Close()

	b := backend.NewOllamaBackend(srv.URL, logging.NewNop())
	_, err := b.ListModels(context.Background())
	assert.ErrorContains(t, err, "failed to decode response")
}

// truncatedStream answers with one chunk of a chunked body and then drops the
// connection without the terminating chunk.
func truncatedStream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		conn, buf, err := w.(http.Hijacker).Hijack()
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		line := `{"response":"partial ","done":false}` + "\n"
		fmt.Fprintf(buf, "HTTP/1.1 200 OK\r\nContent-Type: application/x-ndjson\r\nTransfer-Encoding: chunked\r\n\r\n%x\r\n%s\r\n", len(line), line)
		buf.Flush()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaBackend_GenerateReportsBrokenStream(t *testing.T) {
	srv := truncatedStream(t)

	b := backend.NewOllamaBackend(srv.URL, logging.NewNop())
	ch, _, err := b.Generate(context.Background(), models.GenerateRequest{Model: "llama3:8b", Stream: true})
	require.NoError(t, err)

	var got []models.GenerateResponse
	for resp := range ch {
		got = append(got, resp)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "partial ", got[0].Response)
	assert.Empty(t, got[0].Error)
	assert.Contains(t, got[1].Error, "stream read failed")
	assert.False(t, got[1].Done)
}

func TestOllamaBackend_GenerateForwardsInStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"a","done":false}`)
		fmt.Fprintln(w, `{"error":"model requires more system memory"}`)
		fmt.Fprintln(w, `{"response":"ignored","done":false}`)
	}))
	defer srv.Close()

	b := backend.NewOllamaBackend(srv.URL, logging.NewNop())
	ch, _, err := b.Generate(context.Background(), models.GenerateRequest{Model: "llama3:8b"})
	require.NoError(t, err)

	var got []models.GenerateResponse
	for resp := range ch {
		got = append(got, resp)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "model requires more system memory", got[1].Error)
}

func TestOllamaBackend_GenerateCleanEOFWithoutDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"a","done":false}`)
	}))
	defer srv.Close()

	b := backend.NewOllamaBackend(srv.URL, logging.NewNop())
	ch, _, err := b.Generate(context.Background(), models.GenerateRequest{Model: "llama3:8b"})
	require.NoError(t, err)

	var got []models.GenerateResponse
	for resp := range ch {
		got = append(got, resp)
	}
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Error)
}
