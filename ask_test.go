package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_fanout/models"
)

func TestSessionURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://localhost:8000", "ws://localhost:8000/ws", false},
		{"https://fanout.example/", "wss://fanout.example/ws", false},
		{"ws://127.0.0.1:9000/api", "ws://127.0.0.1:9000/api/ws", false},
		{"ftp://x", "", true},
		{"http://", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := sessionURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// scriptedServer answers the first inbound frame with events
func scriptedServer(t *testing.T, events ...any) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		var req models.QuestionRequest
		if !assert.NoError(t, conn.ReadJSON(&req)) {
			return
		}
		for _, ev := range events {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialScripted(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.WriteJSON(models.QuestionRequest{Question: "q"}))
	return conn
}

func TestPrintEvents(t *testing.T) {
	srv := scriptedServer(t,
		models.NewProgress(models.StatusStarting, "Starting processing with 2 models in batch mode", ""),
		models.NewStreaming("llama3", "Hel", "Hel", ""),
		models.NewCompleted("llama3", "Hello", ""),
		models.NewModelError("phi3", "Model phi3 timed out after 120 seconds", ""),
		models.NewProgress(models.StatusAllCompleted, "Batch processing complete. 1/2 models responded successfully.", ""),
	)
	conn := dialScripted(t, srv)

	var out bytes.Buffer
	require.NoError(t, printEvents(conn, &out))

	got := out.String()
	assert.Contains(t, got, "# Starting processing with 2 models in batch mode")
	assert.Contains(t, got, "== llama3 ==\nHello")
	assert.Contains(t, got, "== phi3 (error) ==\nModel phi3 timed out after 120 seconds")
	assert.Contains(t, got, "1/2 models responded successfully.")
	assert.NotContains(t, got, "Hel\n")
}

func TestPrintEventsRequestError(t *testing.T) {
	srv := scriptedServer(t, models.NewProgress(models.StatusError, "No models available", ""))
	conn := dialScripted(t, srv)

	err := printEvents(conn, &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, "No models available", err.Error())
}

func TestAskCustomLengthFlag(t *testing.T) {
	f := askCmd.Flags().Lookup("custom-length")
	require.NotNil(t, f)
	assert.Equal(t, "10", f.DefValue)
	assert.Contains(t, f.Usage, "Line count")
}
