package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"llm_fanout/database"
	"llm_fanout/generation"
	"llm_fanout/models"
	"llm_fanout/orchestrator"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
	wsWriteTimeout    = 10 * time.Second
	wsInboxSize       = 8
)

// Runner executes one fan-out run.
type Runner interface {
	Run(ctx context.Context, mode orchestrator.Mode, req generation.Request, emitter orchestrator.Emitter) (orchestrator.Summary, error)
}

// RunRecorder persists finished runs.
type RunRecorder interface {
	LogRun(entry database.RunEntry) error
}

// SessionObserver tracks open sessions.
type SessionObserver interface {
	SessionOpened()
	SessionClosed()
}

// SessionHandler serves the duplex question/answer WebSocket at /ws
type SessionHandler struct {
	runner         Runner
	recorder       RunRecorder
	observer       SessionObserver
	allowedOrigins []string
	logMessages    bool
	writeTimeout   time.Duration
	logger         *slog.Logger
}

// SessionOption configures a SessionHandler.
type SessionOption func(*SessionHandler)

// WithRecorder records every finished run.
func WithRecorder(recorder RunRecorder) SessionOption {
	return func(h *SessionHandler) {
		h.recorder = recorder
	}
}

// WithSessionObserver reports session open/close.
func WithSessionObserver(observer SessionObserver) SessionOption {
	return func(h *SessionHandler) {
		h.observer = observer
	}
}

// WithAllowedOrigins restricts the Origin header. Empty allows any origin.
func WithAllowedOrigins(origins []string) SessionOption {
	return func(h *SessionHandler) {
		h.allowedOrigins = origins
	}
}

// WithMessageLogging logs questions and final answers.
func WithMessageLogging(enabled bool) SessionOption {
	return func(h *SessionHandler) {
		h.logMessages = enabled
	}
}

// WithWriteTimeout sets the per-frame write deadline.
func WithWriteTimeout(d time.Duration) SessionOption {
	return func(h *SessionHandler) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithSessionLogger sets the logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(h *SessionHandler) {
		h.logger = logger
	}
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(runner Runner, opts ...SessionOption) *SessionHandler {
	h := &SessionHandler{
		runner:       runner,
		writeTimeout: wsWriteTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements the http.Handler interface
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r, h.allowedOrigins)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	if h.observer != nil {
		h.observer.SessionOpened()
		defer h.observer.SessionClosed()
	}
	h.logger.Info("session opened", "remote", r.RemoteAddr)
	defer h.logger.Info("session closed", "remote", r.RemoteAddr)

	// the request context is not cancelled for hijacked connections
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &session{conn: conn, writeTimeout: h.writeTimeout}
	inbox := make(chan []byte, wsInboxSize)
	go readLoop(ctx, cancel, conn, inbox)

	for {
		select {
		case data, ok := <-inbox:
			if !ok {
				return
			}
			if !h.handleMessage(ctx, sess, data) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readLoop feeds inbound frames to inbox and cancels the session on read
// failure, which aborts any run in progress.
func readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, inbox chan<- []byte) {
	defer close(inbox)
	defer cancel()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case inbox <- data:
		case <-ctx.Done():
			return
		}
	}
}

// handleMessage processes one inbound request. It returns false when the
// session must end.
func (h *SessionHandler) handleMessage(ctx context.Context, sess *session, data []byte) (keep bool) {
	var req models.QuestionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Debug("invalid request", "error", err)
		return sess.Emit(models.NewProgress(models.StatusError, "Invalid JSON format", "")) == nil
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return sess.Emit(models.NewProgress(models.StatusError, "No question provided", req.SessionID)) == nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("processing panic", "session", req.SessionID, "panic", rec)
			keep = sess.Emit(models.NewProgress(models.StatusError, fmt.Sprintf("Processing error: %v", rec), req.SessionID)) == nil
		}
	}()

	mode := orchestrator.ParseMode(req.Mode)
	genReq := generation.NewRequest(question, req.ResponseLength, string(req.CustomLength), req.SessionID)
	if h.logMessages {
		h.logger.Info("question received", "session", req.SessionID, "mode", string(mode), "length", string(genReq.Length), "question", question)
	}

	summary, err := h.runner.Run(ctx, mode, genReq, sess)
	h.record(summary)
	if err != nil {
		h.logger.Info("session send failed", "session", req.SessionID, "error", err)
		return false
	}
	return true
}

func (h *SessionHandler) record(summary orchestrator.Summary) {
	if h.logMessages {
		for _, res := range summary.Results {
			if res.Successful() {
				h.logger.Info("model answer", "run", summary.RunID, "model", res.Model, "answer", res.Text)
			}
		}
	}
	if h.recorder == nil || summary.RunID == "" {
		return
	}
	if err := h.recorder.LogRun(runEntry(summary)); err != nil {
		h.logger.Error("failed to record run", "run", summary.RunID, "error", err)
	}
}

// runEntry converts a run summary into a run log entry
func runEntry(summary orchestrator.Summary) database.RunEntry {
	entry := database.RunEntry{
		ID:             summary.RunID,
		Timestamp:      summary.Started,
		SessionID:      summary.SessionID,
		Mode:           string(summary.Mode),
		ResponseLength: string(summary.Length),
		ModelCount:     summary.Total,
		Successful:     summary.Successful,
		LatencyMs:      summary.Duration.Milliseconds(),
	}
	for _, res := range summary.Results {
		call := database.CallEntry{
			Model:     res.Model,
			FullName:  res.FullName,
			Status:    string(models.StatusCompleted),
			Chars:     res.Chars,
			Truncated: res.Truncated,
			LatencyMs: res.Duration.Milliseconds(),
		}
		if !res.Successful() {
			call.Status = string(models.StatusError)
			call.ErrorKind = string(res.ErrKind)
			call.Error = res.Message
		}
		entry.Calls = append(entry.Calls, call)
	}
	return entry
}

// session serializes writes to one connection.
type session struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// Emit implements orchestrator.Emitter
func (s *session) Emit(ev models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(ev)
}

func originAllowed(r *http.Request, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(origin, a) || strings.EqualFold(parsed.Hostname(), a) {
			return true
		}
	}
	return false
}
