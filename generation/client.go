// Package generation runs a single streamed generation against one model and
// turns the backend stream into progress events.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"llm_fanout/backend"
	"llm_fanout/models"
	"llm_fanout/registry"
)

const (
	// DefaultTimeout bounds one model call.
	DefaultTimeout = 120 * time.Second
	// DefaultChunkEvery is how many increments are accumulated per Chunk event.
	DefaultChunkEvery = 3
	// DefaultMaxChars is the hard cutoff on accumulated output.
	DefaultMaxChars = 10000

	// TruncationMarker is appended once when the cutoff is hit.
	TruncationMarker = "\n\n[Response truncated - maximum length reached]"
	// EmptyResponse replaces the final text of a call that produced nothing.
	EmptyResponse = "No response received"
)

// Kind tags a StreamEvent.
type Kind int

const (
	Started Kind = iota
	Chunk
	Completed
	Failed
)

func (k Kind) String() string {
	switch k {
	case Started:
		return "started"
	case Chunk:
		return "chunk"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// StreamEvent is one progress event of a model call.
type StreamEvent struct {
	Kind       Kind
	Model      string
	SessionID  string
	Text       string // increment for Chunk, final text for Completed
	Cumulative string
	ErrKind    models.ErrorKind
	Message    string
}

// Sink receives the events of a call in order. An error means the consumer
// is gone and the call is abandoned.
type Sink interface {
	Send(StreamEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(StreamEvent) error

func (f SinkFunc) Send(ev StreamEvent) error { return f(ev) }

// Result is the terminal outcome of a call.
type Result struct {
	Model     string
	FullName  string
	Completed bool
	Text      string
	ErrKind   models.ErrorKind
	Message   string
	Chars     int
	Truncated bool
	Duration  time.Duration
}

// Successful reports whether the call completed.
func (r Result) Successful() bool {
	return r.Completed
}

// Generator is the streaming half of backend.Backend.
type Generator interface {
	Generate(ctx context.Context, req models.GenerateRequest) (<-chan models.GenerateResponse, *backend.BackendMetadata, error)
}

// Client issues generation calls.
type Client struct {
	backend    Generator
	chunkEvery int
	maxChars   int
	logger     *slog.Logger
}

type Option func(*Client)

// WithChunkEvery sets how many increments are batched into one Chunk event.
func WithChunkEvery(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.chunkEvery = n
		}
	}
}

// WithMaxChars sets the output cutoff.
func WithMaxChars(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a generation client over backend.
func NewClient(backend Generator, opts ...Option) *Client {
	c := &Client{
		backend:    backend,
		chunkEvery: DefaultChunkEvery,
		maxChars:   DefaultMaxChars,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call is the state of one Generate invocation.
type call struct {
	client  *Client
	model   registry.Model
	req     Request
	sink    Sink
	timeout time.Duration
	start   time.Time
	parent  context.Context
	ctx     context.Context
}

// Generate streams req to model and reports progress to sink. It always
// returns a terminal Result and, unless the sink is gone, has sent exactly one
// terminal event. Cancellation of ctx or expiry of timeout aborts the HTTP call.
func (c *Client) Generate(ctx context.Context, model registry.Model, req Request, sink Sink, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	k := &call{
		client:  c,
		model:   model,
		req:     req,
		sink:    sink,
		timeout: timeout,
		start:   time.Now(),
		parent:  ctx,
		ctx:     callCtx,
	}
	return k.run()
}

func (k *call) run() Result {
	if err := k.emit(StreamEvent{Kind: Started}); err != nil {
		return k.abandon(err)
	}

	k.client.logger.Debug("starting model", "model", k.model.FullName, "display", k.model.Name)

	stream, _, err := k.client.backend.Generate(k.ctx, models.GenerateRequest{
		Model:   k.model.FullName,
		Prompt:  k.req.Prompt(),
		Stream:  true,
		Options: k.req.Options(),
	})
	if err != nil {
		return k.fail(err)
	}

	var full strings.Builder
	chars := 0
	increments := 0

	for {
		select {
		case <-k.ctx.Done():
			return k.fail(k.ctx.Err())

		case resp, ok := <-stream:
			if !ok {
				if k.ctx.Err() != nil {
					return k.fail(k.ctx.Err())
				}
				return k.complete(full.String(), chars, false)
			}

			if resp.Error != "" {
				return k.fail(errors.New(resp.Error))
			}

			if resp.Response != "" {
				full.WriteString(resp.Response)
				chars += utf8.RuneCountInString(resp.Response)
				increments++
			}

			if resp.Response != "" && (increments%k.client.chunkEvery == 0 || resp.Done) {
				if err := k.emit(StreamEvent{Kind: Chunk, Text: resp.Response, Cumulative: full.String()}); err != nil {
					return k.abandon(err)
				}
			}

			if resp.Done {
				return k.complete(full.String(), chars, false)
			}

			if chars > k.client.maxChars {
				full.WriteString(TruncationMarker)
				return k.complete(full.String(), chars, true)
			}
		}
	}
}

func (k *call) emit(ev StreamEvent) error {
	ev.Model = k.model.Name
	ev.SessionID = k.req.SessionID
	return k.sink.Send(ev)
}

func (k *call) result() Result {
	return Result{
		Model:    k.model.Name,
		FullName: k.model.FullName,
		Duration: time.Since(k.start),
	}
}

func (k *call) complete(text string, chars int, truncated bool) Result {
	if text == "" {
		text = EmptyResponse
	}
	res := k.result()
	res.Completed = true
	res.Text = text
	res.Chars = chars
	res.Truncated = truncated

	if err := k.emit(StreamEvent{Kind: Completed, Text: text, Cumulative: text}); err != nil {
		k.client.logger.Debug("completion not delivered", "model", k.model.Name, "error", err)
	}
	k.client.logger.Debug("model completed", "model", k.model.Name, "chars", chars, "truncated", truncated, "duration", res.Duration)
	return res
}

func (k *call) fail(err error) Result {
	kind, msg := k.classify(err)
	res := k.result()
	res.ErrKind = kind
	res.Message = msg

	if sendErr := k.emit(StreamEvent{Kind: Failed, ErrKind: kind, Message: msg}); sendErr != nil {
		k.client.logger.Debug("failure not delivered", "model", k.model.Name, "error", sendErr)
	}
	k.client.logger.Warn("model failed", "model", k.model.Name, "kind", string(kind), "error", msg)
	return res
}

// abandon ends a call whose sink is gone; no further events are attempted.
func (k *call) abandon(err error) Result {
	res := k.result()
	res.ErrKind = models.ErrCanceled
	res.Message = fmt.Sprintf("Model %s abandoned: %v", k.model.Name, err)
	return res
}

func (k *call) classify(err error) (models.ErrorKind, string) {
	if errors.Is(k.parent.Err(), context.Canceled) {
		return models.ErrCanceled, fmt.Sprintf("Model %s was cancelled", k.model.Name)
	}
	if errors.Is(k.ctx.Err(), context.DeadlineExceeded) {
		return models.ErrTimeout, fmt.Sprintf("Model %s timed out after %s seconds", k.model.Name, formatSeconds(k.timeout))
	}
	if err == nil {
		err = errors.New("unknown error")
	}
	return models.ErrTransport, err.Error()
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
