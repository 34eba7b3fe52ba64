// Package orchestrator fans one question out to every registered model under
// a processing strategy and reports progress through an Emitter.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"llm_fanout/generation"
	"llm_fanout/models"
	"llm_fanout/registry"
)

// ErrSinkClosed is returned by Run when the event consumer went away.
var ErrSinkClosed = errors.New("event sink closed")

// Emitter delivers outbound events. Implementations must be safe for
// concurrent use; events of one model arrive from one goroutine in order.
type Emitter interface {
	Emit(models.Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(models.Event) error

func (f EmitterFunc) Emit(ev models.Event) error { return f(ev) }

// Source provides the model snapshot.
type Source interface {
	List() []registry.Model
}

// Runner performs one model call.
type Runner interface {
	Generate(ctx context.Context, model registry.Model, req generation.Request, sink generation.Sink, timeout time.Duration) generation.Result
}

// Observer is told about finished calls and runs.
type Observer interface {
	ObserveCall(mode string, res generation.Result)
	ObserveRun(summary Summary)
}

// Summary is the outcome of one run.
type Summary struct {
	RunID      string
	SessionID  string
	Mode       Mode
	Length     generation.LengthPolicy
	Total      int
	Successful int
	Results    []generation.Result
	Started    time.Time
	Duration   time.Duration
}

// Orchestrator schedules generation calls.
type Orchestrator struct {
	source      Source
	runner      Runner
	batchSize   int
	callTimeout time.Duration
	observer    Observer
	logger      *slog.Logger
}

type Option func(*Orchestrator)

// WithBatchSize sets the group size of batch mode.
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithCallTimeout sets the per-call deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// WithObserver reports calls and runs, e.g. to metrics.
func WithObserver(observer Observer) Option {
	return func(o *Orchestrator) {
		o.observer = observer
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an orchestrator.
func New(source Source, runner Runner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:      source,
		runner:      runner,
		batchSize:   DefaultBatchSize,
		callTimeout: generation.DefaultTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes req under mode. Every dispatched model gets exactly one
// terminal event unless the emitter fails, in which case the run is cancelled
// and Run returns an error wrapping ErrSinkClosed.
func (o *Orchestrator) Run(ctx context.Context, mode Mode, req generation.Request, emitter Emitter) (Summary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := &guardedEmitter{next: emitter, cancel: cancel}
	sid := req.SessionID

	summary := Summary{
		RunID:     uuid.NewString(),
		SessionID: sid,
		Mode:      mode,
		Length:    req.Length,
		Started:   time.Now(),
	}

	// Planning
	plan := NewPlan(mode, o.source.List(), o.batchSize)
	summary.Total = plan.Total()
	if plan.Empty() {
		o.logger.Warn("no models available", "session", sid)
		out.Emit(models.NewProgress(models.StatusError, "No models available", sid))
		return o.finish(summary, out)
	}

	o.logger.Info("processing question", "run", summary.RunID, "mode", string(mode), "length", string(req.Length), "models", summary.Total)
	out.Emit(models.NewProgress(models.StatusStarting,
		fmt.Sprintf("Starting processing with %d models in %s mode", summary.Total, mode), sid))

	// Dispatching
	sink := generation.SinkFunc(func(ev generation.StreamEvent) error {
		return out.Emit(toEvent(ev))
	})
	for i, group := range plan.Groups {
		if out.failed() {
			break
		}
		out.Emit(models.NewProgress(models.StatusBatchUpdate, batchMessage(plan, i), sid))

		results := o.dispatch(runCtx, group, req, sink)
		for _, res := range results {
			if res.Successful() {
				summary.Successful++
			}
			if o.observer != nil {
				o.observer.ObserveCall(string(mode), res)
			}
		}
		summary.Results = append(summary.Results, results...)

		o.logger.Debug("group completed", "run", summary.RunID, "group", i+1, "of", len(plan.Groups), "successful", countSuccessful(results), "size", len(group))
	}

	// Finalizing
	out.Emit(models.NewProgress(models.StatusAllCompleted,
		fmt.Sprintf("%s processing complete. %d/%d models responded successfully.", mode.Label(), summary.Successful, summary.Total), sid))

	return o.finish(summary, out)
}

func (o *Orchestrator) finish(summary Summary, out *guardedEmitter) (Summary, error) {
	summary.Duration = time.Since(summary.Started)
	if o.observer != nil {
		o.observer.ObserveRun(summary)
	}
	if err := out.err(); err != nil {
		return summary, fmt.Errorf("%w: %v", ErrSinkClosed, err)
	}
	o.logger.Info("run finished", "run", summary.RunID, "successful", summary.Successful, "total", summary.Total, "duration", summary.Duration)
	return summary, nil
}

// dispatch runs one group concurrently and joins it.
func (o *Orchestrator) dispatch(ctx context.Context, group []registry.Model, req generation.Request, sink generation.Sink) []generation.Result {
	results := make([]generation.Result, len(group))

	var wg sync.WaitGroup
	for i, m := range group {
		wg.Add(1)
		go func(i int, m registry.Model) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					msg := fmt.Sprintf("internal error: %v", r)
					o.logger.Error("model call panicked", "model", m.Name, "panic", r)
					results[i] = generation.Result{Model: m.Name, FullName: m.FullName, ErrKind: models.ErrTransport, Message: msg}
					_ = sink.Send(generation.StreamEvent{Kind: generation.Failed, Model: m.Name, SessionID: req.SessionID, ErrKind: models.ErrTransport, Message: msg})
				}
			}()
			results[i] = o.runner.Generate(ctx, m, req, sink, o.callTimeout)
		}(i, m)
	}
	wg.Wait()

	return results
}

func batchMessage(plan Plan, i int) string {
	group := plan.Groups[i]
	names := strings.Join(groupNames(group), ", ")
	switch plan.Mode {
	case ModeSequential:
		return fmt.Sprintf("Processing model %d/%d: %s", i+1, len(plan.Groups), names)
	case ModeParallel:
		return fmt.Sprintf("Processing all %d models in parallel: %s", len(group), names)
	}
	return fmt.Sprintf("Processing batch %d/%d: %s", i+1, len(plan.Groups), names)
}

func countSuccessful(results []generation.Result) int {
	n := 0
	for _, r := range results {
		if r.Successful() {
			n++
		}
	}
	return n
}

func toEvent(ev generation.StreamEvent) models.Event {
	switch ev.Kind {
	case generation.Chunk:
		return models.NewStreaming(ev.Model, ev.Text, ev.Cumulative, ev.SessionID)
	case generation.Completed:
		return models.NewCompleted(ev.Model, ev.Text, ev.SessionID)
	case generation.Failed:
		return models.NewModelError(ev.Model, ev.Message, ev.SessionID)
	}
	return models.NewStreaming(ev.Model, "", "", ev.SessionID)
}

// guardedEmitter latches the first delivery error and cancels the run.
type guardedEmitter struct {
	next   Emitter
	cancel context.CancelFunc

	mu    sync.Mutex
	first error
}

func (g *guardedEmitter) Emit(ev models.Event) error {
	if err := g.err(); err != nil {
		return err
	}
	if err := g.next.Emit(ev); err != nil {
		g.mu.Lock()
		if g.first == nil {
			g.first = err
		}
		g.mu.Unlock()
		g.cancel()
		return err
	}
	return nil
}

func (g *guardedEmitter) err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.first
}

func (g *guardedEmitter) failed() bool {
	return g.err() != nil
}
