// Package runner drains a user's metadata queue with a bounded pool of concurrent
// generation calls, one credential per call.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ubuygold/stockmeta/internal/generator"
	"github.com/ubuygold/stockmeta/internal/keymanager"
	"github.com/ubuygold/stockmeta/internal/logger"
	"github.com/ubuygold/stockmeta/internal/metrics"
	"github.com/ubuygold/stockmeta/internal/model"
	"github.com/ubuygold/stockmeta/internal/telemetry"
)

// ErrRunActive is returned when an operation conflicts with a run in progress.
var ErrRunActive = errors.New("a batch run is already in progress")

// CredentialSource is the credential pool a runner draws from.
type CredentialSource interface {
	Select() (model.Credential, error)
	ActiveCount() int
	Wait(ctx context.Context, c model.Credential) error
	Report(c model.Credential, outcome keymanager.Outcome)
}

// MetadataGenerator performs the per-item generation call.
type MetadataGenerator interface {
	GenerateMetadata(ctx context.Context, key string, req generator.MetadataRequest) (model.MetadataResult, error)
}

// Progress is the observable state of the current or last run.
// Completed never decreases during a run.
type Progress struct {
	Running     bool    `json:"running"`
	Total       int     `json:"total"`
	Completed   int     `json:"completed"`
	Done        int     `json:"done"`
	Failed      int     `json:"failed"`
	Concurrency int     `json:"concurrency"`
	Percent     float64 `json:"percent"`
}

// Summary describes a finished run.
type Summary struct {
	Total       int           `json:"total"`
	Done        int           `json:"done"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Concurrency int           `json:"concurrency"`
	Stopped     bool          `json:"stopped"`
	Duration    time.Duration `json:"duration"`
}

type itemOutcome int

const (
	outcomeDone itemOutcome = iota
	outcomeFailed
	outcomeSkipped
)

// Runner owns one queue and runs batches over it.
type Runner struct {
	queue   *Queue
	creds   CredentialSource
	gen     MetadataGenerator
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	mu           sync.Mutex
	running      bool
	regenerating bool
	stop         chan struct{}
	stopped      bool
	// idle is closed when the runner stops being busy; nil while idle.
	idle chan struct{}

	total       atomic.Int64
	completed   atomic.Int64
	done        atomic.Int64
	failed      atomic.Int64
	concurrency atomic.Int64
}

// New creates a Runner over queue.
func New(queue *Queue, creds CredentialSource, gen MetadataGenerator, log *slog.Logger, m *metrics.Metrics) *Runner {
	return &Runner{
		queue:   queue,
		creds:   creds,
		gen:     gen,
		logger:  log.With("component", "runner"),
		metrics: m,
		tracer:  telemetry.Tracer(),
	}
}

// Queue returns the runner's queue.
func (r *Runner) Queue() *Queue {
	return r.queue
}

// Running reports whether a batch is in progress.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Run processes every pending or error item present when it starts, with at most
// max(1, active credentials) calls in flight. It blocks until the work list is
// exhausted or Stop is called, and all in-flight calls have finished.
// opts is passed through to every call.
func (r *Runner) Run(ctx context.Context, opts model.GenerationOptions) (Summary, error) {
	b, err := r.begin()
	if err != nil || b == nil {
		return Summary{}, err
	}
	return r.drain(ctx, b, opts), nil
}

// Start reserves the runner and drains the queue in the background. It returns
// the number of items in the run; zero means there was nothing to process.
func (r *Runner) Start(ctx context.Context, opts model.GenerationOptions) (int, error) {
	b, err := r.begin()
	if err != nil || b == nil {
		return 0, err
	}
	go r.drain(ctx, b, opts)
	return len(b.ids), nil
}

// batch is a reserved run.
type batch struct {
	ids   []string
	limit int
	stop  chan struct{}
}

// begin snapshots the work list and marks the runner running. It returns nil
// when nothing is runnable.
func (r *Runner) begin() (*batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busyLocked() {
		return nil, ErrRunActive
	}
	ids := r.queue.runnableIDs()
	if len(ids) == 0 {
		return nil, nil
	}
	limit := r.creds.ActiveCount()
	if limit < 1 {
		limit = 1
	}
	r.running = true
	r.stopped = false
	r.stop = make(chan struct{})
	r.idle = make(chan struct{})
	r.total.Store(int64(len(ids)))
	r.completed.Store(0)
	r.done.Store(0)
	r.failed.Store(0)
	r.concurrency.Store(int64(limit))
	return &batch{ids: ids, limit: limit, stop: r.stop}, nil
}

func (r *Runner) drain(ctx context.Context, b *batch, opts model.GenerationOptions) Summary {
	ids, limit, stop := b.ids, b.limit, b.stop
	opts = opts.Normalize()
	start := time.Now()
	r.logger.Info("Batch run started", "items", len(ids), "concurrency", limit, "platform", opts.Platform)

	var skipped atomic.Int64
	var wg sync.WaitGroup
	sem := make(chan struct{}, limit)
	halted := false

dispatch:
	for _, id := range ids {
		select {
		case <-stop:
			halted = true
			break dispatch
		case <-ctx.Done():
			halted = true
			break dispatch
		case sem <- struct{}{}:
		}
		// select picks randomly among ready cases
		select {
		case <-stop:
			<-sem
			halted = true
			break dispatch
		case <-ctx.Done():
			<-sem
			halted = true
			break dispatch
		default:
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			switch r.processItem(ctx, id, opts) {
			case outcomeDone:
				r.done.Add(1)
			case outcomeFailed:
				r.failed.Add(1)
			case outcomeSkipped:
				skipped.Add(1)
			}
			r.completed.Add(1)
		}(id)
	}
	wg.Wait()

	summary := Summary{
		Total:       len(ids),
		Done:        int(r.done.Load()),
		Failed:      int(r.failed.Load()),
		Skipped:     int(skipped.Load()),
		Concurrency: limit,
		Stopped:     halted,
		Duration:    time.Since(start),
	}

	r.mu.Lock()
	r.running = false
	r.markIdleLocked()
	r.mu.Unlock()

	r.metrics.RunFinished(halted)
	r.logger.Info("Batch run finished", "done", summary.Done, "failed", summary.Failed,
		"skipped", summary.Skipped, "stopped", summary.Stopped, "duration", summary.Duration)
	return summary
}

func (r *Runner) busyLocked() bool {
	return r.running || r.regenerating
}

func (r *Runner) markIdleLocked() {
	if r.idle != nil {
		close(r.idle)
		r.idle = nil
	}
}

// Busy reports whether a run or a single-item regeneration is in progress.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busyLocked()
}

// Wait blocks until the runner is no longer busy or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	idle := r.idle
	r.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop asks the current run to dispatch no further items. In-flight calls finish
// and are recorded. Stop without a run is a no-op.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.stopped {
		return
	}
	r.stopped = true
	close(r.stop)
	r.logger.Info("Batch run stop requested")
}

// RegenerateOne reprocesses a single item outside a run. A done item is reset to
// pending first; an item being processed is rejected. The runner stays busy for
// the whole call, so it counts against the same in-flight bound as a run.
func (r *Runner) RegenerateOne(ctx context.Context, id string, opts model.GenerationOptions) (Item, error) {
	r.mu.Lock()
	if r.busyLocked() {
		r.mu.Unlock()
		return Item{}, ErrRunActive
	}
	if err := r.queue.resetForRetry(id); err != nil {
		r.mu.Unlock()
		return Item{}, err
	}
	r.regenerating = true
	r.idle = make(chan struct{})
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.regenerating = false
		r.markIdleLocked()
		r.mu.Unlock()
	}()

	r.processItem(ctx, id, opts.Normalize())
	item, ok := r.queue.Get(id)
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

// Clear empties the queue unless the runner is busy.
func (r *Runner) Clear() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busyLocked() {
		return 0, ErrRunActive
	}
	return r.queue.Clear(), nil
}

// Progress returns the counters of the current or last run.
func (r *Runner) Progress() Progress {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()

	p := Progress{
		Running:     running,
		Total:       int(r.total.Load()),
		Completed:   int(r.completed.Load()),
		Done:        int(r.done.Load()),
		Failed:      int(r.failed.Load()),
		Concurrency: int(r.concurrency.Load()),
	}
	if p.Total > 0 {
		p.Percent = float64(p.Completed) * 100 / float64(p.Total)
	}
	return p
}

// processItem runs one item through selection, the call and recording.
func (r *Runner) processItem(ctx context.Context, id string, opts model.GenerationOptions) (outcome itemOutcome) {
	ctx, span := r.tracer.Start(ctx, "runner.item", trace.WithAttributes(attribute.String("item.id", id)))
	defer span.End()

	claimed := false
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Panic while processing item", "item_id", id, "panic", p)
			msg := fmt.Sprintf("internal error: %v", p)
			if claimed {
				r.queue.complete(id, nil, msg, generator.KindUnknown, "")
			} else {
				r.queue.reject(id, msg, generator.KindUnknown)
			}
			span.SetStatus(codes.Error, msg)
			r.metrics.ItemFinished(string(StatusError), generator.KindUnknown)
			outcome = outcomeFailed
		}
	}()

	cred, err := r.creds.Select()
	if err != nil {
		if !r.queue.reject(id, "no eligible credential: add or re-activate an API key", KindNoEligibleCredential) {
			return outcomeSkipped
		}
		span.SetStatus(codes.Error, err.Error())
		r.metrics.ItemFinished(string(StatusError), KindNoEligibleCredential)
		r.logger.Warn("No eligible credential for item", "item_id", id)
		return outcomeFailed
	}

	item, ok := r.queue.claim(id)
	if !ok {
		return outcomeSkipped
	}
	claimed = true
	span.SetAttributes(attribute.String("item.file", item.FileName), attribute.String("credential.suffix", logger.KeySuffix(cred.Key)))

	if err := r.creds.Wait(ctx, cred); err != nil {
		r.queue.complete(id, nil, fmt.Sprintf("waiting for rate limit: %v", err), generator.KindUnknown, cred.Label)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.ItemFinished(string(StatusError), generator.KindUnknown)
		return outcomeFailed
	}

	r.metrics.CallStarted()
	start := time.Now()
	result, err := r.gen.GenerateMetadata(ctx, cred.Key, generator.MetadataRequest{
		FileName: item.FileName,
		MIMEType: item.MIMEType,
		Data:     item.data,
		Text:     item.Text,
		Options:  opts,
	})
	r.metrics.CallEnded()
	r.metrics.ObserveCall("metadata", time.Since(start).Seconds())

	if err != nil {
		kind := generator.Kind(err)
		if o, ok := generator.CredentialOutcome(err); ok {
			r.creds.Report(cred, o)
			r.metrics.CredentialOutcome(string(cred.Pool), o.String())
		}
		r.queue.complete(id, nil, err.Error(), kind, cred.Label)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.kind", kind))
		r.metrics.ItemFinished(string(StatusError), kind)
		r.logger.Warn("Item failed", "item_id", id, "file", item.FileName, "kind", kind,
			"key_suffix", logger.KeySuffix(cred.Key), "error", err)
		return outcomeFailed
	}

	r.creds.Report(cred, keymanager.OutcomeSuccess)
	r.metrics.CredentialOutcome(string(cred.Pool), keymanager.OutcomeSuccess.String())
	processed := opts.Apply(result)
	r.queue.complete(id, &processed, "", "", cred.Label)
	r.metrics.ItemFinished(string(StatusDone), "")
	r.logger.Debug("Item done", "item_id", id, "file", item.FileName, "keywords", len(processed.Keywords))
	return outcomeDone
}
