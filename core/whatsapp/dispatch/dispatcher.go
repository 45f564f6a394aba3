// Package dispatch runs inbound message handlers on a bounded worker pool.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/wabot/core/logger"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after Close.
	ErrQueueClosed = errors.New("dispatch: queue closed")
	// ErrQueueFull indicates the queue is saturated and the job was not accepted.
	ErrQueueFull = errors.New("dispatch: queue full")
)

const (
	DefaultWorkers     = 4
	DefaultQueueSize   = 256
	DefaultMaxDuration = 30 * time.Second
)

// Options controls the pool size and per-job deadline.
type Options struct {
	QueueSize int
	Workers   int
	// MaxDuration bounds a single job.
	MaxDuration time.Duration
}

// Job is one unit of work, typically one inbound message.
type Job func(ctx context.Context) error

type job struct {
	ctx  context.Context
	name string
	run  Job
}

// Dispatcher executes jobs asynchronously. Failed jobs are logged and
// counted, never retried.
type Dispatcher struct {
	opts Options
	jobs chan job

	mu     sync.RWMutex
	closed bool

	wg   sync.WaitGroup
	once sync.Once
	errs atomic.Uint64
	done atomic.Uint64
}

// New starts a dispatcher with defaults for zeroed options.
func New(opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMaxDuration
	}

	d := &Dispatcher{
		opts: opts,
		jobs: make(chan job, opts.QueueSize),
	}
	d.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go d.worker()
	}
	logger.Info(context.Background(), "wa.dispatch", "dispatch.start",
		slog.Int("workers", opts.Workers),
		slog.Int("queue", opts.QueueSize),
	)
	return d
}

// Enqueue schedules run without blocking.
func (d *Dispatcher) Enqueue(ctx context.Context, name string, run Job) error {
	if run == nil {
		return errors.New("dispatch: nil job")
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.jobs <- job{ctx: ctx, name: name, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

// ErrorCount returns the number of failed jobs.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.errs.Load()
}

// Processed returns the number of finished jobs, failed ones included.
func (d *Dispatcher) Processed() uint64 {
	return d.done.Load()
}

// QueueLen reports jobs waiting for a worker.
func (d *Dispatcher) QueueLen() int {
	return len(d.jobs)
}

// Close stops accepting jobs and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.jobs)
		d.mu.Unlock()
		d.wg.Wait()
		logger.Info(context.Background(), "wa.dispatch", "dispatch.stop",
			slog.Uint64("count", d.done.Load()),
			slog.Uint64("errors", d.errs.Load()),
		)
	})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.handleJob(j)
	}
}

func (d *Dispatcher) handleJob(j job) {
	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	deadlineCtx, cancel := context.WithTimeout(ctx, d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	err := d.runSafe(deadlineCtx, j)
	d.done.Add(1)
	if err == nil {
		logger.Debug(ctx, "wa.dispatch", "job.done",
			slog.String("handler", j.name),
			slog.Duration("duration", logger.Took(start)),
		)
		return
	}
	d.errs.Add(1)
	logger.Error(ctx, "wa.dispatch", "job.fail",
		slog.String("handler", j.name),
		slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		slog.String("cause", classifyError(err)),
		slog.Duration("duration", logger.Took(start)),
		slog.Int("queue_len", len(d.jobs)),
	)
}

func (d *Dispatcher) runSafe(ctx context.Context, j job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error(ctx, "wa.dispatch", "job.panic",
				slog.String("handler", j.name),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("dispatch: panic in %s: %v", j.name, rec)
		}
	}()
	return j.run(ctx)
}

func classifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "handler"
	}
}
