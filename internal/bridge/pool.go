package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is wrapped in a JoinError when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool closed")

// JoinError reports that a job did not run to a normal completion.
type JoinError struct {
	Err error
}

func (e *JoinError) Error() string { return "task join error: " + e.Err.Error() }
func (e *JoinError) Unwrap() error { return e.Err }

// Stats is a point-in-time view of pool load.
type Stats struct {
	Workers int
	Queued  int64
	Running int64
}

// Pool is a fixed set of worker goroutines consuming a bounded job queue.
type Pool struct {
	log     *slog.Logger
	workers int
	jobs    chan func()

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	queued  atomic.Int64
	running atomic.Int64
}

// Option configures a Pool.
type Option func(*poolConfig)

type poolConfig struct {
	workers   int
	queueSize int
	log       *slog.Logger
}

// WithWorkers sets the number of workers. Non-positive values select
// runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(c *poolConfig) { c.workers = n }
}

// WithQueueSize sets the number of jobs that may wait for a free worker.
func WithQueueSize(n int) Option {
	return func(c *poolConfig) {
		if n >= 0 {
			c.queueSize = n
		}
	}
}

// WithLogger sets the logger used to report job panics.
func WithLogger(l *slog.Logger) Option {
	return func(c *poolConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// New starts a Pool.
func New(opts ...Option) *Pool {
	cfg := poolConfig{queueSize: 64, log: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers <= 0 {
		cfg.workers = runtime.NumCPU()
	}

	p := &Pool{
		log:     cfg.log,
		workers: cfg.workers,
		jobs:    make(chan func(), cfg.queueSize),
	}
	p.wg.Add(cfg.workers)
	for range cfg.workers {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.queued.Add(-1)
		p.running.Add(1)
		job()
		p.running.Add(-1)
	}
}

// Stats returns current pool load.
func (p *Pool) Stats() Stats {
	return Stats{Workers: p.workers, Queued: p.queued.Load(), Running: p.running.Load()}
}

// Close stops accepting jobs and waits for queued and running jobs to finish.
// It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) submit(ctx context.Context, job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.queued.Add(1)
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		p.queued.Add(-1)
		return ctx.Err()
	}
}

type result[T any] struct {
	val T
	err error
}

const (
	jobPending int32 = iota
	jobClaimed
	jobAbandoned
)

// Run executes fn on a pool worker and waits for it to finish. ctx bounds the
// wait until a worker claims the job; once claimed the job runs to
// completion and Run returns its result regardless of ctx.
func Run[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var zero T
	var state atomic.Int32
	done := make(chan result[T], 1)
	job := func() {
		if !state.CompareAndSwap(jobPending, jobClaimed) {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("bridge.job.panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
				done <- result[T]{err: &JoinError{Err: fmt.Errorf("task panicked: %v", r)}}
			}
		}()
		v, err := fn()
		done <- result[T]{val: v, err: err}
	}

	if err := p.submit(ctx, job); err != nil {
		return zero, &JoinError{Err: err}
	}

	select {
	case res := <-done:
		return res.val, res.err
	case <-ctx.Done():
		if state.CompareAndSwap(jobPending, jobAbandoned) {
			return zero, &JoinError{Err: ctx.Err()}
		}
		res := <-done
		return res.val, res.err
	}
}

// Do is Run for functions that produce no value.
func Do(ctx context.Context, p *Pool, fn func() error) error {
	_, err := Run(ctx, p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
