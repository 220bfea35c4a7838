// Copyright 2025 Patrick J. Scruggs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package slogsentryasync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultQueueSize = 1024

	envAsyncQueueSize    = "SLOGSENTRY_ASYNC_QUEUE_SIZE"
	envAsyncDropMode     = "SLOGSENTRY_ASYNC_DROP_MODE"
	envAsyncWorkers      = "SLOGSENTRY_ASYNC_WORKERS"
	envAsyncBatchSize    = "SLOGSENTRY_ASYNC_BATCH_SIZE"
	envAsyncFlushTimeout = "SLOGSENTRY_ASYNC_FLUSH_TIMEOUT"
)

// DropMode controls how Submit behaves when the queue is full.
type DropMode int

const (
	// DropModeBlock blocks the caller when the queue is full.
	DropModeBlock DropMode = iota
	// DropModeDropNewest drops the incoming job when the queue is full.
	DropModeDropNewest
	// DropModeDropOldest drops the oldest queued job when the queue is full.
	DropModeDropOldest
)

// String returns the environment spelling of m.
func (m DropMode) String() string {
	switch m {
	case DropModeBlock:
		return "block"
	case DropModeDropNewest:
		return "drop_newest"
	case DropModeDropOldest:
		return "drop_oldest"
	default:
		return "DropMode(" + strconv.Itoa(int(m)) + ")"
	}
}

// ErrFlushTimeout indicates Close returned before the queue was fully drained.
var ErrFlushTimeout = errors.New("slogsentryasync: flush timeout")

// Job is a unit of work run by a queue worker.
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context) error

// Run implements Job.
func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

// DropHandler observes jobs that were dropped, either by the overflow policy
// or because the queue was already closed.
type DropHandler func(ctx context.Context, job Job)

// ErrorHandler observes errors and recovered panics from jobs.
type ErrorHandler func(ctx context.Context, err error)

// Config controls queue behaviour.
type Config struct {
	QueueSize    int
	WorkerCount  int
	BatchSize    int
	DropMode     DropMode
	OnDrop       DropHandler
	OnError      ErrorHandler
	ErrorWriter  io.Writer
	FlushTimeout time.Duration

	workerStarter func(func())
}

// Option customizes queue configuration.
type Option func(*Config)

// WithQueueSize adjusts the queue capacity. Zero yields an unbuffered queue.
func WithQueueSize(size int) Option {
	return func(cfg *Config) {
		cfg.QueueSize = size
	}
}

// WithWorkerCount configures the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(cfg *Config) {
		cfg.WorkerCount = count
	}
}

// WithBatchSize sets how many queued jobs a worker drains per wake-up.
// Values less than 1 default to 1.
func WithBatchSize(size int) Option {
	return func(cfg *Config) {
		cfg.BatchSize = size
	}
}

// WithDropMode sets the queue overflow strategy.
func WithDropMode(mode DropMode) Option {
	return func(cfg *Config) {
		cfg.DropMode = mode
	}
}

// WithOnDrop registers a callback invoked when a job is dropped.
func WithOnDrop(fn DropHandler) Option {
	return func(cfg *Config) {
		cfg.OnDrop = fn
	}
}

// WithOnError registers a callback receiving job errors and recovered
// panics. It replaces the error writer.
func WithOnError(fn ErrorHandler) Option {
	return func(cfg *Config) {
		cfg.OnError = fn
	}
}

// WithErrorWriter directs job errors and panic reports to w when no
// ErrorHandler is set. Use nil to silence error reporting.
func WithErrorWriter(w io.Writer) Option {
	return func(cfg *Config) {
		cfg.ErrorWriter = w
	}
}

// WithFlushTimeout limits how long Close waits for workers to finish.
func WithFlushTimeout(timeout time.Duration) Option {
	return func(cfg *Config) {
		cfg.FlushTimeout = timeout
	}
}

// WithEnv overlays configuration from SLOGSENTRY_ASYNC_* environment
// variables.
func WithEnv() Option {
	return func(cfg *Config) {
		applyEnv(cfg)
	}
}

// Queue is a bounded job queue drained by worker goroutines.
type Queue struct {
	queue        chan queuedJob
	dropMode     DropMode
	onDrop       DropHandler
	onError      ErrorHandler
	wg           sync.WaitGroup
	closed       atomic.Bool
	flushTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

type queuedJob struct {
	ctx context.Context
	job Job
}

// New builds a Queue from opts and starts its workers.
func New(opts ...Option) *Queue {
	cfg := buildConfig(opts)
	q := &Queue{
		queue:        make(chan queuedJob, cfg.QueueSize),
		dropMode:     cfg.DropMode,
		onDrop:       cfg.OnDrop,
		onError:      errorHandlerFor(cfg),
		flushTimeout: cfg.FlushTimeout,
	}

	start := func() {
		workerCount := cfg.WorkerCount
		batchSize := cfg.BatchSize
		q.wg.Add(workerCount)
		for range workerCount {
			go func() {
				defer q.wg.Done()
				for item := range q.queue {
					q.run(item)
					for n := 1; n < batchSize; n++ {
						select {
						case next, ok := <-q.queue:
							if !ok {
								return
							}
							q.run(next)
						default:
							goto nextItem
						}
					}
				nextItem:
				}
			}()
		}
	}

	if cfg.workerStarter != nil {
		cfg.workerStarter(start)
	} else {
		start()
	}
	return q
}

// run executes one job, reporting errors and recovered panics.
func (q *Queue) run(item queuedJob) {
	defer func() {
		if r := recover(); r != nil {
			q.onError(item.ctx, fmt.Errorf("slogsentryasync: recovered panic from job: %v", r))
		}
	}()

	if err := item.job.Run(item.ctx); err != nil {
		q.onError(item.ctx, err)
	}
}

// Submit enqueues job. The job runs with a context detached from ctx's
// cancellation so request-scoped values survive the request. Jobs submitted
// after Close are dropped.
func (q *Queue) Submit(ctx context.Context, job Job) {
	if job == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	item := queuedJob{ctx: context.WithoutCancel(ctx), job: job}
	if q.closed.Load() {
		q.drop(item)
		return
	}
	q.enqueue(item)
}

// Len reports the number of jobs waiting in the queue.
func (q *Queue) Len() int {
	return len(q.queue)
}

// drop reports item to the drop handler.
func (q *Queue) drop(item queuedJob) {
	if q.onDrop != nil && item.job != nil {
		q.onDrop(item.ctx, item.job)
	}
}

// enqueue routes a job into the queue respecting drop policies and recovers from closed channels.
func (q *Queue) enqueue(item queuedJob) {
	defer func() {
		if recover() != nil {
			q.drop(item)
		}
	}()

	switch q.dropMode {
	case DropModeDropNewest:
		select {
		case q.queue <- item:
		default:
			q.drop(item)
		}
	case DropModeDropOldest:
		select {
		case q.queue <- item:
		default:
			var dropped queuedJob
			select {
			case dropped = <-q.queue:
			default:
			}
			q.drop(dropped)
			select {
			case q.queue <- item:
			default:
				q.drop(item)
			}
		}
	default:
		q.queue <- item
	}
}

// Close stops accepting jobs and waits for queued jobs to finish, bounded by
// the flush timeout. It is safe to call multiple times.
func (q *Queue) Close() error {
	if q == nil {
		return nil
	}

	q.closeOnce.Do(func() {
		if q.closed.CompareAndSwap(false, true) {
			close(q.queue)
		}

		done := make(chan struct{})
		go func() {
			q.wg.Wait()
			close(done)
		}()

		if q.flushTimeout > 0 {
			select {
			case <-done:
			case <-time.After(q.flushTimeout):
				q.closeErr = ErrFlushTimeout
			}
		} else {
			<-done
		}
	})

	return q.closeErr
}

// Wait blocks until every worker has exited. It returns only after Close
// was called, and is used to finish cleanup after a flush timeout.
func (q *Queue) Wait() {
	if q == nil {
		return
	}
	q.wg.Wait()
}

// errorHandlerFor resolves the error sink configured in cfg.
func errorHandlerFor(cfg Config) ErrorHandler {
	if cfg.OnError != nil {
		return cfg.OnError
	}
	w := cfg.ErrorWriter
	return func(_ context.Context, err error) {
		if w == nil {
			return
		}
		_, _ = fmt.Fprintf(w, "slogsentryasync: job error: %v\n", err)
	}
}

// buildConfig applies options with defaults and clamps invalid values.
func buildConfig(opts []Option) Config {
	cfg := Config{
		QueueSize:   defaultQueueSize,
		WorkerCount: 1,
		BatchSize:   1,
		DropMode:    DropModeBlock,
		ErrorWriter: os.Stderr,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if cfg.QueueSize < 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}

	return cfg
}

// applyEnv overlays configuration from environment variables.
func applyEnv(cfg *Config) {
	if raw := strings.TrimSpace(os.Getenv(envAsyncQueueSize)); raw != "" {
		if size, err := strconv.Atoi(raw); err == nil {
			cfg.QueueSize = size
		}
	}

	if raw := strings.TrimSpace(os.Getenv(envAsyncWorkers)); raw != "" {
		if workers, err := strconv.Atoi(raw); err == nil {
			cfg.WorkerCount = workers
		}
	}

	if raw := strings.TrimSpace(os.Getenv(envAsyncBatchSize)); raw != "" {
		if size, err := strconv.Atoi(raw); err == nil {
			cfg.BatchSize = size
		}
	}

	if raw := strings.TrimSpace(os.Getenv(envAsyncDropMode)); raw != "" {
		if mode, ok := ParseDropMode(raw); ok {
			cfg.DropMode = mode
		}
	}

	if raw := strings.TrimSpace(os.Getenv(envAsyncFlushTimeout)); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			cfg.FlushTimeout = d
		}
	}
}

// ParseDropMode parses block, drop_newest or drop_oldest (dashes accepted).
func ParseDropMode(raw string) (DropMode, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "block":
		return DropModeBlock, true
	case "drop_newest", "drop-newest":
		return DropModeDropNewest, true
	case "drop_oldest", "drop-oldest":
		return DropModeDropOldest, true
	default:
		return DropModeBlock, false
	}
}
