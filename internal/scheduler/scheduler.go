// Package scheduler runs trade tasks on a fixed pool of workers fed by a
// bounded queue, so a burst of stream events never blocks the reader.
package scheduler

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"solana-copy-trader/internal/models"

	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

const (
	DefaultMaxWorkers = 20
	DefaultQueueSize  = 256
)

var (
	ErrQueueFull        = errors.New("scheduler: queue full")
	ErrSchedulerStopped = errors.New("scheduler: stopped")
)

// Task is a unit of work. ctx is cancelled when the scheduler stops.
type Task func(ctx context.Context) (any, error)

// Future is the pending result of a spawned task.
type Future struct {
	id    string
	name  string
	done  chan struct{}
	value any
	err   error
}

// ID is the task's unique identifier.
func (f *Future) ID() string { return f.id }

// Done is closed once the task has finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task finishes or ctx ends.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) finish(v any, err error) {
	f.value, f.err = v, err
	close(f.done)
}

type job struct {
	fn     Task
	future *Future
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	QueueLength   int
	ActiveWorkers int
	MaxWorkers    int
	Processing    bool
	Completed     uint64
	Failed        uint64
	Rejected      uint64
}

// Scheduler owns the worker pool.
type Scheduler struct {
	logger     *zap.Logger
	maxWorkers int
	tasks      chan *job
	seq        atomic.Uint64

	active    atomic.Int64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64

	mu      sync.RWMutex
	stopped bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler; call Start to launch its workers.
func New(cfg models.SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Scheduler{
		logger:     logger,
		maxWorkers: cfg.MaxWorkers,
		tasks:      make(chan *job, cfg.QueueSize),
	}
}

// Start launches the workers. Tasks spawned earlier wait in the queue.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.maxWorkers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
}

// Spawn enqueues fn without blocking. It fails with ErrQueueFull when the
// queue is at capacity and ErrSchedulerStopped after Stop.
func (s *Scheduler) Spawn(name string, fn Task) (*Future, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return nil, ErrSchedulerStopped
	}
	f := &Future{id: s.nextID(), name: name, done: make(chan struct{})}
	select {
	case s.tasks <- &job{fn: fn, future: f}:
		return f, nil
	default:
		s.rejected.Add(1)
		return nil, ErrQueueFull
	}
}

// Stop refuses new tasks, cancels running ones and waits for the workers.
// Queued tasks that never started finish with ErrSchedulerStopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.tasks)
	started := s.started
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if !started {
		for j := range s.tasks {
			j.future.finish(nil, ErrSchedulerStopped)
		}
		return
	}
	s.wg.Wait()
}

// Status reports queue depth and worker usage.
func (s *Scheduler) Status() Status {
	active := int(s.active.Load())
	queued := len(s.tasks)
	return Status{
		QueueLength:   queued,
		ActiveWorkers: active,
		MaxWorkers:    s.maxWorkers,
		Processing:    active > 0 || queued > 0,
		Completed:     s.completed.Load(),
		Failed:        s.failed.Load(),
		Rejected:      s.rejected.Load(),
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for j := range s.tasks {
		if ctx.Err() != nil {
			j.future.finish(nil, ErrSchedulerStopped)
			continue
		}
		s.run(ctx, j)
	}
}

func (s *Scheduler) run(ctx context.Context, j *job) {
	s.active.Add(1)
	defer s.active.Add(-1)

	var (
		v   any
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task %s panicked: %v", j.future.name, r)
			}
		}()
		v, err = j.fn(ctx)
	}()

	if err != nil {
		s.failed.Add(1)
		s.logger.Sugar().Warnf("Scheduler: task %s (%s) failed: %v", j.future.name, j.future.id, err)
	} else {
		s.completed.Add(1)
	}
	j.future.finish(v, err)
}

func (s *Scheduler) nextID() string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(time.Now().UnixNano()))
	binary.BigEndian.PutUint64(buf[8:], s.seq.Add(1))
	return base62.EncodeToString(buf[:])
}
