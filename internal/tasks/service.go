// Package tasks runs named background work with restart semantics.
//
// A Service keeps at most one task per tag. Restart cancels the task running
// under a tag, waits for it to exit, and only then starts the replacement.
// Restarts of the same tag are serialized by a per-tag lock, so two callers
// can never both observe "nothing running" and start two tasks.
//
// Tasks are fire-and-forget: a task's error or panic is logged and never
// reaches the caller of Restart. Cancellation requested through the Service
// is expected control flow and is logged at debug level.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrShutdown is returned by Restart after Shutdown has been called.
var ErrShutdown = errors.New("task service shut down")

// Func is the body of a background task. It must return promptly once ctx
// is cancelled.
type Func func(ctx context.Context) error

// Service supervises background tasks keyed by tag.
//
// Thread-safety: all methods are safe for concurrent use.
type Service struct {
	logger *slog.Logger

	// ctx is cancelled by Shutdown and cancels every task.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	running map[string]*task
	locks   map[string]*tagLock
	wg      sync.WaitGroup
}

// task is one running (or finishing) instance of a Func.
type task struct {
	tag    string
	cancel context.CancelFunc
	done   chan struct{}

	mu              sync.Mutex
	cancelRequested bool
}

func (t *task) requestCancel() {
	t.mu.Lock()
	t.cancelRequested = true
	t.mu.Unlock()
	t.cancel()
}

func (t *task) wasCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelRequested
}

// tagLock serializes Restart and Cancel for one tag. It is a one-slot
// channel so acquisition can be abandoned when the caller's ctx ends.
type tagLock struct {
	ch   chan struct{}
	refs int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for task outcomes. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// New creates an idle Service.
func New(opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		logger:  slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]*task),
		locks:   make(map[string]*tagLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restart cancels the task running under tag (if any), waits for it to
// exit, and starts fn as the new task for tag. It returns as soon as fn has
// been scheduled and does not wait for fn to finish.
//
// The task's context carries ctx's values but not its cancellation. It is
// cancelled by a later Restart or Cancel of the same tag, or by Shutdown.
//
// Returns an error only if ctx ends while waiting for the previous task or
// the Service has been shut down. In both cases fn is not started.
func (s *Service) Restart(ctx context.Context, tag string, fn Func) error {
	unlock, err := s.lockTag(ctx, tag)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.stop(ctx, tag); err != nil {
		return fmt.Errorf("restart %s: %w", tag, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShutdown
	}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopAfter := context.AfterFunc(s.ctx, cancel)

	t := &task{
		tag:    tag,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.running[tag] = t
	s.wg.Add(1)
	tasksTotal.WithLabelValues(outcomeStarted).Inc()
	tasksRunning.Inc()

	go func() {
		defer s.wg.Done()
		defer stopAfter()
		defer cancel()
		s.run(taskCtx, t, fn)
	}()

	s.logger.Debug("task started", "tag", tag)
	return nil
}

// Cancel cancels the task running under tag and waits for it to exit.
// It is a no-op if nothing is running under tag.
func (s *Service) Cancel(ctx context.Context, tag string) error {
	unlock, err := s.lockTag(ctx, tag)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.stop(ctx, tag); err != nil {
		return fmt.Errorf("cancel %s: %w", tag, err)
	}
	return nil
}

// Wait blocks until the task currently running under tag exits.
// Returns immediately if nothing is running under tag.
func (s *Service) Wait(ctx context.Context, tag string) error {
	s.mu.Lock()
	t := s.running[tag]
	s.mu.Unlock()
	if t == nil {
		return nil
	}

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether a task is currently registered under tag.
func (s *Service) Running(tag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[tag]
	return ok
}

// Shutdown cancels every task and waits for all of them to exit, or for
// ctx to end. Restart fails with ErrShutdown afterwards.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

// run executes fn and records its outcome. Panics are recovered and logged.
func (s *Service) run(ctx context.Context, t *task, fn Func) {
	defer close(t.done)
	defer s.finish(t)
	defer tasksRunning.Dec()

	defer func() {
		if r := recover(); r != nil {
			tasksTotal.WithLabelValues(outcomeFailed).Inc()
			s.logger.Error("task panicked", "tag", t.tag, "panic", r)
		}
	}()

	err := fn(ctx)
	switch {
	case err == nil:
		tasksTotal.WithLabelValues(outcomeCompleted).Inc()
		s.logger.Debug("task completed", "tag", t.tag)

	// The task context only ends through Cancel, Restart or Shutdown, so
	// whatever fn returned after that is the cancellation surfacing.
	case ctx.Err() != nil:
		tasksTotal.WithLabelValues(outcomeCancelled).Inc()
		s.logger.Debug("task cancelled",
			"tag", t.tag,
			"requested", t.wasCancelled(),
			"error", err,
		)

	default:
		tasksTotal.WithLabelValues(outcomeFailed).Inc()
		s.logger.Error("task failed", "tag", t.tag, "error", err)
	}
}

// finish removes t from the running map unless a newer task replaced it.
func (s *Service) finish(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[t.tag] == t {
		delete(s.running, t.tag)
	}
}

// stop cancels the task under tag and waits for it to exit.
// Caller must hold the tag lock.
func (s *Service) stop(ctx context.Context, tag string) error {
	s.mu.Lock()
	t := s.running[tag]
	s.mu.Unlock()
	if t == nil {
		return nil
	}

	t.requestCancel()
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lockTag acquires the per-tag lock and returns its release function.
func (s *Service) lockTag(ctx context.Context, tag string) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShutdown
	}
	l := s.locks[tag]
	if l == nil {
		l = &tagLock{ch: make(chan struct{}, 1)}
		s.locks[tag] = l
	}
	l.refs++
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, tag)
		}
		s.mu.Unlock()
	}

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			release()
		}, nil
	case <-ctx.Done():
		release()
		return nil, fmt.Errorf("lock task tag %s: %w", tag, ctx.Err())
	}
}
