// Package listener wraps a session event log with a blocking wait.
//
// WaitForEvents suspends the caller until an event matching its filter is
// in the log, the timeout elapses, or the caller's context ends. Appends go
// through CreateEvent, which wakes every waiter on that session.
//
// # Missed Wakeups
//
// Each session with waiters has a signal channel. A waiter captures the
// current channel before it checks the store, and CreateEvent closes and
// replaces the channel after each append. An event committed between the
// check and the wait therefore closes a channel the waiter already holds.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/parley/internal/ir"
	"github.com/roach88/parley/internal/store"
)

// EventLog is the slice of the session store the listener needs.
type EventLog interface {
	CreateEvent(ctx context.Context, sessionID ir.SessionID, p store.EventParams) (ir.Event, error)
	ListEvents(ctx context.Context, sessionID ir.SessionID, f store.EventFilter) ([]ir.Event, error)
}

// WaitOptions filters the events WaitForEvents waits for.
type WaitOptions struct {
	MinOffset     int64
	Kinds         []ir.EventKind
	Source        ir.EventSource
	CorrelationID string

	// Timeout bounds the wait. Zero waits until ctx ends.
	Timeout time.Duration
}

func (o WaitOptions) filter() store.EventFilter {
	return store.EventFilter{
		MinOffset:     o.MinOffset,
		Kinds:         o.Kinds,
		Source:        o.Source,
		CorrelationID: o.CorrelationID,
	}
}

// Listener appends session events and lets callers wait for them.
//
// Thread-safety: all methods are safe for concurrent use.
type Listener struct {
	log    EventLog
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[ir.SessionID]*waiters
}

// waiters is the notification state for one session.
type waiters struct {
	signal chan struct{} // closed and replaced on every append
	refs   int
}

// Option configures a Listener.
type Option func(*Listener)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(ls *Listener) {
		ls.logger = l
	}
}

// New creates a Listener over log.
func New(log EventLog, opts ...Option) *Listener {
	l := &Listener{
		log:      log,
		logger:   slog.Default(),
		sessions: make(map[ir.SessionID]*waiters),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateEvent appends an event and wakes the session's waiters.
func (l *Listener) CreateEvent(ctx context.Context, sessionID ir.SessionID, p store.EventParams) (ir.Event, error) {
	e, err := l.log.CreateEvent(ctx, sessionID, p)
	if err != nil {
		return ir.Event{}, err
	}
	l.notify(sessionID)
	l.logger.Debug("event appended",
		"session_id", sessionID,
		"offset", e.Offset,
		"kind", e.Kind,
		"source", e.Source,
	)
	return e, nil
}

// ListEvents returns the session's events matching f.
func (l *Listener) ListEvents(ctx context.Context, sessionID ir.SessionID, f store.EventFilter) ([]ir.Event, error) {
	return l.log.ListEvents(ctx, sessionID, f)
}

// WaitForEvents blocks until the session has an event matching opts.
//
// Returns (true, nil) once a matching event exists, including one appended
// before the call. Returns (false, nil) when opts.Timeout elapses first and
// (false, err) if ctx ends or the store fails.
func (l *Listener) WaitForEvents(ctx context.Context, sessionID ir.SessionID, opts WaitOptions) (bool, error) {
	w := l.register(sessionID)
	defer l.unregister(sessionID)

	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	filter := opts.filter()
	for {
		// Capture before checking so an append after the check is seen.
		l.mu.Lock()
		signal := w.signal
		l.mu.Unlock()

		events, err := l.log.ListEvents(ctx, sessionID, filter)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, fmt.Errorf("wait for events: %w", err)
		}
		if len(events) > 0 {
			return true, nil
		}

		select {
		case <-signal:
		case <-timeout:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// register adds a waiter reference for the session.
func (l *Listener) register(sessionID ir.SessionID) *waiters {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.sessions[sessionID]
	if w == nil {
		w = &waiters{signal: make(chan struct{})}
		l.sessions[sessionID] = w
	}
	w.refs++
	return w
}

// unregister drops a waiter reference and forgets the session when none remain.
func (l *Listener) unregister(sessionID ir.SessionID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.sessions[sessionID]
	if w == nil {
		return
	}
	w.refs--
	if w.refs == 0 {
		delete(l.sessions, sessionID)
	}
}

// notify wakes every waiter on the session.
func (l *Listener) notify(sessionID ir.SessionID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.sessions[sessionID]
	if w == nil {
		return
	}
	close(w.signal)
	w.signal = make(chan struct{})
}

// WaitingOn reports the number of callers blocked in WaitForEvents on a
// session.
func (l *Listener) WaitingOn(sessionID ir.SessionID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w := l.sessions[sessionID]; w != nil {
		return w.refs
	}
	return 0
}
