package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/parley/internal/correlation"
	"github.com/roach88/parley/internal/ir"
	"github.com/roach88/parley/internal/store"
)

// EventReader lists a session's events. Satisfied by *listener.Listener
// and *store.SessionStore.
type EventReader interface {
	ListEvents(ctx context.Context, sessionID ir.SessionID, f store.EventFilter) ([]ir.Event, error)
}

// Acknowledger is a minimal Engine. For each Process call it emits
//
//	acknowledged → processing → message → ready
//
// where the message echoes the latest customer message, or is the
// greeting when the customer has not spoken yet (an empty greeting skips
// the message).
type Acknowledger struct {
	events   EventReader
	greeting string
	delay    time.Duration
	logger   *slog.Logger
}

// AcknowledgerOption configures an Acknowledger.
type AcknowledgerOption func(*Acknowledger)

// WithGreeting sets the message sent when the customer has not spoken.
func WithGreeting(greeting string) AcknowledgerOption {
	return func(a *Acknowledger) {
		a.greeting = greeting
	}
}

// WithThinkTime makes Process pause between processing and replying.
// The pause ends early if the run is cancelled.
func WithThinkTime(d time.Duration) AcknowledgerOption {
	return func(a *Acknowledger) {
		a.delay = d
	}
}

// WithEngineLogger sets the logger. Default: slog.Default().
func WithEngineLogger(l *slog.Logger) AcknowledgerOption {
	return func(a *Acknowledger) {
		a.logger = l
	}
}

// NewAcknowledger creates an Acknowledger that reads sessions from events.
func NewAcknowledger(events EventReader, opts ...AcknowledgerOption) *Acknowledger {
	a := &Acknowledger{
		events: events,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Process implements Engine.
func (a *Acknowledger) Process(ctx context.Context, c Context, emitter EventEmitter) error {
	logger := correlation.Logger(ctx, a.logger)
	logger.Debug("processing session", "session_id", c.SessionID, "agent_id", c.AgentID)

	if _, err := emitter.EmitStatus(ctx, StatusAcknowledged, nil); err != nil {
		return err
	}
	if _, err := emitter.EmitStatus(ctx, StatusProcessing, nil); err != nil {
		return err
	}

	if err := a.think(ctx); err != nil {
		return err
	}

	reply, err := a.reply(ctx, c.SessionID)
	if err != nil {
		return err
	}
	if reply != "" {
		if _, err := emitter.EmitStatus(ctx, StatusTyping, nil); err != nil {
			return err
		}
		if _, err := emitter.EmitMessage(ctx, reply); err != nil {
			return err
		}
	}

	if _, err := emitter.EmitStatus(ctx, StatusReady, nil); err != nil {
		return err
	}
	logger.Debug("session processed", "session_id", c.SessionID)
	return nil
}

// Utter implements Engine. Each request's action is spoken verbatim.
func (a *Acknowledger) Utter(ctx context.Context, c Context, emitter EventEmitter, requests []UtteranceRequest) error {
	for _, r := range requests {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := emitter.EmitMessage(ctx, r.Action); err != nil {
			return err
		}
	}
	_, err := emitter.EmitStatus(ctx, StatusReady, nil)
	return err
}

// think pauses for the configured delay or until ctx ends.
func (a *Acknowledger) think(ctx context.Context) error {
	if a.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(a.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reply picks the message to send for the session's current state.
func (a *Acknowledger) reply(ctx context.Context, sessionID ir.SessionID) (string, error) {
	messages, err := a.events.ListEvents(ctx, sessionID, store.EventFilter{
		Kinds:  []ir.EventKind{ir.EventKindMessage},
		Source: ir.EventSourceCustomer,
	})
	if err != nil {
		return "", fmt.Errorf("read session %s: %w", sessionID, err)
	}
	if len(messages) == 0 {
		return a.greeting, nil
	}
	text, _ := messages[len(messages)-1].Data["message"].(string)
	return fmt.Sprintf("You said: %s", text), nil
}
