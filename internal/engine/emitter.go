package engine

import (
	"context"
	"fmt"

	"github.com/roach88/parley/internal/correlation"
	"github.com/roach88/parley/internal/ir"
	"github.com/roach88/parley/internal/store"
)

// EventAppender appends events to a session log. Satisfied by
// *listener.Listener, which also wakes waiters.
type EventAppender interface {
	CreateEvent(ctx context.Context, sessionID ir.SessionID, p store.EventParams) (ir.Event, error)
}

// SessionEmitterFactory creates emitters that append through an
// EventAppender.
type SessionEmitterFactory struct {
	events EventAppender
}

// NewSessionEmitterFactory creates a factory over events.
func NewSessionEmitterFactory(events EventAppender) *SessionEmitterFactory {
	return &SessionEmitterFactory{events: events}
}

// CreateEventEmitter implements EmitterFactory.
func (f *SessionEmitterFactory) CreateEventEmitter(agentID ir.AgentID, sessionID ir.SessionID) EventEmitter {
	return &sessionEmitter{
		events:    f.events,
		agentID:   agentID,
		sessionID: sessionID,
	}
}

// sessionEmitter emits ai_agent events for one session.
type sessionEmitter struct {
	events    EventAppender
	agentID   ir.AgentID
	sessionID ir.SessionID
}

func (e *sessionEmitter) EmitStatus(ctx context.Context, status Status, data map[string]any) (ir.Event, error) {
	payload := map[string]any{"status": string(status)}
	if len(data) > 0 {
		payload["data"] = data
	}
	return e.emit(ctx, ir.EventKindStatus, payload)
}

func (e *sessionEmitter) EmitMessage(ctx context.Context, message string) (ir.Event, error) {
	return e.emit(ctx, ir.EventKindMessage, map[string]any{
		"message":     message,
		"participant": map[string]any{"id": string(e.agentID)},
	})
}

func (e *sessionEmitter) EmitTool(ctx context.Context, calls []ToolCall) (ir.Event, error) {
	list := make([]any, len(calls))
	for i, c := range calls {
		list[i] = map[string]any{
			"tool_id":   c.ToolID,
			"arguments": c.Arguments,
			"result":    c.Result,
		}
	}
	return e.emit(ctx, ir.EventKindTool, map[string]any{"tool_calls": list})
}

func (e *sessionEmitter) emit(ctx context.Context, kind ir.EventKind, data map[string]any) (ir.Event, error) {
	ev, err := e.events.CreateEvent(ctx, e.sessionID, store.EventParams{
		Source:        ir.EventSourceAIAgent,
		Kind:          kind,
		CorrelationID: correlation.ID(ctx),
		Data:          data,
	})
	if err != nil {
		return ir.Event{}, fmt.Errorf("emit %s event: %w", kind, err)
	}
	return ev, nil
}
