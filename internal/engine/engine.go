package engine

import (
	"context"

	"github.com/roach88/parley/internal/ir"
)

// Context identifies the session an engine call works on.
type Context struct {
	SessionID ir.SessionID
	AgentID   ir.AgentID
}

// UtteranceReason says why the agent speaks without being prompted.
type UtteranceReason string

const (
	// UtteranceBuyTime fills a pause while slower work continues.
	UtteranceBuyTime UtteranceReason = "buy_time"
	// UtteranceFollowUp follows up after the customer went quiet.
	UtteranceFollowUp UtteranceReason = "follow_up"
)

// UtteranceRequest asks the engine to say something proactively.
type UtteranceRequest struct {
	Action string          `json:"action" yaml:"action"`
	Reason UtteranceReason `json:"reason" yaml:"reason"`
}

// Engine processes sessions on behalf of an agent.
//
// Implementations must honour ctx cancellation: Process runs in a
// background task that is cancelled when a newer dispatch supersedes it.
type Engine interface {
	// Process reads the session and emits the agent's response.
	Process(ctx context.Context, c Context, emitter EventEmitter) error

	// Utter emits proactive agent speech for each request.
	Utter(ctx context.Context, c Context, emitter EventEmitter, requests []UtteranceRequest) error
}

// Status is the value of a status event's "status" field.
type Status string

const (
	StatusAcknowledged Status = "acknowledged"
	StatusProcessing   Status = "processing"
	StatusReady        Status = "ready"
	StatusTyping       Status = "typing"
	StatusError        Status = "error"
)

// ToolCall is one tool invocation reported in a tool event.
type ToolCall struct {
	ToolID    string         `json:"tool_id"`
	Arguments map[string]any `json:"arguments"`
	Result    any            `json:"result"`
}

// EventEmitter appends agent events to one session.
type EventEmitter interface {
	// EmitStatus appends a status event. data may be nil.
	EmitStatus(ctx context.Context, status Status, data map[string]any) (ir.Event, error)

	// EmitMessage appends a message event spoken by the agent.
	EmitMessage(ctx context.Context, message string) (ir.Event, error)

	// EmitTool appends a tool event carrying calls.
	EmitTool(ctx context.Context, calls []ToolCall) (ir.Event, error)
}

// EmitterFactory creates emitters bound to an agent and a session.
type EmitterFactory interface {
	CreateEventEmitter(agentID ir.AgentID, sessionID ir.SessionID) EventEmitter
}
