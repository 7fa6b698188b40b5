package ir

import "time"

// SessionID identifies a customer session.
type SessionID string

// AgentID identifies an agent.
type AgentID string

// CustomerID identifies a customer.
type CustomerID string

// EventID identifies a single event.
type EventID string

// Session is a conversation between one customer and one agent.
type Session struct {
	ID          SessionID  `json:"id"`
	AgentID     AgentID    `json:"agent_id"`
	CustomerID  CustomerID `json:"customer_id"`
	Title       string     `json:"title,omitempty"`
	CreationUTC time.Time  `json:"creation_utc"`
}

// EventSource identifies who produced an event.
type EventSource string

const (
	EventSourceCustomer                    EventSource = "customer"
	EventSourceCustomerUI                  EventSource = "customer_ui"
	EventSourceHumanAgent                  EventSource = "human_agent"
	EventSourceHumanAgentOnBehalfOfAIAgent EventSource = "human_agent_on_behalf_of_ai_agent"
	EventSourceAIAgent                     EventSource = "ai_agent"
	EventSourceSystem                      EventSource = "system"
)

// ValidEventSources defines allowed event sources.
var ValidEventSources = map[EventSource]bool{
	EventSourceCustomer:                    true,
	EventSourceCustomerUI:                  true,
	EventSourceHumanAgent:                  true,
	EventSourceHumanAgentOnBehalfOfAIAgent: true,
	EventSourceAIAgent:                     true,
	EventSourceSystem:                      true,
}

// EventKind categorizes an event's payload.
type EventKind string

const (
	EventKindMessage EventKind = "message"
	EventKindTool    EventKind = "tool"
	EventKindStatus  EventKind = "status"
	EventKindCustom  EventKind = "custom"
)

// ValidEventKinds defines allowed event kinds.
var ValidEventKinds = map[EventKind]bool{
	EventKindMessage: true,
	EventKindTool:    true,
	EventKindStatus:  true,
	EventKindCustom:  true,
}

// Event is one immutable entry in a session's log.
//
// Offset is assigned by the store at append time. Offsets start at 0 and
// increase by one per event within a session.
type Event struct {
	ID            EventID        `json:"id"`
	SessionID     SessionID      `json:"session_id"`
	Offset        int64          `json:"offset"`
	Source        EventSource    `json:"source"`
	Kind          EventKind      `json:"kind"`
	CorrelationID string         `json:"correlation_id"`
	Data          map[string]any `json:"data"`
	CreationUTC   time.Time      `json:"creation_utc"`
}
