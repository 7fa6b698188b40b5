package harness

import (
	"fmt"

	"github.com/roach88/parley/internal/ir"
)

// GuidelineRecord is a stored guideline as it appears in a snapshot.
type GuidelineRecord struct {
	ID        ir.GuidelineID `json:"id"`
	Condition string         `json:"condition"`
	Action    string         `json:"action"`
	Enabled   bool           `json:"enabled"`
}

// Content returns the record's condition and action.
func (g GuidelineRecord) Content() ir.GuidelineContent {
	return ir.GuidelineContent{Condition: g.Condition, Action: g.Action}
}

// RelationshipRecord is a stored relationship as it appears in a snapshot.
type RelationshipRecord struct {
	ID     ir.RelationshipID   `json:"id"`
	Source string              `json:"source"`
	Target string              `json:"target"`
	Kind   ir.RelationshipKind `json:"kind"`
}

// EventRecord is a session event as it appears in a snapshot. Ids and
// timestamps are left out; offsets already order events.
type EventRecord struct {
	Offset        int64          `json:"offset"`
	Source        ir.EventSource `json:"source"`
	Kind          ir.EventKind   `json:"kind"`
	CorrelationID string         `json:"correlation_id"`
	Data          map[string]any `json:"data"`
}

// Label summarizes the event for event_trail assertions:
// "status:<status>", "message:<text>", or the bare kind.
func (e EventRecord) Label() string {
	switch e.Kind {
	case ir.EventKindStatus:
		return fmt.Sprintf("status:%v", e.Data["status"])
	case ir.EventKindMessage:
		return fmt.Sprintf("message:%v", e.Data["message"])
	default:
		return string(e.Kind)
	}
}

// BatchRecord is the outcome of one batch step.
type BatchRecord struct {
	Guidelines []ir.GuidelineID `json:"guidelines"`
	Error      string           `json:"error,omitempty"`
}

// Snapshot captures everything a scenario produced.
type Snapshot struct {
	Scenario      string               `json:"scenario"`
	Batches       []BatchRecord        `json:"batches"`
	Guidelines    []GuidelineRecord    `json:"guidelines"`
	Relationships []RelationshipRecord `json:"relationships"`
	Events        []EventRecord        `json:"events"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every batch behaved as expected and every
	// assertion held.
	Pass bool `json:"pass"`

	Snapshot Snapshot `json:"snapshot"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult(name string) *Result {
	return &Result{
		Pass: true,
		Snapshot: Snapshot{
			Scenario:      name,
			Batches:       []BatchRecord{},
			Guidelines:    []GuidelineRecord{},
			Relationships: []RelationshipRecord{},
			Events:        []EventRecord{},
		},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
