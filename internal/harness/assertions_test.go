package harness

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parley/internal/ir"
)

var (
	rain  = ir.GuidelineContent{Condition: "it rains", Action: "bring an umbrella"}
	storm = ir.GuidelineContent{Condition: "it storms", Action: "stay indoors"}
	snow  = ir.GuidelineContent{Condition: "it snows", Action: "shovel"}
)

func testSnapshot() *Snapshot {
	return &Snapshot{
		Guidelines: []GuidelineRecord{
			{ID: "g-1", Condition: storm.Condition, Action: storm.Action, Enabled: true},
			{ID: "g-2", Condition: rain.Condition, Action: rain.Action, Enabled: true},
		},
		Relationships: []RelationshipRecord{
			{ID: "r-1", Source: "g-2", Target: "g-1", Kind: ir.RelationshipKindEntailment},
			{ID: "r-2", Source: "g-1", Target: "g-2", Kind: ir.RelationshipKindPriority},
		},
		Events: []EventRecord{
			{Offset: 0, Source: ir.EventSourceCustomer, Kind: ir.EventKindMessage, Data: map[string]any{"message": "hi"}},
			{Offset: 1, Source: ir.EventSourceAIAgent, Kind: ir.EventKindStatus, Data: map[string]any{"status": "acknowledged"}},
			{Offset: 2, Source: ir.EventSourceAIAgent, Kind: ir.EventKindMessage, Data: map[string]any{"message": "You said: hi"}},
			{Offset: 3, Source: ir.EventSourceAIAgent, Kind: ir.EventKindTool, Data: map[string]any{}},
			{Offset: 4, Source: ir.EventSourceAIAgent, Kind: ir.EventKindStatus, Data: map[string]any{"status": "ready"}},
		},
	}
}

func evaluate(t *testing.T, a Assertion) []string {
	t.Helper()
	return EvaluateAssertions(testSnapshot(), []Assertion{a})
}

func TestAssertGuidelineCount(t *testing.T) {
	assert.Empty(t, evaluate(t, Assertion{Type: AssertGuidelineCount, Count: 2}))

	errs := evaluate(t, Assertion{Type: AssertGuidelineCount, Count: 3})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Expected: 3 guidelines")
	assert.Contains(t, errs[0], "Actual: 2 guidelines")
}

func TestAssertGuidelineExists(t *testing.T) {
	assert.Empty(t, evaluate(t, Assertion{Type: AssertGuidelineExists, Condition: "it rains", Action: "bring an umbrella"}))
	assert.Empty(t, evaluate(t, Assertion{Type: AssertGuidelineExists, Condition: "  it rains ", Action: "bring an umbrella"}),
		"content is compared normalized")
	assert.Empty(t, evaluate(t, Assertion{Type: AssertGuidelineExists, Condition: "it snows", Action: "shovel", Absent: true}))

	errs := evaluate(t, Assertion{Type: AssertGuidelineExists, Condition: "it rains", Action: "bring an umbrella", Absent: true})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "absent")
	assert.Contains(t, errs[0], "Actual: present")
}

func TestAssertRelationshipCount(t *testing.T) {
	assert.Empty(t, evaluate(t, Assertion{Type: AssertRelationshipCount, Count: 2}))
	assert.Empty(t, evaluate(t, Assertion{Type: AssertRelationshipCount, Kind: ir.RelationshipKindEntailment, Count: 1}))

	errs := evaluate(t, Assertion{Type: AssertRelationshipCount, Kind: ir.RelationshipKindDependency, Count: 1})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Actual: 0 dependency relationships")
}

func TestAssertEntailment(t *testing.T) {
	tests := []struct {
		name    string
		a       Assertion
		wantErr string
	}{
		{"present", Assertion{Source: &rain, Target: &storm}, ""},
		{"reverse is priority only", Assertion{Source: &storm, Target: &rain}, "g-1 -> g-2 absent"},
		{"reverse absent", Assertion{Source: &storm, Target: &rain, Absent: true}, ""},
		{"present but asserted absent", Assertion{Source: &rain, Target: &storm, Absent: true}, "g-2 -> g-1 present"},
		{"unknown guideline", Assertion{Source: &rain, Target: &snow}, `no stored guideline {"it snows", "shovel"}`},
		{"unknown guideline absent", Assertion{Source: &snow, Target: &rain, Absent: true}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.a.Type = AssertEntailment
			errs := evaluate(t, tt.a)
			if tt.wantErr == "" {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.wantErr)
		})
	}
}

func TestAssertAgentMessages(t *testing.T) {
	assert.Empty(t, evaluate(t, Assertion{Type: AssertAgentMessages, Messages: []string{"You said: hi"}}))

	errs := evaluate(t, Assertion{Type: AssertAgentMessages})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `Actual: ["You said: hi"]`)
	assert.Contains(t, errs[0], "Session events:")
	assert.Contains(t, errs[0], "[2] ai_agent message:You said: hi")
}

func TestAssertEventTrail(t *testing.T) {
	assert.Empty(t, evaluate(t, Assertion{Type: AssertEventTrail, Trail: []string{"message:hi", "status:ready"}}))
	assert.Empty(t, evaluate(t, Assertion{Type: AssertEventTrail, Trail: []string{"tool"}}))

	errs := evaluate(t, Assertion{Type: AssertEventTrail, Trail: []string{"status:ready", "status:acknowledged"}})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `"status:acknowledged" not found after [status:ready]`)
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	errs := evaluate(t, Assertion{Type: "final_state"})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `unknown assertion type "final_state"`)
}

func TestEvaluateAssertions_CollectsEveryFailure(t *testing.T) {
	errs := EvaluateAssertions(testSnapshot(), []Assertion{
		{Type: AssertGuidelineCount, Count: 0},
		{Type: AssertGuidelineCount, Count: 2},
		{Type: AssertRelationshipCount, Count: 0},
	})
	assert.Len(t, errs, 2)
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertEventTrail,
		Expected: "events in order: [status:ready]",
		Actual:   "missing",
		Events: []EventRecord{
			{Offset: 0, Source: ir.EventSourceCustomer, Kind: ir.EventKindMessage, Data: map[string]any{"message": "hi"}},
		},
	}

	assert.Equal(t, "Assertion failed: event_trail\n"+
		"  Expected: events in order: [status:ready]\n"+
		"  Actual: missing\n"+
		"\nSession events:\n"+
		"  [0] customer message:hi\n", err.Error())

	var target *AssertionError
	assert.True(t, errors.As(error(err), &target))
}

func TestEventRecord_Label(t *testing.T) {
	assert.Equal(t, "status:typing", EventRecord{Kind: ir.EventKindStatus, Data: map[string]any{"status": "typing"}}.Label())
	assert.Equal(t, "message:hello", EventRecord{Kind: ir.EventKindMessage, Data: map[string]any{"message": "hello"}}.Label())
	assert.Equal(t, "custom", EventRecord{Kind: ir.EventKindCustom}.Label())
}
