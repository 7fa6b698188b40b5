package ir

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFieldNaming(t *testing.T) {
	inv := Invoice{
		Payload: GuidelinePayload{
			Content:               GuidelineContent{Condition: "it rains", Action: "bring an umbrella"},
			Operation:             InvoiceOperationUpdate,
			UpdatedID:             "g-1",
			ConnectionProposition: true,
		},
		Approved: true,
		Data: &InvoiceData{EntailmentPropositions: []EntailmentProposition{{
			CheckKind: CheckKindExistingGuideline,
		}}},
	}
	data, err := json.Marshal(inv)
	require.NoError(t, err)

	// Verify snake_case JSON tags
	assert.Contains(t, string(data), `"updated_id"`)
	assert.Contains(t, string(data), `"connection_proposition"`)
	assert.Contains(t, string(data), `"entailment_propositions"`)
	assert.Contains(t, string(data), `"check_kind"`)

	// Verify NOT camelCase
	assert.NotContains(t, string(data), `"updatedId"`)
	assert.NotContains(t, string(data), `"checkKind"`)
}

func TestEmptyStructMarshaling(t *testing.T) {
	tests := []struct {
		name string
		val  any
	}{
		{"Guideline", Guideline{}},
		{"Relationship", Relationship{}},
		{"Tag", Tag{}},
		{"Invoice", Invoice{}},
		{"Session", Session{}},
		{"Event", Event{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := json.Marshal(tt.val)
			require.NoError(t, err, "empty %s should marshal without panic", tt.name)
		})
	}
}

func TestInvoiceDataNullWhenMissing(t *testing.T) {
	data, err := json.Marshal(Invoice{})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"data":null`)
}

func TestEventRoundTrip(t *testing.T) {
	original := Event{
		ID:            "e-1",
		SessionID:     "s-1",
		Offset:        3,
		Source:        EventSourceAIAgent,
		Kind:          EventKindMessage,
		CorrelationID: "<main>::c-1::process(c-2)",
		Data:          map[string]any{"message": "hello"},
		CreationUTC:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id":"s-1"`)
	assert.Contains(t, string(data), `"correlation_id":"<main>::c-1::process(c-2)"`)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)
}

func TestRelationshipRoundTrip(t *testing.T) {
	original := Relationship{
		ID:          "r-1",
		Source:      GuidelineRef("g-1"),
		Target:      GuidelineRef("g-2"),
		Kind:        RelationshipKindEntailment,
		CreationUTC: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Relationship
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)
	assert.Equal(t, EntityTypeGuideline, decoded.Source.Type)
}

func TestValidationTables(t *testing.T) {
	assert.True(t, ValidRelationshipKinds[RelationshipKindEntailment])
	assert.False(t, ValidRelationshipKinds["friendship"])

	assert.True(t, ValidEventSources[EventSourceHumanAgentOnBehalfOfAIAgent])
	assert.False(t, ValidEventSources["robot"])

	assert.True(t, ValidEventKinds[EventKindCustom])
	assert.False(t, ValidEventKinds["whisper"])

	assert.True(t, ValidCheckKinds[CheckKindAnotherEvaluatedGuideline])
	assert.Len(t, ValidCheckKinds, 2)
}
