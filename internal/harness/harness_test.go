package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parley/internal/ir"
)

func runFile(t *testing.T, path string) *Result {
	t.Helper()
	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	return result
}

func TestRun_StormEntailment(t *testing.T) {
	result := runFile(t, "testdata/scenarios/storm_entailment.yaml")

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)

	snap := result.Snapshot
	require.Len(t, snap.Events, 11)
	assert.Equal(t, "<main>::process(corr-1)", snap.Events[0].CorrelationID)
	assert.Equal(t, ir.EventSourceCustomer, snap.Events[5].Source)
	assert.Equal(t, "<main>::corr-2", snap.Events[5].CorrelationID)
	assert.Equal(t, "<main>::corr-2::process(corr-3)", snap.Events[10].CorrelationID)
}

func TestRun_UpdateReplacesConnections(t *testing.T) {
	result := runFile(t, "testdata/scenarios/update_replaces_connections.yaml")

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Snapshot.Events)
}

func TestRun_ExpectedBatchError(t *testing.T) {
	result := runFile(t, "testdata/scenarios/missing_existing_guideline.yaml")

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Snapshot.Batches, 1)
	assert.Contains(t, result.Snapshot.Batches[0].Error, "not found")
	assert.Empty(t, result.Snapshot.Batches[0].Guidelines)
}

func TestRun_BatchFileAndUtterance(t *testing.T) {
	result := runFile(t, "testdata/scenarios/forecast_file.yaml")

	assert.True(t, result.Pass, "errors: %v", result.Errors)

	last := result.Snapshot.Events[len(result.Snapshot.Events)-1]
	assert.Equal(t, "status:ready", last.Label())
	assert.Equal(t, "<main>::utter(corr-3)", last.CorrelationID)
}

func TestRun_UnexpectedBatchError(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: unexpected
description: "The batch fails but no error was expected"
batches:
  - guidelines:
      - name: rain
        condition: it rains
        action: bring an umbrella
        update: id-99
assertions:
  - type: guideline_count
    count: 0
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "batches[0]: unexpected error")
	assert.Contains(t, result.Errors[0], `"id-99" not found`)
}

func TestRun_ExpectedErrorNotRaised(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: no_error
description: "The batch succeeds although an error was expected"
batches:
  - guidelines:
      - {name: rain, condition: it rains, action: bring an umbrella}
    expect_error: not found
assertions:
  - type: guideline_count
    count: 1
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "batch succeeded")
}

func TestRun_ValidationFailureIsBatchOutcome(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: invalid_batch
description: "A batch that fails validation writes nothing"
batches:
  - guidelines:
      - {name: rain, condition: it rains, action: bring an umbrella, entails: [snow]}
    expect_error: E105
assertions:
  - type: guideline_count
    count: 0
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_FailedAssertionsReported(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_expectations
description: "Assertions that do not hold"
batches:
  - guidelines:
      - {name: rain, condition: it rains, action: bring an umbrella}
assertions:
  - type: guideline_count
    count: 5
  - type: guideline_exists
    condition: it rains
    action: bring an umbrella
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Expected: 5 guidelines")
}

func TestRun_UnreadableBatchAbortsRun(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: unreadable
description: "The batch file does not exist"
batches:
  - file: /nonexistent/batch.yaml
assertions:
  - type: guideline_count
    count: 0
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batches[0]")
}

func TestRun_Isolation(t *testing.T) {
	first := runFile(t, "testdata/scenarios/update_replaces_connections.yaml")
	second := runFile(t, "testdata/scenarios/update_replaces_connections.yaml")

	assert.Equal(t, first.Snapshot, second.Snapshot)
}
