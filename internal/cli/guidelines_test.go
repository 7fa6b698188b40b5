package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parley/internal/compiler"
	"github.com/roach88/parley/internal/ir"
)

const weatherBatch = `guidelines:
  - name: rain
    condition: it rains
    action: bring an umbrella
    entails: [wind]
  - name: wind
    condition: it is windy
    action: hold the umbrella tight
    entails: [storm]
  - name: storm
    condition: it storms
    action: stay indoors
`

const invalidBatch = `guidelines:
  - name: rain
    condition: ""
    action: bring an umbrella
    entails: [snow]
`

func writeBatch(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// decode unmarshals a JSON CLI response's data into v.
func decode(t *testing.T, out string, v any) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	if v != nil {
		data, err := json.Marshal(resp.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, v))
	}
	return resp
}

// applyWeather applies weatherBatch and returns the created ids in entry
// order.
func applyWeather(t *testing.T, db string) []ir.GuidelineID {
	t.Helper()
	out, err := execute(t, db, "--format", "json", "guidelines", "apply", writeBatch(t, "weather.yaml", weatherBatch))
	require.NoError(t, err)

	var applied []AppliedBatch
	resp := decode(t, out, &applied)
	require.Equal(t, "ok", resp.Status)
	require.Len(t, applied, 1)
	require.Len(t, applied[0].Guidelines, 3)
	return applied[0].Guidelines
}

func TestGuidelinesApply(t *testing.T) {
	db := tempDB(t)
	ids := applyWeather(t, db)

	out, err := execute(t, db, "--format", "json", "guidelines", "list")
	require.NoError(t, err)
	var list GuidelineList
	decode(t, out, &list)
	require.Len(t, list.Guidelines, 3)
	assert.Equal(t, ids[0], list.Guidelines[0].ID)
	assert.Equal(t, "it rains", list.Guidelines[0].Content.Condition)

	out, err = execute(t, db, "--format", "json", "relationships", "list", "--kind", "entailment")
	require.NoError(t, err)
	var rels RelationshipList
	decode(t, out, &rels)
	require.Len(t, rels.Relationships, 2)
	assert.Equal(t, string(ids[0]), rels.Relationships[0].Source.ID)
	assert.Equal(t, string(ids[1]), rels.Relationships[0].Target.ID)
}

func TestGuidelinesApply_Text(t *testing.T) {
	out, err := execute(t, tempDB(t), "guidelines", "apply", writeBatch(t, "weather.yaml", weatherBatch))
	require.NoError(t, err)
	assert.Contains(t, out, "weather.yaml: 3 guideline(s)")
}

func TestGuidelinesApply_ValidationFailsBeforeWriting(t *testing.T) {
	db := tempDB(t)
	good := writeBatch(t, "weather.yaml", weatherBatch)
	bad := writeBatch(t, "bad.yaml", invalidBatch)

	out, err := execute(t, db, "guidelines", "apply", good, bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ 2 validation error(s):")
	assert.Contains(t, out, compiler.ErrConditionEmpty)
	assert.Contains(t, out, compiler.ErrUnknownRef)

	out, err = execute(t, db, "guidelines", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No guidelines.")
}

func TestGuidelinesApply_MissingFile(t *testing.T) {
	out, err := execute(t, tempDB(t), "guidelines", "apply", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}

func TestGuidelinesApply_UnknownUpdateTarget(t *testing.T) {
	batch := writeBatch(t, "update.yaml", `guidelines:
  - name: sun
    condition: it is sunny
    action: wear sunglasses
    update: g-404
`)
	out, err := execute(t, tempDB(t), "--format", "json", "guidelines", "apply", batch)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decode(t, out, nil)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeApplyFailed, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, `"g-404" not found`)
}

func TestGuidelinesValidate(t *testing.T) {
	out, err := execute(t, tempDB(t), "guidelines", "validate", writeBatch(t, "weather.yaml", weatherBatch))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All batches valid")
}

func TestGuidelinesValidate_JSONErrors(t *testing.T) {
	out, err := execute(t, tempDB(t), "--format", "json", "guidelines", "validate", writeBatch(t, "bad.yaml", invalidBatch))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string `json:"status"`
		Error  struct {
			Code    string           `json:"code"`
			Details ValidationResult `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, compiler.ErrConditionEmpty, resp.Error.Code)
	assert.False(t, resp.Error.Details.Valid)
	require.Len(t, resp.Error.Details.Errors, 2)
	assert.Equal(t, "guidelines[0].condition", resp.Error.Details.Errors[0].Field)
}

func TestGuidelinesValidate_CUE(t *testing.T) {
	out, err := execute(t, tempDB(t), "guidelines", "validate", "../compiler/testdata/weather.cue")
	require.NoError(t, err)
	assert.Contains(t, out, "All batches valid")
}

func TestGuidelinesDelete(t *testing.T) {
	db := tempDB(t)
	ids := applyWeather(t, db)

	out, err := execute(t, db, "guidelines", "delete", string(ids[1]))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Deleted "+string(ids[1]))

	out, err = execute(t, db, "--format", "json", "relationships", "list")
	require.NoError(t, err)
	var rels RelationshipList
	decode(t, out, &rels)
	assert.Empty(t, rels.Relationships, "both edges touched the deleted guideline")

	out, err = execute(t, db, "--format", "json", "guidelines", "delete", string(ids[1]))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	resp := decode(t, out, nil)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestGuidelinesEnableDisable(t *testing.T) {
	db := tempDB(t)
	ids := applyWeather(t, db)

	out, err := execute(t, db, "guidelines", "disable", string(ids[0]))
	require.NoError(t, err)
	assert.Contains(t, out, string(ids[0])+" (disabled)")

	out, err = execute(t, db, "--format", "json", "guidelines", "enable", string(ids[0]))
	require.NoError(t, err)
	var g ir.Guideline
	decode(t, out, &g)
	assert.True(t, g.Enabled)

	_, err = execute(t, db, "guidelines", "enable", "g-missing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestRelationshipsList_Indirect(t *testing.T) {
	db := tempDB(t)
	ids := applyWeather(t, db)

	out, err := execute(t, db, "--format", "json", "relationships", "list", "--source", string(ids[0]))
	require.NoError(t, err)
	var direct RelationshipList
	decode(t, out, &direct)
	assert.Len(t, direct.Relationships, 1)

	out, err = execute(t, db, "--format", "json", "relationships", "list", "--source", string(ids[0]), "--indirect")
	require.NoError(t, err)
	var indirect RelationshipList
	decode(t, out, &indirect)
	assert.Len(t, indirect.Relationships, 2)
}

func TestRelationshipsList_InvalidKind(t *testing.T) {
	out, err := execute(t, tempDB(t), "relationships", "list", "--kind", "friendship")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E002]")
}

func TestRelationshipsList_Empty(t *testing.T) {
	out, err := execute(t, tempDB(t), "relationships", "list")
	require.NoError(t, err)
	assert.Equal(t, "No relationships.\n", out)
}
