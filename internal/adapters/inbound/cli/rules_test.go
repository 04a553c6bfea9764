package cli_test

import (
	"encoding/json"
	"testing"

	"github.com/openkraft/anvil/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRulesCmd_Lifecycle(t *testing.T) {
	dir := pyProject(t, "")
	factory := stubRegistry(stub("lint-py", "python", domain.StatusPassed), stub("fmt-py", "python", domain.StatusPassed))

	out, err := execute(factory, "rules", "add", "lint-only", "--path", dir, "--criterion", "group", "--groups", "lint-*")
	require.NoError(t, err)
	assert.Contains(t, out, `Saved rule "lint-only"`)

	out, err = execute(factory, "rules", "list", "--path", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "lint-only")

	out, err = execute(factory, "rules", "preview", "lint-only", "--path", dir)
	require.NoError(t, err)
	var preview struct {
		Selected []string `json:"selected"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &preview))
	assert.Equal(t, []string{"lint-py"}, preview.Selected)

	_, err = execute(factory, "rules", "delete", "lint-only", "--path", dir)
	require.NoError(t, err)

	out, err = execute(factory, "rules", "list", "--path", dir, "--json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestRulesCmd_ConfigRulesAreSynced(t *testing.T) {
	dir := pyProject(t, "rules:\n  - name: recent\n    criterion: failed-in-last\n    window: 3\n")

	out, err := execute(stubRegistry(), "rules", "show", "recent", "--path", dir)
	require.NoError(t, err)
	assert.Contains(t, out, `"criterion": "failed-in-last"`)
}

func TestRulesCmd_AddKeepsExplicitZeroThreshold(t *testing.T) {
	dir := pyProject(t, "")

	_, err := execute(stubRegistry(), "rules", "add", "any-failure", "--path", dir, "--criterion", "failure-rate", "--threshold", "0")
	require.NoError(t, err)
	_, err = execute(stubRegistry(), "rules", "add", "default-rate", "--path", dir, "--criterion", "failure-rate")
	require.NoError(t, err)

	out, err := execute(stubRegistry(), "rules", "show", "any-failure", "--path", dir)
	require.NoError(t, err)
	assert.Contains(t, out, `"threshold": 0`)

	out, err = execute(stubRegistry(), "rules", "show", "default-rate", "--path", dir)
	require.NoError(t, err)
	assert.NotContains(t, out, `"threshold"`)
}

func TestRulesCmd_RejectsUnknownCriterion(t *testing.T) {
	dir := pyProject(t, "")

	_, err := execute(stubRegistry(), "rules", "add", "x", "--path", dir, "--criterion", "sometimes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be one of")
}

func TestRulesCmd_RunWithRule(t *testing.T) {
	dir := pyProject(t, "")
	factory := stubRegistry(stub("lint-py", "python", domain.StatusPassed), stub("fmt-py", "python", domain.StatusPassed))

	_, err := execute(factory, "rules", "add", "fmt", "--path", dir, "--criterion", "group", "--groups", "fmt-py")
	require.NoError(t, err)

	out, err := execute(factory, "run", dir, "--rule", "fmt", "--json")
	require.NoError(t, err)
	var report domain.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Validators, 1)
	assert.Equal(t, "fmt-py", report.Validators[0].Name)
}
