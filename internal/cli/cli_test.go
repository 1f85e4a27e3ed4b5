package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrpdiag/internal/model"
)

const problemJSON = `{
  "jobs": [
    {"id": "a", "location": {"lat": 52.50, "lng": 13.40}},
    {"id": "b", "location": {"lat": 52.51, "lng": 13.41}, "requiredSkills": ["crane"]}
  ],
  "vehicles": [{"id": "v1", "start": {"lat": 52.50, "lng": 13.39}}]
}`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestReportCommand(t *testing.T) {
	dir := t.TempDir()
	prob := writeFile(t, dir, "p.json", problemJSON)
	sol := writeFile(t, dir, "s.json", `{"routes":[{"vehicleId":"v1","stops":[{"jobId":"a"}]}],"unassigned":["b"]}`)

	out, err := run(t, "report", "--problem", prob, "--solution", sol, "--fragment", "--details")
	require.NoError(t, err)

	var entries []struct {
		JobID   string `json:"jobId"`
		Reasons []struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"reasons"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].JobID)
	assert.Equal(t, "SKILL_CONSTRAINT", entries[0].Reasons[0].Code)
	assert.Equal(t, "v1", entries[0].Reasons[0].Details["vehicleId"])
}

func TestReportCommandExplainsSelectedJobs(t *testing.T) {
	dir := t.TempDir()
	prob := writeFile(t, dir, "p.json", problemJSON)
	sol := writeFile(t, dir, "s.json", `{"routes":[{"vehicleId":"v1","stops":[{"jobId":"a"}]}],"unassigned":["b"]}`)

	out, err := run(t, "report", "--problem", prob, "--solution", sol, "--job", "b")
	require.NoError(t, err)
	var got []struct {
		JobID       string `json:"jobId"`
		Code        string `json:"code"`
		Description string `json:"description"`
		VehicleID   string `json:"vehicleId"`
		Position    *int   `json:"position"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].JobID)
	assert.Equal(t, "SKILL_CONSTRAINT", got[0].Code)
	assert.Equal(t, "cannot serve required skill", got[0].Description)
	assert.Equal(t, "v1", got[0].VehicleID)
	require.NotNil(t, got[0].Position)
	assert.Equal(t, -1, *got[0].Position)

	_, err = run(t, "report", "--problem", prob, "--solution", sol, "--job", "a")
	require.ErrorContains(t, err, "not unassigned")
}

func TestReportCommandErrors(t *testing.T) {
	dir := t.TempDir()
	prob := writeFile(t, dir, "p.json", problemJSON)
	sol := writeFile(t, dir, "s.json", `{"unassigned":["ghost"]}`)

	_, err := run(t, "report", "--problem", prob, "--solution", sol)
	require.Error(t, err)

	_, err = run(t, "report", "--problem", prob)
	require.Error(t, err, "solution flag is required")

	okSol := writeFile(t, dir, "ok.json", `{"unassigned":["b"]}`)
	_, err = run(t, "report", "--problem", prob, "--solution", okSol, "--policy", "random")
	require.Error(t, err)
}

func TestSolveCommandWritesReusableSolution(t *testing.T) {
	dir := t.TempDir()
	prob := writeFile(t, dir, "p.json", problemJSON)
	solPath := filepath.Join(dir, "sol.json")

	out, err := run(t, "solve", "--problem", prob, "--iterations", "10", "--seed", "3", "--solution-out", solPath)
	require.NoError(t, err)

	var resp model.OptimizeResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Unassigned, 1)
	assert.Equal(t, "b", resp.Unassigned[0].JobID)

	var sol model.SolutionIn
	raw, err := os.ReadFile(solPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &sol))
	assert.Equal(t, []string{"b"}, sol.Unassigned)

	out, err = run(t, "report", "--problem", prob, "--solution", solPath, "--fragment")
	require.NoError(t, err)
	assert.Contains(t, out, "SKILL_CONSTRAINT")
}

func TestConfigShowAndVersion(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "c.yaml", "diag:\n  tie_break: fleet-order\nauth:\n  hmac_secret: topsecret\n")
	out, err := run(t, "--config", cfg, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "tie_break: fleet-order")
	assert.NotContains(t, out, "topsecret")

	out, err = run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "vrpdiag dev")
}
