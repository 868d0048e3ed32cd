package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const testConfig = `
version: "1"
hooks:
  working_dir: %DIR%
  definitions:
    - id: lint
      event: task_complete
      type: script
      mode: blocking
      settings:
        command: echo linted $$HOOK_TASK_ID
    - id: gate
      event: task_complete
      type: script
      mode: blocking
      required: true
      depends_on: [lint]
      settings:
        command: grep -q '"ok":true'
        stdin_event: true
`

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hookd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(doc, "%DIR%", dir)), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := execute(args, &out)
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "hookd "))
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, testConfig)

	out, err := run(t, "--config", path, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "valid (2 hooks, 1 with dependencies")

	out, err = run(t, "--config", path, "validate", "--format", "json")
	require.NoError(t, err)
	var res validateResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Valid)
	assert.Contains(t, res.Capabilities, "script")
}

func TestValidate_Cycle(t *testing.T) {
	path := writeConfig(t, `
version: "1"
hooks:
  definitions:
    - {id: a, event: error, type: script, depends_on: [b], settings: {command: "true"}}
    - {id: b, event: error, type: script, depends_on: [a], settings: {command: "true"}}
`)
	out, err := run(t, "--config", path, "validate")
	require.Error(t, err)
	assert.Contains(t, out, "invalid")
}

func TestValidate_MissingFile(t *testing.T) {
	out, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "validate")
	require.Error(t, err)
	assert.Contains(t, out, "invalid")
}

func TestPlan(t *testing.T) {
	path := writeConfig(t, testConfig)

	out, err := run(t, "--config", path, "plan", "task_complete", "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "task_complete: 2 hooks in 2 levels, worst case 1m0s")
	assert.Contains(t, out, "0 [sequential] lint (worst case 30s)")
	assert.Contains(t, out, "1 [sequential] gate (worst case 30s)")

	out, err = run(t, "--config", path, "plan", "task_complete")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "task_complete", doc["event"])
	assert.Len(t, doc["levels"], 2)

	_, err = run(t, "--config", path, "plan", "bogus")
	assert.Error(t, err)
}

func TestPlan_WorstCaseCountsRetries(t *testing.T) {
	path := writeConfig(t, `
version: "1"
hooks:
  working_dir: %DIR%
  definitions:
    - id: flaky
      event: session_start
      type: script
      parallel: true
      timeout: 2s
      max_retries: 2
      retry_delay: 1s
      settings:
        command: "true"
    - id: quick
      event: session_start
      type: script
      parallel: true
      timeout: 1s
      settings:
        command: "true"
`)

	out, err := run(t, "--config", path, "plan", "session_start", "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "session_start: 2 hooks in 1 levels, worst case 8s")
	assert.Contains(t, out, "0 [parallel] flaky, quick (worst case 8s)")
}

func TestTrigger(t *testing.T) {
	path := writeConfig(t, testConfig)

	out, err := run(t, "--config", path, "trigger", "task_complete", "--task", "t-1", "-d", "ok=true")
	require.NoError(t, err)
	assert.Contains(t, out, "2 total, 2 successful")
	assert.Contains(t, out, "linted t-1")
}

func TestTrigger_RequiredFailure(t *testing.T) {
	path := writeConfig(t, testConfig)

	out, err := run(t, "--config", path, "trigger", "task_complete", "-d", "ok=false", "-o", "json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gate")

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.EqualValues(t, 1, res["failed"])
}

func TestParseData(t *testing.T) {
	data := parseData(map[string]string{"n": "3", "ok": "true", "name": "build", "list": "[1,2]"})
	assert.Equal(t, float64(3), data["n"])
	assert.Equal(t, true, data["ok"])
	assert.Equal(t, "build", data["name"])
	assert.Equal(t, []any{float64(1), float64(2)}, data["list"])
	assert.Nil(t, parseData(nil))
}

func TestSchema(t *testing.T) {
	out, err := run(t, "schema", "--compact")
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "hooks")
	assert.Contains(t, props, "history")
}

func TestLogSetting(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "warn")
	assert.Equal(t, "debug", logSetting("debug", LogLevelEnvVar, "error", "info"))
	assert.Equal(t, "warn", logSetting("", LogLevelEnvVar, "error", "info"))

	t.Setenv(LogLevelEnvVar, "")
	assert.Equal(t, "error", logSetting("", LogLevelEnvVar, "error", "info"))
	assert.Equal(t, "info", logSetting("", LogLevelEnvVar, "", "info"))
}
