package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/novella/pkg/bytecode"
)

const harborDir = "../../examples/harbor"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func initProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	out, err := run(t, "init", dir, "--name", "demo", "--author", "tester")
	require.NoError(t, err, out)
	return dir
}

func TestInitScaffoldsProject(t *testing.T) {
	dir := initProject(t)
	assert.FileExists(t, filepath.Join(dir, "novella.toml"))
	assert.FileExists(t, filepath.Join(dir, "main.json"))

	_, err := run(t, "init", dir)
	assert.ErrorContains(t, err, "already exists")

	out, err := run(t, "-C", dir, "check")
	require.NoError(t, err, out)
	assert.Contains(t, out, "ok   ")
	assert.Contains(t, out, "(4 events)")
}

func TestCompileAndGraph(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "harbor.vnbc")
	out, err := run(t, "-C", harborDir, "compile", "-o", bin)
	require.NoError(t, err, out)
	assert.Contains(t, out, "16 events")

	data, err := os.ReadFile(bin)
	require.NoError(t, err)
	cs, err := bytecode.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, 16, cs.Len())

	out, err = run(t, "graph", "--format", "stats", bin)
	require.NoError(t, err, out)
	assert.Contains(t, out, "16 reachable, 0 unreachable")

	out, err = run(t, "graph", bin)
	require.NoError(t, err, out)
	assert.Contains(t, out, "digraph")

	_, err = run(t, "graph", "--format", "svg", bin)
	assert.ErrorContains(t, err, "unknown format")
}

func TestCompileDisassembly(t *testing.T) {
	out, err := run(t, "compile", "--disasm", filepath.Join(harborDir, "main.json"))
	require.NoError(t, err, out)
	assert.Contains(t, out, "main.json")
	assert.Contains(t, out, "Mira")
}

func TestCompileIntoCatalog(t *testing.T) {
	dir := initProject(t)
	bin := filepath.Join(t.TempDir(), "main.vnbc")
	out, err := run(t, "-C", dir, "compile", "--catalog", "-o", bin)
	require.NoError(t, err, out)
	assert.Contains(t, out, "stored in")

	out, err = run(t, "-C", dir, "catalog", "list")
	require.NoError(t, err, out)
	assert.Contains(t, out, "main.json")

	data, err := os.ReadFile(bin)
	require.NoError(t, err)
	id := bytecode.IDHex(bytecode.IDOf(data))

	out, err = run(t, "-C", dir, "catalog", "get", id)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Guide")

	_, err = run(t, "-C", dir, "catalog", "delete", id)
	require.NoError(t, err)
	_, err = run(t, "-C", dir, "catalog", "get", id)
	assert.Error(t, err)
}

func TestCheckReportsFailures(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"script_schema_version": "1.0", "events": [{"type": "dialogue", "speaker": "A", "text": "hi"}], "labels": {"start": 0}}`), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte(`{"script_schema_version": "1.0", "events": [{"type": "jump", "target": "nowhere"}], "labels": {"start": 0}}`), 0o644))

	out, err := run(t, "check", dir)
	assert.ErrorContains(t, err, "1 of 2 script(s) failed")
	assert.Contains(t, out, "FAIL "+bad)
	assert.Contains(t, out, "nowhere")
	assert.Contains(t, out, "ok   "+good)
}

func TestDryrunJSONAndRepro(t *testing.T) {
	out, err := run(t, "-C", harborDir, "dryrun", "--policy", "fixed:1", "--format", "json")
	require.NoError(t, err, out)

	var doc struct {
		StopReason string `json:"stop_reason"`
		Choices    []struct {
			OptionIndex int `json:"option_index"`
		} `json:"choices"`
		Mismatches []any `json:"mismatches"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "finished", doc.StopReason)
	require.Len(t, doc.Choices, 1)
	assert.Equal(t, 1, doc.Choices[0].OptionIndex)
	assert.Empty(t, doc.Mismatches)

	repro := filepath.Join(t.TempDir(), "harbor.yaml")
	out, err = run(t, "-C", harborDir, "dryrun", "--repro", repro, "--title", "harbor stays")
	require.NoError(t, err, out)
	assert.Contains(t, out, "finished after")

	out, err = run(t, "dryrun", "verify", repro)
	require.NoError(t, err, out)
	assert.Contains(t, out, "ok   harbor stays (first,")
}

func TestMigrateLegacyScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"events": [{"type": "say", "speaker": "A", "text": "hi"}], "labels": {"start": 0}}`), 0o644))

	out, err := run(t, "migrate", "--dry-run", path)
	require.NoError(t, err, out)
	assert.Contains(t, out, "-> 1.0")

	_, err = run(t, "migrate", "-w", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"script_schema_version": "1.0"`)
	assert.Contains(t, string(data), `"dialogue"`)

	out, err = run(t, "migrate", "-n", path)
	require.NoError(t, err)
	assert.Contains(t, out, "already at schema 1.0")
}

func TestSaveLifecycle(t *testing.T) {
	dir := initProject(t)

	out, err := run(t, "-C", dir, "save", "create", "1", "--steps", "2")
	require.NoError(t, err, out)
	assert.Contains(t, out, "saved slot_001 at position 2")

	out, err = run(t, "-C", dir, "save", "list")
	require.NoError(t, err, out)
	assert.Contains(t, out, "slot_001")
	assert.Contains(t, out, "Guide: Welcome to your new story.")

	out, err = run(t, "-C", dir, "save", "inspect", "1")
	require.NoError(t, err, out)
	assert.Contains(t, out, `"position": 2`)

	require.NoError(t, func() error { _, err := run(t, "-C", dir, "save", "delete", "1"); return err }())
	out, err = run(t, "-C", dir, "save", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No saves.")
}
