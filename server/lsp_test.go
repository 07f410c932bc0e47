package server

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var storyLines = []string{
	`{`,
	`  "script_schema_version": "1.0",`,
	`  "events": [`,
	`    {"type": "dialogue", "speaker": "Ava", "text": "Hi"},`,
	`    {"type": "jump", "target": "end"},`,
	`    {"type": "dialogue", "speaker": "Ava", "text": "skipped"},`,
	`    {"type": "dialogue", "speaker": "Ava", "text": "Bye"}`,
	`  ],`,
	`  "labels": {"start": 0, "end": 3}`,
	`}`,
}

func doc(lines []string) []byte {
	return []byte(strings.Join(lines, "\n"))
}

func pos(line int, char int) protocol.Position {
	return protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(char)}
}

// at returns the position of the first occurrence of needle on line,
// shifted right by shift characters.
func at(lines []string, line int, needle string, shift int) protocol.Position {
	return pos(line, strings.Index(lines[line], needle)+shift)
}

func code(d protocol.Diagnostic) string {
	if d.Code == nil {
		return ""
	}
	s, _ := d.Code.Value.(string)
	return s
}

func TestAnalyzeReportsUnreachableEvent(t *testing.T) {
	a := Analyze(doc(storyLines), DefaultConfig())
	require.NotNil(t, a.Compiled)
	require.Len(t, a.Diagnostics, 1)

	d := a.Diagnostics[0]
	assert.Equal(t, "vn.unreachable", code(d))
	assert.Equal(t, protocol.DiagnosticSeverityHint, *d.Severity)
	assert.Equal(t, pos(5, 4), d.Range.Start)
	assert.Equal(t, pos(5, len(storyLines[5])-1), d.Range.End)
}

func TestSymbolsListLabels(t *testing.T) {
	a := Analyze(doc(storyLines), DefaultConfig())
	symbols := a.Symbols()
	require.Len(t, symbols, 2)

	assert.Equal(t, "end", symbols[0].Name)
	assert.Equal(t, protocol.SymbolKindKey, symbols[0].Kind)
	assert.Equal(t, at(storyLines, 8, `"end"`, 0), symbols[0].Range.Start)
	assert.Equal(t, "event 3 (dialogue)", *symbols[0].Detail)
	assert.Equal(t, "start", symbols[1].Name)
}

func TestDefinitionFromTarget(t *testing.T) {
	a := Analyze(doc(storyLines), DefaultConfig())

	rng, ok := a.Definition(at(storyLines, 4, `"end"`, 2))
	require.True(t, ok)
	assert.Equal(t, pos(6, 4), rng.Start)
	assert.Equal(t, pos(6, len(storyLines[6])), rng.End)

	rng, ok = a.Definition(at(storyLines, 8, `"start"`, 1))
	require.True(t, ok)
	assert.Equal(t, pos(3, 4), rng.Start)

	_, ok = a.Definition(pos(3, 10))
	assert.False(t, ok)
}

func TestReferencesAndHover(t *testing.T) {
	a := Analyze(doc(storyLines), DefaultConfig())

	refs := a.References(at(storyLines, 8, `"end"`, 1))
	require.Len(t, refs, 1)
	assert.Equal(t, at(storyLines, 4, `"end"`, 0), refs[0].Start)

	text, ok := a.Hover(at(storyLines, 4, `"end"`, 1))
	require.True(t, ok)
	assert.Contains(t, text, "event 3 (dialogue)")
	assert.Contains(t, text, `Ava: "Bye"`)
	assert.Contains(t, text, "1 reference(s)")
}

func TestAnalyzeCompileError(t *testing.T) {
	lines := append([]string(nil), storyLines...)
	lines[4] = `    {"type": "jump", "target": "nowhere"},`

	a := Analyze(doc(lines), DefaultConfig())
	assert.Nil(t, a.Compiled)
	require.Len(t, a.Diagnostics, 1)
	d := a.Diagnostics[0]
	assert.Equal(t, "vn.invalid_script", code(d))
	assert.Equal(t, protocol.DiagnosticSeverityError, *d.Severity)
	assert.Contains(t, d.Message, "nowhere")
	assert.Equal(t, pos(4, 4), d.Range.Start)

	// Navigation still works off the parsed script.
	_, ok := a.Definition(at(lines, 8, `"end"`, 1))
	assert.True(t, ok)
}

func TestAnalyzeTypeErrorHasSpan(t *testing.T) {
	lines := append([]string(nil), storyLines...)
	lines[8] = `  "labels": {"start": "zero"}`

	a := Analyze(doc(lines), DefaultConfig())
	require.Len(t, a.Diagnostics, 1)
	d := a.Diagnostics[0]
	assert.Equal(t, "vn.serialization", code(d))
	assert.Equal(t, protocol.UInteger(8), d.Range.Start.Line)
	assert.Nil(t, a.Script)
	assert.Empty(t, a.Symbols())
}

func TestAnalyzeMalformedJSON(t *testing.T) {
	a := Analyze([]byte(`{"events": [`), DefaultConfig())
	require.Len(t, a.Diagnostics, 1)
	assert.Equal(t, "vn.serialization", code(a.Diagnostics[0]))
	assert.Equal(t, pos(0, 0), a.Diagnostics[0].Range.Start)
}

func TestAnalyzeLegacySchema(t *testing.T) {
	a := Analyze([]byte(`{"events": [{"type": "say", "speaker": "A", "text": "x"}], "labels": {"start": 0}}`), DefaultConfig())
	require.NotNil(t, a.Compiled)
	require.Len(t, a.Diagnostics, 1)
	assert.Equal(t, "vn.legacy_schema", code(a.Diagnostics[0]))
	assert.Equal(t, protocol.DiagnosticSeverityWarning, *a.Diagnostics[0].Severity)
}

func TestAnalyzeDryRunFailure(t *testing.T) {
	lines := []string{
		`{"script_schema_version": "1.0",`,
		` "events": [`,
		`  {"type": "choice", "prompt": "?", "options": []}`,
		` ],`,
		` "labels": {"start": 0}}`,
	}
	a := Analyze(doc(lines), DefaultConfig())
	require.Len(t, a.Diagnostics, 1)
	d := a.Diagnostics[0]
	assert.Equal(t, "vn.invalid_choice", code(d))
	assert.Equal(t, pos(2, 2), d.Range.Start)
}

func TestAnalyzeRespectsPolicy(t *testing.T) {
	lines := []string{
		`{"script_schema_version": "1.0",`,
		` "events": [{"type": "ext_call", "command": "shell", "args": []}],`,
		` "labels": {}}`,
	}
	cfg := DefaultConfig()
	cfg.Policy.ExtCallAllow = []string{"minigame"}
	a := Analyze(doc(lines), cfg)
	require.Len(t, a.Diagnostics, 1)
	assert.Equal(t, "vn.security_policy", code(a.Diagnostics[0]))
}

func TestPositionOffsetUTF16(t *testing.T) {
	text := []byte("aé😀b\nx")
	assert.Equal(t, pos(0, 4), position(text, 7))
	assert.Equal(t, int64(7), offset(text, pos(0, 4)))
	assert.Equal(t, pos(1, 0), position(text, 9))
	assert.Equal(t, int64(9), offset(text, pos(1, 0)))
	assert.Equal(t, int64(8), offset(text, pos(0, 99)), "clamped to end of line")
	assert.Equal(t, int64(len(text)), offset(text, pos(5, 0)))
}

func TestWorkerSerializesWorkspace(t *testing.T) {
	w := NewWorker(NewWorkspace(DefaultConfig()))
	defer w.Stop()

	res, err := w.Do(func(ws *Workspace) any { return ws.Update("file:///a.json", string(doc(storyLines))) })
	require.NoError(t, err)
	assert.NotNil(t, res.(*Analysis).Compiled)

	res, err = w.Do(func(ws *Workspace) any { return ws.Len() })
	require.NoError(t, err)
	assert.Equal(t, 1, res)

	_, err = w.Do(func(ws *Workspace) any { panic("boom") })
	assert.EqualError(t, err, "boom")

	res, err = w.Do(func(ws *Workspace) any {
		ws.Close("file:///a.json")
		_, ok := ws.Get("file:///a.json")
		return ok
	})
	require.NoError(t, err)
	assert.Equal(t, false, res)
}

func TestWorkerStop(t *testing.T) {
	w := NewWorker(NewWorkspace(DefaultConfig()))
	w.Stop()
	w.Stop()
	_, err := w.Do(func(ws *Workspace) any { return nil })
	assert.Error(t, err)
}
