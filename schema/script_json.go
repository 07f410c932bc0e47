package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/chazu/novella/pkg/vnerr"
)

// legacyEventTypes maps type tags used by pre-1.0 scripts to current ones.
var legacyEventTypes = map[string]string{
	"extcall":  "ext_call",
	"ext-call": "ext_call",
	"setflag":  "set_flag",
	"setvar":   "set_var",
	"jumpif":   "jump_if",
	"jump-if":  "jump_if",
	"say":      "dialogue",
}

// ScriptPipeline upgrades script JSON documents.
var ScriptPipeline = &Pipeline{
	Field:   ScriptVersionField,
	Current: ScriptSchemaVersion,
	Missing: "0.9",
	Steps: []Step{
		{
			ID:    "script_legacy_to_1_0",
			To:    "1.0",
			Match: LegacyMajor,
			Apply: migrateScriptLegacy,
		},
	},
	MaxSteps: DefaultMaxSteps,
}

// MigrateScriptJSON detects the schema version embedded in a script,
// applies every migration up to the current version and returns the
// canonical re-emission. Already-current input yields an empty report.
func MigrateScriptJSON(input []byte) ([]byte, Report, error) {
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, Report{}, vnerr.Serialization("invalid script json", nil, err)
	}
	doc, ok := root.(map[string]any)
	if !ok {
		return nil, Report{}, vnerr.InvalidScript("script payload must be a JSON object")
	}

	report, err := ScriptPipeline.Migrate(doc)
	if err != nil {
		return nil, Report{}, &vnerr.Error{Code: vnerr.CodeInvalidScript, Msg: "migration failed", Err: err}
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, Report{}, fmt.Errorf("re-encode migrated script: %w", err)
	}
	return out, report, nil
}

func migrateScriptLegacy(doc map[string]any) (bool, error) {
	changed := false
	if _, ok := doc["events"]; !ok {
		doc["events"] = []any{}
		changed = true
	}
	if _, ok := doc["labels"]; !ok {
		doc["labels"] = map[string]any{"start": json.Number("0")}
		changed = true
	}

	events, ok := doc["events"].([]any)
	if !ok {
		return false, fmt.Errorf("events must be an array")
	}
	for i, raw := range events {
		ev, ok := raw.(map[string]any)
		if !ok {
			return false, fmt.Errorf("event %d must be an object", i)
		}
		tag, ok := ev["type"].(string)
		if !ok {
			return false, fmt.Errorf("event %d is missing string field 'type'", i)
		}
		if current, ok := legacyEventTypes[tag]; ok {
			ev["type"] = current
			tag = current
			changed = true
		}
		if tag == "ext_call" {
			if _, ok := ev["args"]; !ok {
				ev["args"] = []any{}
				changed = true
			}
		}
	}
	return changed, nil
}
