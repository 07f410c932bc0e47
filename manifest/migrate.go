package manifest

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/chazu/novella/schema"
)

// Pipeline upgrades manifest documents. Manifests written before the
// version key existed are treated as 0.9.
var Pipeline = &schema.Pipeline{
	Field:   schema.ManifestVersionField,
	Current: schema.ManifestSchemaVersion,
	Missing: "0.9",
	Steps: []schema.Step{
		{
			ID:    "manifest_legacy_to_1_0",
			To:    "1.0",
			Match: schema.LegacyMajor,
			Apply: migrateLegacy,
		},
	},
	MaxSteps: schema.DefaultMaxSteps,
}

// MigrateTOML upgrades a manifest to the current schema and re-encodes it.
// Current input comes back re-encoded with an empty report, so running it
// twice yields identical bytes.
func MigrateTOML(input []byte) ([]byte, schema.Report, error) {
	doc := map[string]any{}
	if _, err := toml.Decode(string(input), &doc); err != nil {
		return nil, schema.Report{}, fmt.Errorf("parse manifest: %w", err)
	}
	report, err := Pipeline.Migrate(doc)
	if err != nil {
		return nil, schema.Report{}, err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, schema.Report{}, fmt.Errorf("encode manifest: %w", err)
	}
	return buf.Bytes(), report, nil
}

func migrateLegacy(doc map[string]any) (bool, error) {
	changed := false
	if project, ok := doc["project"]; ok {
		if _, exists := doc["metadata"]; !exists {
			doc["metadata"] = project
		}
		delete(doc, "project")
		changed = true
	}

	meta, err := table(doc, "metadata")
	if err != nil {
		return false, err
	}
	if _, ok := meta["version"]; !ok {
		meta["version"] = "0.1.0"
		changed = true
	}

	settings, err := table(doc, "settings")
	if err != nil {
		return false, err
	}
	defaults := map[string]any{
		"resolution":          []any{int64(1280), int64(720)},
		"default_language":    "en",
		"supported_languages": []any{"en"},
		"entry_point":         "main.json",
	}
	for k, v := range defaults {
		if _, ok := settings[k]; !ok {
			settings[k] = v
			changed = true
		}
	}

	if _, err := table(doc, "assets"); err != nil {
		return false, err
	}
	return changed, nil
}

// table returns doc[key] as a table, creating it when absent.
func table(doc map[string]any, key string) (map[string]any, error) {
	v, ok := doc[key]
	if !ok {
		t := map[string]any{}
		doc[key] = t
		return t, nil
	}
	t, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("[%s] must be a TOML table, got %T", key, v)
	}
	return t, nil
}
