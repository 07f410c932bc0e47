// Package manifest handles novella.toml project configuration.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"

	"github.com/chazu/novella/compiler"
	"github.com/chazu/novella/schema"
	"github.com/chazu/novella/script"
	"github.com/chazu/novella/vm"
)

// FileName is the manifest file looked up in a project directory.
const FileName = "novella.toml"

var log = commonlog.GetLogger("novella.manifest")

// Manifest represents a novella.toml project configuration.
type Manifest struct {
	SchemaVersion string   `toml:"manifest_schema_version"`
	Metadata      Metadata `toml:"metadata"`
	Settings      Settings `toml:"settings"`
	Assets        Assets   `toml:"assets"`
	Engine        Engine   `toml:"engine"`

	// Dir is the directory containing the novella.toml file (set at load time).
	Dir string `toml:"-"`
}

// Metadata describes the project.
type Metadata struct {
	Name        string `toml:"name"`
	Author      string `toml:"author"`
	Version     string `toml:"version"`
	Description string `toml:"description,omitempty"`
}

// Settings holds presentation and entry settings.
type Settings struct {
	Resolution         [2]uint32 `toml:"resolution"`
	DefaultLanguage    string    `toml:"default_language"`
	SupportedLanguages []string  `toml:"supported_languages"`
	EntryPoint         string    `toml:"entry_point"`
}

// Assets declares every asset the project may load, by logical name.
// Anything not listed here does not exist as far as the engine is
// concerned.
type Assets struct {
	Backgrounds map[string]string         `toml:"backgrounds,omitempty"`
	Characters  map[string]CharacterAsset `toml:"characters,omitempty"`
	Audio       map[string]string         `toml:"audio,omitempty"`
}

// CharacterAsset is a character sprite and its default scale.
type CharacterAsset struct {
	Path  string   `toml:"path"`
	Scale *float64 `toml:"scale,omitempty"`
}

// Engine overrides runtime defaults for this project. Zero values keep
// the defaults.
type Engine struct {
	Limits            script.ResourceLimits `toml:"limits"`
	LoopBound         int                   `toml:"loop_bound,omitempty"`
	HistoryLimit      int                   `toml:"history_limit,omitempty"`
	AllowEmptySpeaker bool                  `toml:"allow_empty_speaker,omitempty"`
	ExtCallAllow      []string              `toml:"ext_call_allow,omitempty"`
	SaveDir           string                `toml:"save_dir,omitempty"`
	SaveKeyEnv        string                `toml:"save_key_env,omitempty"`
}

// New returns a manifest with default settings.
func New(name, author string) *Manifest {
	return &Manifest{
		SchemaVersion: schema.ManifestSchemaVersion,
		Metadata: Metadata{
			Name:    name,
			Author:  author,
			Version: "0.1.0",
		},
		Settings: defaultSettings(),
	}
}

func defaultSettings() Settings {
	return Settings{
		Resolution:         [2]uint32{1280, 720},
		DefaultLanguage:    "en",
		SupportedLanguages: []string{"en"},
		EntryPoint:         "main.json",
	}
}

// Load parses the novella.toml file in dir.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses a manifest file, migrating a legacy layout in memory
// first. The file itself is not rewritten.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	migrated, report, err := MigrateTOML(data)
	if err != nil {
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	for _, e := range report.Entries {
		log.Infof("%s: applied %s (%s -> %s)", path, e.StepID, e.FromVersion, e.ToVersion)
	}

	var m Manifest
	if _, err := toml.Decode(string(migrated), &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if !schema.Compatible(m.SchemaVersion, schema.ManifestSchemaVersion) {
		return nil, fmt.Errorf("%s: manifest schema %q incompatible with %s", path, m.SchemaVersion, schema.ManifestSchemaVersion)
	}

	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	m.applyDefaults()
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	d := defaultSettings()
	if m.Settings.Resolution == [2]uint32{} {
		m.Settings.Resolution = d.Resolution
	}
	if m.Settings.DefaultLanguage == "" {
		m.Settings.DefaultLanguage = d.DefaultLanguage
	}
	if len(m.Settings.SupportedLanguages) == 0 {
		m.Settings.SupportedLanguages = []string{m.Settings.DefaultLanguage}
	}
	if m.Settings.EntryPoint == "" {
		m.Settings.EntryPoint = d.EntryPoint
	}
}

// FindAndLoad walks up from startDir to find a novella.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Encode renders the manifest as TOML at the current schema version.
func (m *Manifest) Encode() ([]byte, error) {
	out := *m
	out.SchemaVersion = schema.ManifestSchemaVersion
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.Indent = ""
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes the manifest to path.
func (m *Manifest) Save(path string) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}

// Validate reports every problem with the manifest's required fields.
func (m *Manifest) Validate() error {
	var errs []error
	if m.Metadata.Name == "" {
		errs = append(errs, errors.New("metadata.name is required"))
	}
	if m.Settings.Resolution[0] == 0 || m.Settings.Resolution[1] == 0 {
		errs = append(errs, fmt.Errorf("settings.resolution %dx%d must be positive", m.Settings.Resolution[0], m.Settings.Resolution[1]))
	}
	if !slices.Contains(m.Settings.SupportedLanguages, m.Settings.DefaultLanguage) {
		errs = append(errs, fmt.Errorf("settings.default_language %q is not in supported_languages", m.Settings.DefaultLanguage))
	}
	if m.Engine.LoopBound < 0 || m.Engine.HistoryLimit < 0 {
		errs = append(errs, errors.New("engine.loop_bound and engine.history_limit must not be negative"))
	}
	return errors.Join(errs...)
}

// EntryPath returns the absolute path of the entry script.
func (m *Manifest) EntryPath() string {
	return m.resolve(m.Settings.EntryPoint)
}

// SaveDirPath returns the save directory, defaulting to .novella/saves.
func (m *Manifest) SaveDirPath() string {
	if m.Engine.SaveDir == "" {
		return filepath.Join(m.Dir, ".novella", "saves")
	}
	return m.resolve(m.Engine.SaveDir)
}

// CatalogPath returns the path of the project's script catalog database.
func (m *Manifest) CatalogPath() string {
	return filepath.Join(m.Dir, ".novella", "catalog.db")
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// Limits returns the configured resource limits with defaults filled in.
func (m *Manifest) Limits() script.ResourceLimits {
	return m.Engine.Limits.WithDefaults()
}

// Policy returns the compiler security policy.
func (m *Manifest) Policy() compiler.Policy {
	p := compiler.DefaultPolicy()
	p.AllowEmptySpeaker = m.Engine.AllowEmptySpeaker
	p.ExtCallAllow = slices.Clone(m.Engine.ExtCallAllow)
	return p
}

// EngineOptions returns the engine options for the configured overrides.
func (m *Manifest) EngineOptions() []vm.Option {
	var opts []vm.Option
	if m.Engine.LoopBound > 0 {
		opts = append(opts, vm.WithLoopBound(m.Engine.LoopBound))
	}
	if m.Engine.HistoryLimit > 0 {
		opts = append(opts, vm.WithHistoryLimit(m.Engine.HistoryLimit))
	}
	return opts
}

// SaveKey returns the save HMAC key from the environment variable named by
// engine.save_key_env. It returns nil when saves are unauthenticated.
func (m *Manifest) SaveKey() ([]byte, error) {
	if m.Engine.SaveKeyEnv == "" {
		return nil, nil
	}
	v, ok := os.LookupEnv(m.Engine.SaveKeyEnv)
	if !ok || v == "" {
		return nil, fmt.Errorf("save key variable %s is not set", m.Engine.SaveKeyEnv)
	}
	return []byte(v), nil
}
