package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/novella/compiler"
	"github.com/chazu/novella/manifest"
	"github.com/chazu/novella/pkg/bytecode"
	"github.com/chazu/novella/schema"
	"github.com/chazu/novella/script"
	"github.com/chazu/novella/vm"
)

// binaryExt marks compiled script files.
const binaryExt = ".vnbc"

type globalOptions struct {
	verbosity  int
	logFile    string
	projectDir string
}

// project is the configuration commands run under: the manifest when one
// is found, defaults otherwise.
type project struct {
	manifest *manifest.Manifest
	policy   compiler.Policy
	limits   script.ResourceLimits
	options  []vm.Option
}

func loadProject(opts *globalOptions) (*project, error) {
	var (
		m   *manifest.Manifest
		err error
	)
	if opts.projectDir != "" {
		m, err = manifest.Load(opts.projectDir)
	} else {
		var wd string
		if wd, err = os.Getwd(); err == nil {
			m, err = manifest.FindAndLoad(wd)
		}
	}
	if err != nil {
		return nil, err
	}

	p := &project{
		manifest: m,
		policy:   compiler.DefaultPolicy(),
		limits:   script.DefaultLimits(),
	}
	if m != nil {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Join(m.Dir, manifest.FileName), err)
		}
		p.policy = m.Policy()
		p.limits = m.Limits()
		p.options = m.EngineOptions()
		log.Debugf("using project %q in %s", m.Metadata.Name, m.Dir)
	}
	return p, nil
}

// scriptArg picks the script named on the command line, falling back to
// the manifest entry point.
func (p *project) scriptArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if p.manifest != nil {
		return p.manifest.EntryPath(), nil
	}
	return "", fmt.Errorf("no script given and no %s found", manifest.FileName)
}

// readScript loads a script JSON file, upgrading legacy documents in
// memory.
func (p *project) readScript(path string) (*script.Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	migrated, report, err := schema.MigrateScriptJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if report.Changed() {
		log.Warningf("%s uses script schema %s; run `novella migrate` to upgrade it", path, report.From)
		data = migrated
	}
	raw, err := script.FromJSONWithLimits(data, p.limits)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return raw, nil
}

// loadCompiled returns the compiled form of path, which is either a
// compiled binary or script JSON.
func (p *project) loadCompiled(path string) (*bytecode.Script, error) {
	if strings.EqualFold(filepath.Ext(path), binaryExt) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		cs, err := bytecode.Deserialize(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return cs, nil
	}
	raw, err := p.readScript(path)
	if err != nil {
		return nil, err
	}
	cs, err := compiler.Compile(raw, p.policy, p.limits)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cs, nil
}

func (p *project) savePath() string {
	if p.manifest != nil {
		return p.manifest.SaveDirPath()
	}
	return filepath.Join(".novella", "saves")
}

func (p *project) catalogPath() string {
	if p.manifest != nil {
		return p.manifest.CatalogPath()
	}
	return filepath.Join(".novella", "catalog.db")
}

func (p *project) saveKey() ([]byte, error) {
	if p.manifest == nil {
		return nil, nil
	}
	return p.manifest.SaveKey()
}
