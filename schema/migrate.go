package schema

import (
	"fmt"
	"strings"
)

// DefaultMaxSteps bounds how many steps a single migration may apply.
const DefaultMaxSteps = 8

// ReportEntry records one applied migration step.
type ReportEntry struct {
	StepID      string `json:"step_id" yaml:"step_id"`
	FromVersion string `json:"from_version" yaml:"from_version"`
	ToVersion   string `json:"to_version" yaml:"to_version"`
	Changed     bool   `json:"changed" yaml:"changed"`
}

// Report lists the transformations applied by a migration.
type Report struct {
	From    string        `json:"from" yaml:"from"`
	To      string        `json:"to" yaml:"to"`
	Entries []ReportEntry `json:"entries" yaml:"entries"`
}

// Changed reports whether any step modified the document.
func (r Report) Changed() bool {
	for _, e := range r.Entries {
		if e.Changed {
			return true
		}
	}
	return false
}

// Step upgrades a document from any version Match accepts to version To.
type Step struct {
	ID    string
	To    string
	Match func(version string) bool
	Apply func(doc map[string]any) (changed bool, err error)
}

// StepError reports a failed migration step.
type StepError struct {
	StepID string
	From   string
	To     string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("migration step %q failed (%s -> %s): %v", e.StepID, e.From, e.To, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Pipeline is an ordered chain of steps keyed on a version field inside a
// generic document (decoded JSON or TOML).
type Pipeline struct {
	Field    string // top-level version key
	Current  string
	Missing  string // version assumed when Field is absent
	Steps    []Step
	MaxSteps int
}

// Migrate upgrades doc in place. Steps run against a private copy; doc is
// only touched once every step has succeeded, so a failure leaves it
// exactly as the caller passed it.
//
// Versions that no step matches and that are not current are returned
// unchanged with an empty report; the loader decides whether to reject them.
func (p *Pipeline) Migrate(doc map[string]any) (Report, error) {
	from, err := p.detect(doc)
	if err != nil {
		return Report{}, err
	}
	report := Report{From: from, To: from}
	if from == p.Current {
		return report, nil
	}

	limit := p.MaxSteps
	if limit <= 0 {
		limit = DefaultMaxSteps
	}

	work := CloneMap(doc)
	version := from
	for applied := 0; version != p.Current; applied++ {
		if applied >= limit {
			return Report{}, fmt.Errorf("migration exceeded %d steps at version %s", limit, version)
		}
		step := p.stepFor(version)
		if step == nil {
			if applied == 0 {
				return report, nil
			}
			return Report{}, fmt.Errorf("no migration step from version %s", version)
		}
		changed, err := step.Apply(work)
		if err != nil {
			return Report{}, &StepError{StepID: step.ID, From: version, To: step.To, Err: err}
		}
		if work[p.Field] != step.To {
			work[p.Field] = step.To
			changed = true
		}
		report.Entries = append(report.Entries, ReportEntry{
			StepID:      step.ID,
			FromVersion: version,
			ToVersion:   step.To,
			Changed:     changed,
		})
		version = step.To
	}
	report.To = version

	clear(doc)
	for k, v := range work {
		doc[k] = v
	}
	return report, nil
}

func (p *Pipeline) detect(doc map[string]any) (string, error) {
	raw, ok := doc[p.Field]
	if !ok {
		return p.Missing, nil
	}
	v, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", p.Field)
	}
	return v, nil
}

func (p *Pipeline) stepFor(version string) *Step {
	for i := range p.Steps {
		if p.Steps[i].Match(version) {
			return &p.Steps[i]
		}
	}
	return nil
}

// LegacyMajor matches any "0.x" version.
func LegacyMajor(version string) bool {
	return strings.HasPrefix(version, "0.")
}

// CloneMap deep-copies a decoded document.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = CloneMap(e)
		}
		return out
	default:
		return v
	}
}
