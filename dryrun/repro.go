package dryrun

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/chazu/novella/compiler"
	"github.com/chazu/novella/script"
)

// ReproSchema identifies the repro case document format.
const ReproSchema = "novella.repro_case.v1"

// ReproCase is a self-contained regression case: a script, the choice
// policy to drive it with and the trace it produced.
type ReproCase struct {
	Schema         string         `json:"schema"`
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	CreatedUnixMs  int64          `json:"created_unix_ms"`
	Policy         Policy         `json:"policy"`
	MaxSteps       int            `json:"max_steps"`
	Script         *script.Script `json:"script"`
	ExpectedStop   StopReason     `json:"expected_stop"`
	ExpectedFailIP *uint32        `json:"expected_failing_ip,omitempty"`
	Expected       []StepTrace    `json:"expected"`
}

// NewReproCase captures report, produced by running raw under policy.
func NewReproCase(title string, raw *script.Script, policy Policy, report Report) *ReproCase {
	return &ReproCase{
		Schema:         ReproSchema,
		ID:             uuid.NewString(),
		Title:          title,
		CreatedUnixMs:  time.Now().UnixMilli(),
		Policy:         policy,
		MaxSteps:       report.MaxSteps,
		Script:         raw,
		ExpectedStop:   report.StopReason,
		ExpectedFailIP: report.FailingIP,
		Expected:       report.Steps,
	}
}

// Verify re-runs the case and returns the fresh report together with any
// divergence from the recorded trace, stop reason or preview parity.
func (rc *ReproCase) Verify(policy compiler.Policy, limits script.ResourceLimits) (Report, []Mismatch, error) {
	if rc.Script == nil {
		return Report{}, nil, fmt.Errorf("repro %s: no script", rc.ID)
	}
	report, parity, err := verifyWithLimit(rc.Script, policy, limits, rc.Policy, rc.maxSteps())
	if err != nil {
		return Report{}, nil, err
	}
	mismatches := CompareTraces(rc.Expected, report.Steps, rc.Policy.Label())
	if report.StopReason != rc.ExpectedStop {
		mismatches = append(mismatches, Mismatch{
			Kind:    MismatchLength,
			Step:    report.ExecutedSteps,
			EventIP: report.FailingIP,
			Message: fmt.Sprintf("stop reason %s, expected %s", report.StopReason, rc.ExpectedStop),
		})
	}
	return report, append(mismatches, parity...), nil
}

func (rc *ReproCase) maxSteps() int {
	if rc.MaxSteps > 0 {
		return rc.MaxSteps
	}
	return DefaultMaxSteps
}

// ToJSON encodes the case as indented JSON.
func (rc *ReproCase) ToJSON() ([]byte, error) {
	return json.MarshalIndent(rc, "", "  ")
}

// ToYAML encodes the case as YAML with the same field names as ToJSON.
func (rc *ReproCase) ToYAML() ([]byte, error) {
	data, err := json.Marshal(rc)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}

// ParseReproJSON decodes a case and checks its schema.
func ParseReproJSON(data []byte) (*ReproCase, error) {
	var rc ReproCase
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("repro: %w", err)
	}
	if rc.Schema != ReproSchema {
		return nil, fmt.Errorf("repro: unsupported schema %q, want %q", rc.Schema, ReproSchema)
	}
	return &rc, nil
}

// ParseReproYAML decodes a case written by ToYAML.
func ParseReproYAML(data []byte) (*ReproCase, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("repro: %w", err)
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("repro: %w", err)
	}
	return ParseReproJSON(js)
}

// MinimalRepro cuts raw down to the events within radius of failureIP.
// Every kept event gets a label "repro_N" and "start" points at the first
// one. It returns false when a kept event transfers control outside the
// window.
func MinimalRepro(raw *script.Script, failureIP uint32, radius int) (*script.Script, bool) {
	if len(raw.Events) == 0 {
		return script.New(nil, nil), true
	}
	fail := min(int(failureIP), len(raw.Events)-1)
	lo := max(0, fail-radius)
	hi := min(len(raw.Events), fail+radius+1)

	rename := make(map[string]string)
	for name, idx := range raw.Labels {
		if idx >= lo && idx < hi {
			rename[name] = fmt.Sprintf("repro_%d", idx-lo)
		}
	}
	labels := map[string]int{"start": 0}
	for off := 0; off < hi-lo; off++ {
		labels[fmt.Sprintf("repro_%d", off)] = off
	}

	events := make([]script.Event, 0, hi-lo)
	for _, ev := range raw.Events[lo:hi] {
		switch e := ev.(type) {
		case *script.Jump:
			target, ok := rename[e.Target]
			if !ok {
				return nil, false
			}
			ev = &script.Jump{Target: target}
		case *script.JumpIf:
			target, ok := rename[e.Target]
			if !ok {
				return nil, false
			}
			ev = &script.JumpIf{Cond: e.Cond, Target: target}
		case *script.Choice:
			opts := make([]script.ChoiceOption, len(e.Options))
			for i, opt := range e.Options {
				target, ok := rename[opt.Target]
				if !ok {
					return nil, false
				}
				opts[i] = script.ChoiceOption{Text: opt.Text, Target: target}
			}
			ev = &script.Choice{Prompt: e.Prompt, Options: opts}
		}
		events = append(events, ev)
	}
	return script.New(events, labels), true
}
