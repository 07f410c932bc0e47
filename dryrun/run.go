// Package dryrun drives an engine without a host UI and records a step
// trace. A raw-script simulator produces the same trace shape so the
// editor can check that a preview of the raw script and the compiled
// runtime agree.
package dryrun

import (
	"fmt"

	"github.com/chazu/novella/pkg/bytecode"
	"github.com/chazu/novella/vm"
)

// DefaultMaxSteps bounds a dry run.
const DefaultMaxSteps = 512

// StopReason says why a dry run ended.
type StopReason string

const (
	Finished     StopReason = "finished"
	StepLimit    StopReason = "step_limit"
	RuntimeError StopReason = "runtime_error"
)

// StepTrace is the observable state at one step, recorded before the
// event executes.
type StepTrace struct {
	Step             int     `json:"step" yaml:"step"`
	EventIP          uint32  `json:"event_ip" yaml:"event_ip"`
	EventKind        string  `json:"event_kind" yaml:"event_kind"`
	EventSignature   string  `json:"event_signature" yaml:"event_signature"`
	VisualBackground *string `json:"visual_background,omitempty" yaml:"visual_background,omitempty"`
	VisualMusic      *string `json:"visual_music,omitempty" yaml:"visual_music,omitempty"`
	CharacterCount   int     `json:"character_count" yaml:"character_count"`
}

// Report is the outcome of a dry run.
type Report struct {
	Policy        string            `json:"policy" yaml:"policy"`
	MaxSteps      int               `json:"max_steps" yaml:"max_steps"`
	ExecutedSteps int               `json:"executed_steps" yaml:"executed_steps"`
	StopReason    StopReason        `json:"stop_reason" yaml:"stop_reason"`
	StopMessage   string            `json:"stop_message" yaml:"stop_message"`
	FailingIP     *uint32           `json:"failing_ip,omitempty" yaml:"failing_ip,omitempty"`
	Err           error             `json:"-" yaml:"-"`
	Choices       []vm.ChoiceRecord `json:"choices" yaml:"choices"`
	Steps         []StepTrace       `json:"steps" yaml:"steps"`
}

// Run drives e under policy for at most DefaultMaxSteps steps.
func Run(e *vm.Engine, policy Policy) Report {
	return RunWithLimit(e, policy, DefaultMaxSteps)
}

// RunWithLimit drives e under policy for at most maxSteps steps. Choices
// are resolved by policy and ext calls are resumed immediately.
func RunWithLimit(e *vm.Engine, policy Policy, maxSteps int) Report {
	r := Report{Policy: policy.Label(), MaxSteps: maxSteps, Steps: []StepTrace{}}
	cursor := 0
	for {
		if r.ExecutedSteps >= maxSteps {
			r.StopReason = StepLimit
			r.StopMessage = fmt.Sprintf("dry run reached %d steps; possible loop or blocking flow", maxSteps)
			break
		}

		ip := e.Position()
		ev, err := e.CurrentEvent()
		if err != nil {
			r.StopReason = Finished
			r.StopMessage = fmt.Sprintf("dry run finished in %d step(s)", r.ExecutedSteps)
			break
		}

		visual := e.VisualState()
		r.Steps = append(r.Steps, StepTrace{
			Step:             r.ExecutedSteps,
			EventIP:          ip,
			EventKind:        ev.Kind().String(),
			EventSignature:   CompiledSignature(ev),
			VisualBackground: visual.Background,
			VisualMusic:      visual.Music,
			CharacterCount:   len(visual.Characters),
		})

		switch ev := ev.(type) {
		case *bytecode.Choice:
			idx := policy.Select(r.ExecutedSteps, len(ev.Options), cursor)
			cursor++
			err = e.Choose(idx)
		case *bytecode.ExtCall:
			err = e.Resume()
		default:
			_, _, err = e.Step()
		}
		if err != nil {
			r.StopReason = RuntimeError
			r.StopMessage = fmt.Sprintf("dry run runtime error at ip %d: %v", ip, err)
			r.FailingIP = &ip
			r.Err = err
			break
		}
		r.ExecutedSteps++
	}
	r.Choices = e.ChoiceHistory()
	return r
}
