package dryrun

import (
	"fmt"

	"github.com/chazu/novella/compiler"
	"github.com/chazu/novella/script"
	"github.com/chazu/novella/vm"
)

// MismatchKind classifies a parity failure.
type MismatchKind string

const (
	MismatchEventKind MismatchKind = "kind"
	MismatchPayload   MismatchKind = "payload"
	MismatchVisual    MismatchKind = "visual"
	MismatchLength    MismatchKind = "length"
)

// Mismatch is a divergence between the preview and runtime traces.
type Mismatch struct {
	Kind    MismatchKind `json:"kind" yaml:"kind"`
	Step    int          `json:"step" yaml:"step"`
	EventIP *uint32      `json:"event_ip,omitempty" yaml:"event_ip,omitempty"`
	Message string       `json:"message" yaml:"message"`
}

func (m Mismatch) String() string { return m.Message }

// CheckParity simulates raw under policy and limits and compares the
// result with the runtime report.
func CheckParity(raw *script.Script, report Report, policy Policy, limits script.ResourceLimits) []Mismatch {
	preview := Simulate(raw, report.MaxSteps, policy, limits)
	return CompareTraces(preview, report.Steps, policy.Label())
}

// CompareTraces reports the first position where preview and runtime
// differ, then any difference in length.
func CompareTraces(preview, runtime []StepTrace, route string) []Mismatch {
	var out []Mismatch
	overlap := min(len(preview), len(runtime))
	for i := 0; i < overlap; i++ {
		p, r := preview[i], runtime[i]
		ip := r.EventIP
		switch {
		case p.EventKind != r.EventKind:
			out = append(out, Mismatch{
				Kind: MismatchEventKind, Step: i, EventIP: &ip,
				Message: fmt.Sprintf("parity mismatch [route=%s] at step %d: preview %s@%d vs runtime %s@%d",
					route, i, p.EventKind, p.EventIP, r.EventKind, r.EventIP),
			})
		case p.EventSignature != r.EventSignature:
			out = append(out, Mismatch{
				Kind: MismatchPayload, Step: i, EventIP: &ip,
				Message: fmt.Sprintf("parity payload mismatch [route=%s] at step %d: preview %q vs runtime %q",
					route, i, p.EventSignature, r.EventSignature),
			})
		case !optEqual(p.VisualBackground, r.VisualBackground) || !optEqual(p.VisualMusic, r.VisualMusic) ||
			p.CharacterCount != r.CharacterCount:
			out = append(out, Mismatch{
				Kind: MismatchVisual, Step: i, EventIP: &ip,
				Message: fmt.Sprintf("parity visual mismatch [route=%s] at step %d: preview bg=%s music=%s chars=%d vs runtime bg=%s music=%s chars=%d",
					route, i, optSig(p.VisualBackground), optSig(p.VisualMusic), p.CharacterCount,
					optSig(r.VisualBackground), optSig(r.VisualMusic), r.CharacterCount),
			})
		default:
			continue
		}
		break
	}

	if len(preview) != len(runtime) {
		m := Mismatch{
			Kind: MismatchLength, Step: overlap,
			Message: fmt.Sprintf("parity length mismatch [route=%s]: preview=%d runtime=%d", route, len(preview), len(runtime)),
		}
		if overlap < len(runtime) {
			ip := runtime[overlap].EventIP
			m.EventIP = &ip
		} else {
			ip := preview[overlap].EventIP
			m.EventIP = &ip
		}
		out = append(out, m)
	}
	return out
}

func optEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Verify compiles raw, dry-runs it under choices and checks parity with
// the raw simulator. A compile error is returned as err; runtime errors
// are reported in the Report.
func Verify(raw *script.Script, policy compiler.Policy, limits script.ResourceLimits, choices Policy) (Report, []Mismatch, error) {
	return verifyWithLimit(raw, policy, limits, choices, DefaultMaxSteps)
}

func verifyWithLimit(raw *script.Script, policy compiler.Policy, limits script.ResourceLimits, choices Policy, maxSteps int) (Report, []Mismatch, error) {
	e, err := vm.New(raw, policy, limits)
	if err != nil {
		return Report{}, nil, err
	}
	report := RunWithLimit(e, choices, maxSteps)
	return report, CheckParity(raw, report, choices, limits), nil
}
