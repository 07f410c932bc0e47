package compiler

import (
	"fmt"
	"slices"

	"github.com/chazu/novella/pkg/vnerr"
	"github.com/chazu/novella/script"
)

// ---------------------------------------------------------------------------
// Policy: security checks applied before lowering
// ---------------------------------------------------------------------------

// Policy is the security policy a script must satisfy to compile.
type Policy struct {
	// AllowEmptySpeaker permits dialogue lines with no speaker (narration).
	AllowEmptySpeaker bool `toml:"allow_empty_speaker" json:"allow_empty_speaker"`

	// ExtCallAllow lists the ext_call commands a script may issue. Empty
	// allows every command.
	ExtCallAllow []string `toml:"ext_call_allow" json:"ext_call_allow"`
}

// DefaultPolicy returns the stock policy.
func DefaultPolicy() Policy {
	return Policy{}
}

// AllowsCommand reports whether an ext_call command passes the whitelist.
func (p Policy) AllowsCommand(cmd string) bool {
	return len(p.ExtCallAllow) == 0 || slices.Contains(p.ExtCallAllow, cmd)
}

// Check validates raw against the policy and limits: size and shape first,
// then label indices, then per-event policy rules.
func (p Policy) Check(raw *script.Script, limits script.ResourceLimits) error {
	if err := limits.Check(raw); err != nil {
		return err
	}
	if limits.MaxEvents > 0 && len(raw.Labels) > limits.MaxEvents {
		return vnerr.ResourceLimit(fmt.Sprintf("labels: %d > %d", len(raw.Labels), limits.MaxEvents))
	}

	n := len(raw.Events)
	for _, name := range raw.LabelNames() {
		idx := raw.Labels[name]
		if idx < 0 || idx >= n {
			// An empty script may still carry start=0.
			if n == 0 && idx == 0 {
				continue
			}
			return vnerr.InvalidScript("label %q points at %d, script has %d events", name, idx, n)
		}
	}

	for i, ev := range raw.Events {
		switch e := ev.(type) {
		case nil:
			return vnerr.InvalidScript("event %d is nil", i)
		case *script.Dialogue:
			if e.Speaker == "" && !p.AllowEmptySpeaker {
				return vnerr.SecurityPolicy("event %d: empty speaker", i)
			}
		case *script.ExtCall:
			if e.Command == "" {
				return vnerr.InvalidScript("event %d: empty ext_call command", i)
			}
			if !p.AllowsCommand(e.Command) {
				return vnerr.SecurityPolicy("event %d: ext_call command %q not allowed", i, e.Command)
			}
		case *script.JumpIf:
			if e.Cond.Kind != script.CondFlag && e.Cond.Kind != script.CondVarCmp {
				return vnerr.InvalidScript("event %d: unknown condition kind %d", i, e.Cond.Kind)
			}
			if e.Cond.Kind == script.CondVarCmp && (e.Cond.Op < script.OpEq || e.Cond.Op > script.OpGe) {
				return vnerr.InvalidScript("event %d: unknown comparison op %d", i, e.Cond.Op)
			}
		}
	}
	return nil
}
