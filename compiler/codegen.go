// Package compiler lowers a raw script into a compiled bytecode script.
//
// Lowering validates the script against a Policy and ResourceLimits,
// assigns dense ids to flag and variable keys in discovery order, resolves
// label targets to event indices and interns every string. It performs no
// I/O and equal input always produces a byte-equal compiled binary.
package compiler

import (
	"github.com/chazu/novella/pkg/bytecode"
	"github.com/chazu/novella/pkg/vnerr"
	"github.com/chazu/novella/script"
)

// ---------------------------------------------------------------------------
// Codegen: raw events to compiled events
// ---------------------------------------------------------------------------

// Compiler compiles one raw script. Symbol tables are kept after Compile so
// tooling can map ids back to names.
type Compiler struct {
	policy Policy
	limits script.ResourceLimits

	raw     *script.Script
	strings *interner
	flags   *symbols
	vars    *symbols
}

// New creates a compiler.
func New(policy Policy, limits script.ResourceLimits) *Compiler {
	return &Compiler{policy: policy, limits: limits}
}

// Compile lowers raw under policy and limits.
func Compile(raw *script.Script, policy Policy, limits script.ResourceLimits) (*bytecode.Script, error) {
	return New(policy, limits).Compile(raw)
}

// Compile lowers raw. It may be called once per Compiler.
func (c *Compiler) Compile(raw *script.Script) (*bytecode.Script, error) {
	if raw == nil {
		return nil, vnerr.InvalidScript("nil script")
	}
	if err := c.policy.Check(raw, c.limits); err != nil {
		return nil, err
	}

	c.raw = raw
	c.strings = newInterner()
	c.flags = newSymbols()
	c.vars = newSymbols()

	out := &bytecode.Script{
		Events: make([]bytecode.Event, len(raw.Events)),
		Labels: make(map[string]uint32, len(raw.Labels)),
	}
	for i, ev := range raw.Events {
		compiled, err := c.lower(i, ev)
		if err != nil {
			return nil, err
		}
		out.Events[i] = compiled
	}
	for name, idx := range raw.Labels {
		out.Labels[name] = uint32(idx)
	}
	out.StartIP = uint32(raw.StartIndex())
	out.FlagCount = c.flags.count()
	out.VarCount = c.vars.count()

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// FlagNames returns flag keys indexed by id.
func (c *Compiler) FlagNames() []string {
	if c.flags == nil {
		return nil
	}
	return append([]string(nil), c.flags.names...)
}

// VarNames returns variable keys indexed by id.
func (c *Compiler) VarNames() []string {
	if c.vars == nil {
		return nil
	}
	return append([]string(nil), c.vars.names...)
}

// StringCount returns the number of distinct interned strings.
func (c *Compiler) StringCount() int {
	if c.strings == nil {
		return 0
	}
	return c.strings.Len()
}

func (c *Compiler) target(ip int, label string) (uint32, error) {
	idx, ok := c.raw.Labels[label]
	if !ok {
		return 0, vnerr.InvalidScript("unknown label %q at event %d", label, ip)
	}
	if idx < 0 || idx >= len(c.raw.Events) {
		return 0, vnerr.InvalidScript("label %q at event %d resolves to %d, out of range", label, ip, idx)
	}
	return uint32(idx), nil
}

func (c *Compiler) placements(in []script.CharacterPlacement) []script.CharacterPlacement {
	out := make([]script.CharacterPlacement, len(in))
	for i, p := range in {
		out[i] = script.CharacterPlacement{
			Name:       c.strings.intern(p.Name),
			Expression: c.strings.opt(p.Expression),
			Position:   c.strings.opt(p.Position),
		}
	}
	return out
}

func (c *Compiler) lower(ip int, ev script.Event) (bytecode.Event, error) {
	in := c.strings
	switch e := ev.(type) {
	case *script.Dialogue:
		return &bytecode.Dialogue{Speaker: in.intern(e.Speaker), Text: in.intern(e.Text)}, nil

	case *script.Choice:
		out := &bytecode.Choice{
			Prompt:  in.intern(e.Prompt),
			Options: make([]bytecode.Option, len(e.Options)),
		}
		for i, opt := range e.Options {
			target, err := c.target(ip, opt.Target)
			if err != nil {
				return nil, err
			}
			out.Options[i] = bytecode.Option{Text: in.intern(opt.Text), Target: target}
		}
		return out, nil

	case *script.Scene:
		return &bytecode.Scene{
			Background: in.opt(e.Background),
			Music:      in.opt(e.Music),
			Characters: c.placements(e.Characters),
		}, nil

	case *script.Jump:
		target, err := c.target(ip, e.Target)
		if err != nil {
			return nil, err
		}
		return &bytecode.Jump{Target: target}, nil

	case *script.SetFlag:
		return &bytecode.SetFlag{Flag: c.flags.id(e.Key), Value: e.Value}, nil

	case *script.SetVar:
		return &bytecode.SetVar{Var: c.vars.id(e.Key), Value: e.Value}, nil

	case *script.JumpIf:
		var cond bytecode.Cond
		switch e.Cond.Kind {
		case script.CondFlag:
			cond = bytecode.Cond{Kind: script.CondFlag, ID: c.flags.id(e.Cond.Key), IsSet: e.Cond.IsSet}
		case script.CondVarCmp:
			cond = bytecode.Cond{Kind: script.CondVarCmp, ID: c.vars.id(e.Cond.Key), Op: e.Cond.Op, Value: e.Cond.Value}
		}
		target, err := c.target(ip, e.Target)
		if err != nil {
			return nil, err
		}
		return &bytecode.JumpIf{Cond: cond, Target: target}, nil

	case *script.Patch:
		out := &bytecode.Patch{
			Background: in.opt(e.Background),
			Music:      in.opt(e.Music),
			Add:        c.placements(e.Add),
			Update:     make([]script.CharacterPatch, len(e.Update)),
			Remove:     make([]string, len(e.Remove)),
		}
		for i, u := range e.Update {
			out.Update[i] = script.CharacterPatch{
				Name:       in.intern(u.Name),
				Expression: in.opt(u.Expression),
				Position:   in.opt(u.Position),
			}
		}
		for i, name := range e.Remove {
			out.Remove[i] = in.intern(name)
		}
		return out, nil

	case *script.ExtCall:
		out := &bytecode.ExtCall{Command: in.intern(e.Command), Args: make([]string, len(e.Args))}
		for i, arg := range e.Args {
			out.Args[i] = in.intern(arg)
		}
		return out, nil
	}
	return nil, vnerr.InvalidScript("event %d: unsupported event %T", ip, ev)
}
