package vm

import (
	"slices"

	"github.com/tliron/commonlog"

	"github.com/chazu/novella/compiler"
	"github.com/chazu/novella/pkg/bytecode"
	"github.com/chazu/novella/pkg/vnerr"
	"github.com/chazu/novella/script"
)

var log = commonlog.GetLogger("novella.vm")

// DefaultLoopBound is the number of times a single position may be
// executed before Step fails with a loop resource limit.
const DefaultLoopBound = 10000

// ---------------------------------------------------------------------------
// Engine: instruction pointer VM over a compiled script
// ---------------------------------------------------------------------------

// StateChange describes one executed event.
type StateChange struct {
	IP       uint32         // position the event was read from
	Event    bytecode.Event // the event executed
	Position uint32         // position after execution
}

// ChoiceRecord is one resolved choice.
type ChoiceRecord struct {
	EventIP     uint32 `json:"event_ip" yaml:"event_ip"`
	OptionIndex int    `json:"option_index" yaml:"option_index"`
	OptionText  string `json:"option_text" yaml:"option_text"`
	TargetIP    uint32 `json:"target_ip" yaml:"target_ip"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLoopBound sets the per-position visit bound. Zero or less disables
// the guard.
func WithLoopBound(n int) Option {
	return func(e *Engine) { e.loopBound = n }
}

// WithHistoryLimit sets how many dialogue lines the backlog keeps.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) { e.historyLimit = n }
}

// Engine executes a compiled script. It is not safe for concurrent use;
// the compiled script it holds may be shared.
type Engine struct {
	script *bytecode.Script
	state  State
	policy compiler.Policy
	limits script.ResourceLimits

	loopBound    int
	historyLimit int

	visits  map[uint32]int
	read    map[uint32]struct{}
	choices []ChoiceRecord
}

// New compiles raw and boots an engine at its start position.
func New(raw *script.Script, policy compiler.Policy, limits script.ResourceLimits, opts ...Option) (*Engine, error) {
	cs, err := compiler.Compile(raw, policy, limits)
	if err != nil {
		return nil, err
	}
	return newEngine(cs, policy, limits, opts), nil
}

// FromCompiled boots an engine from an already compiled script. The script
// is validated and its ext_call commands are checked against policy.
func FromCompiled(cs *bytecode.Script, policy compiler.Policy, limits script.ResourceLimits, opts ...Option) (*Engine, error) {
	if cs == nil {
		return nil, vnerr.InvalidScript("nil compiled script")
	}
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	if limits.MaxEvents > 0 && cs.Len() > limits.MaxEvents {
		return nil, vnerr.ResourceLimit("events")
	}
	for ip, ev := range cs.Events {
		if call, ok := ev.(*bytecode.ExtCall); ok && !policy.AllowsCommand(call.Command) {
			return nil, vnerr.SecurityPolicy("event %d: ext_call command %q not allowed", ip, call.Command)
		}
	}
	return newEngine(cs, policy, limits, opts), nil
}

func newEngine(cs *bytecode.Script, policy compiler.Policy, limits script.ResourceLimits, opts []Option) *Engine {
	e := &Engine{
		script:       cs,
		state:        NewState(cs.StartIP, cs.FlagCount),
		policy:       policy,
		limits:       limits,
		loopBound:    DefaultLoopBound,
		historyLimit: DefaultHistoryLimit,
		visits:       make(map[uint32]int),
		read:         make(map[uint32]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Script returns the compiled script.
func (e *Engine) Script() *bytecode.Script { return e.script }

// State returns a copy of the engine state.
func (e *Engine) State() State { return e.state.Clone() }

// VisualState returns a copy of the current visual state.
func (e *Engine) VisualState() VisualState { return e.state.Visual.Clone() }

// Position returns the instruction pointer.
func (e *Engine) Position() uint32 { return e.state.Position }

// Policy returns the security policy the engine was booted with.
func (e *Engine) Policy() compiler.Policy { return e.policy }

// Ended reports whether the instruction pointer is past the last event.
func (e *Engine) Ended() bool {
	return int64(e.state.Position) >= int64(e.script.Len())
}

// Restore replaces the engine state, typically with one loaded from a save.
// Position may equal the script length (ended) but not exceed it.
func (e *Engine) Restore(st State) error {
	if int64(st.Position) > int64(e.script.Len()) {
		return vnerr.InvalidScript("restore: position %d beyond %d events", st.Position, e.script.Len())
	}
	e.state = st.Clone()
	return nil
}

// CurrentEvent returns the event at the instruction pointer.
func (e *Engine) CurrentEvent() (bytecode.Event, error) {
	ev := e.script.Event(e.state.Position)
	if ev == nil {
		return nil, vnerr.EndOfScript(e.state.Position)
	}
	return ev, nil
}

// Step executes the current event. Choice and ExtCall events do not
// advance and are not counted as visits; the host answers them with Choose
// and Resume. On error the state is unchanged.
func (e *Engine) Step() ([]AudioCommand, StateChange, error) {
	p := e.state.Position
	ev, err := e.CurrentEvent()
	if err != nil {
		return nil, StateChange{}, err
	}
	switch ev.(type) {
	case *bytecode.Choice, *bytecode.ExtCall:
		return nil, StateChange{IP: p, Event: ev, Position: p}, nil
	}
	if e.loopBound > 0 && e.visits[p] >= e.loopBound {
		log.Warningf("loop guard tripped at %d after %d visits", p, e.visits[p])
		return nil, StateChange{}, vnerr.ResourceLimit("loop")
	}

	var audio []AudioCommand
	next := p + 1
	switch ev := ev.(type) {
	case *bytecode.Dialogue:
		e.state.PushHistory(DialogueLine{Speaker: ev.Speaker, Text: ev.Text}, e.historyLimit)
		e.read[p] = struct{}{}

	case *bytecode.Scene:
		visual, cmds := ApplyScene(e.state.Visual, ev)
		if err := e.checkCharacters(visual); err != nil {
			return nil, StateChange{}, err
		}
		e.state.Visual, audio = visual, cmds

	case *bytecode.Patch:
		visual, cmds := ApplyPatch(e.state.Visual, ev)
		if err := e.checkCharacters(visual); err != nil {
			return nil, StateChange{}, err
		}
		e.state.Visual, audio = visual, cmds

	case *bytecode.Jump:
		next = ev.Target

	case *bytecode.SetFlag:
		e.state.SetFlag(ev.Flag, ev.Value)

	case *bytecode.SetVar:
		e.state.SetVar(ev.Var, ev.Value)

	case *bytecode.JumpIf:
		if e.Eval(ev.Cond) {
			next = ev.Target
		}

	default:
		return nil, StateChange{}, vnerr.InvalidScript("event %d: unsupported event %T", p, ev)
	}

	e.visits[p]++
	e.state.Position = next
	return audio, StateChange{IP: p, Event: ev, Position: next}, nil
}

func (e *Engine) checkCharacters(v VisualState) error {
	if e.limits.MaxCharacters > 0 && len(v.Characters) > e.limits.MaxCharacters {
		return vnerr.ResourceLimit("characters")
	}
	return nil
}

// Eval evaluates a condition against the current state. Unset variables
// read as zero.
func (e *Engine) Eval(c bytecode.Cond) bool {
	switch c.Kind {
	case script.CondFlag:
		return e.state.Flag(c.ID) == c.IsSet
	case script.CondVarCmp:
		v, _ := e.state.Var(c.ID)
		return c.Op.Eval(v, c.Value)
	}
	return false
}

// Choose resolves the choice at the instruction pointer by jumping to the
// target of option idx.
func (e *Engine) Choose(idx int) error {
	p := e.state.Position
	ev, err := e.CurrentEvent()
	if err != nil {
		return err
	}
	choice, ok := ev.(*bytecode.Choice)
	if !ok {
		return vnerr.InvalidChoice("event %d is %s, not a choice", p, ev.Kind())
	}
	if idx < 0 || idx >= len(choice.Options) {
		return vnerr.InvalidChoice("option %d out of range (%d options)", idx, len(choice.Options))
	}
	opt := choice.Options[idx]
	e.choices = append(e.choices, ChoiceRecord{
		EventIP:     p,
		OptionIndex: idx,
		OptionText:  opt.Text,
		TargetIP:    opt.Target,
	})
	e.visits[p]++
	e.state.Position = opt.Target
	return nil
}

// Resume advances past the ext_call at the instruction pointer once the
// host has performed it.
func (e *Engine) Resume() error {
	p := e.state.Position
	ev, err := e.CurrentEvent()
	if err != nil {
		return err
	}
	if _, ok := ev.(*bytecode.ExtCall); !ok {
		return vnerr.InvalidChoice("resume: event %d is %s, not ext_call", p, ev.Kind())
	}
	e.visits[p]++
	e.state.Position = p + 1
	return nil
}

// JumpToLabel moves the instruction pointer to a label. It works after the
// script has ended.
func (e *Engine) JumpToLabel(name string) error {
	ip, ok := e.script.Labels[name]
	if !ok {
		return vnerr.InvalidScript("unknown label %q", name)
	}
	log.Debugf("jump to label %q at %d", name, ip)
	e.state.Position = ip
	return nil
}

// IsRead reports whether the dialogue at ip has been stepped.
func (e *Engine) IsRead(ip uint32) bool {
	_, ok := e.read[ip]
	return ok
}

// IsCurrentRead reports whether the current event is an already read
// dialogue.
func (e *Engine) IsCurrentRead() bool {
	return e.IsRead(e.state.Position)
}

// MarkRead records ips as read, e.g. from a persistent read log.
func (e *Engine) MarkRead(ips ...uint32) {
	for _, ip := range ips {
		e.read[ip] = struct{}{}
	}
}

// ReadPositions returns the read dialogue positions in order.
func (e *Engine) ReadPositions() []uint32 {
	out := make([]uint32, 0, len(e.read))
	for ip := range e.read {
		out = append(out, ip)
	}
	slices.Sort(out)
	return out
}

// ChoiceHistory returns the choices made so far, oldest first.
func (e *Engine) ChoiceHistory() []ChoiceRecord {
	return slices.Clone(e.choices)
}

// Visited returns every position executed or chosen from, in order.
func (e *Engine) Visited() []uint32 {
	out := make([]uint32, 0, len(e.visits))
	for ip := range e.visits {
		out = append(out, ip)
	}
	slices.Sort(out)
	return out
}

// VisitCount returns how many times the event at ip has executed. A
// choice or ext_call counts once per Choose or Resume.
func (e *Engine) VisitCount(ip uint32) int {
	return e.visits[ip]
}
