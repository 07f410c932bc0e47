package bytecode

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/chazu/novella/pkg/vnerr"
	"github.com/chazu/novella/script"
)

// Event is one compiled instruction.
type Event interface {
	Kind() script.Kind
}

// Dialogue is a spoken line.
type Dialogue struct {
	Speaker string
	Text    string
}

// Option is a choice branch with a resolved target.
type Option struct {
	Text   string
	Target uint32
}

// Choice suspends until the host picks an option.
type Choice struct {
	Prompt  string
	Options []Option
}

// Scene replaces the visible scene.
type Scene struct {
	Background *string
	Music      *string
	Characters []script.CharacterPlacement
}

// Jump sets the instruction pointer.
type Jump struct {
	Target uint32
}

// SetFlag sets or clears flag bit Flag.
type SetFlag struct {
	Flag  uint32
	Value bool
}

// SetVar stores Value in variable Var.
type SetVar struct {
	Var   uint32
	Value int32
}

// Cond is a resolved JumpIf condition. ID is a flag id for CondFlag and a
// variable id for CondVarCmp.
type Cond struct {
	Kind  script.CondKind
	ID    uint32
	IsSet bool
	Op    script.CmpOp
	Value int32
}

// JumpIf jumps to Target when Cond holds.
type JumpIf struct {
	Cond   Cond
	Target uint32
}

// Patch partially updates the visible scene.
type Patch struct {
	Background *string
	Music      *string
	Add        []script.CharacterPlacement
	Update     []script.CharacterPatch
	Remove     []string
}

// ExtCall suspends until the host resumes.
type ExtCall struct {
	Command string
	Args    []string
}

func (*Dialogue) Kind() script.Kind { return script.KindDialogue }
func (*Choice) Kind() script.Kind   { return script.KindChoice }
func (*Scene) Kind() script.Kind    { return script.KindScene }
func (*Jump) Kind() script.Kind     { return script.KindJump }
func (*SetFlag) Kind() script.Kind  { return script.KindSetFlag }
func (*SetVar) Kind() script.Kind   { return script.KindSetVar }
func (*JumpIf) Kind() script.Kind   { return script.KindJumpIf }
func (*Patch) Kind() script.Kind    { return script.KindPatch }
func (*ExtCall) Kind() script.Kind  { return script.KindExtCall }

// Script is an immutable compiled script. It may be shared by any number
// of engines and analyzers.
type Script struct {
	Events    []Event
	Labels    map[string]uint32
	StartIP   uint32
	FlagCount uint32
	VarCount  uint32
}

// Len returns the number of events.
func (s *Script) Len() int { return len(s.Events) }

// Event returns the event at ip, or nil when ip is out of range.
func (s *Script) Event(ip uint32) Event {
	if int64(ip) >= int64(len(s.Events)) {
		return nil
	}
	return s.Events[ip]
}

// LabelNames returns label names sorted.
func (s *Script) LabelNames() []string {
	names := make([]string, 0, len(s.Labels))
	for name := range s.Labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LabelsAt returns the sorted names of labels that point at ip.
func (s *Script) LabelsAt(ip uint32) []string {
	var names []string
	for _, name := range s.LabelNames() {
		if s.Labels[name] == ip {
			names = append(names, name)
		}
	}
	return names
}

// Targets returns the jump targets carried by ev, in option order.
func Targets(ev Event) []uint32 {
	switch e := ev.(type) {
	case *Jump:
		return []uint32{e.Target}
	case *JumpIf:
		return []uint32{e.Target}
	case *Choice:
		out := make([]uint32, len(e.Options))
		for i, opt := range e.Options {
			out[i] = opt.Target
		}
		return out
	}
	return nil
}

// Validate checks that every target and label is a valid event index and
// that start_ip is in range (or equal to the length for an empty script).
// Flag and variable ids must be below FlagCount and VarCount, and neither
// count may exceed the number of events that reference it.
func (s *Script) Validate() error {
	n := uint64(len(s.Events))
	var flagRefs, varRefs uint64
	for ip, ev := range s.Events {
		if ev == nil {
			return vnerr.InvalidScript("event %d is nil", ip)
		}
		for _, target := range Targets(ev) {
			if uint64(target) >= n {
				return vnerr.InvalidScript("event %d: target %d out of range (%d events)", ip, target, n)
			}
		}
		var id, count uint32
		switch e := ev.(type) {
		case *SetFlag:
			id, count = e.Flag, s.FlagCount
			flagRefs++
		case *SetVar:
			id, count = e.Var, s.VarCount
			varRefs++
		case *JumpIf:
			id = e.Cond.ID
			if e.Cond.Kind == script.CondFlag {
				count = s.FlagCount
				flagRefs++
			} else {
				count = s.VarCount
				varRefs++
			}
		default:
			continue
		}
		if id >= count {
			return vnerr.InvalidScript("event %d: %s id %d out of range (count %d)", ip, ev.Kind(), id, count)
		}
	}
	if uint64(s.FlagCount) > flagRefs {
		return vnerr.InvalidScript("flag count %d exceeds %d flag reference(s)", s.FlagCount, flagRefs)
	}
	if uint64(s.VarCount) > varRefs {
		return vnerr.InvalidScript("variable count %d exceeds %d variable reference(s)", s.VarCount, varRefs)
	}
	for name, ip := range s.Labels {
		if uint64(ip) >= n && !(n == 0 && ip == 0) {
			return vnerr.InvalidScript("label %q: ip %d out of range (%d events)", name, ip, n)
		}
	}
	if uint64(s.StartIP) > n || (uint64(s.StartIP) == n && n != 0) {
		return vnerr.InvalidScript("start ip %d out of range (%d events)", s.StartIP, n)
	}
	return nil
}

// ID returns SHA-256 of the binary encoding.
func (s *Script) ID() ([32]byte, error) {
	data, err := s.Serialize()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// IDOf hashes an already-encoded script.
func IDOf(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// IDHex formats a script id.
func IDHex(id [32]byte) string {
	return hex.EncodeToString(id[:])
}
