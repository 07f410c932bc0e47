package vm

import (
	"maps"
	"slices"

	"github.com/chazu/novella/script"
)

// DefaultHistoryLimit is the number of dialogue lines kept in State.History.
const DefaultHistoryLimit = 200

// DialogueLine is one entry of the dialogue backlog.
type DialogueLine struct {
	Speaker string `cbor:"1,keyasint" json:"speaker"`
	Text    string `cbor:"2,keyasint" json:"text"`
}

// State is the mutable, persisted part of an engine.
type State struct {
	Position uint32           `cbor:"1,keyasint" json:"position"`
	Flags    []uint64         `cbor:"2,keyasint" json:"flags"` // bit vector, 64 flags per word
	Vars     map[uint32]int32 `cbor:"3,keyasint" json:"vars"`
	Visual   VisualState      `cbor:"4,keyasint" json:"visual"`
	History  []DialogueLine   `cbor:"5,keyasint" json:"history"`
}

// NewState returns a state at position with room for flagCount flags.
func NewState(position, flagCount uint32) State {
	s := State{
		Position: position,
		Flags:    make([]uint64, flagWords(flagCount)),
	}
	s.Normalize()
	return s
}

func flagWords(n uint32) int {
	return int((uint64(n) + 63) / 64)
}

// Flag reports whether flag id is set. Flags beyond capacity are clear.
func (s *State) Flag(id uint32) bool {
	w := int(id / 64)
	if w >= len(s.Flags) {
		return false
	}
	return s.Flags[w]&(1<<(id%64)) != 0
}

// SetFlag sets or clears flag id, growing the bit vector as needed.
func (s *State) SetFlag(id uint32, v bool) {
	w := int(id / 64)
	if w >= len(s.Flags) {
		if !v {
			return
		}
		s.Flags = append(s.Flags, make([]uint64, w+1-len(s.Flags))...)
	}
	if v {
		s.Flags[w] |= 1 << (id % 64)
	} else {
		s.Flags[w] &^= 1 << (id % 64)
	}
}

// Var returns variable id and whether it has been set.
func (s *State) Var(id uint32) (int32, bool) {
	v, ok := s.Vars[id]
	return v, ok
}

// SetVar stores v in variable id.
func (s *State) SetVar(id uint32, v int32) {
	if s.Vars == nil {
		s.Vars = make(map[uint32]int32)
	}
	s.Vars[id] = v
}

// PushHistory appends a dialogue line, dropping the oldest lines beyond
// limit. A limit of zero or less keeps nothing.
func (s *State) PushHistory(line DialogueLine, limit int) {
	if limit <= 0 {
		s.History = s.History[:0]
		return
	}
	s.History = append(s.History, line)
	if over := len(s.History) - limit; over > 0 {
		s.History = append(s.History[:0], s.History[over:]...)
	}
}

// LastDialogue returns the most recent history line.
func (s *State) LastDialogue() (DialogueLine, bool) {
	if len(s.History) == 0 {
		return DialogueLine{}, false
	}
	return s.History[len(s.History)-1], true
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := State{
		Position: s.Position,
		Flags:    slices.Clone(s.Flags),
		Vars:     maps.Clone(s.Vars),
		Visual:   s.Visual.Clone(),
		History:  slices.Clone(s.History),
	}
	out.Normalize()
	return out
}

// Normalize replaces nil collections with empty ones so decoded and freshly
// built states compare equal.
func (s *State) Normalize() {
	if s.Flags == nil {
		s.Flags = []uint64{}
	}
	if s.Vars == nil {
		s.Vars = map[uint32]int32{}
	}
	if s.Visual.Characters == nil {
		s.Visual.Characters = []script.CharacterPlacement{}
	}
	if s.History == nil {
		s.History = []DialogueLine{}
	}
}
