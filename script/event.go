// Package script is the JSON-facing story script model: an ordered list of
// events plus a label map, with symbolic jump targets and string keys.
package script

import "fmt"

// Kind identifies an event in the fixed script vocabulary. The numeric
// values double as opcodes in the compiled binary format.
type Kind uint8

const (
	KindDialogue Kind = iota + 1
	KindChoice
	KindScene
	KindJump
	KindSetFlag
	KindSetVar
	KindJumpIf
	KindPatch
	KindExtCall
)

var kindNames = map[Kind]string{
	KindDialogue: "dialogue",
	KindChoice:   "choice",
	KindScene:    "scene",
	KindJump:     "jump",
	KindSetFlag:  "set_flag",
	KindSetVar:   "set_var",
	KindJumpIf:   "jump_if",
	KindPatch:    "patch",
	KindExtCall:  "ext_call",
}

// String returns the JSON type tag for the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// KindFromTag resolves a JSON type tag.
func KindFromTag(tag string) (Kind, bool) {
	for k, name := range kindNames {
		if name == tag {
			return k, true
		}
	}
	return 0, false
}

// Event is one raw script instruction.
type Event interface {
	Kind() Kind
}

// Dialogue is a spoken line.
type Dialogue struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// ChoiceOption is one selectable branch of a Choice.
type ChoiceOption struct {
	Text   string `json:"text"`
	Target string `json:"target"`
}

// Choice presents options and suspends until one is chosen.
type Choice struct {
	Prompt  string         `json:"prompt"`
	Options []ChoiceOption `json:"options"`
}

// CharacterPlacement puts a character on stage.
type CharacterPlacement struct {
	Name       string  `json:"name" cbor:"1,keyasint"`
	Expression *string `json:"expression,omitempty" cbor:"2,keyasint,omitempty"`
	Position   *string `json:"position,omitempty" cbor:"3,keyasint,omitempty"`
}

// CharacterPatch changes fields of a character already on stage.
type CharacterPatch struct {
	Name       string  `json:"name"`
	Expression *string `json:"expression,omitempty"`
	Position   *string `json:"position,omitempty"`
}

// Scene replaces the visible scene. Nil Background or Music keep the
// current value; Characters always replaces the cast.
type Scene struct {
	Background *string              `json:"background,omitempty"`
	Music      *string              `json:"music,omitempty"`
	Characters []CharacterPlacement `json:"characters"`
}

// Jump moves unconditionally to a label.
type Jump struct {
	Target string `json:"target"`
}

// SetFlag sets or clears a boolean flag.
type SetFlag struct {
	Key   string `json:"key"`
	Value bool   `json:"value"`
}

// SetVar stores an integer variable.
type SetVar struct {
	Key   string `json:"key"`
	Value int32  `json:"value"`
}

// JumpIf moves to a label when Cond holds, otherwise falls through.
type JumpIf struct {
	Cond   Cond   `json:"cond"`
	Target string `json:"target"`
}

// Patch partially updates the visible scene.
type Patch struct {
	Background *string              `json:"background,omitempty"`
	Music      *string              `json:"music,omitempty"`
	Add        []CharacterPlacement `json:"add"`
	Update     []CharacterPatch     `json:"update"`
	Remove     []string             `json:"remove"`
}

// ExtCall hands control to the host until it resumes the engine.
type ExtCall struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

func (*Dialogue) Kind() Kind { return KindDialogue }
func (*Choice) Kind() Kind   { return KindChoice }
func (*Scene) Kind() Kind    { return KindScene }
func (*Jump) Kind() Kind     { return KindJump }
func (*SetFlag) Kind() Kind  { return KindSetFlag }
func (*SetVar) Kind() Kind   { return KindSetVar }
func (*JumpIf) Kind() Kind   { return KindJumpIf }
func (*Patch) Kind() Kind    { return KindPatch }
func (*ExtCall) Kind() Kind  { return KindExtCall }

// CondKind selects between flag and variable conditions.
type CondKind uint8

const (
	CondFlag CondKind = iota + 1
	CondVarCmp
)

// CmpOp is a variable comparison operator.
type CmpOp uint8

const (
	OpEq CmpOp = iota + 1
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

var opNames = [...]string{OpEq: "eq", OpNe: "ne", OpLt: "lt", OpLe: "le", OpGt: "gt", OpGe: "ge"}

func (op CmpOp) String() string {
	if op >= OpEq && op <= OpGe {
		return opNames[op]
	}
	return fmt.Sprintf("CmpOp(%d)", op)
}

// Symbol returns the operator in infix form, e.g. ">=".
func (op CmpOp) Symbol() string {
	switch op {
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	}
	return "?"
}

// ParseCmpOp resolves a JSON operator name.
func ParseCmpOp(s string) (CmpOp, bool) {
	for op := OpEq; op <= OpGe; op++ {
		if opNames[op] == s {
			return op, true
		}
	}
	return 0, false
}

// Eval applies the operator.
func (op CmpOp) Eval(left, right int32) bool {
	switch op {
	case OpEq:
		return left == right
	case OpNe:
		return left != right
	case OpLt:
		return left < right
	case OpLe:
		return left <= right
	case OpGt:
		return left > right
	case OpGe:
		return left >= right
	}
	return false
}

// Cond is a JumpIf condition: either Flag{Key, IsSet} or
// VarCmp{Key, Op, Value}.
type Cond struct {
	Kind  CondKind
	Key   string
	IsSet bool
	Op    CmpOp
	Value int32
}

// FlagCond builds a flag condition.
func FlagCond(key string, isSet bool) Cond {
	return Cond{Kind: CondFlag, Key: key, IsSet: isSet}
}

// VarCond builds a variable comparison.
func VarCond(key string, op CmpOp, value int32) Cond {
	return Cond{Kind: CondVarCmp, Key: key, Op: op, Value: value}
}

// Str returns a pointer to s, for optional event fields.
func Str(s string) *string { return &s }
