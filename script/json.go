package script

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/chazu/novella/pkg/vnerr"
	"github.com/chazu/novella/schema"
)

// Script is a raw story script. Labels map names to event indices.
type Script struct {
	Events []Event
	Labels map[string]int
}

// New builds a script directly. No policy is applied; validation happens
// at compile time.
func New(events []Event, labels map[string]int) *Script {
	if labels == nil {
		labels = map[string]int{}
	}
	return &Script{Events: events, Labels: labels}
}

// LabelNames returns the label names in sorted order.
func (s *Script) LabelNames() []string {
	names := make([]string, 0, len(s.Labels))
	for name := range s.Labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartIndex returns the index of the "start" label, or 0.
func (s *Script) StartIndex() int {
	if idx, ok := s.Labels["start"]; ok {
		return idx
	}
	return 0
}

type envelope struct {
	Version *string           `json:"script_schema_version"`
	Events  []json.RawMessage `json:"events"`
	Labels  map[string]int    `json:"labels"`
}

type outEnvelope struct {
	Version string            `json:"script_schema_version"`
	Events  []json.RawMessage `json:"events"`
	Labels  map[string]int    `json:"labels"`
}

// FromJSON parses a script under the default resource limits.
func FromJSON(input []byte) (*Script, error) {
	return FromJSONWithLimits(input, DefaultLimits())
}

// FromJSONWithLimits parses a script, checks its schema version and
// enforces limits.
func FromJSONWithLimits(input []byte, limits ResourceLimits) (*Script, error) {
	if limits.MaxScriptBytes > 0 && len(input) > limits.MaxScriptBytes {
		return nil, vnerr.ResourceLimit(fmt.Sprintf("script bytes: %d > %d", len(input), limits.MaxScriptBytes))
	}

	var env envelope
	if err := json.Unmarshal(input, &env); err != nil {
		return nil, serializationError(input, err)
	}
	if err := schema.CheckScriptVersion(env.Version); err != nil {
		return nil, err
	}
	if env.Events == nil {
		return nil, vnerr.InvalidScript("missing events")
	}
	if env.Labels == nil {
		return nil, vnerr.InvalidScript("missing labels")
	}

	events := make([]Event, 0, len(env.Events))
	for i, raw := range env.Events {
		ev, err := decodeEvent(raw)
		if err != nil {
			var verr *vnerr.Error
			if errors.As(err, &verr) {
				verr.Msg = fmt.Sprintf("event %d: %s", i, verr.Msg)
				return nil, verr
			}
			return nil, vnerr.Serialization(fmt.Sprintf("event %d", i), nil, err)
		}
		events = append(events, ev)
	}

	s := &Script{Events: events, Labels: env.Labels}
	if err := limits.Check(s); err != nil {
		return nil, err
	}
	return s, nil
}

// ToJSON emits the canonical JSON form: events in order, labels sorted,
// current schema version.
func (s *Script) ToJSON() ([]byte, error) {
	out := outEnvelope{
		Version: schema.ScriptSchemaVersion,
		Events:  make([]json.RawMessage, 0, len(s.Events)),
		Labels:  s.Labels,
	}
	if out.Labels == nil {
		out.Labels = map[string]int{}
	}
	for i, ev := range s.Events {
		data, err := MarshalEvent(ev)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		out.Events = append(out.Events, data)
	}
	return json.Marshal(out)
}

// MarshalJSON encodes s in its canonical wire form.
func (s *Script) MarshalJSON() ([]byte, error) {
	return s.ToJSON()
}

// UnmarshalJSON parses the wire form under the default limits.
func (s *Script) UnmarshalJSON(data []byte) error {
	parsed, err := FromJSON(data)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// MarshalEvent encodes one event with its "type" tag first.
func MarshalEvent(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("nil event")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(`{"type":"`)
	buf.WriteString(ev.Kind().String())
	buf.WriteByte('"')
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalEvent decodes one tagged event.
func UnmarshalEvent(data []byte) (Event, error) {
	return decodeEvent(data)
}

func decodeEvent(raw json.RawMessage) (Event, error) {
	var head struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	if head.Type == nil {
		return nil, vnerr.InvalidScript("missing type tag")
	}
	kind, ok := KindFromTag(*head.Type)
	if !ok {
		return nil, vnerr.InvalidScript("unknown event type %q", *head.Type)
	}

	var ev Event
	switch kind {
	case KindDialogue:
		ev = &Dialogue{}
	case KindChoice:
		ev = &Choice{}
	case KindScene:
		ev = &Scene{}
	case KindJump:
		ev = &Jump{}
	case KindSetFlag:
		ev = &SetFlag{}
	case KindSetVar:
		ev = &SetVar{}
	case KindJumpIf:
		ev = &JumpIf{}
	case KindPatch:
		ev = &Patch{}
	case KindExtCall:
		ev = &ExtCall{}
	}
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

type condJSON struct {
	Kind  string `json:"kind"`
	Key   string `json:"key"`
	IsSet *bool  `json:"is_set,omitempty"`
	Op    string `json:"op,omitempty"`
	Value *int32 `json:"value,omitempty"`
}

// MarshalJSON encodes the condition with its "kind" tag.
func (c Cond) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case CondFlag:
		isSet := c.IsSet
		return json.Marshal(condJSON{Kind: "flag", Key: c.Key, IsSet: &isSet})
	case CondVarCmp:
		value := c.Value
		return json.Marshal(condJSON{Kind: "var_cmp", Key: c.Key, Op: c.Op.String(), Value: &value})
	}
	return nil, fmt.Errorf("unknown condition kind %d", c.Kind)
}

// UnmarshalJSON decodes a tagged condition.
func (c *Cond) UnmarshalJSON(data []byte) error {
	var raw condJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case "flag":
		if raw.IsSet == nil {
			return vnerr.InvalidScript("flag condition missing is_set")
		}
		*c = FlagCond(raw.Key, *raw.IsSet)
	case "var_cmp":
		op, ok := ParseCmpOp(raw.Op)
		if !ok {
			return vnerr.InvalidScript("unknown comparison operator %q", raw.Op)
		}
		if raw.Value == nil {
			return vnerr.InvalidScript("var_cmp condition missing value")
		}
		*c = VarCond(raw.Key, op, *raw.Value)
	default:
		return vnerr.InvalidScript("unknown condition kind %q", raw.Kind)
	}
	return nil
}

func serializationError(input []byte, err error) error {
	var offset int64 = -1
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syn):
		offset = syn.Offset
	case errors.As(err, &typ):
		offset = typ.Offset
	}
	if offset < 0 {
		return vnerr.Serialization("invalid script json", nil, err)
	}
	span := SpanAt(input, offset)
	return vnerr.Serialization("invalid script json", &span, err)
}

// SpanAt converts a byte offset into a 1-based line/column span.
func SpanAt(input []byte, offset int64) vnerr.Span {
	if offset > int64(len(input)) {
		offset = int64(len(input))
	}
	line, col := 1, 1
	for _, b := range input[:offset] {
		if b == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return vnerr.Span{Line: line, Column: col, Offset: offset}
}
