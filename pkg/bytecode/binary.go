package bytecode

import (
	"encoding/binary"
	"hash/crc32"
	"math"
	"unicode/utf8"

	"github.com/chazu/novella/pkg/vnerr"
	"github.com/chazu/novella/schema"
	"github.com/chazu/novella/script"
)

// noString marks an absent optional string.
const noString = math.MaxUint32

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

type encoder struct {
	index map[string]uint32
	table []string
	body  []byte
}

func (e *encoder) ref(s string) uint32 {
	if idx, ok := e.index[s]; ok {
		return idx
	}
	idx := uint32(len(e.table))
	e.index[s] = idx
	e.table = append(e.table, s)
	return idx
}

func (e *encoder) u8(v uint8)   { e.body = append(e.body, v) }
func (e *encoder) u32(v uint32) { e.body = binary.LittleEndian.AppendUint32(e.body, v) }
func (e *encoder) str(s string) { e.u32(e.ref(s)) }

func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) opt(s *string) {
	if s == nil {
		e.u32(noString)
		return
	}
	e.str(*s)
}

func (e *encoder) placements(cs []script.CharacterPlacement) {
	e.u32(uint32(len(cs)))
	for _, c := range cs {
		e.str(c.Name)
		e.opt(c.Expression)
		e.opt(c.Position)
	}
}

func (e *encoder) event(ev Event) error {
	e.u8(uint8(ev.Kind()))
	switch v := ev.(type) {
	case *Dialogue:
		e.str(v.Speaker)
		e.str(v.Text)
	case *Choice:
		e.str(v.Prompt)
		e.u32(uint32(len(v.Options)))
		for _, opt := range v.Options {
			e.str(opt.Text)
			e.u32(opt.Target)
		}
	case *Scene:
		e.opt(v.Background)
		e.opt(v.Music)
		e.placements(v.Characters)
	case *Jump:
		e.u32(v.Target)
	case *SetFlag:
		e.u32(v.Flag)
		e.bool(v.Value)
	case *SetVar:
		e.u32(v.Var)
		e.u32(uint32(v.Value))
	case *JumpIf:
		e.u8(uint8(v.Cond.Kind))
		e.u32(v.Cond.ID)
		switch v.Cond.Kind {
		case script.CondFlag:
			e.bool(v.Cond.IsSet)
		case script.CondVarCmp:
			e.u8(uint8(v.Cond.Op))
			e.u32(uint32(v.Cond.Value))
		default:
			return vnerr.BinaryFormat("unknown condition kind %d", v.Cond.Kind)
		}
		e.u32(v.Target)
	case *Patch:
		e.opt(v.Background)
		e.opt(v.Music)
		e.placements(v.Add)
		e.u32(uint32(len(v.Update)))
		for _, c := range v.Update {
			e.str(c.Name)
			e.opt(c.Expression)
			e.opt(c.Position)
		}
		e.u32(uint32(len(v.Remove)))
		for _, name := range v.Remove {
			e.str(name)
		}
	case *ExtCall:
		e.str(v.Command)
		e.u32(uint32(len(v.Args)))
		for _, arg := range v.Args {
			e.str(arg)
		}
	default:
		return vnerr.BinaryFormat("cannot encode event %T", ev)
	}
	return nil
}

// Serialize encodes the script in the VNSC binary format.
func (s *Script) Serialize() ([]byte, error) {
	enc := &encoder{index: make(map[string]uint32)}
	for ip, ev := range s.Events {
		if ev == nil {
			return nil, vnerr.BinaryFormat("event %d is nil", ip)
		}
		if err := enc.event(ev); err != nil {
			return nil, err
		}
	}

	size := 4 + 2 + 4 + len(enc.body) + 4 + 16 + 4
	for _, str := range enc.table {
		size += 4 + len(str)
	}
	buf := make([]byte, 0, size)

	buf = append(buf, schema.ScriptBinaryMagic[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, schema.CompiledFormatVersion)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(enc.table)))
	for _, str := range enc.table {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(str)))
		buf = append(buf, str...)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.Events)))
	buf = append(buf, enc.body...)

	names := s.LabelNames()
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(names)))
	for _, name := range names {
		if len(name) > math.MaxUint16 {
			return nil, vnerr.BinaryFormat("label %q too long", name)
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(name)))
		buf = append(buf, name...)
		buf = binary.LittleEndian.AppendUint32(buf, s.Labels[name])
	}

	buf = binary.LittleEndian.AppendUint32(buf, s.StartIP)
	buf = binary.LittleEndian.AppendUint32(buf, s.FlagCount)
	buf = binary.LittleEndian.AppendUint32(buf, s.VarCount)

	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
	return buf, nil
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

type decoder struct {
	data    []byte
	pos     int
	strings []string
}

func (d *decoder) need(n int, what string) error {
	if n < 0 || d.pos+n > len(d.data) {
		return vnerr.BinaryFormat("unexpected end of script reading %s at pos %d", what, d.pos)
	}
	return nil
}

func (d *decoder) u8(what string) (uint8, error) {
	if err := d.need(1, what); err != nil {
		return 0, err
	}
	v := d.data[d.pos]
	d.pos++
	return v, nil
}

func (d *decoder) u16(what string) (uint16, error) {
	if err := d.need(2, what); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(d.data[d.pos:])
	d.pos += 2
	return v, nil
}

func (d *decoder) u32(what string) (uint32, error) {
	if err := d.need(4, what); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(d.data[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) bool(what string) (bool, error) {
	b, err := d.u8(what)
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, vnerr.BinaryFormat("invalid bool %d reading %s", b, what)
}

func (d *decoder) bytes(n int, what string) ([]byte, error) {
	if err := d.need(n, what); err != nil {
		return nil, err
	}
	v := d.data[d.pos : d.pos+n]
	d.pos += n
	return v, nil
}

// count reads a u32 element count and rejects counts that could not fit in
// the remaining payload, given each element takes at least minSize bytes.
func (d *decoder) count(minSize int, what string) (int, error) {
	n, err := d.u32(what)
	if err != nil {
		return 0, err
	}
	if uint64(n)*uint64(minSize) > uint64(len(d.data)-d.pos) {
		return 0, vnerr.BinaryFormat("%s count %d exceeds payload", what, n)
	}
	return int(n), nil
}

func (d *decoder) str(what string) (string, error) {
	idx, err := d.u32(what)
	if err != nil {
		return "", err
	}
	if uint64(idx) >= uint64(len(d.strings)) {
		return "", vnerr.BinaryFormat("string index %d out of range reading %s", idx, what)
	}
	return d.strings[idx], nil
}

func (d *decoder) opt(what string) (*string, error) {
	idx, err := d.u32(what)
	if err != nil {
		return nil, err
	}
	if idx == noString {
		return nil, nil
	}
	if uint64(idx) >= uint64(len(d.strings)) {
		return nil, vnerr.BinaryFormat("string index %d out of range reading %s", idx, what)
	}
	s := d.strings[idx]
	return &s, nil
}

func (d *decoder) placements(what string) ([]script.CharacterPlacement, error) {
	n, err := d.count(12, what)
	if err != nil {
		return nil, err
	}
	out := make([]script.CharacterPlacement, n)
	for i := range out {
		if out[i].Name, err = d.str(what); err != nil {
			return nil, err
		}
		if out[i].Expression, err = d.opt(what); err != nil {
			return nil, err
		}
		if out[i].Position, err = d.opt(what); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *decoder) event(ip int) (Event, error) {
	op, err := d.u8("opcode")
	if err != nil {
		return nil, err
	}
	switch script.Kind(op) {
	case script.KindDialogue:
		ev := &Dialogue{}
		if ev.Speaker, err = d.str("speaker"); err != nil {
			return nil, err
		}
		if ev.Text, err = d.str("text"); err != nil {
			return nil, err
		}
		return ev, nil

	case script.KindChoice:
		ev := &Choice{}
		if ev.Prompt, err = d.str("prompt"); err != nil {
			return nil, err
		}
		n, err := d.count(8, "options")
		if err != nil {
			return nil, err
		}
		ev.Options = make([]Option, n)
		for i := range ev.Options {
			if ev.Options[i].Text, err = d.str("option text"); err != nil {
				return nil, err
			}
			if ev.Options[i].Target, err = d.u32("option target"); err != nil {
				return nil, err
			}
		}
		return ev, nil

	case script.KindScene:
		ev := &Scene{}
		if ev.Background, err = d.opt("background"); err != nil {
			return nil, err
		}
		if ev.Music, err = d.opt("music"); err != nil {
			return nil, err
		}
		if ev.Characters, err = d.placements("characters"); err != nil {
			return nil, err
		}
		return ev, nil

	case script.KindJump:
		ev := &Jump{}
		if ev.Target, err = d.u32("jump target"); err != nil {
			return nil, err
		}
		return ev, nil

	case script.KindSetFlag:
		ev := &SetFlag{}
		if ev.Flag, err = d.u32("flag id"); err != nil {
			return nil, err
		}
		if ev.Value, err = d.bool("flag value"); err != nil {
			return nil, err
		}
		return ev, nil

	case script.KindSetVar:
		ev := &SetVar{}
		if ev.Var, err = d.u32("var id"); err != nil {
			return nil, err
		}
		v, err := d.u32("var value")
		if err != nil {
			return nil, err
		}
		ev.Value = int32(v)
		return ev, nil

	case script.KindJumpIf:
		ev := &JumpIf{}
		kind, err := d.u8("condition kind")
		if err != nil {
			return nil, err
		}
		ev.Cond.Kind = script.CondKind(kind)
		if ev.Cond.ID, err = d.u32("condition id"); err != nil {
			return nil, err
		}
		switch ev.Cond.Kind {
		case script.CondFlag:
			if ev.Cond.IsSet, err = d.bool("condition is_set"); err != nil {
				return nil, err
			}
		case script.CondVarCmp:
			op, err := d.u8("condition op")
			if err != nil {
				return nil, err
			}
			ev.Cond.Op = script.CmpOp(op)
			if ev.Cond.Op < script.OpEq || ev.Cond.Op > script.OpGe {
				return nil, vnerr.BinaryFormat("event %d: unknown comparison op %d", ip, op)
			}
			v, err := d.u32("condition value")
			if err != nil {
				return nil, err
			}
			ev.Cond.Value = int32(v)
		default:
			return nil, vnerr.BinaryFormat("event %d: unknown condition kind %d", ip, kind)
		}
		if ev.Target, err = d.u32("jump_if target"); err != nil {
			return nil, err
		}
		return ev, nil

	case script.KindPatch:
		ev := &Patch{}
		if ev.Background, err = d.opt("background"); err != nil {
			return nil, err
		}
		if ev.Music, err = d.opt("music"); err != nil {
			return nil, err
		}
		if ev.Add, err = d.placements("patch add"); err != nil {
			return nil, err
		}
		n, err := d.count(12, "patch update")
		if err != nil {
			return nil, err
		}
		ev.Update = make([]script.CharacterPatch, n)
		for i := range ev.Update {
			if ev.Update[i].Name, err = d.str("patch update"); err != nil {
				return nil, err
			}
			if ev.Update[i].Expression, err = d.opt("patch update"); err != nil {
				return nil, err
			}
			if ev.Update[i].Position, err = d.opt("patch update"); err != nil {
				return nil, err
			}
		}
		n, err = d.count(4, "patch remove")
		if err != nil {
			return nil, err
		}
		ev.Remove = make([]string, n)
		for i := range ev.Remove {
			if ev.Remove[i], err = d.str("patch remove"); err != nil {
				return nil, err
			}
		}
		return ev, nil

	case script.KindExtCall:
		ev := &ExtCall{}
		if ev.Command, err = d.str("command"); err != nil {
			return nil, err
		}
		n, err := d.count(4, "args")
		if err != nil {
			return nil, err
		}
		ev.Args = make([]string, n)
		for i := range ev.Args {
			if ev.Args[i], err = d.str("arg"); err != nil {
				return nil, err
			}
		}
		return ev, nil
	}
	return nil, vnerr.BinaryFormat("event %d: unknown opcode %d", ip, op)
}

// Deserialize decodes a VNSC binary, verifying magic, version, checksum
// and every jump target.
func Deserialize(data []byte) (*Script, error) {
	if len(data) < 4+2+4 {
		return nil, vnerr.BinaryFormat("script too short: %d bytes", len(data))
	}
	if [4]byte(data[0:4]) != schema.ScriptBinaryMagic {
		return nil, vnerr.BinaryFormat("magic: expected %q, got %q", schema.ScriptBinaryMagic[:], data[0:4])
	}
	version := binary.LittleEndian.Uint16(data[4:6])
	if version != schema.CompiledFormatVersion {
		return nil, &vnerr.IncompatibleVersionError{
			Artifact: "compiled script",
			Found:    version,
			Expected: schema.CompiledFormatVersion,
		}
	}

	payload := data[:len(data)-4]
	want := binary.LittleEndian.Uint32(data[len(data)-4:])
	if got := crc32.ChecksumIEEE(payload); got != want {
		return nil, vnerr.BinaryFormat("checksum mismatch: stored %08x, computed %08x", want, got)
	}

	d := &decoder{data: payload, pos: 6}

	n, err := d.count(4, "string table")
	if err != nil {
		return nil, err
	}
	d.strings = make([]string, n)
	for i := range d.strings {
		size, err := d.u32("string length")
		if err != nil {
			return nil, err
		}
		raw, err := d.bytes(int(size), "string")
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(raw) {
			return nil, vnerr.BinaryFormat("string %d is not valid utf-8", i)
		}
		d.strings[i] = string(raw)
	}

	n, err = d.count(1, "events")
	if err != nil {
		return nil, err
	}
	s := &Script{Events: make([]Event, n), Labels: make(map[string]uint32)}
	for i := range s.Events {
		if s.Events[i], err = d.event(i); err != nil {
			return nil, err
		}
	}

	n, err = d.count(6, "labels")
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		size, err := d.u16("label length")
		if err != nil {
			return nil, err
		}
		name, err := d.bytes(int(size), "label name")
		if err != nil {
			return nil, err
		}
		ip, err := d.u32("label ip")
		if err != nil {
			return nil, err
		}
		if _, dup := s.Labels[string(name)]; dup {
			return nil, vnerr.BinaryFormat("duplicate label %q", name)
		}
		s.Labels[string(name)] = ip
	}

	if s.StartIP, err = d.u32("start ip"); err != nil {
		return nil, err
	}
	if s.FlagCount, err = d.u32("flag count"); err != nil {
		return nil, err
	}
	if s.VarCount, err = d.u32("variable count"); err != nil {
		return nil, err
	}
	if d.pos != len(payload) {
		return nil, vnerr.BinaryFormat("%d trailing bytes after footer", len(payload)-d.pos)
	}

	if err := s.Validate(); err != nil {
		return nil, vnerr.BinaryFormat("invalid compiled script: %v", err)
	}
	return s, nil
}
