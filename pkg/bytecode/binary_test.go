package bytecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/chazu/novella/pkg/vnerr"
	"github.com/chazu/novella/schema"
	"github.com/chazu/novella/script"
)

func sampleScript() *Script {
	return &Script{
		Events: []Event{
			&Scene{
				Background: script.Str("bg/room"),
				Music:      script.Str("m1"),
				Characters: []script.CharacterPlacement{
					{Name: "Ava", Expression: script.Str("smile")},
					{Name: "Ben", Position: script.Str("left")},
				},
			},
			&Dialogue{Speaker: "Ava", Text: "Hello"},
			&Choice{Prompt: "Go?", Options: []Option{{Text: "Yes", Target: 6}, {Text: "No", Target: 0}}},
			&SetFlag{Flag: 0, Value: true},
			&SetVar{Var: 0, Value: -42},
			&JumpIf{Cond: Cond{Kind: script.CondVarCmp, ID: 0, Op: script.OpGe, Value: -50}, Target: 6},
			&Patch{
				Music:  script.Str("m2"),
				Add:    []script.CharacterPlacement{{Name: "Cid"}},
				Update: []script.CharacterPatch{{Name: "Ava", Expression: script.Str("sad")}},
				Remove: []string{"Ben"},
			},
			&JumpIf{Cond: Cond{Kind: script.CondFlag, ID: 0, IsSet: true}, Target: 9},
			&ExtCall{Command: "minigame", Args: []string{"poker", "Ava"}},
			&Jump{Target: 1},
		},
		Labels:    map[string]uint32{"start": 0, "end": 6, "loop": 1},
		StartIP:   0,
		FlagCount: 1,
		VarCount:  1,
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	s := sampleScript()

	data, err := s.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("VNSC")) {
		t.Errorf("missing VNSC magic: %q", data[:4])
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != schema.CompiledFormatVersion {
		t.Errorf("version = %d, want %d", v, schema.CompiledFormatVersion)
	}

	decoded, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !reflect.DeepEqual(decoded.Events, s.Events) {
		t.Errorf("events differ after round trip")
	}
	if !reflect.DeepEqual(decoded.Labels, s.Labels) {
		t.Errorf("Labels = %v, want %v", decoded.Labels, s.Labels)
	}
	if decoded.StartIP != s.StartIP || decoded.FlagCount != s.FlagCount || decoded.VarCount != s.VarCount {
		t.Errorf("footer = (%d,%d,%d), want (%d,%d,%d)",
			decoded.StartIP, decoded.FlagCount, decoded.VarCount, s.StartIP, s.FlagCount, s.VarCount)
	}

	again, err := decoded.Serialize()
	if err != nil {
		t.Fatalf("re-Serialize: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Error("re-serialization is not byte-equal")
	}
}

func TestSerializeIsDeterministic(t *testing.T) {
	a, err := sampleScript().Serialize()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		b, err := sampleScript().Serialize()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(a, b) {
			t.Fatalf("run %d produced different bytes", i)
		}
	}

	id1, _ := sampleScript().ID()
	id2 := IDOf(a)
	if id1 != id2 {
		t.Errorf("ID() = %x, IDOf = %x", id1, id2)
	}
	if len(IDHex(id1)) != 64 {
		t.Errorf("IDHex length = %d, want 64", len(IDHex(id1)))
	}
}

func TestStringTableInterns(t *testing.T) {
	s := &Script{
		Events: []Event{
			&Dialogue{Speaker: "Ava", Text: "Ava"},
			&Dialogue{Speaker: "Ava", Text: "again"},
		},
		Labels: map[string]uint32{},
	}
	data, err := s.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if n := binary.LittleEndian.Uint32(data[6:10]); n != 2 {
		t.Errorf("string table count = %d, want 2", n)
	}
}

func TestEmptyScriptRoundTrip(t *testing.T) {
	s := &Script{Labels: map[string]uint32{}}
	data, err := s.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if decoded.Len() != 0 || decoded.StartIP != 0 {
		t.Errorf("decoded = %+v, want empty", decoded)
	}
}

func TestDeserializeErrors(t *testing.T) {
	good, err := sampleScript().Serialize()
	if err != nil {
		t.Fatal(err)
	}

	t.Run("magic", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		copy(bad, "XXXX")
		_, err := Deserialize(bad)
		if !errors.Is(err, vnerr.ErrBinaryFormat) {
			t.Errorf("err = %v, want binary format", err)
		}
	})

	t.Run("version", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		binary.LittleEndian.PutUint16(bad[4:], 9)
		_, err := Deserialize(bad)
		var iv *vnerr.IncompatibleVersionError
		if !errors.As(err, &iv) {
			t.Fatalf("err = %v, want IncompatibleVersionError", err)
		}
		if iv.Found != 9 || iv.Expected != schema.CompiledFormatVersion {
			t.Errorf("found/expected = %d/%d", iv.Found, iv.Expected)
		}
	})

	t.Run("checksum", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[20] ^= 0xFF
		_, err := Deserialize(bad)
		if err == nil || !strings.Contains(err.Error(), "checksum") {
			t.Errorf("err = %v, want checksum mismatch", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := Deserialize(good[:8])
		if !errors.Is(err, vnerr.ErrBinaryFormat) {
			t.Errorf("err = %v, want binary format", err)
		}
	})

	t.Run("target out of range", func(t *testing.T) {
		s := &Script{Events: []Event{&Jump{Target: 5}}, Labels: map[string]uint32{}}
		data, err := s.Serialize()
		if err != nil {
			t.Fatal(err)
		}
		_, err = Deserialize(data)
		if !errors.Is(err, vnerr.ErrBinaryFormat) {
			t.Errorf("err = %v, want binary format", err)
		}
	})

	t.Run("flag count beyond references", func(t *testing.T) {
		s := &Script{
			Events:    []Event{&Dialogue{Speaker: "A", Text: "hi"}},
			Labels:    map[string]uint32{},
			FlagCount: math.MaxUint32,
		}
		data, err := s.Serialize()
		if err != nil {
			t.Fatal(err)
		}
		_, err = Deserialize(data)
		if !errors.Is(err, vnerr.ErrBinaryFormat) || !strings.Contains(err.Error(), "flag count") {
			t.Errorf("err = %v, want flag count rejection", err)
		}
	})

	t.Run("variable id beyond count", func(t *testing.T) {
		s := &Script{
			Events:   []Event{&SetVar{Var: 3, Value: 1}},
			Labels:   map[string]uint32{},
			VarCount: 1,
		}
		data, err := s.Serialize()
		if err != nil {
			t.Fatal(err)
		}
		_, err = Deserialize(data)
		if !errors.Is(err, vnerr.ErrBinaryFormat) || !strings.Contains(err.Error(), "out of range") {
			t.Errorf("err = %v, want id out of range", err)
		}
	})

	t.Run("duplicate label", func(t *testing.T) {
		s := &Script{
			Events: []Event{&Dialogue{Speaker: "A", Text: "x"}},
			Labels: map[string]uint32{"aa": 0, "bb": 0},
		}
		data, err := s.Serialize()
		if err != nil {
			t.Fatal(err)
		}
		i := bytes.LastIndex(data[:len(data)-4], []byte("bb"))
		copy(data[i:], "aa")
		binary.LittleEndian.PutUint32(data[len(data)-4:], crc32.ChecksumIEEE(data[:len(data)-4]))
		_, err = Deserialize(data)
		if !errors.Is(err, vnerr.ErrBinaryFormat) || !strings.Contains(err.Error(), "duplicate label") {
			t.Errorf("err = %v, want duplicate label", err)
		}
	})

	t.Run("unknown opcode", func(t *testing.T) {
		s := &Script{Events: []Event{&Jump{Target: 0}}, Labels: map[string]uint32{}}
		data, err := s.Serialize()
		if err != nil {
			t.Fatal(err)
		}
		// magic+version, empty string table, event count, then the opcode.
		data[4+2+4+4] = 0xEE
		binary.LittleEndian.PutUint32(data[len(data)-4:], crc32.ChecksumIEEE(data[:len(data)-4]))
		_, err = Deserialize(data)
		if err == nil || !strings.Contains(err.Error(), "unknown opcode") {
			t.Errorf("err = %v, want unknown opcode", err)
		}
	})
}

func TestValidate(t *testing.T) {
	if err := sampleScript().Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	bad := sampleScript()
	bad.StartIP = 99
	if err := bad.Validate(); err == nil {
		t.Error("expected start ip error")
	}
	bad = sampleScript()
	bad.Labels["nowhere"] = 50
	if err := bad.Validate(); err == nil {
		t.Error("expected label range error")
	}
	bad = sampleScript()
	bad.VarCount = 3
	if err := bad.Validate(); err == nil {
		t.Error("expected variable count error")
	}
	bad = sampleScript()
	bad.Events[3] = &SetFlag{Flag: 1, Value: true}
	if err := bad.Validate(); err == nil {
		t.Error("expected flag id error")
	}
}

func TestDisassemble(t *testing.T) {
	out := sampleScript().DisassembleWithName("sample")
	for _, want := range []string{
		"; === sample ===",
		"start:",
		"0001  dialogue",
		`if var[0] >= -50 -> 0006`,
		"if flag[0] -> 0009",
		"minigame(poker, Ava)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
}
