package save

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/novella/compiler"
	"github.com/chazu/novella/pkg/vnerr"
	"github.com/chazu/novella/schema"
	"github.com/chazu/novella/script"
	"github.com/chazu/novella/vm"
)

func sampleData() *Data {
	st := vm.NewState(7, 3)
	st.SetFlag(2, true)
	st.SetVar(1, 42)
	st.Visual.Background = script.Str("bg/old_town-square.png")
	st.Visual.Music = script.Str("m1")
	st.Visual.Characters = []script.CharacterPlacement{{Name: "Ava", Expression: script.Str("smile")}, {Name: "Ben"}}
	st.PushHistory(vm.DialogueLine{Speaker: "Ava", Text: "Welcome back."}, vm.DefaultHistoryLimit)

	d := &Data{State: st}
	for i := range d.ScriptID {
		d.ScriptID[i] = byte(i)
	}
	return d
}

func TestBinaryRoundTrip(t *testing.T) {
	d := sampleData()
	data, err := d.ToBinary()
	require.NoError(t, err)
	assert.Equal(t, "VNSV", string(data[:4]))
	assert.False(t, IsAuthenticated(data))

	got, err := FromBinary(data)
	require.NoError(t, err)
	assert.Equal(t, d, got)

	again, err := got.ToBinary()
	require.NoError(t, err)
	assert.Equal(t, data, again, "canonical encoding is stable")
}

func TestAuthenticatedRoundTrip(t *testing.T) {
	key := []byte("secret key")
	d := sampleData()
	data, err := d.ToAuthenticatedBinary(key)
	require.NoError(t, err)
	assert.True(t, IsAuthenticated(data))

	got, err := FromAuthenticatedBinary(data, key)
	require.NoError(t, err)
	assert.Equal(t, d, got)

	_, err = FromAuthenticatedBinary(data, []byte("other key"))
	assert.True(t, errors.Is(err, vnerr.ErrAuthenticationFailed), "wrong key: %v", err)

	_, err = FromBinary(data)
	assert.True(t, errors.Is(err, vnerr.ErrAuthenticationFailed), "missing key: %v", err)
}

func TestAuthenticatedRejectsAnyFlippedByte(t *testing.T) {
	key := []byte("k")
	data, err := sampleData().ToAuthenticatedBinary(key)
	require.NoError(t, err)

	for i := range data {
		bad := append([]byte(nil), data...)
		bad[i] ^= 0x01
		_, err := FromAuthenticatedBinary(bad, key)
		require.True(t, errors.Is(err, vnerr.ErrAuthenticationFailed), "byte %d: %v", i, err)
	}
}

func TestDecodeErrors(t *testing.T) {
	data, err := sampleData().ToBinary()
	require.NoError(t, err)

	t.Run("magic", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		copy(bad, "VNSC")
		_, err := FromBinary(bad)
		assert.True(t, errors.Is(err, vnerr.ErrBinaryFormat))
		assert.Contains(t, err.Error(), "magic")
	})

	t.Run("stale version", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		binary.LittleEndian.PutUint16(bad[4:], 0)
		_, err := FromBinary(bad)
		var iv *vnerr.IncompatibleVersionError
		require.True(t, errors.As(err, &iv), "err = %v", err)
		assert.Equal(t, uint16(0), iv.Found)
		assert.Equal(t, schema.SaveFormatVersion, iv.Expected)
	})

	t.Run("body length overflow", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		binary.LittleEndian.PutUint32(bad[8:], 1<<31)
		_, err := FromBinary(bad)
		assert.True(t, errors.Is(err, vnerr.ErrBinaryFormat))
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := FromBinary(data[:10])
		assert.True(t, errors.Is(err, vnerr.ErrBinaryFormat))
	})

	t.Run("corrupt state", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[headerSize+idSize] = 0xFF
		_, err := FromBinary(bad)
		assert.True(t, errors.Is(err, vnerr.ErrBinaryFormat), "err = %v", err)
	})
}

func TestEngineStateSurvivesSave(t *testing.T) {
	raw := script.New([]script.Event{
		&script.SetFlag{Key: "a", Value: false},
		&script.SetFlag{Key: "b", Value: false},
		&script.SetFlag{Key: "c", Value: true},
		&script.SetVar{Key: "x", Value: 0},
		&script.SetVar{Key: "y", Value: 42},
		&script.Dialogue{Speaker: "A", Text: "one"},
		&script.Dialogue{Speaker: "A", Text: "two"},
		&script.Dialogue{Speaker: "A", Text: "three"},
	}, nil)
	e, err := vm.New(raw, compiler.DefaultPolicy(), script.DefaultLimits())
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		_, _, err := e.Step()
		require.NoError(t, err)
	}
	id, err := e.Script().ID()
	require.NoError(t, err)

	store, err := NewSlotStore(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = store.Save(1, &Data{ScriptID: id, State: e.State()})
	require.NoError(t, err)

	loaded, err := store.Load(1)
	require.NoError(t, err)
	assert.Equal(t, id, loaded.ScriptID)

	restored, err := vm.FromCompiled(e.Script(), compiler.DefaultPolicy(), script.DefaultLimits())
	require.NoError(t, err)
	require.NoError(t, loaded.RestoreInto(restored))

	st := restored.State()
	assert.Equal(t, uint32(7), st.Position)
	assert.True(t, st.Flag(2))
	v, ok := st.Var(1)
	assert.True(t, ok)
	assert.Equal(t, int32(42), v)
	assert.Equal(t, e.State(), st)
}

func TestRestoreRejectsOtherScript(t *testing.T) {
	boot := func(text string) *vm.Engine {
		raw := script.New([]script.Event{
			&script.Dialogue{Speaker: "A", Text: text},
			&script.Dialogue{Speaker: "A", Text: "bye"},
		}, nil)
		e, err := vm.New(raw, compiler.DefaultPolicy(), script.DefaultLimits())
		require.NoError(t, err)
		return e
	}
	first, second := boot("one"), boot("two")
	_, _, err := first.Step()
	require.NoError(t, err)

	id, err := first.Script().ID()
	require.NoError(t, err)
	d := &Data{ScriptID: id, State: first.State()}
	require.NoError(t, d.ValidateScriptID(id))

	err = d.RestoreInto(second)
	assert.ErrorIs(t, err, vnerr.ErrScriptMismatch)
	assert.Equal(t, vnerr.CodeScriptMismatch, vnerr.CodeOf(err))
	assert.Equal(t, uint32(0), second.Position(), "state untouched on mismatch")

	fresh := boot("one")
	require.NoError(t, d.RestoreInto(fresh))
	assert.Equal(t, uint32(1), fresh.Position())
}

func TestSlotStoreRecoversFromBackup(t *testing.T) {
	store, err := NewSlotStore(t.TempDir(), []byte("key"))
	require.NoError(t, err)

	first := sampleData()
	_, err = store.Save(3, first)
	require.NoError(t, err)

	second := sampleData()
	second.State.Position = 99
	_, err = store.Save(3, second)
	require.NoError(t, err)

	got, err := store.Load(3)
	require.NoError(t, err)
	assert.Equal(t, uint32(99), got.State.Position)

	require.NoError(t, os.WriteFile(store.SlotPath(3), []byte("garbage"), 0o644))
	got, err = store.Load(3)
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

func TestSlotStoreRecoveryFailsWithoutBackup(t *testing.T) {
	store, err := NewSlotStore(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = store.QuickSave(sampleData())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(store.SlotPath(QuickSlot), []byte("VNSV\x00\x00"), 0o644))
	_, err = store.QuickLoad()

	var re *vnerr.RecoveryError
	require.True(t, errors.As(err, &re), "err = %v", err)
	assert.Nil(t, re.Backup)
	assert.True(t, errors.Is(re.Primary, vnerr.ErrBinaryFormat))
	assert.Equal(t, vnerr.CodeRecoveryFailed, vnerr.CodeOf(err))
}

func TestSlotStoreRecoveryReportsBothFailures(t *testing.T) {
	store, err := NewSlotStore(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = store.Save(0, sampleData())
	require.NoError(t, err)
	_, err = store.Save(0, sampleData())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(store.SlotPath(0), []byte("bad"), 0o644))
	require.NoError(t, os.WriteFile(store.SlotPath(0)+".bak", []byte("worse"), 0o644))

	_, err = store.Load(0)
	var re *vnerr.RecoveryError
	require.True(t, errors.As(err, &re))
	assert.NotNil(t, re.Backup)
}

func TestSlotStoreMissingSlot(t *testing.T) {
	store, err := NewSlotStore(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = store.Load(5)
	assert.True(t, errors.Is(err, fs.ErrNotExist), "err = %v", err)
	assert.False(t, store.Exists(5))
}

func TestSlotStoreMetadataAndList(t *testing.T) {
	store, err := NewSlotStore(t.TempDir(), nil)
	require.NoError(t, err)
	store.now = func() time.Time { return time.UnixMilli(1700000000000) }

	for _, slot := range []Slot{QuickSlot, 2, 0} {
		_, err := store.Save(slot, sampleData())
		require.NoError(t, err)
	}

	m, err := store.Metadata(2)
	require.NoError(t, err)
	assert.Equal(t, 2, m.SlotID)
	assert.False(t, m.Quick)
	assert.Equal(t, int64(1700000000000), m.UpdatedUnixMs)
	assert.Equal(t, "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f", m.ScriptIDHex)
	assert.Equal(t, uint32(7), m.Position)
	assert.Equal(t, 1, m.FlagsWords)
	assert.Equal(t, 1, m.VarsCount)
	assert.Equal(t, "old town square", m.ChapterLabel)
	assert.Equal(t, "Ava: Welcome back.", m.SummaryLine)
	assert.NotEmpty(t, m.SaveID)

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, 0, list[0].SlotID)
	assert.Equal(t, 2, list[1].SlotID)
	assert.True(t, list[2].Quick)

	require.NoError(t, store.Delete(2))
	assert.False(t, store.Exists(2))
	list, err = store.List()
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestLegacyMetadataDecodes(t *testing.T) {
	legacy := `{"slot_id":4,"quick":false,"updated_unix_ms":5,"script_id_hex":"ab","position":3,"flags_words":1,"vars_count":0}`
	var m Metadata
	require.NoError(t, json.Unmarshal([]byte(legacy), &m))
	assert.Equal(t, 4, m.SlotID)
	assert.Empty(t, m.ChapterLabel)
	assert.Empty(t, m.SummaryLine)
}

func TestSummarize(t *testing.T) {
	long := make([]rune, 120)
	for i := range long {
		long[i] = 'é'
	}
	got := Summarize(string(long))
	assert.Equal(t, summaryLimit+3, len([]rune(got)))
	assert.Equal(t, "a b", Summarize("  a \n b "))
}

func TestParseSlot(t *testing.T) {
	s, err := ParseSlot("quick")
	require.NoError(t, err)
	assert.Equal(t, QuickSlot, s)
	s, err = ParseSlot("12")
	require.NoError(t, err)
	assert.Equal(t, "slot_012", s.String())
	_, err = ParseSlot("-3")
	assert.Error(t, err)
}
