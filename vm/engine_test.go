package vm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/novella/assets"
	"github.com/chazu/novella/compiler"
	"github.com/chazu/novella/pkg/bytecode"
	"github.com/chazu/novella/pkg/vnerr"
	"github.com/chazu/novella/script"
)

func newEngineT(t *testing.T, events []script.Event, labels map[string]int, opts ...Option) *Engine {
	t.Helper()
	e, err := New(script.New(events, labels), compiler.DefaultPolicy(), script.DefaultLimits(), opts...)
	require.NoError(t, err)
	return e
}

func say(text string) *script.Dialogue {
	return &script.Dialogue{Speaker: "Narrator", Text: text}
}

// runToEnd steps until the script ends, choosing option 0 and resuming
// ext calls, and returns the dialogue texts seen.
func runToEnd(t *testing.T, e *Engine) []string {
	t.Helper()
	var lines []string
	for i := 0; i < 1000 && !e.Ended(); i++ {
		_, change, err := e.Step()
		require.NoError(t, err)
		switch ev := change.Event.(type) {
		case *bytecode.Dialogue:
			lines = append(lines, ev.Text)
		case *bytecode.Choice:
			require.NoError(t, e.Choose(0))
		case *bytecode.ExtCall:
			require.NoError(t, e.Resume())
		}
	}
	return lines
}

func TestBranchOnVariable(t *testing.T) {
	e := newEngineT(t, []script.Event{
		&script.SetVar{Key: "counter", Value: 2},
		&script.JumpIf{Cond: script.VarCond("counter", script.OpGt, 1), Target: "branch"},
		say("Skipped"),
		say("Branch hit"),
	}, map[string]int{"start": 0, "branch": 3})

	assert.Equal(t, []string{"Branch hit"}, runToEnd(t, e))
	assert.Equal(t, []uint32{0, 1, 3}, e.Visited())
	assert.False(t, e.IsRead(2))
	assert.True(t, e.IsRead(3))
}

func TestJumpIfFalseFallsThrough(t *testing.T) {
	e := newEngineT(t, []script.Event{
		&script.JumpIf{Cond: script.FlagCond("seen", true), Target: "end"},
		say("first time"),
		say("end"),
	}, map[string]int{"end": 2})

	assert.Equal(t, []string{"first time", "end"}, runToEnd(t, e))
}

func TestChooseJumpsToTarget(t *testing.T) {
	e := newEngineT(t, []script.Event{
		&script.Choice{Prompt: "Go?", Options: []script.ChoiceOption{
			{Text: "Yes", Target: "end"},
			{Text: "No", Target: "end"},
		}},
		say("unreachable"),
		say("the end"),
	}, map[string]int{"start": 0, "end": 2})

	_, change, err := e.Step()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), change.Position, "choice does not advance")

	require.NoError(t, e.Choose(1))
	ev, err := e.CurrentEvent()
	require.NoError(t, err)
	assert.Equal(t, &bytecode.Dialogue{Speaker: "Narrator", Text: "the end"}, ev)
	assert.Equal(t, []ChoiceRecord{{EventIP: 0, OptionIndex: 1, OptionText: "No", TargetIP: 2}}, e.ChoiceHistory())
}

func TestChooseErrorsLeaveStateUnchanged(t *testing.T) {
	e := newEngineT(t, []script.Event{
		say("hello"),
		&script.Choice{Prompt: "nothing to pick"},
	}, nil)

	err := e.Choose(0)
	assert.True(t, errors.Is(err, vnerr.ErrInvalidChoice), "not a choice: %v", err)
	assert.Equal(t, uint32(0), e.Position())

	_, _, err = e.Step()
	require.NoError(t, err)
	for _, idx := range []int{-1, 0, 3} {
		err := e.Choose(idx)
		assert.True(t, errors.Is(err, vnerr.ErrInvalidChoice), "idx %d: %v", idx, err)
	}
	assert.Equal(t, uint32(1), e.Position())
	assert.Empty(t, e.ChoiceHistory())
}

func TestSceneThenPatch(t *testing.T) {
	e := newEngineT(t, []script.Event{
		&script.Scene{
			Background: script.Str("bg/room"),
			Music:      script.Str("m1"),
			Characters: []script.CharacterPlacement{{Name: "A"}, {Name: "B"}},
		},
		&script.Patch{Remove: []string{"A"}, Add: []script.CharacterPlacement{{Name: "C"}}},
	}, nil)
	runToEnd(t, e)

	v := e.VisualState()
	assert.Equal(t, []string{"B", "C"}, v.CharacterNames())
	require.NotNil(t, v.Music)
	assert.Equal(t, "m1", *v.Music)
	assert.Equal(t, "bg/room", *v.Background)
}

func TestMusicTransitionCommands(t *testing.T) {
	e := newEngineT(t, []script.Event{
		&script.Scene{Music: script.Str("m1")},
		&script.Scene{Music: script.Str("m2")},
	}, nil)

	var got []AudioCommand
	for !e.Ended() {
		cmds, _, err := e.Step()
		require.NoError(t, err)
		got = append(got, cmds...)
	}
	assert.Equal(t, []AudioCommand{PlayBgmCommand("m1"), StopBgmCommand(), PlayBgmCommand("m2")}, got)
	assert.Equal(t, assets.IDOf("m2"), got[2].Asset)
}

func TestExtCallSuspends(t *testing.T) {
	e := newEngineT(t, []script.Event{
		&script.ExtCall{Command: "minigame", Args: []string{"poker"}},
		say("after"),
	}, nil)

	_, _, err := e.Step()
	require.NoError(t, err)
	ev, err := e.CurrentEvent()
	require.NoError(t, err)
	assert.Equal(t, script.KindExtCall, ev.Kind())

	require.NoError(t, e.Resume())
	ev, err = e.CurrentEvent()
	require.NoError(t, err)
	assert.Equal(t, script.KindDialogue, ev.Kind())

	err = e.Resume()
	assert.True(t, errors.Is(err, vnerr.ErrInvalidChoice))
}

func TestEmptyScriptEnds(t *testing.T) {
	e := newEngineT(t, nil, nil)
	_, err := e.CurrentEvent()
	assert.True(t, errors.Is(err, vnerr.ErrEndOfScript))
	_, _, err = e.Step()
	assert.True(t, errors.Is(err, vnerr.ErrEndOfScript))
	assert.True(t, e.Ended())
}

func TestLoopGuard(t *testing.T) {
	e := newEngineT(t, []script.Event{&script.Jump{Target: "self"}}, map[string]int{"self": 0})

	var err error
	steps := 0
	for ; steps <= DefaultLoopBound+1; steps++ {
		if _, _, err = e.Step(); err != nil {
			break
		}
	}
	require.Error(t, err)
	assert.True(t, errors.Is(err, vnerr.ErrResourceLimit))
	assert.Contains(t, err.Error(), "loop")
	assert.Equal(t, DefaultLoopBound, steps)
}

func TestPollingSuspendedEventsDoesNotTripLoopGuard(t *testing.T) {
	e := newEngineT(t, []script.Event{
		&script.Choice{Prompt: "Wait?", Options: []script.ChoiceOption{{Text: "Go", Target: "call"}}},
		&script.ExtCall{Command: "minigame"},
		say("done"),
	}, map[string]int{"call": 1}, WithLoopBound(2))

	for i := 0; i < 5; i++ {
		_, change, err := e.Step()
		require.NoError(t, err)
		assert.Equal(t, uint32(0), change.Position)
	}
	assert.Equal(t, 0, e.VisitCount(0))
	require.NoError(t, e.Choose(0))
	assert.Equal(t, 1, e.VisitCount(0))

	for i := 0; i < 5; i++ {
		_, _, err := e.Step()
		require.NoError(t, err)
	}
	require.NoError(t, e.Resume())
	assert.Equal(t, 1, e.VisitCount(1))
	assert.Equal(t, uint32(2), e.Position())
}

func TestLoopGuardConfigurable(t *testing.T) {
	e := newEngineT(t, []script.Event{&script.Jump{Target: "self"}}, map[string]int{"self": 0}, WithLoopBound(3))
	for i := 0; i < 3; i++ {
		_, _, err := e.Step()
		require.NoError(t, err)
	}
	_, _, err := e.Step()
	assert.True(t, errors.Is(err, vnerr.ErrResourceLimit))
	assert.Equal(t, 3, e.VisitCount(0))
}

func TestCharacterCapAtRuntime(t *testing.T) {
	raw := script.New([]script.Event{
		&script.Scene{Characters: []script.CharacterPlacement{{Name: "A"}, {Name: "B"}}},
		&script.Patch{Add: []script.CharacterPlacement{{Name: "C"}}},
	}, nil)
	limits := script.DefaultLimits()
	limits.MaxCharacters = 2
	e, err := New(raw, compiler.DefaultPolicy(), limits)
	require.NoError(t, err)

	_, _, err = e.Step()
	require.NoError(t, err)
	_, _, err = e.Step()
	assert.True(t, errors.Is(err, vnerr.ErrResourceLimit))
	assert.Equal(t, uint32(1), e.Position())
	assert.Equal(t, []string{"A", "B"}, e.VisualState().CharacterNames())
}

func TestHistoryLimit(t *testing.T) {
	events := make([]script.Event, 5)
	for i := range events {
		events[i] = say(string(rune('a' + i)))
	}
	e := newEngineT(t, events, nil, WithHistoryLimit(2))
	runToEnd(t, e)

	st := e.State()
	assert.Equal(t, []DialogueLine{{"Narrator", "d"}, {"Narrator", "e"}}, st.History)
}

func TestJumpToLabelAfterEnd(t *testing.T) {
	e := newEngineT(t, []script.Event{say("one"), say("two")}, map[string]int{"start": 0, "two": 1})
	runToEnd(t, e)
	require.True(t, e.Ended())

	require.NoError(t, e.JumpToLabel("two"))
	assert.Equal(t, uint32(1), e.Position())
	assert.True(t, e.IsCurrentRead())

	err := e.JumpToLabel("missing")
	assert.True(t, errors.Is(err, vnerr.ErrInvalidScript))
}

func TestFlagsGrowAndClear(t *testing.T) {
	st := NewState(0, 0)
	assert.False(t, st.Flag(130))
	st.SetFlag(130, true)
	assert.True(t, st.Flag(130))
	assert.Len(t, st.Flags, 3)
	st.SetFlag(130, false)
	assert.False(t, st.Flag(130))
	st.SetFlag(500, false)
	assert.Len(t, st.Flags, 3)
}

func TestRestore(t *testing.T) {
	e := newEngineT(t, []script.Event{say("one"), say("two")}, nil)
	st := NewState(1, 4)
	st.SetFlag(2, true)
	st.SetVar(1, 42)
	require.NoError(t, e.Restore(st))
	assert.Equal(t, st, e.State())

	assert.Error(t, e.Restore(NewState(9, 0)))
}

func TestFromCompiledEnforcesPolicy(t *testing.T) {
	cs, err := compiler.Compile(script.New([]script.Event{&script.ExtCall{Command: "shell"}}, nil),
		compiler.DefaultPolicy(), script.DefaultLimits())
	require.NoError(t, err)

	_, err = FromCompiled(cs, compiler.Policy{ExtCallAllow: []string{"minigame"}}, script.DefaultLimits())
	assert.True(t, errors.Is(err, vnerr.ErrSecurityPolicy))

	e, err := FromCompiled(cs, compiler.DefaultPolicy(), script.DefaultLimits())
	require.NoError(t, err)
	assert.Same(t, cs, e.Script())
}

func TestPeekNextAssets(t *testing.T) {
	e := newEngineT(t, []script.Event{
		say("intro"),
		&script.Scene{
			Background: script.Str("bg/room"),
			Music:      script.Str("m1"),
			Characters: []script.CharacterPlacement{{Name: "Ava", Expression: script.Str("ava/smile")}},
		},
		&script.Patch{Background: script.Str("bg/room"), Update: []script.CharacterPatch{{Name: "Ava", Expression: script.Str("ava/sad")}}},
		&script.Scene{Background: script.Str("bg/far")},
	}, nil)

	assert.Equal(t, []string{"bg/room", "m1", "ava/smile", "ava/sad"}, e.PeekNextAssetPaths(3))
	assert.Equal(t, []assets.ID{
		assets.IDOf("bg/room"), assets.IDOf("m1"), assets.IDOf("Ava"), assets.IDOf("ava/smile"), assets.IDOf("ava/sad"),
	}, e.PeekNextAssets(3))
	assert.Empty(t, e.PeekNextAssetPaths(1))
	assert.Len(t, e.PeekNextAssetPaths(100), 5)
}
