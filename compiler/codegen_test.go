package compiler

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/novella/pkg/bytecode"
	"github.com/chazu/novella/pkg/vnerr"
	"github.com/chazu/novella/script"
)

func branchScript() *script.Script {
	return script.New([]script.Event{
		&script.SetVar{Key: "counter", Value: 2},
		&script.JumpIf{Cond: script.VarCond("counter", script.OpGt, 1), Target: "branch"},
		&script.Dialogue{Speaker: "Narrator", Text: "Skipped"},
		&script.Dialogue{Speaker: "Narrator", Text: "Branch hit"},
	}, map[string]int{"start": 0, "branch": 3})
}

func compileDefault(t *testing.T, raw *script.Script) *bytecode.Script {
	t.Helper()
	cs, err := Compile(raw, DefaultPolicy(), script.DefaultLimits())
	require.NoError(t, err)
	return cs
}

func TestCompileResolvesLabels(t *testing.T) {
	cs := compileDefault(t, branchScript())

	require.Equal(t, 4, cs.Len())
	assert.Equal(t, uint32(0), cs.StartIP)
	assert.Equal(t, uint32(0), cs.FlagCount)
	assert.Equal(t, uint32(1), cs.VarCount)
	assert.Equal(t, map[string]uint32{"start": 0, "branch": 3}, cs.Labels)

	ji, ok := cs.Events[1].(*bytecode.JumpIf)
	require.True(t, ok, "event 1 is %T", cs.Events[1])
	assert.Equal(t, uint32(3), ji.Target)
	assert.Equal(t, bytecode.Cond{Kind: script.CondVarCmp, ID: 0, Op: script.OpGt, Value: 1}, ji.Cond)
}

func TestCompileStartLabel(t *testing.T) {
	raw := script.New([]script.Event{
		&script.Dialogue{Speaker: "A", Text: "one"},
		&script.Dialogue{Speaker: "A", Text: "two"},
	}, map[string]int{"start": 1})
	assert.Equal(t, uint32(1), compileDefault(t, raw).StartIP)

	raw = script.New([]script.Event{&script.Dialogue{Speaker: "A", Text: "one"}}, nil)
	assert.Equal(t, uint32(0), compileDefault(t, raw).StartIP)
}

func TestCompileAssignsIDsInDiscoveryOrder(t *testing.T) {
	raw := script.New([]script.Event{
		&script.SetFlag{Key: "met_ben", Value: true},
		&script.JumpIf{Cond: script.FlagCond("met_ava", true), Target: "end"},
		&script.SetFlag{Key: "met_ava", Value: false},
		&script.SetVar{Key: "gold", Value: 3},
		&script.JumpIf{Cond: script.VarCond("trust", script.OpLe, 0), Target: "end"},
		&script.SetVar{Key: "gold", Value: 4},
		&script.Dialogue{Speaker: "A", Text: "end"},
	}, map[string]int{"end": 6})

	c := New(DefaultPolicy(), script.DefaultLimits())
	cs, err := c.Compile(raw)
	require.NoError(t, err)

	assert.Equal(t, []string{"met_ben", "met_ava"}, c.FlagNames())
	assert.Equal(t, []string{"gold", "trust"}, c.VarNames())
	assert.Equal(t, uint32(2), cs.FlagCount)
	assert.Equal(t, uint32(2), cs.VarCount)
	assert.Equal(t, uint32(1), cs.Events[2].(*bytecode.SetFlag).Flag)
	assert.Equal(t, uint32(0), cs.Events[5].(*bytecode.SetVar).Var)
}

func TestCompileIsDeterministic(t *testing.T) {
	first, err := compileDefault(t, branchScript()).Serialize()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := compileDefault(t, branchScript()).Serialize()
		require.NoError(t, err)
		require.True(t, bytes.Equal(first, again), "run %d differs", i)
	}
}

func TestCompiledBinaryRoundTrip(t *testing.T) {
	raw := script.New([]script.Event{
		&script.Scene{
			Background: script.Str("bg/room"),
			Music:      script.Str("m1"),
			Characters: []script.CharacterPlacement{{Name: "Ava", Expression: script.Str("smile")}},
		},
		&script.Choice{Prompt: "Where?", Options: []script.ChoiceOption{{Text: "Left", Target: "end"}, {Text: "Right", Target: "end"}}},
		&script.Patch{Remove: []string{"Ava"}, Add: []script.CharacterPlacement{{Name: "Ben"}}},
		&script.ExtCall{Command: "minigame", Args: []string{"poker"}},
		&script.Dialogue{Speaker: "Ava", Text: "Done"},
	}, map[string]int{"start": 0, "end": 4})

	cs := compileDefault(t, raw)
	data, err := cs.Serialize()
	require.NoError(t, err)

	decoded, err := bytecode.Deserialize(data)
	require.NoError(t, err)
	assert.True(t, reflect.DeepEqual(cs.Events, decoded.Events), "events differ after round trip")
	assert.Equal(t, cs.Labels, decoded.Labels)
	assert.Equal(t, cs.StartIP, decoded.StartIP)
	assert.Equal(t, cs.FlagCount, decoded.FlagCount)

	again, err := decoded.Serialize()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestCompileInternsStrings(t *testing.T) {
	raw := script.New([]script.Event{
		&script.Dialogue{Speaker: "Ava", Text: "Hi"},
		&script.Dialogue{Speaker: "Ava", Text: "Hi"},
		&script.Dialogue{Speaker: "Ben", Text: "Ava"},
	}, nil)
	c := New(DefaultPolicy(), script.DefaultLimits())
	_, err := c.Compile(raw)
	require.NoError(t, err)
	assert.Equal(t, 3, c.StringCount())
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name   string
		raw    *script.Script
		policy Policy
		limits script.ResourceLimits
		want   error
	}{
		{
			name: "unknown label",
			raw:  script.New([]script.Event{&script.Jump{Target: "nowhere"}}, nil),
			want: vnerr.ErrInvalidScript,
		},
		{
			name: "unknown choice label",
			raw: script.New([]script.Event{
				&script.Choice{Prompt: "?", Options: []script.ChoiceOption{{Text: "a", Target: "gone"}}},
			}, nil),
			want: vnerr.ErrInvalidScript,
		},
		{
			name: "label out of range",
			raw:  script.New([]script.Event{&script.Dialogue{Speaker: "A", Text: "x"}}, map[string]int{"end": 5}),
			want: vnerr.ErrInvalidScript,
		},
		{
			name: "empty speaker",
			raw:  script.New([]script.Event{&script.Dialogue{Text: "..."}}, nil),
			want: vnerr.ErrSecurityPolicy,
		},
		{
			name:   "ext call not allowed",
			raw:    script.New([]script.Event{&script.ExtCall{Command: "shell"}}, nil),
			policy: Policy{ExtCallAllow: []string{"minigame"}},
			want:   vnerr.ErrSecurityPolicy,
		},
		{
			name:   "too many events",
			raw:    branchScript(),
			limits: script.ResourceLimits{MaxEvents: 2},
			want:   vnerr.ErrResourceLimit,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := tt.limits
			if limits == (script.ResourceLimits{}) {
				limits = script.DefaultLimits()
			}
			_, err := Compile(tt.raw, tt.policy, limits)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestPolicyAllowances(t *testing.T) {
	raw := script.New([]script.Event{
		&script.Dialogue{Text: "narration"},
		&script.ExtCall{Command: "minigame", Args: []string{"poker"}},
	}, nil)
	_, err := Compile(raw, Policy{AllowEmptySpeaker: true, ExtCallAllow: []string{"minigame"}}, script.DefaultLimits())
	require.NoError(t, err)

	assert.True(t, DefaultPolicy().AllowsCommand("anything"))
	assert.False(t, Policy{ExtCallAllow: []string{"a"}}.AllowsCommand("b"))
}

func TestCompileEmptyScript(t *testing.T) {
	cs := compileDefault(t, script.New(nil, map[string]int{"start": 0}))
	assert.Equal(t, 0, cs.Len())
	assert.Equal(t, uint32(0), cs.StartIP)
}

func TestCompileEmptyChoice(t *testing.T) {
	cs := compileDefault(t, script.New([]script.Event{&script.Choice{Prompt: "nothing"}}, nil))
	ch := cs.Events[0].(*bytecode.Choice)
	assert.Empty(t, ch.Options)
}
