package vnerr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelsMatchByCode(t *testing.T) {
	err := fmt.Errorf("loading: %w", EndOfScript(7))
	assert.ErrorIs(t, err, ErrEndOfScript)
	assert.NotErrorIs(t, err, ErrInvalidChoice)
	assert.Equal(t, CodeEndOfScript, CodeOf(err))
	assert.EqualError(t, EndOfScript(7), "vn.end_of_script: end of script at position 7")

	assert.ErrorIs(t, AuthenticationFailed("mac mismatch"), ErrAuthenticationFailed)
	assert.NotErrorIs(t, InvalidScript("x"), ErrAuthenticationFailed)
}

func TestSerializationCarriesSpan(t *testing.T) {
	err := Serialization("invalid script json", &Span{Line: 3, Column: 9, Offset: 41}, io.ErrUnexpectedEOF)
	assert.EqualError(t, err, "vn.serialization: invalid script json at 3:9: unexpected EOF")
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, ErrSerialization)

	var verr *Error
	if assert.True(t, errors.As(err, &verr)) {
		assert.Equal(t, int64(41), verr.Span.Offset)
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), CodeUnknown},
		{"coded", ResourceLimit("events: 3 > 2"), CodeResourceLimit},
		{"wrapped", fmt.Errorf("compile: %w", SecurityPolicy("event %d", 1)), CodeSecurityPolicy},
		{"version", &IncompatibleVersionError{Artifact: "save", Found: 9, Expected: 1}, CodeIncompatible},
		{"mismatch", ScriptMismatch("save belongs to %s", "ab"), CodeScriptMismatch},
		{"recovery", &RecoveryError{Slot: "slot_001", Primary: errors.New("bad")}, CodeRecoveryFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestRecoveryErrorUnwrapsBoth(t *testing.T) {
	primary := BinaryFormat("bad magic")
	backup := AuthenticationFailed("mac mismatch")
	err := &RecoveryError{Slot: "quicksave", Primary: primary, Backup: backup}

	assert.ErrorIs(t, err, ErrBinaryFormat)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Contains(t, err.Error(), "backup failed")

	noBackup := &RecoveryError{Slot: "quicksave", Primary: primary}
	assert.Contains(t, noBackup.Error(), "no backup")
	assert.NotErrorIs(t, noBackup, ErrAuthenticationFailed)
}
