// Package vnerr defines the diagnostic error codes surfaced to hosts.
//
// Every failure produced by the script loader, compiler, engine and save
// subsystem carries one of the Code values below. Hosts switch on the code
// (see CodeOf) rather than on message text.
package vnerr

import (
	"errors"
	"fmt"
)

// Code is a stable, host-visible diagnostic identifier.
type Code string

const (
	CodeInvalidScript  Code = "vn.invalid_script"
	CodeEndOfScript    Code = "vn.end_of_script"
	CodeInvalidChoice  Code = "vn.invalid_choice"
	CodeResourceLimit  Code = "vn.resource_limit"
	CodeSecurityPolicy Code = "vn.security_policy"
	CodeSerialization  Code = "vn.serialization"
	CodeBinaryFormat   Code = "vn.binary_format"
	CodeIncompatible   Code = "vn.incompatible_version"
	CodeAuthentication Code = "vn.authentication_failed"
	CodeRecoveryFailed Code = "vn.recovery_failed"
	CodeScriptMismatch Code = "vn.script_mismatch"
	CodeUnknown        Code = "vn.unknown"
)

// Sentinels. errors.Is(err, ErrEndOfScript) matches any *Error with that code.
var (
	ErrInvalidScript        = &Error{Code: CodeInvalidScript}
	ErrEndOfScript          = &Error{Code: CodeEndOfScript}
	ErrInvalidChoice        = &Error{Code: CodeInvalidChoice}
	ErrResourceLimit        = &Error{Code: CodeResourceLimit}
	ErrSecurityPolicy       = &Error{Code: CodeSecurityPolicy}
	ErrSerialization        = &Error{Code: CodeSerialization}
	ErrBinaryFormat         = &Error{Code: CodeBinaryFormat}
	ErrAuthenticationFailed = &Error{Code: CodeAuthentication, Msg: "authentication failed"}
	ErrScriptMismatch       = &Error{Code: CodeScriptMismatch}
)

// Span locates a serialization error in its source text. Line and Column
// are 1-based; Offset is the byte offset.
type Span struct {
	Line   int
	Column int
	Offset int64
}

func (s Span) String() string {
	return fmt.Sprintf("%d:%d", s.Line, s.Column)
}

// Error is the core error type.
type Error struct {
	Code Code
	Msg  string
	Span *Span // set for CodeSerialization when the position is known
	Err  error
}

func (e *Error) Error() string {
	var msg string
	switch {
	case e.Msg != "" && e.Span != nil:
		msg = fmt.Sprintf("%s at %s", e.Msg, e.Span)
	case e.Msg != "":
		msg = e.Msg
	default:
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	if msg == string(e.Code) {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t == ErrAuthenticationFailed {
		return e.Code == CodeAuthentication
	}
	return t.Msg == "" && t.Span == nil && t.Err == nil && t.Code == e.Code
}

// ErrorCode implements the coder interface used by CodeOf.
func (e *Error) ErrorCode() Code { return e.Code }

func newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// InvalidScript reports a static script problem.
func InvalidScript(format string, args ...any) *Error {
	return newf(CodeInvalidScript, format, args...)
}

// ResourceLimit reports that the named limit was exceeded.
func ResourceLimit(what string) *Error {
	return &Error{Code: CodeResourceLimit, Msg: what}
}

// SecurityPolicy reports a policy violation.
func SecurityPolicy(format string, args ...any) *Error {
	return newf(CodeSecurityPolicy, format, args...)
}

// BinaryFormat reports a malformed binary payload.
func BinaryFormat(format string, args ...any) *Error {
	return newf(CodeBinaryFormat, format, args...)
}

// AuthenticationFailed reports a save whose MAC did not verify.
func AuthenticationFailed(format string, args ...any) *Error {
	return newf(CodeAuthentication, format, args...)
}

// ScriptMismatch reports a save written for a different compiled script.
func ScriptMismatch(format string, args ...any) *Error {
	return newf(CodeScriptMismatch, format, args...)
}

// EndOfScript reports a position past the last event.
func EndOfScript(position uint32) *Error {
	return newf(CodeEndOfScript, "end of script at position %d", position)
}

// InvalidChoice reports a bad choose() call.
func InvalidChoice(format string, args ...any) *Error {
	return newf(CodeInvalidChoice, format, args...)
}

// Serialization wraps a decode error with an optional source span.
func Serialization(msg string, span *Span, err error) *Error {
	return &Error{Code: CodeSerialization, Msg: msg, Span: span, Err: err}
}

// IncompatibleVersionError is returned when a binary artifact was written
// with a format version this build cannot read.
type IncompatibleVersionError struct {
	Artifact string
	Found    uint16
	Expected uint16
}

func (e *IncompatibleVersionError) Error() string {
	return fmt.Sprintf("%s: incompatible %s version: found %d, expected %d",
		CodeIncompatible, e.Artifact, e.Found, e.Expected)
}

func (e *IncompatibleVersionError) ErrorCode() Code { return CodeIncompatible }

// RecoveryError is returned when both a slot's primary file and its backup
// are unreadable. Backup is nil when no backup file existed.
type RecoveryError struct {
	Slot    string
	Primary error
	Backup  error
}

func (e *RecoveryError) Error() string {
	if e.Backup == nil {
		return fmt.Sprintf("%s: slot %s: primary failed (%v), no backup", CodeRecoveryFailed, e.Slot, e.Primary)
	}
	return fmt.Sprintf("%s: slot %s: primary failed (%v), backup failed (%v)", CodeRecoveryFailed, e.Slot, e.Primary, e.Backup)
}

func (e *RecoveryError) ErrorCode() Code { return CodeRecoveryFailed }

func (e *RecoveryError) Unwrap() []error {
	if e.Backup == nil {
		return []error{e.Primary}
	}
	return []error{e.Primary, e.Backup}
}

type coder interface {
	ErrorCode() Code
}

// CodeOf returns the diagnostic code of the first coded error in err's
// chain, or CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var c coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return CodeUnknown
}
