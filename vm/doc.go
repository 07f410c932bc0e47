// Package vm executes compiled scripts.
//
// An Engine owns one compiled script and a State: the instruction
// pointer, flag bits, variables, the visible scene and the dialogue
// backlog. Hosts drive it with Step, answer choices with Choose and resume
// external calls with Resume. Visits are counted per position; once a
// position has been visited loop-bound times, stepping it again fails with
// vn.resource_limit. Polling Step at a pending choice or ext_call is not
// a visit.
//
// The scene reducer (VisualState), audio command derivation and asset
// prefetch lookahead live alongside the engine and are pure functions of
// the compiled events.
package vm
