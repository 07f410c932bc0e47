package dryrun

import (
	"fmt"

	"github.com/chazu/novella/pkg/bytecode"
	"github.com/chazu/novella/script"
)

// CompiledSignature renders the payload of a compiled event. Ids are left
// out so the result matches RawSignature of the event it was lowered from.
func CompiledSignature(ev bytecode.Event) string {
	switch e := ev.(type) {
	case *bytecode.Dialogue:
		return fmt.Sprintf("dialogue|%s|%s", e.Speaker, e.Text)
	case *bytecode.Choice:
		return fmt.Sprintf("choice|%s|%d", e.Prompt, len(e.Options))
	case *bytecode.Scene:
		return sceneSig(e.Background, e.Music, len(e.Characters))
	case *bytecode.Jump:
		return "jump"
	case *bytecode.SetFlag:
		return fmt.Sprintf("set_flag|%t", e.Value)
	case *bytecode.SetVar:
		return fmt.Sprintf("set_var|%d", e.Value)
	case *bytecode.JumpIf:
		if e.Cond.Kind == script.CondFlag {
			return fmt.Sprintf("jump_if|flag|%t", e.Cond.IsSet)
		}
		return fmt.Sprintf("jump_if|var|%s|%d", e.Cond.Op, e.Cond.Value)
	case *bytecode.Patch:
		return patchSig(e.Background, e.Music, len(e.Add), len(e.Update), len(e.Remove))
	case *bytecode.ExtCall:
		return fmt.Sprintf("ext_call|%s|%d", e.Command, len(e.Args))
	}
	return "unknown"
}

// RawSignature renders the payload of a raw event.
func RawSignature(ev script.Event) string {
	switch e := ev.(type) {
	case *script.Dialogue:
		return fmt.Sprintf("dialogue|%s|%s", e.Speaker, e.Text)
	case *script.Choice:
		return fmt.Sprintf("choice|%s|%d", e.Prompt, len(e.Options))
	case *script.Scene:
		return sceneSig(e.Background, e.Music, len(e.Characters))
	case *script.Jump:
		return "jump"
	case *script.SetFlag:
		return fmt.Sprintf("set_flag|%t", e.Value)
	case *script.SetVar:
		return fmt.Sprintf("set_var|%d", e.Value)
	case *script.JumpIf:
		if e.Cond.Kind == script.CondFlag {
			return fmt.Sprintf("jump_if|flag|%t", e.Cond.IsSet)
		}
		return fmt.Sprintf("jump_if|var|%s|%d", e.Cond.Op, e.Cond.Value)
	case *script.Patch:
		return patchSig(e.Background, e.Music, len(e.Add), len(e.Update), len(e.Remove))
	case *script.ExtCall:
		return fmt.Sprintf("ext_call|%s|%d", e.Command, len(e.Args))
	}
	return "unknown"
}

func sceneSig(bg, music *string, chars int) string {
	return fmt.Sprintf("scene|bg=%s|music=%s|chars=%d", optSig(bg), optSig(music), chars)
}

func patchSig(bg, music *string, add, upd, rm int) string {
	return fmt.Sprintf("patch|bg=%s|music=%s|add=%d|upd=%d|rm=%d", optSig(bg), optSig(music), add, upd, rm)
}

func optSig(s *string) string {
	if s == nil {
		return "none"
	}
	return fmt.Sprintf("%q", *s)
}
