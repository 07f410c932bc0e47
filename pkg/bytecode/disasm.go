package bytecode

import (
	"fmt"
	"strings"

	"github.com/chazu/novella/schema"
	"github.com/chazu/novella/script"
)

// Disassemble returns a human-readable listing of the script.
func (s *Script) Disassemble() string {
	return s.DisassembleWithName("")
}

// DisassembleWithName returns a listing with a name header.
func (s *Script) DisassembleWithName(name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Novella script v%d\n", schema.CompiledFormatVersion))
	sb.WriteString(fmt.Sprintf("; Events: %d  Flags: %d  Vars: %d  Start: %04d\n",
		len(s.Events), s.FlagCount, s.VarCount, s.StartIP))

	if len(s.Labels) > 0 {
		sb.WriteString("; Labels:\n")
		for _, label := range s.LabelNames() {
			sb.WriteString(fmt.Sprintf(";   %-16s %04d\n", label, s.Labels[label]))
		}
	}
	sb.WriteString("\n")

	for ip, ev := range s.Events {
		for _, label := range s.LabelsAt(uint32(ip)) {
			sb.WriteString(label)
			sb.WriteString(":\n")
		}
		sb.WriteString(fmt.Sprintf("%04d  %-10s %s\n", ip, ev.Kind(), Operands(ev)))
	}
	return sb.String()
}

// Operands renders an event's operands for listings and graph labels.
func Operands(ev Event) string {
	switch e := ev.(type) {
	case *Dialogue:
		return fmt.Sprintf("%s: %q", e.Speaker, truncate(e.Text, 40))
	case *Choice:
		parts := make([]string, len(e.Options))
		for i, opt := range e.Options {
			parts[i] = fmt.Sprintf("%q->%04d", truncate(opt.Text, 20), opt.Target)
		}
		return fmt.Sprintf("%q [%s]", truncate(e.Prompt, 30), strings.Join(parts, ", "))
	case *Scene:
		return fmt.Sprintf("bg=%s music=%s chars=%d", optString(e.Background), optString(e.Music), len(e.Characters))
	case *Jump:
		return fmt.Sprintf("-> %04d", e.Target)
	case *SetFlag:
		return fmt.Sprintf("flag[%d] = %t", e.Flag, e.Value)
	case *SetVar:
		return fmt.Sprintf("var[%d] = %d", e.Var, e.Value)
	case *JumpIf:
		return fmt.Sprintf("if %s -> %04d", CondString(e.Cond), e.Target)
	case *Patch:
		return fmt.Sprintf("bg=%s music=%s +%d ~%d -%d",
			optString(e.Background), optString(e.Music), len(e.Add), len(e.Update), len(e.Remove))
	case *ExtCall:
		return fmt.Sprintf("%s(%s)", e.Command, strings.Join(e.Args, ", "))
	}
	return ""
}

// CondString renders a condition as "flag[i]", "!flag[i]" or "var[i] op v".
func CondString(c Cond) string {
	switch c.Kind {
	case script.CondFlag:
		if c.IsSet {
			return fmt.Sprintf("flag[%d]", c.ID)
		}
		return fmt.Sprintf("!flag[%d]", c.ID)
	case script.CondVarCmp:
		return fmt.Sprintf("var[%d] %s %d", c.ID, c.Op.Symbol(), c.Value)
	}
	return "?"
}

func optString(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
