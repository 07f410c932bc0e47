package script

import (
	"fmt"

	"github.com/chazu/novella/pkg/vnerr"
)

// ResourceLimits bounds the size and shape of a script.
type ResourceLimits struct {
	MaxEvents      int `toml:"max_events" json:"max_events"`
	MaxTextLength  int `toml:"max_text_length" json:"max_text_length"`
	MaxLabelLength int `toml:"max_label_length" json:"max_label_length"`
	MaxAssetLength int `toml:"max_asset_length" json:"max_asset_length"`
	MaxCharacters  int `toml:"max_characters" json:"max_characters"`
	MaxScriptBytes int `toml:"max_script_bytes" json:"max_script_bytes"`
}

// DefaultLimits returns the stock limits.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MaxEvents:      10000,
		MaxTextLength:  4096,
		MaxLabelLength: 64,
		MaxAssetLength: 128,
		MaxCharacters:  32,
		MaxScriptBytes: 524288,
	}
}

// WithDefaults fills zero fields from DefaultLimits.
func (l ResourceLimits) WithDefaults() ResourceLimits {
	d := DefaultLimits()
	if l.MaxEvents <= 0 {
		l.MaxEvents = d.MaxEvents
	}
	if l.MaxTextLength <= 0 {
		l.MaxTextLength = d.MaxTextLength
	}
	if l.MaxLabelLength <= 0 {
		l.MaxLabelLength = d.MaxLabelLength
	}
	if l.MaxAssetLength <= 0 {
		l.MaxAssetLength = d.MaxAssetLength
	}
	if l.MaxCharacters <= 0 {
		l.MaxCharacters = d.MaxCharacters
	}
	if l.MaxScriptBytes <= 0 {
		l.MaxScriptBytes = d.MaxScriptBytes
	}
	return l
}

// Check enforces every limit against s. Zero-valued limits are unbounded.
func (l ResourceLimits) Check(s *Script) error {
	if l.MaxEvents > 0 && len(s.Events) > l.MaxEvents {
		return vnerr.ResourceLimit(fmt.Sprintf("events: %d > %d", len(s.Events), l.MaxEvents))
	}
	for _, name := range s.LabelNames() {
		if err := l.label("label", name); err != nil {
			return err
		}
	}
	for i, ev := range s.Events {
		if err := l.checkEvent(ev); err != nil {
			err.Msg = fmt.Sprintf("event %d: %s", i, err.Msg)
			return err
		}
	}
	if l.MaxScriptBytes > 0 {
		if total := s.StringBytes(); total > l.MaxScriptBytes {
			return vnerr.ResourceLimit(fmt.Sprintf("script string budget: %d > %d", total, l.MaxScriptBytes))
		}
	}
	return nil
}

func (l ResourceLimits) checkEvent(ev Event) *vnerr.Error {
	switch e := ev.(type) {
	case *Dialogue:
		return firstErr(l.text("speaker", e.Speaker), l.text("text", e.Text))
	case *Choice:
		if err := l.text("prompt", e.Prompt); err != nil {
			return err
		}
		for _, opt := range e.Options {
			if err := firstErr(l.text("option", opt.Text), l.label("target", opt.Target)); err != nil {
				return err
			}
		}
	case *Scene:
		if err := firstErr(l.assetOpt("background", e.Background), l.assetOpt("music", e.Music)); err != nil {
			return err
		}
		if err := l.characters(len(e.Characters)); err != nil {
			return err
		}
		for _, c := range e.Characters {
			if err := l.placement(c.Name, c.Expression, c.Position); err != nil {
				return err
			}
		}
	case *Jump:
		return l.label("target", e.Target)
	case *SetFlag:
		return l.label("flag key", e.Key)
	case *SetVar:
		return l.label("var key", e.Key)
	case *JumpIf:
		return firstErr(l.label("condition key", e.Cond.Key), l.label("target", e.Target))
	case *Patch:
		if err := firstErr(l.assetOpt("background", e.Background), l.assetOpt("music", e.Music)); err != nil {
			return err
		}
		if err := l.characters(len(e.Add)); err != nil {
			return err
		}
		for _, c := range e.Add {
			if err := l.placement(c.Name, c.Expression, c.Position); err != nil {
				return err
			}
		}
		for _, c := range e.Update {
			if err := l.placement(c.Name, c.Expression, c.Position); err != nil {
				return err
			}
		}
		for _, name := range e.Remove {
			if err := l.asset("character", name); err != nil {
				return err
			}
		}
	case *ExtCall:
		if err := l.text("command", e.Command); err != nil {
			return err
		}
		for _, arg := range e.Args {
			if err := l.text("argument", arg); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l ResourceLimits) text(field, v string) *vnerr.Error {
	if l.MaxTextLength > 0 && len(v) > l.MaxTextLength {
		return vnerr.ResourceLimit(fmt.Sprintf("%s length %d > %d", field, len(v), l.MaxTextLength))
	}
	return nil
}

func (l ResourceLimits) label(field, v string) *vnerr.Error {
	if l.MaxLabelLength > 0 && len(v) > l.MaxLabelLength {
		return vnerr.ResourceLimit(fmt.Sprintf("%s length %d > %d", field, len(v), l.MaxLabelLength))
	}
	return nil
}

func (l ResourceLimits) asset(field, v string) *vnerr.Error {
	if l.MaxAssetLength > 0 && len(v) > l.MaxAssetLength {
		return vnerr.ResourceLimit(fmt.Sprintf("%s length %d > %d", field, len(v), l.MaxAssetLength))
	}
	return nil
}

func (l ResourceLimits) assetOpt(field string, v *string) *vnerr.Error {
	if v == nil {
		return nil
	}
	return l.asset(field, *v)
}

func (l ResourceLimits) characters(n int) *vnerr.Error {
	if l.MaxCharacters > 0 && n > l.MaxCharacters {
		return vnerr.ResourceLimit(fmt.Sprintf("characters: %d > %d", n, l.MaxCharacters))
	}
	return nil
}

func (l ResourceLimits) placement(name string, expression, position *string) *vnerr.Error {
	return firstErr(l.asset("character", name), l.assetOpt("expression", expression), l.assetOpt("position", position))
}

func firstErr(errs ...*vnerr.Error) *vnerr.Error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// StringBytes totals the bytes of every string in the script, labels
// included.
func (s *Script) StringBytes() int {
	total := 0
	for name := range s.Labels {
		total += len(name)
	}
	for _, ev := range s.Events {
		total += eventStringBytes(ev)
	}
	return total
}

func optLen(v *string) int {
	if v == nil {
		return 0
	}
	return len(*v)
}

func eventStringBytes(ev Event) int {
	n := 0
	switch e := ev.(type) {
	case *Dialogue:
		n = len(e.Speaker) + len(e.Text)
	case *Choice:
		n = len(e.Prompt)
		for _, o := range e.Options {
			n += len(o.Text) + len(o.Target)
		}
	case *Scene:
		n = optLen(e.Background) + optLen(e.Music)
		for _, c := range e.Characters {
			n += len(c.Name) + optLen(c.Expression) + optLen(c.Position)
		}
	case *Jump:
		n = len(e.Target)
	case *SetFlag:
		n = len(e.Key)
	case *SetVar:
		n = len(e.Key)
	case *JumpIf:
		n = len(e.Cond.Key) + len(e.Target)
	case *Patch:
		n = optLen(e.Background) + optLen(e.Music)
		for _, c := range e.Add {
			n += len(c.Name) + optLen(c.Expression) + optLen(c.Position)
		}
		for _, c := range e.Update {
			n += len(c.Name) + optLen(c.Expression) + optLen(c.Position)
		}
		for _, r := range e.Remove {
			n += len(r)
		}
	case *ExtCall:
		n = len(e.Command)
		for _, a := range e.Args {
			n += len(a)
		}
	}
	return n
}
