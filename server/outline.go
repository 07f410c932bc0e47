package server

import (
	"bytes"
	"encoding/json"
	"unicode/utf16"
	"unicode/utf8"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// span is a half-open byte range in a document.
type span struct {
	start, end int64
}

func (s span) contains(off int64) bool { return off >= s.start && off <= s.end }

// targetRef is a "target" string value naming a label.
type targetRef struct {
	name string
	span span
}

// outline records where the parts of a script document sit in its text.
type outline struct {
	events  []span
	labels  map[string]span
	targets []targetRef
}

// scanOutline walks the JSON token stream of text. It fails only on
// malformed JSON.
func scanOutline(text []byte) (*outline, error) {
	w := &walker{
		dec:  json.NewDecoder(bytes.NewReader(text)),
		text: text,
		out:  &outline{labels: make(map[string]span)},
	}
	tok, sp, err := w.next()
	if err != nil {
		return nil, err
	}
	if err := w.value(nil, tok, sp); err != nil {
		return nil, err
	}
	return w.out, nil
}

type walker struct {
	dec  *json.Decoder
	text []byte
	out  *outline
}

func (w *walker) next() (json.Token, span, error) {
	start := w.skip(w.dec.InputOffset())
	tok, err := w.dec.Token()
	if err != nil {
		return nil, span{}, err
	}
	return tok, span{start, w.dec.InputOffset()}, nil
}

// skip moves past whitespace and the separators the decoder consumes
// implicitly.
func (w *walker) skip(off int64) int64 {
	for off < int64(len(w.text)) {
		switch w.text[off] {
		case ' ', '\t', '\n', '\r', ',', ':':
			off++
		default:
			return off
		}
	}
	return off
}

func (w *walker) value(path []string, tok json.Token, sp span) error {
	switch tok {
	case json.Delim('{'):
		for w.dec.More() {
			kt, ksp, err := w.next()
			if err != nil {
				return err
			}
			key, _ := kt.(string)
			if len(path) == 1 && path[0] == "labels" {
				w.out.labels[key] = ksp
			}
			vt, vsp, err := w.next()
			if err != nil {
				return err
			}
			if err := w.value(append(path[:len(path):len(path)], key), vt, vsp); err != nil {
				return err
			}
		}
		_, _, err := w.next()
		return err

	case json.Delim('['):
		events := len(path) == 1 && path[0] == "events"
		for w.dec.More() {
			vt, vsp, err := w.next()
			if err != nil {
				return err
			}
			if err := w.value(append(path[:len(path):len(path)], "[]"), vt, vsp); err != nil {
				return err
			}
			if events {
				w.out.events = append(w.out.events, span{vsp.start, w.dec.InputOffset()})
			}
		}
		_, _, err := w.next()
		return err
	}

	if name, ok := tok.(string); ok && len(path) > 0 && path[len(path)-1] == "target" {
		w.out.targets = append(w.out.targets, targetRef{name: name, span: sp})
	}
	return nil
}

// targetAt returns the target reference covering off.
func (o *outline) targetAt(off int64) (targetRef, bool) {
	for _, t := range o.targets {
		if t.span.contains(off) {
			return t, true
		}
	}
	return targetRef{}, false
}

// labelAt returns the label whose declaration covers off.
func (o *outline) labelAt(off int64) (string, bool) {
	for name, sp := range o.labels {
		if sp.contains(off) {
			return name, true
		}
	}
	return "", false
}

// eventSpan returns the span of event i, or an empty span at the top of
// the document.
func (o *outline) eventSpan(i int) span {
	if o == nil || i < 0 || i >= len(o.events) {
		return span{}
	}
	return o.events[i]
}

// position converts a byte offset into an LSP position; characters are
// counted in UTF-16 code units.
func position(text []byte, off int64) protocol.Position {
	off = min(max(off, 0), int64(len(text)))
	var line, char protocol.UInteger
	for i := int64(0); i < off; {
		r, size := utf8.DecodeRune(text[i:])
		if r == '\n' {
			line++
			char = 0
		} else if n := utf16.RuneLen(r); n > 0 {
			char += protocol.UInteger(n)
		} else {
			char++
		}
		i += int64(size)
	}
	return protocol.Position{Line: line, Character: char}
}

// offset converts an LSP position back into a byte offset.
func offset(text []byte, pos protocol.Position) int64 {
	var line, char protocol.UInteger
	for i := 0; i < len(text); {
		if line == pos.Line && char >= pos.Character {
			return int64(i)
		}
		r, size := utf8.DecodeRune(text[i:])
		if r == '\n' {
			if line == pos.Line {
				return int64(i)
			}
			line++
			char = 0
		} else if n := utf16.RuneLen(r); n > 0 {
			char += protocol.UInteger(n)
		} else {
			char++
		}
		i += size
	}
	return int64(len(text))
}

func rangeOf(text []byte, sp span) protocol.Range {
	return protocol.Range{Start: position(text, sp.start), End: position(text, sp.end)}
}
