package vm

import (
	"github.com/chazu/novella/pkg/bytecode"
	"github.com/chazu/novella/script"
)

// ---------------------------------------------------------------------------
// VisualState: the reduced visible scene
// ---------------------------------------------------------------------------

// VisualState is the scene a host should currently display. Characters are
// ordered by insertion and carry no duplicate names.
type VisualState struct {
	Background *string                     `cbor:"1,keyasint,omitempty" json:"background,omitempty"`
	Music      *string                     `cbor:"2,keyasint,omitempty" json:"music,omitempty"`
	Characters []script.CharacterPlacement `cbor:"3,keyasint" json:"characters"`
}

// Clone returns a deep copy.
func (v VisualState) Clone() VisualState {
	out := VisualState{
		Background: cloneStr(v.Background),
		Music:      cloneStr(v.Music),
		Characters: make([]script.CharacterPlacement, len(v.Characters)),
	}
	for i, c := range v.Characters {
		out.Characters[i] = clonePlacement(c)
	}
	return out
}

// CharacterNames returns the visible character names in order.
func (v VisualState) CharacterNames() []string {
	names := make([]string, len(v.Characters))
	for i, c := range v.Characters {
		names[i] = c.Name
	}
	return names
}

// Character returns the placement for name.
func (v VisualState) Character(name string) (script.CharacterPlacement, bool) {
	if i := v.indexOf(name); i >= 0 {
		return v.Characters[i], true
	}
	return script.CharacterPlacement{}, false
}

func (v VisualState) indexOf(name string) int {
	for i, c := range v.Characters {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ApplyScene folds a Scene into v and returns the new state plus the audio
// commands the music change implies. Background and music are replaced
// only when provided; characters are replaced wholesale.
func ApplyScene(v VisualState, scene *bytecode.Scene) (VisualState, []AudioCommand) {
	out := v.Clone()
	if scene.Background != nil {
		out.Background = cloneStr(scene.Background)
	}
	var audio []AudioCommand
	if scene.Music != nil {
		out.Music = cloneStr(scene.Music)
		audio = MusicTransition(v.Music, out.Music)
	}

	out.Characters = make([]script.CharacterPlacement, 0, len(scene.Characters))
	for _, c := range scene.Characters {
		// A repeated name keeps its first slot and takes the later fields.
		if i := out.indexOf(c.Name); i >= 0 {
			out.Characters[i] = clonePlacement(c)
			continue
		}
		out.Characters = append(out.Characters, clonePlacement(c))
	}
	return out, audio
}

// ApplyPatch folds a Patch into v. Removals run first, then updates of
// existing names (unknown names are ignored), then additions, which
// append new names and update existing ones.
func ApplyPatch(v VisualState, patch *bytecode.Patch) (VisualState, []AudioCommand) {
	out := v.Clone()
	if patch.Background != nil {
		out.Background = cloneStr(patch.Background)
	}
	var audio []AudioCommand
	if patch.Music != nil {
		out.Music = cloneStr(patch.Music)
		audio = MusicTransition(v.Music, out.Music)
	}

	for _, name := range patch.Remove {
		if i := out.indexOf(name); i >= 0 {
			out.Characters = append(out.Characters[:i], out.Characters[i+1:]...)
		}
	}
	for _, u := range patch.Update {
		if i := out.indexOf(u.Name); i >= 0 {
			if u.Expression != nil {
				out.Characters[i].Expression = cloneStr(u.Expression)
			}
			if u.Position != nil {
				out.Characters[i].Position = cloneStr(u.Position)
			}
		}
	}
	for _, a := range patch.Add {
		if i := out.indexOf(a.Name); i >= 0 {
			if a.Expression != nil {
				out.Characters[i].Expression = cloneStr(a.Expression)
			}
			if a.Position != nil {
				out.Characters[i].Position = cloneStr(a.Position)
			}
			continue
		}
		out.Characters = append(out.Characters, clonePlacement(a))
	}
	return out, audio
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func clonePlacement(c script.CharacterPlacement) script.CharacterPlacement {
	return script.CharacterPlacement{
		Name:       c.Name,
		Expression: cloneStr(c.Expression),
		Position:   cloneStr(c.Position),
	}
}
