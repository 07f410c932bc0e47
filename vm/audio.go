package vm

import (
	"fmt"

	"github.com/chazu/novella/assets"
)

// AudioOp is the kind of an AudioCommand.
type AudioOp uint8

const (
	PlayBgm AudioOp = iota + 1
	StopBgm
)

func (op AudioOp) String() string {
	switch op {
	case PlayBgm:
		return "play_bgm"
	case StopBgm:
		return "stop_bgm"
	}
	return fmt.Sprintf("audio_op(%d)", uint8(op))
}

// AudioCommand is an instruction for the host's mixer. Music state leaves
// the engine only through these.
type AudioCommand struct {
	Op    AudioOp
	Track string    // empty for StopBgm
	Asset assets.ID // IDOf(Track) for PlayBgm
	Loop  bool
}

func (c AudioCommand) String() string {
	if c.Op == PlayBgm {
		return fmt.Sprintf("%s(%s)", c.Op, c.Track)
	}
	return c.Op.String()
}

// PlayBgmCommand returns a looping PlayBgm for track.
func PlayBgmCommand(track string) AudioCommand {
	return AudioCommand{Op: PlayBgm, Track: track, Asset: assets.IDOf(track), Loop: true}
}

// StopBgmCommand returns a StopBgm.
func StopBgmCommand() AudioCommand {
	return AudioCommand{Op: StopBgm}
}

// MusicTransition returns the commands that move the mixer from one track
// to another. Equal tracks need no command.
func MusicTransition(from, to *string) []AudioCommand {
	switch {
	case from == nil && to == nil:
		return nil
	case from == nil:
		return []AudioCommand{PlayBgmCommand(*to)}
	case to == nil:
		return []AudioCommand{StopBgmCommand()}
	case *from == *to:
		return nil
	}
	return []AudioCommand{StopBgmCommand(), PlayBgmCommand(*to)}
}
