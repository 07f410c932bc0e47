package save

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/novella/pkg/bytecode"
)

// summaryLimit is the number of runes kept in Metadata.SummaryLine.
const summaryLimit = 96

// Metadata is the JSON sidecar written next to each slot. ChapterLabel,
// SummaryLine and SaveID are absent in older sidecars.
type Metadata struct {
	SlotID        int    `json:"slot_id"`
	Quick         bool   `json:"quick"`
	UpdatedUnixMs int64  `json:"updated_unix_ms"`
	ScriptIDHex   string `json:"script_id_hex"`
	Position      uint32 `json:"position"`
	FlagsWords    int    `json:"flags_words"`
	VarsCount     int    `json:"vars_count"`
	ChapterLabel  string `json:"chapter_label,omitempty"`
	SummaryLine   string `json:"summary_line,omitempty"`
	SaveID        string `json:"save_id,omitempty"`
}

// Updated returns the update time.
func (m Metadata) Updated() time.Time {
	return time.UnixMilli(m.UpdatedUnixMs)
}

// NewMetadata describes d as stored in slot at time now.
func NewMetadata(slot Slot, d *Data, now time.Time) Metadata {
	m := Metadata{
		SlotID:        int(slot),
		Quick:         slot == QuickSlot,
		UpdatedUnixMs: now.UnixMilli(),
		ScriptIDHex:   bytecode.IDHex(d.ScriptID),
		Position:      d.State.Position,
		FlagsWords:    len(d.State.Flags),
		VarsCount:     len(d.State.Vars),
		SaveID:        uuid.NewString(),
	}
	if bg := d.State.Visual.Background; bg != nil {
		m.ChapterLabel = ChapterLabel(*bg)
	}
	if line, ok := d.State.LastDialogue(); ok {
		if line.Speaker == "" {
			m.SummaryLine = Summarize(line.Text)
		} else {
			m.SummaryLine = Summarize(fmt.Sprintf("%s: %s", line.Speaker, line.Text))
		}
	}
	return m
}

// ChapterLabel turns a background asset path into a readable label:
// "bg/old_town-square.png" becomes "old town square".
func ChapterLabel(background string) string {
	stem := path.Base(strings.ReplaceAll(background, "\\", "/"))
	stem = strings.TrimSuffix(stem, path.Ext(stem))
	stem = strings.NewReplacer("_", " ", "-", " ").Replace(stem)
	return strings.TrimSpace(stem)
}

// Summarize collapses whitespace and truncates s for display.
func Summarize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= summaryLimit {
		return s
	}
	return string(r[:summaryLimit]) + "..."
}

func readMetadata(path string) (Metadata, error) {
	var m Metadata
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("metadata %s: %w", path, err)
	}
	return m, nil
}

func writeMetadata(path string, m Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(data, '\n'), false)
}
