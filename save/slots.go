package save

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/novella/pkg/vnerr"
)

var log = commonlog.GetLogger("novella.save")

// Slot numbers a save slot. QuickSlot is the quicksave.
type Slot int

// QuickSlot is the single quicksave slot.
const QuickSlot Slot = -1

func (s Slot) String() string {
	if s == QuickSlot {
		return "quicksave"
	}
	return fmt.Sprintf("slot_%03d", int(s))
}

// ParseSlot reads "quick", "quicksave" or a non-negative slot number.
func ParseSlot(s string) (Slot, error) {
	switch strings.ToLower(s) {
	case "q", "quick", "quicksave":
		return QuickSlot, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid slot %q", s)
	}
	return Slot(n), nil
}

const (
	slotsDir = "slots"
	metaDir  = "meta"
	saveExt  = ".vnsav"
	bakExt   = ".bak"
)

// SlotStore is a directory of save slots:
//
//	slots/slot_NNN.vnsav  meta/slot_NNN.json  quicksave.vnsav  meta/quicksave.json
//
// Writes go through a temp file, fsync and rename, keeping the previous
// file as a single .bak. Reads fall back to the .bak when the primary is
// unreadable.
type SlotStore struct {
	dir string
	key []byte
	now func() time.Time
}

// NewSlotStore opens (creating if needed) a slot directory. A non-nil key
// makes every save authenticated.
func NewSlotStore(dir string, key []byte) (*SlotStore, error) {
	for _, sub := range []string{slotsDir, metaDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("save: create %s: %w", sub, err)
		}
	}
	return &SlotStore{dir: dir, key: key, now: time.Now}, nil
}

// Dir returns the store's root directory.
func (s *SlotStore) Dir() string { return s.dir }

// SlotPath returns the primary file for slot.
func (s *SlotStore) SlotPath(slot Slot) string {
	if slot == QuickSlot {
		return filepath.Join(s.dir, "quicksave"+saveExt)
	}
	return filepath.Join(s.dir, slotsDir, slot.String()+saveExt)
}

// MetaPath returns the metadata sidecar for slot.
func (s *SlotStore) MetaPath(slot Slot) string {
	return filepath.Join(s.dir, metaDir, slot.String()+".json")
}

// Save writes d to slot and returns the metadata stored beside it.
func (s *SlotStore) Save(slot Slot, d *Data) (Metadata, error) {
	if slot < QuickSlot {
		return Metadata{}, fmt.Errorf("save: invalid slot %d", int(slot))
	}
	data, err := d.Encode(s.key)
	if err != nil {
		return Metadata{}, err
	}
	if err := writeFileAtomic(s.SlotPath(slot), data, true); err != nil {
		return Metadata{}, fmt.Errorf("save: write %s: %w", slot, err)
	}
	meta := NewMetadata(slot, d, s.now())
	if err := writeMetadata(s.MetaPath(slot), meta); err != nil {
		return Metadata{}, fmt.Errorf("save: write %s metadata: %w", slot, err)
	}
	log.Infof("saved %s (%d bytes, position %d)", slot, len(data), d.State.Position)
	return meta, nil
}

// QuickSave writes the quicksave slot.
func (s *SlotStore) QuickSave(d *Data) (Metadata, error) {
	return s.Save(QuickSlot, d)
}

// Load reads slot, falling back to its backup when the primary is missing
// or corrupt. When both fail it returns a *vnerr.RecoveryError.
func (s *SlotStore) Load(slot Slot) (*Data, error) {
	primary := s.SlotPath(slot)
	d, primaryErr := s.readFile(primary)
	if primaryErr == nil {
		return d, nil
	}
	if !recoverable(primaryErr) {
		return nil, primaryErr
	}

	d, backupErr := s.readFile(primary + bakExt)
	switch {
	case backupErr == nil:
		log.Warningf("%s: primary unreadable (%v), recovered from backup", slot, primaryErr)
		return d, nil
	case errors.Is(backupErr, fs.ErrNotExist):
		if errors.Is(primaryErr, fs.ErrNotExist) {
			return nil, fmt.Errorf("save: %s: %w", slot, fs.ErrNotExist)
		}
		backupErr = nil
	}
	log.Errorf("%s: primary and backup unreadable", slot)
	return nil, &vnerr.RecoveryError{Slot: slot.String(), Primary: primaryErr, Backup: backupErr}
}

// QuickLoad reads the quicksave slot.
func (s *SlotStore) QuickLoad() (*Data, error) {
	return s.Load(QuickSlot)
}

// Exists reports whether slot has a primary or backup file.
func (s *SlotStore) Exists(slot Slot) bool {
	for _, p := range []string{s.SlotPath(slot), s.SlotPath(slot) + bakExt} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// Metadata reads the sidecar for slot.
func (s *SlotStore) Metadata(slot Slot) (Metadata, error) {
	return readMetadata(s.MetaPath(slot))
}

// List returns metadata for every slot with a sidecar, numbered slots in
// order and the quicksave last. Unreadable sidecars are skipped.
func (s *SlotStore) List() ([]Metadata, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, metaDir))
	if err != nil {
		return nil, fmt.Errorf("save: list: %w", err)
	}
	var out []Metadata
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		m, err := readMetadata(filepath.Join(s.dir, metaDir, entry.Name()))
		if err != nil {
			log.Warningf("skipping metadata %s: %v", entry.Name(), err)
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quick != out[j].Quick {
			return !out[i].Quick
		}
		return out[i].SlotID < out[j].SlotID
	})
	return out, nil
}

// Delete removes slot's primary, backup and metadata. Missing files are
// not an error.
func (s *SlotStore) Delete(slot Slot) error {
	for _, p := range []string{s.SlotPath(slot), s.SlotPath(slot) + bakExt, s.MetaPath(slot)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("save: delete %s: %w", slot, err)
		}
	}
	return nil
}

func (s *SlotStore) readFile(path string) (*Data, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data, s.key)
}

// recoverable reports whether a read failure should try the backup.
func recoverable(err error) bool {
	var iv *vnerr.IncompatibleVersionError
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, vnerr.ErrBinaryFormat) ||
		errors.Is(err, vnerr.ErrAuthenticationFailed) ||
		errors.As(err, &iv)
}

// writeFileAtomic writes data to a temp file beside path, syncs it and
// renames it into place. With backup set, an existing file is first
// renamed to path+".bak".
func writeFileAtomic(path string, data []byte, backup bool) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if backup {
		if err := os.Rename(path, path+bakExt); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}
