// Package catalog stores compiled scripts in SQLite, addressed by script id
// (SHA-256 of the compiled binary). Saves record only the script id, so the
// catalog is how a save is traced back to the script revision it came from.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/novella/pkg/bytecode"
	"github.com/chazu/novella/pkg/vnerr"
)

var log = commonlog.GetLogger("novella.catalog")

// ErrNotFound indicates the requested script is not in the catalog.
var ErrNotFound = errors.New("script not found")

const schemaSQL = `CREATE TABLE IF NOT EXISTS scripts (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	binary BLOB NOT NULL,
	events INTEGER NOT NULL,
	created_unix_ms INTEGER NOT NULL
)`

// Entry describes one stored script.
type Entry struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	Events        int    `json:"events" yaml:"events"`
	Size          int    `json:"size" yaml:"size"`
	CreatedUnixMs int64  `json:"created_unix_ms" yaml:"created_unix_ms"`
}

// Created returns the insertion time.
func (e Entry) Created() time.Time { return time.UnixMilli(e.CreatedUnixMs) }

// Catalog is a handle on a script catalog database.
type Catalog struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// Open opens or creates the catalog database at path.
func Open(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating catalog dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened catalog %s", path)
	return &Catalog{db: db, path: path, now: time.Now}, nil
}

// Path returns the database file path.
func (c *Catalog) Path() string { return c.path }

// Close closes the database connection.
func (c *Catalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Put stores s under name and returns its id. Storing the same script
// again keeps the original row and creation time but takes the new name.
func (c *Catalog) Put(ctx context.Context, name string, s *bytecode.Script) (string, error) {
	data, err := s.Serialize()
	if err != nil {
		return "", err
	}
	id := bytecode.IDHex(bytecode.IDOf(data))

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO scripts (id, name, binary, events, created_unix_ms) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		id, name, data, s.Len(), c.now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("storing script %s: %w", id, err)
	}
	log.Infof("stored script %s as %q (%d events)", id, name, s.Len())
	return id, nil
}

// Get loads and decodes the script with the given id. The stored blob is
// re-hashed, so a row whose binary no longer matches its id fails with a
// binary format error.
func (c *Catalog) Get(ctx context.Context, id string) (*bytecode.Script, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx, "SELECT binary FROM scripts WHERE id = ?", id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("querying script: %w", err)
	}
	if got := bytecode.IDHex(bytecode.IDOf(data)); got != id {
		return nil, vnerr.BinaryFormat("catalog entry %s hashes to %s", id, got)
	}
	return bytecode.Deserialize(data)
}

// Lookup returns the entry for id without decoding the script.
func (c *Catalog) Lookup(ctx context.Context, id string) (Entry, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT id, name, events, length(binary), created_unix_ms FROM scripts WHERE id = ?", id)
	var e Entry
	if err := row.Scan(&e.ID, &e.Name, &e.Events, &e.Size, &e.CreatedUnixMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Entry{}, fmt.Errorf("querying script: %w", err)
	}
	return e, nil
}

// Has reports whether id is stored.
func (c *Catalog) Has(ctx context.Context, id string) (bool, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scripts WHERE id = ?", id).Scan(&n); err != nil {
		return false, fmt.Errorf("querying script: %w", err)
	}
	return n > 0, nil
}

// List returns every entry, newest first.
func (c *Catalog) List(ctx context.Context) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT id, name, events, length(binary), created_unix_ms FROM scripts ORDER BY created_unix_ms DESC, id")
	if err != nil {
		return nil, fmt.Errorf("listing scripts: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Name, &e.Events, &e.Size, &e.CreatedUnixMs); err != nil {
			return nil, fmt.Errorf("scanning script row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes id. Deleting a missing id is not an error.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.db.ExecContext(ctx, "DELETE FROM scripts WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting script: %w", err)
	}
	return nil
}
