// Package store archives completed measurement exports in a local sqlite
// database so past runs can be queried without trawling the export
// directory.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/verilab/flickerlab/export"
)

// Record is one archived measurement session
type Record struct {
	ID        string
	Name      string
	Date      string
	Mode      string
	Browser   string
	DurationS float64
	Frames    int
	Toggles   int
	Payload   []byte
	CreatedAt time.Time
}

// Archive is a sqlite-backed session store
type Archive struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewArchive creates an unopened archive at path
func NewArchive(path string) *Archive {
	return &Archive{path: path}
}

// Init opens the database and bootstraps the schema
func (a *Archive) Init(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.path == "" {
		return errors.New("sqlite path is required")
	}
	if a.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", a.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			date       TEXT,
			mode       TEXT,
			browser    TEXT,
			duration_s REAL,
			frames     INTEGER,
			toggles    INTEGER,
			payload    BLOB,
			created_at TEXT NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return err
	}

	a.db = db
	return nil
}

func (a *Archive) getDB() (*sql.DB, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.db == nil {
		return nil, errors.New("archive not initialized")
	}
	return a.db, nil
}

// Deliver implements measure.Deliverer: the measurement payload is
// self-describing, so the row metadata is lifted from the document itself.
func (a *Archive) Deliver(art export.Artifact) error {
	var doc struct {
		Date      string            `json:"date"`
		Browser   string            `json:"browser"`
		Mode      string            `json:"mode"`
		DurationS float64           `json:"duration_s"`
		Frames    []json.RawMessage `json:"frames"`
		Toggles   []json.RawMessage `json:"toggles"`
	}
	if err := json.Unmarshal(art.Payload, &doc); err != nil {
		return fmt.Errorf("parse artifact %s: %w", art.Name, err)
	}

	return a.Save(context.Background(), Record{
		ID:        uuid.New().String(),
		Name:      art.Name,
		Date:      doc.Date,
		Mode:      doc.Mode,
		Browser:   doc.Browser,
		DurationS: doc.DurationS,
		Frames:    len(doc.Frames),
		Toggles:   len(doc.Toggles),
		Payload:   art.Payload,
		CreatedAt: time.Now().UTC(),
	})
}

// Save inserts or replaces one archived session
func (a *Archive) Save(ctx context.Context, rec Record) error {
	db, err := a.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, date, mode, browser, duration_s, frames, toggles, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			payload = excluded.payload
	`, rec.ID, rec.Name, rec.Date, rec.Mode, rec.Browser,
		rec.DurationS, rec.Frames, rec.Toggles, rec.Payload,
		rec.CreatedAt.Format(time.RFC3339))
	return err
}

// List returns archived sessions newest first, without payloads
func (a *Archive) List(ctx context.Context) ([]Record, error) {
	db, err := a.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, name, date, mode, browser, duration_s, frames, toggles, created_at
		FROM sessions ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var created string
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Date, &rec.Mode, &rec.Browser,
			&rec.DurationS, &rec.Frames, &rec.Toggles, &created); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Payload fetches the raw measurement document for one session
func (a *Archive) Payload(ctx context.Context, id string) ([]byte, bool, error) {
	db, err := a.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM sessions WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

// Close releases the database
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}
