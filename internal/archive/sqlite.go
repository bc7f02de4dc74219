// SPDX-License-Identifier: MIT
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"rosettas/internal/significance"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

const createArchiveTable = `
CREATE TABLE IF NOT EXISTS archive (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    ts INTEGER NOT NULL,
    label TEXT NOT NULL,
    summary TEXT NOT NULL,
    resonance REAL NOT NULL DEFAULT 0,
    metrics TEXT
);
CREATE INDEX IF NOT EXISTS idx_archive_ts ON archive(ts);
`

// SQLite is a Store backed by a single SQLite table.
type SQLite struct {
	db       *sql.DB
	capacity int
}

// NewSQLite opens (or creates) the database at dataSourceName.
func NewSQLite(dataSourceName string, capacity int) (*SQLite, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000"
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("archive: error connecting to SQLite: %w", err)
	}
	// One connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createArchiveTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: error creating table: %w", err)
	}

	return &SQLite{db: db, capacity: capacity}, nil
}

func (s *SQLite) Save(ctx context.Context, e Entry) error {
	var metrics sql.NullString
	if e.Metrics != nil {
		b, err := json.Marshal(e.Metrics)
		if err != nil {
			return fmt.Errorf("archive: encode metrics: %w", err)
		}
		metrics = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO archive (id, ts, label, summary, resonance, metrics) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UnixNano(), e.Label, e.Summary, e.Resonance, metrics,
	); err != nil {
		return fmt.Errorf("archive: insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM archive WHERE seq NOT IN (SELECT seq FROM archive ORDER BY ts DESC, seq DESC LIMIT ?)`,
		s.capacity,
	); err != nil {
		return fmt.Errorf("archive: prune: %w", err)
	}

	return tx.Commit()
}

func (s *SQLite) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, label, summary, resonance, metrics FROM archive ORDER BY ts DESC, seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			ts      int64
			metrics sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.Label, &e.Summary, &e.Resonance, &metrics); err != nil {
			return nil, fmt.Errorf("archive: scan: %w", err)
		}
		e.Timestamp = time.Unix(0, ts)
		if metrics.Valid {
			var m significance.Metrics
			if err := json.Unmarshal([]byte(metrics.String), &m); err != nil {
				return nil, fmt.Errorf("archive: decode metrics of %s: %w", e.ID, err)
			}
			e.Metrics = &m
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM archive`); err != nil {
		return fmt.Errorf("archive: clear: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLite)(nil)
