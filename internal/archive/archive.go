// SPDX-License-Identifier: MIT
// Package archive keeps a bounded, newest-first list of session summaries.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rosettas/internal/config"
	"rosettas/internal/pipeline"
	"rosettas/internal/significance"

	"github.com/google/uuid"
)

// DefaultCapacity is the number of entries kept when none is configured.
const DefaultCapacity = config.DefaultArchiveCapacity

var ErrClosed = errors.New("archive: store closed")

// Entry is one archived result.
type Entry struct {
	ID        string                `json:"id"`
	Timestamp time.Time             `json:"timestamp"`
	Label     string                `json:"label"`
	Summary   string                `json:"summary"`
	Resonance float64               `json:"resonance"` // Mean structural integrity, 0..1.
	Metrics   *significance.Metrics `json:"metrics,omitempty"`
}

// Store persists entries. List returns newest first. Saving beyond the
// store capacity drops the oldest entries.
type Store interface {
	Save(ctx context.Context, e Entry) error
	List(ctx context.Context) ([]Entry, error)
	Clear(ctx context.Context) error
	Close() error
}

// NewEntry returns an entry with a fresh UUID.
func NewEntry(label, summary string, resonance float64, metrics *significance.Metrics, now time.Time) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Timestamp: now,
		Label:     label,
		Summary:   summary,
		Resonance: resonance,
		Metrics:   metrics,
	}
}

// EntryFromSummary archives a pipeline summary under label.
func EntryFromSummary(label string, s pipeline.Summary, now time.Time) Entry {
	return NewEntry(label, s.String(), s.MeanIntegrity, s.Validation, now)
}

// Open selects the backend named by cfg.Backend.
func Open(cfg config.ArchiveConfig) (Store, error) {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemory(capacity), nil
	case config.BackendBadger, "":
		if cfg.Path == "" {
			return nil, errors.New("archive: badger backend needs a path")
		}
		return NewBadger(BadgerOptions{Dir: cfg.Path, Capacity: capacity})
	case config.BackendSQLite:
		if cfg.Path == "" {
			return nil, errors.New("archive: sqlite backend needs a path")
		}
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("archive: failed to create %s: %w", cfg.Path, err)
		}
		return NewSQLite(filepath.Join(cfg.Path, "archive.db"), capacity)
	default:
		return nil, fmt.Errorf("archive: unknown backend %q", cfg.Backend)
	}
}
