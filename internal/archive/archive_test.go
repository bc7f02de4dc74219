// SPDX-License-Identifier: MIT
package archive

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"rosettas/internal/config"
	"rosettas/internal/pipeline"
	"rosettas/internal/significance"

	"github.com/google/uuid"
)

var epoch = time.Unix(1700000000, 0)

type storeFactory struct {
	name string
	open func(t *testing.T, capacity int) Store
}

var backends = []storeFactory{
	{"Memory", func(t *testing.T, capacity int) Store {
		return NewMemory(capacity)
	}},
	{"Badger", func(t *testing.T, capacity int) Store {
		s, err := NewBadger(BadgerOptions{InMemory: true, Capacity: capacity})
		if err != nil {
			t.Fatalf("NewBadger: %v", err)
		}
		return s
	}},
	{"SQLite", func(t *testing.T, capacity int) Store {
		s, err := NewSQLite(filepath.Join(t.TempDir(), "archive.db"), capacity)
		if err != nil {
			t.Fatalf("NewSQLite: %v", err)
		}
		return s
	}},
}

func forEachBackend(t *testing.T, capacity int, fn func(t *testing.T, s Store)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t, capacity)
			t.Cleanup(func() { s.Close() })
			fn(t, s)
		})
	}
}

func entryAt(i int) Entry {
	return NewEntry(fmt.Sprintf("session %d", i), "summary", 0.5, nil, epoch.Add(time.Duration(i)*time.Second))
}

func TestSaveListNewestFirst(t *testing.T) {
	forEachBackend(t, 10, func(t *testing.T, s Store) {
		ctx := context.Background()
		// Saved out of order; List sorts by timestamp.
		for _, i := range []int{2, 0, 3, 1} {
			if err := s.Save(ctx, entryAt(i)); err != nil {
				t.Fatalf("Save: %v", err)
			}
		}

		got, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 4 {
			t.Fatalf("List returned %d entries, want 4", len(got))
		}
		for i, e := range got {
			if want := fmt.Sprintf("session %d", 3-i); e.Label != want {
				t.Errorf("entry %d = %q, want %q", i, e.Label, want)
			}
		}
		if !got[0].Timestamp.Equal(epoch.Add(3 * time.Second)) {
			t.Errorf("timestamp = %v", got[0].Timestamp)
		}
	})
}

func TestCapacityDropsOldest(t *testing.T) {
	forEachBackend(t, 3, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := range 5 {
			if err := s.Save(ctx, entryAt(i)); err != nil {
				t.Fatal(err)
			}
		}

		got, err := s.List(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Fatalf("kept %d entries, want 3", len(got))
		}
		if got[0].Label != "session 4" || got[2].Label != "session 2" {
			t.Errorf("kept %q..%q, want session 4..session 2", got[0].Label, got[2].Label)
		}
	})
}

func TestMetricsRoundTrip(t *testing.T) {
	forEachBackend(t, 10, func(t *testing.T, s Store) {
		ctx := context.Background()
		m := &significance.Metrics{
			NativeDelta:      0.05,
			ShuffledDelta:    0.9,
			ZScore:           12.5,
			CompressionRatio: 3,
			Entropy:          1.2,
			Verdict:          significance.StatisticallySignificant,
			IsReliable:       true,
		}
		withMetrics := NewEntry("validated", "s", 0.9, m, epoch)
		without := NewEntry("raw", "s", 0.1, nil, epoch.Add(time.Second))

		if err := s.Save(ctx, withMetrics); err != nil {
			t.Fatal(err)
		}
		if err := s.Save(ctx, without); err != nil {
			t.Fatal(err)
		}

		got, err := s.List(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got[0].Metrics != nil {
			t.Errorf("entry without metrics came back with %+v", got[0].Metrics)
		}
		if got[1].Metrics == nil || *got[1].Metrics != *m {
			t.Errorf("metrics = %+v, want %+v", got[1].Metrics, m)
		}
		if got[1].ID != withMetrics.ID || got[1].Resonance != 0.9 {
			t.Errorf("entry = %+v", got[1])
		}
	})
}

func TestClear(t *testing.T) {
	forEachBackend(t, 10, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := range 3 {
			s.Save(ctx, entryAt(i))
		}
		if err := s.Clear(ctx); err != nil {
			t.Fatalf("Clear: %v", err)
		}
		got, err := s.List(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("List after Clear = %d entries", len(got))
		}

		// Still usable.
		if err := s.Save(ctx, entryAt(9)); err != nil {
			t.Fatal(err)
		}
		if got, _ := s.List(ctx); len(got) != 1 {
			t.Errorf("List = %d entries, want 1", len(got))
		}
	})
}

func TestMemoryTieGoesToLaterSave(t *testing.T) {
	s := NewMemory(10)
	ctx := context.Background()
	first := NewEntry("first", "", 0, nil, epoch)
	second := NewEntry("second", "", 0, nil, epoch)
	s.Save(ctx, first)
	s.Save(ctx, second)

	got, _ := s.List(ctx)
	if got[0].Label != "second" {
		t.Errorf("newest = %q, want second", got[0].Label)
	}
}

func TestMemoryClosed(t *testing.T) {
	s := NewMemory(1)
	s.Close()
	if err := s.Save(context.Background(), entryAt(0)); !errors.Is(err, ErrClosed) {
		t.Errorf("Save after Close = %v", err)
	}
	if _, err := s.List(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("List after Close = %v", err)
	}
}

func TestBadgerPersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewBadger(BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	for i := range 2 {
		s.Save(ctx, entryAt(i))
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = NewBadger(BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	s.Save(ctx, entryAt(2))

	got, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].Label != "session 2" {
		t.Errorf("after reopen: %d entries, newest %q", len(got), got[0].Label)
	}
}

func TestNewBadgerRequiresDir(t *testing.T) {
	if _, err := NewBadger(BadgerOptions{}); err == nil {
		t.Error("expected error without Dir")
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		desc    string
		cfg     config.ArchiveConfig
		want    string
		wantErr bool
	}{
		{"Memory", config.ArchiveConfig{Backend: config.BackendMemory}, "*archive.Memory", false},
		{"Badger", config.ArchiveConfig{Backend: config.BackendBadger, Path: "badger"}, "*archive.Badger", false},
		{"SQLite", config.ArchiveConfig{Backend: config.BackendSQLite, Path: "sqlite"}, "*archive.SQLite", false},
		{"Unknown", config.ArchiveConfig{Backend: "redis"}, "", true},
		{"Badger without path", config.ArchiveConfig{Backend: config.BackendBadger}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if tt.cfg.Path != "" {
				tt.cfg.Path = filepath.Join(t.TempDir(), tt.cfg.Path)
			}
			s, err := Open(tt.cfg)
			if tt.wantErr {
				if err == nil {
					s.Close()
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer s.Close()
			if got := fmt.Sprintf("%T", s); got != tt.want {
				t.Errorf("Open returned %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEntryFromSummary(t *testing.T) {
	m := &significance.Metrics{ZScore: 4, Verdict: significance.PatternEmergent}
	s := pipeline.Summary{Frames: 10, Archetypes: 2, MeanIntegrity: 0.75, Validation: m}

	e := EntryFromSummary("field", s, epoch)
	if _, err := uuid.Parse(e.ID); err != nil {
		t.Errorf("ID %q is not a UUID: %v", e.ID, err)
	}
	if e.Resonance != 0.75 || e.Metrics != m || e.Label != "field" || e.Summary != s.String() {
		t.Errorf("entry = %+v", e)
	}
	if NewEntry("a", "", 0, nil, epoch).ID == NewEntry("a", "", 0, nil, epoch).ID {
		t.Error("entries must get distinct IDs")
	}
}
