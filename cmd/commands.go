// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"rosettas/internal/archive"
	"rosettas/internal/audio"
	"rosettas/internal/config"
	"rosettas/internal/log"
	"rosettas/internal/pipeline"
	"rosettas/internal/report"
	"rosettas/internal/stability"
	"rosettas/internal/tui"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Seams for tests.
var (
	listDevices  = audio.ListDevices
	pickDevice   = tui.PickDevice
	newGenerator = func(ctx context.Context, cfg config.ReportConfig) (report.Generator, error) {
		return report.NewGeminiGenerator(ctx, cfg)
	}
	now = time.Now
)

// Execute runs the one-off command named by cfg.Command.
func Execute(ctx context.Context, cfg *config.Config, w io.Writer) error {
	switch cfg.Command {
	case CommandList:
		return runList(cfg, w)
	case CommandAnalyze:
		return runAnalyze(ctx, cfg, w)
	case CommandArchiveList:
		return runArchiveList(ctx, cfg, w)
	case CommandArchiveClear:
		return runArchiveClear(ctx, cfg, w)
	default:
		return fmt.Errorf("unknown command %q", cfg.Command)
	}
}

// NeedsAudio reports whether the command talks to PortAudio.
func NeedsAudio(command string) bool {
	return command == "" || command == CommandList
}

func runList(cfg *config.Config, w io.Writer) error {
	if !cfg.Interactive {
		return listDevices(w)
	}

	sel, err := pickDevice()
	if err != nil {
		return err
	}
	if sel == nil {
		return nil
	}
	fmt.Fprintf(w, "# %s\naudio:\n  input_device: %d\n  sample_rate: %.0f\n",
		sel.Device.Name, sel.Device.ID, sel.SampleRate)
	return nil
}

func runAnalyze(ctx context.Context, cfg *config.Config, w io.Writer) error {
	clip, err := audio.ReadWAV(cfg.Input)
	if err != nil {
		return err
	}

	p := pipeline.New(cfg.Analysis.PipelineParams())
	frames, err := audio.AnalyzeClip(cfg.Audio, clip, p)
	if err != nil {
		return err
	}
	log.Infof("analyze: %s: %d frames", cfg.Input, frames)

	if _, ok, err := p.Validate(ctx); err != nil {
		return err
	} else if !ok {
		log.Warnf("analyze: %d tokens are too few to validate", p.Len())
	}

	summary := p.Summary()
	fmt.Fprintf(w, "File:        %s (%.2f s, %d Hz, %d-bit)\n",
		cfg.Input, clip.Duration().Seconds(), clip.SampleRate, clip.BitDepth)
	writeSummary(w, summary)

	if cfg.Report.Enabled {
		rep := generateReport(ctx, cfg.Report, p.History())
		fmt.Fprintf(w, "\n%s\n", rep)
	}

	return archiveSummary(ctx, cfg.Archive, filepath.Base(cfg.Input), summary, w)
}

func writeSummary(w io.Writer, s pipeline.Summary) {
	fmt.Fprintf(w, "Frames:      %d\n", s.Frames)
	fmt.Fprintf(w, "Archetypes:  %d\n", s.Archetypes)
	if s.DominantCluster != "" {
		fmt.Fprintf(w, "Dominant:    %s\n", s.DominantCluster)
	}
	if s.MeanFrequency > 0 {
		fmt.Fprintf(w, "Mean:        %.1f Hz, integrity %.2f\n", s.MeanFrequency, s.MeanIntegrity)
	}

	var states []string
	for st := stability.Inactive; st <= stability.Artifact; st++ {
		if n := s.States[st]; n > 0 {
			states = append(states, fmt.Sprintf("%s=%d", st, n))
		}
	}
	fmt.Fprintf(w, "States:      %s\n", strings.Join(states, " "))

	if v := s.Validation; v != nil {
		fmt.Fprintf(w, "Validation:  %s\n", v.Verdict)
		fmt.Fprintf(w, "  z-score %.2f, native delta %.3f, shuffled delta %.3f\n",
			v.ZScore, v.NativeDelta, v.ShuffledDelta)
		fmt.Fprintf(w, "  entropy %.2f bits, compression %.2f, reliable %t\n",
			v.Entropy, v.CompressionRatio, v.IsReliable)
	} else {
		fmt.Fprintln(w, "Validation:  not enough tokens")
	}
}

// generateReport never fails; a missing key or API error yields the
// fallback report.
func generateReport(ctx context.Context, cfg config.ReportConfig, history []pipeline.Frame) report.Report {
	gen, err := newGenerator(ctx, cfg)
	if err != nil {
		log.Warnf("report: %v", err)
		gen = nil
	}
	// Safe swallows every error.
	rep, _ := report.Safe(gen).Generate(ctx, report.NewRequest(history, cfg.Window, cfg.Context))
	return rep
}

func archiveSummary(ctx context.Context, cfg config.ArchiveConfig, label string, s pipeline.Summary, w io.Writer) error {
	store, err := archive.Open(cfg)
	if err != nil {
		return err
	}
	entry := archive.EntryFromSummary(label, s, now())
	saveErr := store.Save(ctx, entry)
	if err := errors.Join(saveErr, store.Close()); err != nil {
		return err
	}
	fmt.Fprintf(w, "Archived:    %s\n", entry.ID)
	return nil
}

func runArchiveList(ctx context.Context, cfg *config.Config, w io.Writer) error {
	store, err := archive.Open(cfg.Archive)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "Archive is empty.")
		return nil
	}

	fmt.Fprintln(w, archiveTable(entries))
	return nil
}

func archiveTable(entries []archive.Entry) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TIME", "LABEL", "RESONANCE", "VERDICT", "SUMMARY")
	for _, e := range entries {
		verdict := "-"
		if e.Metrics != nil {
			verdict = string(e.Metrics.Verdict)
		}
		t.Row(
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Label,
			fmt.Sprintf("%.2f", e.Resonance),
			verdict,
			e.Summary,
		)
	}
	return t.String()
}

func runArchiveClear(ctx context.Context, cfg *config.Config, w io.Writer) error {
	store, err := archive.Open(cfg.Archive)
	if err != nil {
		return err
	}
	clearErr := store.Clear(ctx)
	if err := errors.Join(clearErr, store.Close()); err != nil {
		return err
	}
	fmt.Fprintln(w, "Archive cleared.")
	return nil
}

// FinishSession prints the summary of a live session, requests a report
// when enabled and archives the summary under label. Empty sessions are not
// archived.
func FinishSession(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, label string, w io.Writer) error {
	summary := p.Summary()
	if summary.Frames == 0 {
		return nil
	}

	writeSummary(w, summary)
	if cfg.Report.Enabled {
		fmt.Fprintf(w, "\n%s\n", generateReport(ctx, cfg.Report, p.History()))
	}
	return archiveSummary(ctx, cfg.Archive, label, summary, w)
}
