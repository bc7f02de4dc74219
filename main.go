// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"rosettas/cmd"
	"rosettas/internal/audio"
	"rosettas/internal/config"
	"rosettas/internal/log"
	"rosettas/internal/pipeline"
	"rosettas/internal/transport"
	"rosettas/internal/transport/udp"
	"rosettas/internal/tui"
	"rosettas/pkg/build"

	"github.com/mdobak/go-xerrors"
)

// subscriberBuffer is the frame backlog each consumer may fall behind by.
const subscriberBuffer = 64

// main is the entry point of the tokenizer.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Configure runtime settings
//   - Parse command line arguments and load the configuration
//   - Initialize PortAudio when the command needs it
//   - Execute one-off commands if requested
//
// 2. Concurrent Phase (Hot Path):
//   - Start the audio engine feeding the pipeline
//   - Start recording if enabled
//   - Start transports and periodic validation
//   - Run the monitor, or wait for a signal when headless
//
// 3. Shutdown Phase (Cold Path):
//   - Stop the input stream and recording
//   - Close transports
//   - Archive the session summary
func main() {
	if err := run(); err != nil {
		fmt.Fprint(os.Stderr, xerrors.Sprint(err))
		os.Exit(1)
	}
}

func run() error {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(); err != nil {
		log.Debugf("build: %v", err)
	}

	// Limit OS threads to optimize for real-time audio processing:
	// - One thread dedicated to audio engine (time-critical)
	// - One thread for UI and I/O operations
	runtime.GOMAXPROCS(2)

	cfg, err := cmd.ParseArgs()
	if err != nil {
		return xerrors.New(err)
	}
	if cfg == nil {
		return nil
	}
	log.SetLevel(cfg.EffectiveLogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd.NeedsAudio(cfg.Command) {
		if err := audio.Initialize(); err != nil {
			return xerrors.New(err)
		}
		defer audio.Terminate()
	}

	// One-off commands don't start the engine
	if cfg.Command != "" {
		if err := cmd.Execute(ctx, cfg, os.Stdout); err != nil {
			return xerrors.New(err)
		}
		return nil
	}

	return runSession(ctx, cfg)
}

func runSession(ctx context.Context, cfg *config.Config) error {
	// ==================== CONCURRENT PHASE (Hot Path) ====================

	p := pipeline.New(cfg.Analysis.PipelineParams())

	engine, err := audio.NewEngine(cfg, p)
	if err != nil {
		return xerrors.New(err)
	}
	defer engine.Close()

	// CRITICAL: Start of real-time audio processing
	// The first call to StartInputStream triggers PortAudio to begin
	// calling the callback function, marking the start of the hot path
	if err := engine.StartInputStream(); err != nil {
		return xerrors.New(err)
	}

	label := "live session"
	if cfg.Recording.Enabled {
		path := cfg.OutputFile
		if path == "" {
			path = audio.RecordingName(cfg.Recording.OutputDir, time.Now())
		}
		if err := engine.StartRecording(path); err != nil {
			return xerrors.New(err)
		}
		label = filepath.Base(path)
	}

	sessionCtx, cancelSession := context.WithCancel(ctx)
	defer cancelSession()

	var (
		wg      sync.WaitGroup
		closers []func() error
	)
	forward := func(t transport.Transport) {
		frames, unsubscribe := p.Subscribe(subscriberBuffer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer unsubscribe()
			if failed, err := transport.Forward(sessionCtx, frames, t); failed > 0 {
				log.Warnf("transport: %d frames failed to send (%v)", failed, err)
			}
		}()
		closers = append(closers, t.Close)
	}

	if cfg.Transport.WebSocketEnabled {
		ws, err := transport.NewWebSocketTransport(cfg.Transport.WebSocketAddress)
		if err != nil {
			return xerrors.New(err)
		}
		log.Infof("websocket: serving frames on ws://%s/ws", ws.Addr())
		forward(ws)
	}

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return xerrors.New(err)
		}
		publisher, err := udp.NewPublisher(cfg.Transport.UDPSendInterval, sender, p)
		if err != nil {
			sender.Close()
			return xerrors.New(err)
		}
		publisher.Start()
		closers = append(closers, publisher.Stop, sender.Close)
	}

	if interval := cfg.Analysis.ValidationInterval; interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.ValidateEvery(sessionCtx, interval)
		}()
	}

	if cfg.Headless {
		forward(transport.NewLoggingTransport())
		fmt.Printf("Listening on %s. Press Ctrl+C to stop.\n", engine.DeviceName())
		<-ctx.Done()
	} else if err := runMonitor(ctx, cfg, p, engine); err != nil {
		log.Errorf("monitor: %v", err)
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	if err := engine.StopInputStream(); err != nil {
		log.Errorf("Error stopping input stream: %v", err)
	}

	if engine.IsRecording() {
		path := engine.RecordingPath()
		if err := engine.StopRecording(); err != nil {
			log.Errorf("Error stopping recording: %v", err)
		}
		fmt.Printf("\nRecording saved to: %s\n", path)
	}

	cancelSession()
	wg.Wait()
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Errorf("Error closing transport: %v", err)
		}
	}

	frames, rejected, writeErrs := engine.Stats()
	log.Infof("session: %d frames analysed, %d rejected, %d recording write errors", frames, rejected, writeErrs)

	// The signal context is done by now; the archive gets its own deadline.
	finishCtx, cancel := context.WithTimeout(context.Background(), cfg.Report.Timeout+5*time.Second)
	defer cancel()
	if err := cmd.FinishSession(finishCtx, cfg, p, label, os.Stdout); err != nil {
		return xerrors.New(err)
	}
	return nil
}

// runMonitor runs the TUI with logging moved out of the terminal.
func runMonitor(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, engine *audio.Engine) error {
	logOut := io.Discard
	if cfg.Verbose || cfg.Debug {
		f, err := os.OpenFile("rosettas.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}
	log.SetOutput(logOut)
	defer log.SetOutput(os.Stderr)

	frames, unsubscribe := p.Subscribe(subscriberBuffer)
	defer unsubscribe()
	return tui.RunMonitor(ctx, p, frames, engine)
}
