package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chase3718/midiclock/internal/display"
	"github.com/chase3718/midiclock/internal/registry"
	"github.com/chase3718/midiclock/internal/tempo"
	tea "github.com/charmbracelet/bubbletea"
	"k8s.io/utils/clock"
)

// -------------------- Logger --------------------

// logger is the package-wide structured logger. Safe to use before initLogger
// is called; defaults to slog.Default().
var logger = slog.Default()

// initLogger configures the shared slog logger and calls slog.SetDefault so
// the stdlib log package also routes through the same handler.
func initLogger(debug bool, w io.Writer) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug, // include file:line in debug mode
	})
	logger = slog.New(h)
	slog.SetDefault(logger) // stdlib log.* now routes through slog
}

// -------------------- Tunables --------------------

const (
	watcherTick     = 250 * time.Millisecond
	shutdownTimeout = 5 * time.Second
	tuiLogFile      = "midiclock.log"
)

const (
	msgUnavailable  = "MIDI is not available on this system."
	msgAccessFailed = "Could not access MIDI: "
)

// -------------------- Main --------------------

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "midiclock:", err)
		os.Exit(2)
	}

	// the terminal belongs to the TUI; log to a file instead
	var logOut io.Writer = os.Stderr
	if cfg.UI == "tui" {
		f, err := os.OpenFile(tuiLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, "midiclock:", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	initLogger(cfg.Debug, logOut)

	logger.Info("midiclock starting",
		"ui", cfg.UI,
		"debug", cfg.Debug,
		"rescan", cfg.RescanInterval,
		"http", cfg.HTTPAddr,
		"nats", cfg.NATSURL,
		"osc_host", cfg.OSCHost,
		"serial", cfg.Serial.Device,
		"ppq", tempo.PPQ,
		"window", tempo.WindowSize,
		"throttle", registry.MinNotifyInterval,
	)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	if err := run(ctx, cancel, cfg); err != nil {
		logger.Error("midiclock stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("midiclock stopped")
}

// run wires the displays, the registry loop and the MIDI watcher, and
// blocks until ctx is cancelled or a startup error occurs.
func run(ctx context.Context, cancel context.CancelFunc, cfg Config) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	var displays display.Multi
	var tui *display.TUI

	switch cfg.UI {
	case "log":
		displays = append(displays, display.NewLog(logger))
	case "tui":
		tui = display.NewTUI(tea.WithAltScreen())
		displays = append(displays, tui)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel() // quitting the TUI ends the program
			if err := tui.Run(); err != nil {
				logger.Error("tui failed", "err", err)
			}
		}()
		context.AfterFunc(ctx, tui.Quit)
	}

	// fail reports a fatal error. With a TUI the error stays on screen until
	// the user quits.
	fail := func(err error) error {
		if tui == nil {
			cancel()
		}
		<-ctx.Done()
		return err
	}

	if cfg.HTTPAddr != "" {
		hub := display.NewHub(logger)
		displays = append(displays, hub)
		srv := &http.Server{Addr: cfg.HTTPAddr, Handler: hub.Handler()}

		wg.Add(2)
		go func() {
			defer wg.Done()
			hub.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			logger.Info("http: serving tempo feed", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http: server failed", "err", err)
			}
		}()
		context.AfterFunc(ctx, func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.NATSURL != "" {
		nc, err := display.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return fail(fmt.Errorf("nats: connect %s: %w", cfg.NATSURL, err))
		}
		defer func() { _ = nc.Drain() }()
		logger.Info("nats: connected", "url", nc.ConnectedUrl(), "prefix", cfg.NATSPrefix)
		displays = append(displays, display.NewNATS(logger, nc, cfg.NATSPrefix))
	}

	if cfg.OSCHost != "" {
		logger.Info("osc: sending tempo", "host", cfg.OSCHost, "port", cfg.OSCPort)
		displays = append(displays, display.NewOSC(logger, display.NewOSCClient(cfg.OSCHost, cfg.OSCPort)))
	}

	if cfg.Serial.Device != "" {
		sp, err := OpenSerial(cfg.Serial.Device, cfg.Serial.Baud)
		if err != nil {
			return fail(err)
		}
		defer sp.Close()
		displays = append(displays, NewSerialDisplay(sp, cfg.Serial.Preferred))
	}

	clk := clock.RealClock{}
	mono := tempo.NewMonotonic(clk)
	reg := registry.New(displays,
		registry.WithLogger(logger),
		registry.WithClock(clk),
		registry.WithMonotonic(mono),
	)
	loop := registry.NewLoop(reg, clk)

	watcher, err := NewMIDIWatcher(cfg, mono, func(devices []registry.Device) {
		loop.Devices(ctx, devices)
	})
	if err != nil {
		reg.SetStatus(msgUnavailable, true)
		return fail(err)
	}

	// access failures at startup are reported once and not retried. The
	// first device list waits in the loop's queue.
	if err := watcher.Scan(); err != nil {
		watcher.Close()
		reg.SetStatus(msgAccessFailed+err.Error(), true)
		return fail(fmt.Errorf("midi: %w", err))
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = loop.Run(ctx)
	}()
	defer func() {
		<-loopDone // listeners are stopped before the driver goes away
		watcher.Close()
	}()

	logger.Info("running – waiting for MIDI clock")

	ticker := time.NewTicker(watcherTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			watcher.Tick()
		}
	}
}
