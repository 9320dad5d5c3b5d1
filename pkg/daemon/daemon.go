package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/goodnight-ai/goodnight/pkg/api"
	"github.com/goodnight-ai/goodnight/pkg/config"
	"github.com/goodnight-ai/goodnight/pkg/dreaming"
	"github.com/goodnight-ai/goodnight/pkg/events"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Daemon runs dreaming cycles on a schedule and serves the control
// surface.
type Daemon struct {
	runtimeDir string
	foreground bool

	// mu guards cfg, sched, lastDream, and nextFire across the poll
	// loop, signal reloads, and API triggers.
	mu        sync.Mutex
	cfg       *config.Config
	sched     cron.Schedule
	lastDream time.Time
	nextFire  time.Time

	// dreamMu single-flights cycles between the poll loop and the API.
	dreamMu sync.Mutex

	pidFile  *PIDFile
	stream   *events.Stream
	logLevel *slog.LevelVar
	logFile  *os.File
}

// New initializes the runtime directory, loads configuration, and sets up
// daemon logging. An empty runtimeDir selects ~/.good-night. Foreground
// mode mirrors the log to stderr.
func New(runtimeDir string, foreground bool) (*Daemon, error) {
	dir, err := InitRuntimeDir(runtimeDir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		runtimeDir: dir,
		foreground: foreground,
		cfg:        cfg,
		pidFile:    NewPIDFile(dir),
		stream:     events.NewStream(0),
		logLevel:   new(slog.LevelVar),
	}

	if cfg.Dreaming.Schedule != "" {
		d.sched, err = cronParser.Parse(cfg.Dreaming.Schedule)
		if err != nil {
			return nil, fmt.Errorf("invalid dreaming.schedule %q: %w", cfg.Dreaming.Schedule, err)
		}
	}

	if err := d.setupLogging(); err != nil {
		return nil, err
	}
	return d, nil
}

// RuntimeDir returns the initialized runtime directory.
func (d *Daemon) RuntimeDir() string { return d.runtimeDir }

// Config returns the active configuration.
func (d *Daemon) Config() *config.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Stream returns the event stream shared by scheduled and API-triggered
// cycles.
func (d *Daemon) Stream() *events.Stream { return d.stream }

// Run writes the PID file and drives the poll loop until a shutdown
// signal or context cancellation. In interval mode the first pass dreams
// immediately; with a cron schedule the first cycle waits for the next
// fire time.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.closeLog()

	if pid, running := d.pidFile.Running(); running {
		return fmt.Errorf("daemon is already running (pid %d)", pid)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	if err := d.pidFile.Write(); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := d.pidFile.Remove(); err != nil {
			slog.Warn("Removing PID file failed", "error", err)
		}
	}()

	if d.sched != nil {
		d.nextFire = d.sched.Next(time.Now())
		slog.Info("Cron schedule active",
			"schedule", d.cfg.Dreaming.Schedule,
			"next_fire", d.nextFire.Format(time.RFC3339))
	}

	srv, errCh := d.startAPI()

	cfg := d.Config()
	slog.Info("Daemon started",
		"pid", os.Getpid(),
		"runtime_dir", d.runtimeDir,
		"poll_interval", cfg.Daemon.PollDuration(),
		"dream_interval", cfg.Daemon.DreamDuration())

	var runErr error
loop:
	for {
		if d.shouldDream(time.Now()) {
			d.runScheduledCycle(ctx)
		}

		select {
		case <-ctx.Done():
			slog.Info("Context canceled, shutting down")
			break loop
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				slog.Info("Received SIGHUP, reloading configuration")
				d.reloadConfig()
				continue
			}
			slog.Info("Shutdown signal received", "signal", sig.String())
			break loop
		case err := <-errCh:
			slog.Error("API server error", "error", err)
			runErr = err
			break loop
		case <-time.After(d.pollInterval()):
		}
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("API server shutdown failed", "error", err)
		}
	}
	slog.Info("Daemon stopped")
	return runErr
}

// Trigger runs one cycle on behalf of the API. A cycle already in flight
// is reported as a failed result rather than queued behind it.
func (d *Daemon) Trigger(ctx context.Context, req api.TriggerRequest) *dreaming.Result {
	if !d.dreamMu.TryLock() {
		return &dreaming.Result{Success: false, Error: "a dreaming cycle is already running"}
	}
	defer d.dreamMu.Unlock()

	orch := dreaming.NewOrchestrator(d.runtimeDir, d.Config(), req.DryRun, d.stream)
	if req.Connector != "" {
		orch.SetConnectorFilter([]string{req.Connector})
	}
	if req.Module != "" {
		orch.SetPromptFilter([]string{req.Module})
	}

	result := orch.Run(ctx)
	if !req.DryRun {
		d.markDreamed(time.Now())
	}
	return result
}

// startAPI launches the control surface when enabled. The returned error
// channel reports listener failures.
func (d *Daemon) startAPI() (*api.Server, <-chan error) {
	errCh := make(chan error, 1)
	cfg := d.Config()
	if !cfg.API.Enabled {
		return nil, errCh
	}

	srv := api.NewServer(d.runtimeDir, cfg, d.stream, d.Trigger)
	srv.SetPIDProbe(func() (int, bool) { return os.Getpid(), true })
	srv.SetConfigSource(d.Config)

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	go func() {
		slog.Info("API server listening", "addr", addr)
		if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return srv, errCh
}

// shouldDream decides whether the poll pass runs a cycle.
func (d *Daemon) shouldDream(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sched != nil {
		return !now.Before(d.nextFire)
	}
	if d.lastDream.IsZero() {
		return true
	}
	return now.Sub(d.lastDream) >= d.cfg.Daemon.DreamDuration()
}

// runScheduledCycle executes one cycle from the poll loop. When an API
// trigger holds the dream lock the pass is skipped; the next poll
// re-evaluates.
func (d *Daemon) runScheduledCycle(ctx context.Context) {
	if !d.dreamMu.TryLock() {
		return
	}
	defer d.dreamMu.Unlock()

	slog.Info("Starting dreaming cycle")
	orch := dreaming.NewOrchestrator(d.runtimeDir, d.Config(), false, d.stream)
	result := orch.Run(ctx)
	d.markDreamed(time.Now())

	if result.Success {
		slog.Info("Dreaming cycle completed",
			"conversations", result.ConversationsAnalyzed,
			"issues", result.IssuesFound,
			"resolutions", result.ResolutionsGenerated,
			"duration_seconds", result.DurationSeconds)
	} else {
		slog.Error("Dreaming cycle failed", "error", result.Error)
	}
}

// markDreamed records cycle completion for interval scheduling and
// advances the cron fire time. Failed cycles count too, so a broken
// provider is retried on the next interval instead of every poll.
func (d *Daemon) markDreamed(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastDream = now
	if d.sched != nil {
		d.nextFire = d.sched.Next(now)
	}
}

func (d *Daemon) pollInterval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.Daemon.PollDuration()
}

// reloadConfig reloads config.yaml in response to SIGHUP. Load errors
// keep the previous configuration. The API listener address is fixed for
// the process lifetime; interval, schedule, and log level changes apply
// immediately.
func (d *Daemon) reloadConfig() {
	cfg, err := config.Load(d.runtimeDir)
	if err != nil {
		slog.Error("Failed to reload configuration", "error", err)
		return
	}

	var sched cron.Schedule
	if cfg.Dreaming.Schedule != "" {
		sched, err = cronParser.Parse(cfg.Dreaming.Schedule)
		if err != nil {
			slog.Error("Invalid dreaming.schedule, keeping previous configuration",
				"schedule", cfg.Dreaming.Schedule, "error", err)
			return
		}
	}

	d.mu.Lock()
	d.cfg = cfg
	d.sched = sched
	if sched != nil {
		d.nextFire = sched.Next(time.Now())
	}
	d.mu.Unlock()

	d.logLevel.Set(cfg.Daemon.Level())
	slog.Info("Configuration reloaded", "log_level", cfg.Daemon.LogLevel)
}

// setupLogging sends slog output to logs/daemon.log, mirrored to stderr
// in foreground mode. The level tracks config reloads through a LevelVar.
func (d *Daemon) setupLogging() error {
	d.logLevel.Set(d.cfg.Daemon.Level())

	path := filepath.Join(d.runtimeDir, "logs", "daemon.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening daemon log: %w", err)
	}
	d.logFile = f

	var w io.Writer = f
	if d.foreground {
		w = io.MultiWriter(f, os.Stderr)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: d.logLevel})))
	return nil
}

func (d *Daemon) closeLog() {
	if d.logFile != nil {
		_ = d.logFile.Close()
	}
}
