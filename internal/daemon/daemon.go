// Package daemon hosts the long-running settlecam process: single-instance
// locking, run triggering, and camera hotplug monitoring.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"settlecam/internal/config"
	"settlecam/internal/deps"
	"settlecam/internal/logging"
	"settlecam/internal/runstore"
	"settlecam/internal/services"
	"settlecam/internal/stage"
	"settlecam/internal/workflow"
)

// Daemon coordinates the orchestrator and enforces single-instance execution.
type Daemon struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        *runstore.Store
	orchestrator *workflow.Orchestrator
	monitor      *cameraMonitor

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	LockFilePath string
	RunDBPath    string
	ActiveRun    *runstore.Run
	Summary      runstore.Summary
	StageHealth  []stage.Health
	Dependencies []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *runstore.Store, logger *slog.Logger, orch *workflow.Orchestrator) (*Daemon, error) {
	if cfg == nil || store == nil || orch == nil {
		return nil, errors.New("daemon requires config, store, and orchestrator")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "settlecamd.lock")
	d := &Daemon{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		orchestrator: orch,
		lockPath:     lockPath,
		lock:         flock.New(lockPath),
	}
	d.monitor = newCameraMonitor(cfg, logger)
	return d, nil
}

// Start acquires the daemon lock and begins background monitoring.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another settlecam daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.monitor.Start(d.ctx); err != nil {
		d.logger.Warn("camera hotplug monitor unavailable", logging.Error(err))
	}

	d.running.Store(true)
	d.logger.Info("settlecam daemon started", logging.String("lock", d.lockPath))

	if d.cfg.Workflow.RunOncePerBoot {
		runCtx := d.ctx
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.autoRun(runCtx)
		}()
	}
	return nil
}

// autoRun triggers the boot-time test. The orchestrator's boot guard keeps
// this from repeating after a completed run until an explicit reset.
func (d *Daemon) autoRun(ctx context.Context) {
	_, err := d.orchestrator.Run(ctx)
	switch {
	case err == nil:
		if d.cfg.Workflow.AutoShutdown {
			d.scheduleShutdown(ctx)
		}
	case errors.Is(err, services.ErrValidation):
		d.logger.Info("boot-time run skipped", logging.String("reason", err.Error()))
	case errors.Is(err, context.Canceled):
	default:
		d.logger.Error("boot-time run failed", logging.Error(err))
	}
}

func (d *Daemon) scheduleShutdown(ctx context.Context) {
	delay := time.Duration(d.cfg.Workflow.ShutdownDelaySec) * time.Second
	d.logger.Info("run complete; shutting down", logging.Duration("delay", delay))
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}
	if out, err := exec.CommandContext(ctx, "systemctl", "poweroff").CombinedOutput(); err != nil {
		d.logger.Error("poweroff failed",
			logging.Error(err),
			logging.String("output", strings.TrimSpace(string(out))))
	}
}

// Stop cancels any in-flight run and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.monitor.Stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("settlecam daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// StartRun launches a settling test in the background. Only one run can be in
// flight at a time.
func (d *Daemon) StartRun() (started bool, message string) {
	if !d.running.Load() {
		return false, "daemon not running"
	}
	if id := d.orchestrator.ActiveRunID(); id != "" {
		return false, fmt.Sprintf("run %s already in progress", id)
	}

	ctx := d.ctx
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.orchestrator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("run finished with error", logging.Error(err))
		}
	}()
	return true, "run started"
}

// AbortRun stops the active run, retaining any partial footage.
func (d *Daemon) AbortRun() bool {
	return d.orchestrator.Abort()
}

// ResetGuard clears the run-once-per-boot marker.
func (d *Daemon) ResetGuard() error {
	return d.orchestrator.ResetGuard()
}

// Runs lists recent runs, newest first.
func (d *Daemon) Runs(ctx context.Context, limit int) ([]*runstore.Run, error) {
	return d.store.ListRuns(ctx, limit)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	active, err := d.store.ActiveRun(ctx)
	if err != nil {
		return Status{}, err
	}
	summary, err := d.store.Summarize(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		RunDBPath:    d.store.Path(),
		ActiveRun:    active,
		Summary:      summary,
		StageHealth:  d.orchestrator.Health(ctx),
		Dependencies: deps.CheckBinaries(deps.Required()),
	}, nil
}
