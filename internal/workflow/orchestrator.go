// Package workflow sequences the settling-test pipeline as a state machine
// over persisted runs.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"settlecam/internal/archive"
	"settlecam/internal/bootguard"
	"settlecam/internal/capture"
	"settlecam/internal/config"
	"settlecam/internal/dashboard"
	"settlecam/internal/logging"
	"settlecam/internal/preflight"
	"settlecam/internal/runstore"
	"settlecam/internal/sampler"
	"settlecam/internal/services"
	"settlecam/internal/stage"
	"settlecam/internal/telemetry"
	"settlecam/internal/uploader"
)

// Recorder matches the capture entry point the orchestrator drives.
type Recorder interface {
	Record(ctx context.Context, stagingDir string) (capture.Result, error)
}

// FrameExtractor matches the sampler entry point.
type FrameExtractor interface {
	Extract(ctx context.Context, videoPath, outDir string) ([]sampler.Frame, error)
}

// PreflightFunc runs the rig checks. Swappable so tests run without cameras.
type PreflightFunc func(ctx context.Context, cfg *config.Config) []preflight.Result

// Deps bundles the orchestrator's collaborators. Zero-value fields are wired
// to the real implementations by NewOrchestrator.
type Deps struct {
	Recorder  Recorder
	Extractor FrameExtractor
	Dashboard dashboard.Service
	Uploader  uploader.Client
	Telemetry telemetry.Sink
	Preflight PreflightFunc
}

type stageBinding struct {
	status  runstore.Status
	handler stage.Handler
}

// Orchestrator owns the run lifecycle: guard, archiving, capture, processing,
// publishing, and terminal bookkeeping.
type Orchestrator struct {
	cfg       *config.Config
	store     *runstore.Store
	logger    *slog.Logger
	dashboard dashboard.Service
	guard     *bootguard.Guard
	bindings  []stageBinding
	heartbeat *heartbeat

	mu          sync.Mutex
	cancel      context.CancelFunc
	activeRunID string
}

// NewOrchestrator wires the production pipeline.
func NewOrchestrator(cfg *config.Config, store *runstore.Store, logger *slog.Logger) *Orchestrator {
	return NewOrchestratorWith(cfg, store, logger, Deps{})
}

// NewOrchestratorWith wires the pipeline with explicit collaborators.
func NewOrchestratorWith(cfg *config.Config, store *runstore.Store, logger *slog.Logger, deps Deps) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldComponent, "workflow"))

	if deps.Recorder == nil {
		deps.Recorder = capture.NewRecorder(cfg, logger)
	}
	if deps.Extractor == nil {
		deps.Extractor = sampler.New(cfg, logger)
	}
	if deps.Dashboard == nil {
		deps.Dashboard = dashboard.NewService(cfg)
	}
	if deps.Uploader == nil {
		deps.Uploader = uploader.NewClient(cfg, logger)
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.NopSink{}
	}
	if deps.Preflight == nil {
		deps.Preflight = preflight.RunAll
	}

	o := &Orchestrator{
		cfg:       cfg,
		store:     store,
		logger:    logger,
		dashboard: deps.Dashboard,
		guard:     bootguard.New(cfg.Paths.BootMarkerPath),
		heartbeat: newHeartbeat(store, logger, time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second),
	}

	archiver := archive.New(cfg.Paths.StagingDir, cfg.Paths.ArchiveDir, logger)
	o.bindings = []stageBinding{
		{runstore.StatusPreflight, newPreflightStage(cfg, deps.Preflight)},
		{runstore.StatusArchiving, newArchiveStage(archiver, o.warn)},
		{runstore.StatusCapturing, newCaptureStage(cfg, deps.Recorder, deps.Dashboard, store)},
		{runstore.StatusProcessing, newProcessStage(cfg, deps.Extractor, archiver, logger)},
		{runstore.StatusPublishing, newPublishStage(cfg, deps.Dashboard, deps.Uploader, deps.Telemetry, store, o.warn, logger)},
	}
	return o
}

// Run executes one full settling test and returns the terminal run record.
// The returned error is non-nil only when the run did not complete; the run
// record carries the terminal state either way.
func (o *Orchestrator) Run(ctx context.Context) (*runstore.Run, error) {
	if o.cfg.Workflow.RunOncePerBoot {
		done, err := o.guard.CompletedThisBoot()
		if err != nil {
			return nil, err
		}
		if done {
			return nil, services.Wrap(services.ErrValidation, "workflow", "run_guard",
				"a test already completed this boot; use reset to allow another", nil)
		}
	}

	run, err := o.store.NewRun(ctx, o.cfg.Workflow.Mode)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(services.WithRunID(ctx, run.ID))
	o.setActive(run.ID, cancel)
	defer o.clearActive()

	logger := o.logger.With(logging.String(logging.FieldRunID, run.ID))
	logger.Info("run started", logging.String("mode", run.Mode))

	pipeline := &stage.Pipeline{
		Run:        run,
		StagingDir: o.cfg.Paths.StagingDir,
	}

	if err := o.executeStages(runCtx, logger, pipeline); err != nil {
		return o.finishWithError(ctx, run, logger, err)
	}

	if err := o.store.Transition(runCtx, run.ID, runstore.StatusPublishing, runstore.StatusCompleted); err != nil {
		return o.finishWithError(ctx, run, logger, err)
	}
	if o.cfg.Workflow.RunOncePerBoot {
		if err := o.guard.Mark(run.ID); err != nil {
			logger.Warn("boot marker write failed", logging.Error(err))
		}
	}
	logger.Info("run completed")
	return o.store.GetRun(ctx, run.ID)
}

func (o *Orchestrator) executeStages(ctx context.Context, logger *slog.Logger, pipeline *stage.Pipeline) error {
	current := runstore.StatusPreflight
	for _, binding := range o.bindings {
		if o.skipStage(binding.status) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if binding.status != current {
			if err := o.store.Transition(ctx, pipeline.Run.ID, current, binding.status); err != nil {
				return err
			}
			current = binding.status
		}

		stageCtx := services.WithStage(ctx, string(binding.status))
		stageLogger := logger.With(logging.String(logging.FieldStage, string(binding.status)))
		stageLogger.Info("stage started")
		started := time.Now()

		if err := binding.handler.Prepare(stageCtx, pipeline); err != nil {
			return fmt.Errorf("%s prepare: %w", binding.status, err)
		}

		var execErr error
		if binding.status == runstore.StatusCapturing {
			execErr = o.heartbeat.around(stageCtx, pipeline.Run.ID, func() error {
				return binding.handler.Execute(stageCtx, pipeline)
			})
		} else {
			execErr = binding.handler.Execute(stageCtx, pipeline)
		}
		if execErr != nil {
			return fmt.Errorf("%s: %w", binding.status, execErr)
		}
		stageLogger.Info("stage complete",
			logging.Duration("elapsed", time.Since(started).Round(time.Millisecond)))
	}
	return nil
}

// skipStage reports whether a stage is bypassed in the configured mode.
// Capture-only runs skip processing; raw footage still gets published.
func (o *Orchestrator) skipStage(status runstore.Status) bool {
	return o.cfg.CaptureOnly() && status == runstore.StatusProcessing
}

// Abort stops the active run. Partial footage already on disk is retained.
func (o *Orchestrator) Abort() bool {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// ActiveRunID returns the in-flight run's ID, or empty when idle.
func (o *Orchestrator) ActiveRunID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeRunID
}

// ResetGuard clears the run-once-per-boot marker.
func (o *Orchestrator) ResetGuard() error {
	return o.guard.Reset()
}

func (o *Orchestrator) setActive(id string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.activeRunID = id
	o.cancel = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) clearActive() {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.activeRunID = ""
	o.cancel = nil
	o.mu.Unlock()
}

// finishWithError records the terminal state. Cancellation becomes Aborted;
// everything else becomes Failed. The parent ctx (not the cancelled run ctx)
// performs the bookkeeping.
func (o *Orchestrator) finishWithError(ctx context.Context, run *runstore.Run, logger *slog.Logger, runErr error) (*runstore.Run, error) {
	if errors.Is(runErr, context.Canceled) {
		logger.Info("run aborted")
		if err := o.store.MarkAborted(ctx, run.ID); err != nil {
			logger.Error("abort bookkeeping failed", logging.Error(err))
		}
	} else {
		logger.Error("run failed", logging.Error(runErr))
		if err := o.store.MarkFailed(ctx, run.ID, runErr.Error()); err != nil {
			logger.Error("failure bookkeeping failed", logging.Error(err))
		}
	}
	final, err := o.store.GetRun(ctx, run.ID)
	if err != nil {
		return run, runErr
	}
	return final, runErr
}

// warn records a non-fatal alert on the run and forwards it to the dashboard.
// Dashboard delivery failure is logged only; warnings never fail a run.
func (o *Orchestrator) warn(ctx context.Context, runID, message string) {
	o.logger.Warn(message,
		logging.String(logging.FieldRunID, runID),
		logging.String(logging.FieldAlert, "run_warning"))
	if err := o.store.AddWarning(ctx, runID, message); err != nil {
		o.logger.Error("warning bookkeeping failed", logging.Error(err))
	}
	if err := o.dashboard.SendWarning(ctx, runID, message); err != nil {
		o.logger.Warn("warning delivery failed", logging.Error(err))
	}
}

// Health reports the readiness of every stage.
func (o *Orchestrator) Health(ctx context.Context) []stage.Health {
	healths := make([]stage.Health, 0, len(o.bindings))
	for _, binding := range o.bindings {
		healths = append(healths, binding.handler.HealthCheck(ctx))
	}
	return healths
}
