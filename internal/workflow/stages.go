package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"settlecam/internal/archive"
	"settlecam/internal/camera"
	"settlecam/internal/colorsample"
	"settlecam/internal/config"
	"settlecam/internal/dashboard"
	"settlecam/internal/deps"
	"settlecam/internal/geometry"
	"settlecam/internal/logging"
	"settlecam/internal/metrics"
	"settlecam/internal/preflight"
	"settlecam/internal/runstore"
	"settlecam/internal/services"
	"settlecam/internal/stage"
	"settlecam/internal/telemetry"
	"settlecam/internal/uploader"
	"settlecam/internal/vision"
)

type warnFunc func(ctx context.Context, runID, message string)

// preflightStage verifies the rig before anything touches the staging area.
type preflightStage struct {
	cfg   *config.Config
	check PreflightFunc
}

func newPreflightStage(cfg *config.Config, check PreflightFunc) *preflightStage {
	return &preflightStage{cfg: cfg, check: check}
}

func (s *preflightStage) Prepare(ctx context.Context, p *stage.Pipeline) error {
	return s.cfg.EnsureDirectories()
}

func (s *preflightStage) Execute(ctx context.Context, p *stage.Pipeline) error {
	return preflight.Failed(s.check(ctx, s.cfg))
}

func (s *preflightStage) HealthCheck(ctx context.Context) stage.Health {
	if missing := deps.MissingRequired(deps.CheckBinaries(deps.Required())); len(missing) > 0 {
		return stage.Unhealthy("preflight", fmt.Sprintf("missing binaries: %v", missing))
	}
	return stage.Healthy("preflight")
}

// archiveStage relocates the previous run and warns once when its data never
// reached storage.
type archiveStage struct {
	archiver *archive.Archiver
	warn     warnFunc
}

func newArchiveStage(archiver *archive.Archiver, warn warnFunc) *archiveStage {
	return &archiveStage{archiver: archiver, warn: warn}
}

func (s *archiveStage) Prepare(ctx context.Context, p *stage.Pipeline) error { return nil }

func (s *archiveStage) Execute(ctx context.Context, p *stage.Pipeline) error {
	result, err := s.archiver.ArchivePrevious()
	if err != nil {
		return err
	}
	if result.UnpublishedPrior {
		s.warn(ctx, p.Run.ID,
			fmt.Sprintf("previous run data was never uploaded; archived to %s", result.ArchivedPath))
	}
	return nil
}

func (s *archiveStage) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy("archiving")
}

// captureStage records the settling video and announces the run.
type captureStage struct {
	cfg       *config.Config
	recorder  Recorder
	dashboard dashboard.Service
	store     *runstore.Store
}

func newCaptureStage(cfg *config.Config, recorder Recorder, dash dashboard.Service, store *runstore.Store) *captureStage {
	return &captureStage{cfg: cfg, recorder: recorder, dashboard: dash, store: store}
}

func (s *captureStage) Prepare(ctx context.Context, p *stage.Pipeline) error {
	event := dashboard.InitialEvent{
		RunID:     p.Run.ID,
		Phase:     dashboard.Phase(time.Now()),
		StartedAt: p.Run.StartedAt.Format(time.RFC3339),
	}
	// The announcement is best-effort; capture starts either way.
	_ = s.dashboard.SendInitial(ctx, event)
	return nil
}

func (s *captureStage) Execute(ctx context.Context, p *stage.Pipeline) error {
	result, err := s.recorder.Record(ctx, p.StagingDir)
	if err != nil {
		return err
	}
	p.Capture = &result
	return s.store.SetVideoPath(ctx, p.Run.ID, result.VideoPath)
}

func (s *captureStage) HealthCheck(ctx context.Context) stage.Health {
	device := camera.Primary(s.cfg)
	checker := camera.NewChecker(s.cfg.FFmpegBinary(),
		time.Duration(s.cfg.Camera.CheckTimeout)*time.Second, nil)
	if err := checker.Check(ctx, device); err != nil {
		return stage.Unhealthy("capturing", err.Error())
	}
	return stage.Healthy("capturing")
}

// processStage runs the sequential measurement pipeline over the recording.
type processStage struct {
	cfg       *config.Config
	extractor FrameExtractor
	archiver  *archive.Archiver
	logger    *slog.Logger
}

func newProcessStage(cfg *config.Config, extractor FrameExtractor, archiver *archive.Archiver, logger *slog.Logger) *processStage {
	return &processStage{cfg: cfg, extractor: extractor, archiver: archiver, logger: logger}
}

func (s *processStage) Prepare(ctx context.Context, p *stage.Pipeline) error {
	if p.Capture == nil || p.Capture.VideoPath == "" {
		return services.Wrap(services.ErrValidation, "processing", "prepare",
			"no recorded video to process", nil)
	}
	p.FramesDir = filepath.Join(p.StagingDir, "frames")
	return os.MkdirAll(p.FramesDir, 0o755)
}

func (s *processStage) Execute(ctx context.Context, p *stage.Pipeline) error {
	frames, err := s.extractor.Extract(ctx, p.Capture.VideoPath, p.FramesDir)
	if err != nil {
		return err
	}
	p.Frames = frames

	if err := s.measure(p); err != nil {
		return err
	}
	s.compareSnapshots(p)

	// Frames served their purpose once measurements exist.
	s.archiver.ApplyRetention(archive.RetentionPolicy(s.cfg.Workflow.Retention), p.FramesDir)
	return nil
}

// measure runs detection on every frame and derives the final result from the
// first and last valid measurements. The mask and mixture top come from the
// first frame; both are fixed for the whole run by the rig geometry.
func (s *processStage) measure(p *stage.Pipeline) error {
	detector := vision.NewDetector(s.cfg.Detection)
	roi := geometry.ROI(s.cfg.Geometry)

	var (
		calibrator *geometry.Calibrator
		mask       *vision.Mask
		mixtureTop int
	)

	for _, frame := range p.Frames {
		img, err := s.loadFrame(frame.Path, roi)
		if err != nil {
			s.logger.Warn("frame unreadable, skipped",
				logging.String("path", frame.Path), logging.Error(err))
			continue
		}

		if calibrator == nil {
			height := img.Bounds().Dy()
			calibrator, err = geometry.NewCalibrator(s.cfg.Geometry, height)
			if err != nil {
				return err
			}
			mask, err = vision.BuildMask(img,
				s.cfg.Detection.MaskCoverageMinPct, s.cfg.Detection.MaskCoverageMaxPct)
			if err != nil {
				return err
			}
			mixtureTop = detector.MixtureTop(img)
		}

		masked, err := mask.Apply(img)
		if err != nil {
			return err
		}
		frameResult := detector.ProcessFrame(masked, mixtureTop)
		switch frameResult.Confidence {
		case vision.NoInterface:
			s.logger.Debug("no interface in frame", logging.Int("frame", frame.Index))
			continue
		case vision.LowConfidence:
			// Too few columns agreed; the value is untrustworthy and must
			// not anchor the final result.
			s.logger.Debug("low-confidence frame excluded",
				logging.Int("frame", frame.Index),
				logging.Int("survivors", frameResult.Survivors))
			continue
		}

		measurement, err := calibrator.Measure(frame.Index, frameResult, masked.Bounds().Dy())
		if err != nil {
			// Impossible physical heights mean the rig itself is wrong.
			return err
		}
		p.Measurements = append(p.Measurements, measurement)
	}

	if len(p.Measurements) == 0 {
		return services.Wrap(services.ErrValidation, "processing", "measure",
			"no frame yielded a valid interface measurement", nil)
	}

	initial := p.Measurements[0]
	final := p.Measurements[len(p.Measurements)-1]
	elapsed := s.elapsedMinutes(p, initial.SampleIndex, final.SampleIndex)
	result := metrics.Compute(initial, final, elapsed, len(p.Measurements))
	p.Result = &result

	s.logger.Info("measurements computed",
		logging.Int("frames", len(p.Frames)),
		logging.Int("valid", len(p.Measurements)),
		logging.Float64("sv30_pct", result.SV30Pct))
	return nil
}

// loadFrame reads a sampled frame and crops it to the calibrated container
// region.
func (s *processStage) loadFrame(path string, roi image.Rectangle) (*image.Gray, error) {
	img, err := vision.LoadGray(path)
	if err != nil {
		return nil, err
	}
	return vision.Crop(img, roi)
}

func (s *processStage) elapsedMinutes(p *stage.Pipeline, firstIndex, lastIndex int) float64 {
	var first, last time.Duration
	for _, frame := range p.Frames {
		if frame.Index == firstIndex {
			first = frame.Timestamp
		}
		if frame.Index == lastIndex {
			last = frame.Timestamp
		}
	}
	return (last - first).Minutes()
}

// compareSnapshots samples supernatant color change between the earliest and
// latest wide-angle snapshots. Missing snapshots are not an error; the color
// summary is optional in the result payload.
func (s *processStage) compareSnapshots(p *stage.Pipeline) {
	if p.Capture == nil || len(p.Capture.Snapshots) < 2 {
		return
	}
	first := p.Capture.Snapshots[0]
	last := p.Capture.Snapshots[len(p.Capture.Snapshots)-1]

	// Sample points are calibrated against the wide camera's own frame; the
	// primary geometry ROI does not apply to its mounting.
	points := s.cfg.ColorSample
	topPoint := colorsample.Point{X: points.TopX, Y: points.TopY}
	bottomPoint := colorsample.Point{X: points.BottomX, Y: points.BottomY}

	comparison, err := colorsample.NewSampler(points.PatchRadius).Compare(first.Path, last.Path, topPoint, bottomPoint)
	if err != nil {
		s.logger.Warn("color sampling skipped", logging.Error(err))
		return
	}
	p.ColorSample = comparison
}

func (s *processStage) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy("processing")
}

// publishStage persists the local result and fans it out to the external
// sinks. Only local persistence can fail the stage; every external failure
// downgrades to a warning.
type publishStage struct {
	cfg       *config.Config
	dashboard dashboard.Service
	uploader  uploader.Client
	telemetry telemetry.Sink
	store     *runstore.Store
	warn      warnFunc
	logger    *slog.Logger
}

func newPublishStage(cfg *config.Config, dash dashboard.Service, upload uploader.Client,
	sink telemetry.Sink, store *runstore.Store, warn warnFunc, logger *slog.Logger) *publishStage {
	return &publishStage{
		cfg:       cfg,
		dashboard: dash,
		uploader:  upload,
		telemetry: sink,
		store:     store,
		warn:      warn,
		logger:    logger,
	}
}

func (s *publishStage) Prepare(ctx context.Context, p *stage.Pipeline) error { return nil }

func (s *publishStage) Execute(ctx context.Context, p *stage.Pipeline) error {
	completedAt := time.Now()

	if p.Result != nil {
		result := p.Result.Publish()

		payload, err := json.MarshalIndent(resultDocument{
			RunID:       p.Run.ID,
			CompletedAt: completedAt.UTC().Format(time.RFC3339),
			Result:      result,
			ColorSample: p.ColorSample,
		}, "", "  ")
		if err != nil {
			return services.Wrap(services.ErrValidation, "publishing", "encode_result", "", err)
		}
		resultPath := filepath.Join(s.cfg.Paths.ResultsDir, "result_"+p.Run.ID+".json")
		if err := os.WriteFile(resultPath, payload, 0o644); err != nil {
			return services.Wrap(services.ErrConfiguration, "publishing", "persist_result", resultPath, err)
		}
		if err := s.store.SetResult(ctx, p.Run.ID, string(payload)); err != nil {
			return err
		}

		event := dashboard.ResultEvent{
			RunID:      p.Run.ID,
			Phase:      dashboard.Phase(completedAt),
			FinishedAt: completedAt.UTC().Format(time.RFC3339),
			Result:     result,
		}
		if p.ColorSample != nil {
			event.ColorSample = p.ColorSample
		}
		if err := s.dashboard.SendResult(ctx, event); err != nil {
			s.warn(ctx, p.Run.ID, fmt.Sprintf("dashboard publish failed: %v", err))
		}

		if err := s.telemetry.WriteResult(result, completedAt); err != nil {
			s.warn(ctx, p.Run.ID, fmt.Sprintf("telemetry write failed: %v", err))
		}
	}

	if s.uploader.Enabled() && p.Capture != nil && p.Capture.VideoPath != "" {
		if err := s.uploader.Store(ctx, p.Capture.VideoPath); err != nil {
			s.warn(ctx, p.Run.ID, fmt.Sprintf("artifact upload failed: %v", err))
		}
	}
	return nil
}

func (s *publishStage) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy("publishing")
}

type resultDocument struct {
	RunID       string                  `json:"run_id"`
	CompletedAt string                  `json:"completed_at"`
	Result      metrics.Published       `json:"result"`
	ColorSample *colorsample.Comparison `json:"color_sample,omitempty"`
}
