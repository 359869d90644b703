package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"settlecam/internal/camera"
	"settlecam/internal/config"
	"settlecam/internal/logging"
	"settlecam/internal/retry"
	"settlecam/internal/services"
)

// Snapshot describes one wide-angle still taken during the recording.
type Snapshot struct {
	Label     string
	OffsetMin int
	Path      string
}

// Result summarizes a completed recording.
type Result struct {
	VideoPath       string
	RecordedSeconds float64
	Attempts        int
	Segments        int
	Snapshots       []Snapshot
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Recorder accumulates recorded footage until the configured duration target
// is met.
type Recorder struct {
	cfg       *config.Config
	runner    MediaRunner
	primary   camera.Device
	secondary camera.Device
	hasCam2   bool
	logger    *slog.Logger
	now       func() time.Time
}

// NewRecorder builds a Recorder using the production ffmpeg runner.
func NewRecorder(cfg *config.Config, logger *slog.Logger) *Recorder {
	return NewRecorderWithRunner(cfg, NewFFmpegRunner(cfg.FFmpegBinary(), cfg.FFprobeBinary()), logger)
}

// NewRecorderWithRunner builds a Recorder with an explicit MediaRunner.
func NewRecorderWithRunner(cfg *config.Config, runner MediaRunner, logger *slog.Logger) *Recorder {
	secondary, hasCam2 := camera.Secondary(cfg)
	return &Recorder{
		cfg:       cfg,
		runner:    runner,
		primary:   camera.Primary(cfg),
		secondary: secondary,
		hasCam2:   hasCam2,
		logger:    logging.NewComponentLogger(logger, "capture"),
		now:       time.Now,
	}
}

// Record captures footage until the accumulated duration reaches the target.
// Primary recording and snapshot capture run as two concurrent activities
// sharing only the recorded-footage counter: a scheduler goroutine watches
// the counter and grabs each wide-angle still the moment its offset is
// crossed, so snapshots stay aligned with the primary footage even while a
// segment is in flight or the stream reconnects. Each failed or short
// segment consumes one retry; the run fails once the retry budget is spent
// or the overall time budget expires with footage still missing.
func (r *Recorder) Record(ctx context.Context, stagingDir string) (Result, error) {
	target := float64(r.cfg.Capture.DurationSeconds)
	budget := time.Duration(r.cfg.Capture.DurationSeconds+r.cfg.Capture.AttemptTimeoutPad*r.cfg.Capture.RetryAttempts) * time.Second

	result := Result{StartedAt: r.now()}

	segmentDir := filepath.Join(stagingDir, "segments")
	if err := os.MkdirAll(segmentDir, 0o755); err != nil {
		return result, services.Wrap(services.ErrTransient, "capturing", "prepare", "create segment directory", err)
	}

	r.logger.Info("recording started",
		logging.String("device", r.primary.Describe()),
		logging.Float64("target_seconds", target),
		logging.Duration("budget", budget),
	)

	counter := &recordedCounter{}
	var scheduler *snapshotScheduler
	if r.hasCam2 {
		scheduler = r.startSnapshotScheduler(ctx, stagingDir, counter)
	}

	runCtx, cancelRun := context.WithDeadline(ctx, result.StartedAt.Add(budget))
	segments, recorded, recErr := r.recordSegments(runCtx, segmentDir, target, counter, &result)
	cancelRun()

	if scheduler != nil {
		result.Snapshots = scheduler.stopAndWait()
	}
	result.RecordedSeconds = recorded

	if recErr != nil {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if errors.Is(recErr, context.DeadlineExceeded) {
			return result, services.Wrap(services.ErrTimeout, "capturing", "record",
				fmt.Sprintf("time budget spent with %.1fs of %.0fs recorded", recorded, target), nil)
		}
		return result, recErr
	}

	videoPath, err := r.finalize(ctx, stagingDir, segments)
	if err != nil {
		return result, err
	}

	result.VideoPath = videoPath
	result.Segments = len(segments)
	result.FinishedAt = r.now()

	r.logger.Info("recording complete",
		logging.String("video", videoPath),
		logging.Float64("recorded_seconds", recorded),
		logging.Int("attempts", result.Attempts),
		logging.Int("segments", len(segments)),
	)
	return result, nil
}

// recordSegments accumulates verified footage until it reaches the target.
// Each segment attempt streams its live progress into the counter; footage
// commits only after ffprobe confirms the file, so a broken attempt never
// advances the snapshot schedule.
func (r *Recorder) recordSegments(ctx context.Context, segmentDir string, target float64, counter *recordedCounter, result *Result) ([]string, float64, error) {
	policy := retry.Policy{
		MaxAttempts: r.cfg.Capture.RetryAttempts,
		Delay:       time.Duration(r.cfg.Capture.RetryDelaySeconds) * time.Second,
		MaxDelay:    time.Duration(r.cfg.Capture.RetryDelaySeconds) * time.Second,
	}

	var (
		segments []string
		recorded float64
	)
	for recorded < target {
		remaining := int(target - recorded)
		if remaining < 1 {
			break
		}
		path := segmentPath(segmentDir, len(segments))

		var seconds float64
		err := policy.Do(ctx, func(attemptCtx context.Context) error {
			result.Attempts++
			measured, err := r.recordOneSegment(attemptCtx, path, remaining, counter)
			if err != nil {
				counter.Discard()
				r.logger.Warn("segment attempt failed",
					logging.Int("attempt", result.Attempts),
					logging.Error(err),
				)
				return err
			}
			seconds = measured
			return nil
		})
		if err != nil {
			if ctx.Err() == nil {
				err = fmt.Errorf("retry budget spent: %w", err)
			}
			return segments, recorded, err
		}

		counter.Commit(seconds)
		segments = append(segments, path)
		recorded += seconds
		if recorded < target {
			r.logger.Info("partial segment recorded",
				logging.Float64("segment_seconds", seconds),
				logging.Float64("recorded_seconds", recorded),
				logging.Float64("target_seconds", target),
			)
		}
	}
	return segments, recorded, nil
}

func (r *Recorder) recordOneSegment(ctx context.Context, path string, seconds int, counter *recordedCounter) (float64, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(seconds+r.cfg.Capture.AttemptTimeoutPad)*time.Second)
	defer cancel()

	if err := r.runner.RecordSegment(attemptCtx, r.primary, path, seconds, counter.SetLive); err != nil {
		return 0, err
	}
	measured, err := r.runner.MeasureSeconds(ctx, path)
	if err != nil {
		return 0, err
	}
	if measured <= 0 {
		os.Remove(path)
		return 0, services.Wrap(services.ErrHardware, "capturing", "record", "camera produced no footage", nil)
	}
	return measured, nil
}

func (r *Recorder) finalize(ctx context.Context, stagingDir string, segments []string) (string, error) {
	if len(segments) == 0 {
		return "", services.Wrap(services.ErrHardware, "capturing", "finalize", "no segments recorded", nil)
	}

	videoPath := filepath.Join(stagingDir, r.now().Format("020106_150405")+"test1.mp4")
	if len(segments) == 1 {
		if err := os.Rename(segments[0], videoPath); err != nil {
			return "", services.Wrap(services.ErrTransient, "capturing", "finalize", "move segment", err)
		}
		return videoPath, nil
	}

	if err := r.runner.Concat(ctx, segments, videoPath); err != nil {
		return "", err
	}
	for _, segment := range segments {
		os.Remove(segment)
	}
	return videoPath, nil
}
