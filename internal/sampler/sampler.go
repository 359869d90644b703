// Package sampler extracts evenly spaced frames from a recorded settling
// video for interface detection.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"settlecam/internal/config"
	"settlecam/internal/logging"
	"settlecam/internal/media/ffprobe"
	"settlecam/internal/services"
)

// Frame identifies one extracted still and its position in the recording.
type Frame struct {
	Index     int
	Timestamp time.Duration
	Path      string
}

// VideoSource abstracts the ffmpeg/ffprobe calls so extraction logic can be
// tested without media files.
type VideoSource interface {
	// DurationSeconds returns the playable duration of the video at path.
	DurationSeconds(ctx context.Context, path string) (float64, error)
	// ExtractFrame writes the frame nearest to the timestamp as a JPEG.
	ExtractFrame(ctx context.Context, path string, at time.Duration, outPath string) error
}

// Extractor pulls one frame per configured interval.
type Extractor struct {
	interval time.Duration
	source   VideoSource
	logger   *slog.Logger
}

// New builds an Extractor backed by the ffmpeg and ffprobe binaries.
func New(cfg *config.Config, logger *slog.Logger) *Extractor {
	source := &ffmpegSource{ffmpeg: cfg.FFmpegBinary(), ffprobe: cfg.FFprobeBinary()}
	return NewWithSource(time.Duration(cfg.Sampling.IntervalSeconds)*time.Second, source, logger)
}

// NewWithSource builds an Extractor with an explicit VideoSource.
func NewWithSource(interval time.Duration, source VideoSource, logger *slog.Logger) *Extractor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Extractor{interval: interval, source: source, logger: logging.NewComponentLogger(logger, "sampler")}
}

// Extract produces one frame per interval starting at the first frame of the
// video. A video of duration D with interval I yields floor(D/I) frames at
// timestamps 0, I, 2I and so on; a video shorter than one interval yields
// nothing to measure and is rejected. The first frame anchors the mixture top
// for the whole run. Individual frame failures are logged and skipped so a
// corrupt patch of video does not abort the measurement.
func (e *Extractor) Extract(ctx context.Context, videoPath, outDir string) ([]Frame, error) {
	duration, err := e.source.DurationSeconds(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		return nil, services.Wrap(services.ErrValidation, "processing", "extract frames", "video has no playable duration", nil)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrTransient, "processing", "extract frames", "create frame directory", err)
	}

	count := int(duration / e.interval.Seconds())
	if count < 1 {
		return nil, services.Wrap(services.ErrValidation, "processing", "extract frames",
			fmt.Sprintf("video of %.1fs is shorter than the %s sampling interval", duration, e.interval), nil)
	}

	e.logger.Info("extracting frames",
		logging.String("video", videoPath),
		logging.Float64("duration_seconds", duration),
		logging.Duration("interval", e.interval),
		logging.Int("expected_frames", count),
	)

	frames := make([]Frame, 0, count)
	failed := 0
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		at := time.Duration(i) * e.interval
		path := filepath.Join(outDir, frameName(len(frames), at))
		if err := e.source.ExtractFrame(ctx, videoPath, at, path); err != nil {
			failed++
			e.logger.Warn("frame extraction failed",
				logging.Duration("timestamp", at),
				logging.Error(err),
			)
			continue
		}
		frames = append(frames, Frame{Index: len(frames), Timestamp: at, Path: path})
	}

	if len(frames) == 0 {
		return nil, services.Wrap(services.ErrValidation, "processing", "extract frames", "no frames extracted", nil)
	}
	if failed > 0 {
		e.logger.Warn("extraction finished with gaps",
			logging.Int("extracted", len(frames)),
			logging.Int("failed", failed),
			logging.String(logging.FieldAlert, "frame_gaps"),
		)
	}
	return frames, nil
}

func frameName(index int, at time.Duration) string {
	total := int(at.Seconds())
	return fmt.Sprintf("cam1_frame%04d_%02dm%02ds.jpg", index, total/60, total%60)
}

type ffmpegSource struct {
	ffmpeg  string
	ffprobe string
}

func (s *ffmpegSource) DurationSeconds(ctx context.Context, path string) (float64, error) {
	result, err := ffprobe.Inspect(ctx, s.ffprobe, path)
	if err != nil {
		return 0, err
	}
	return result.DurationSeconds(), nil
}

func (s *ffmpegSource) ExtractFrame(ctx context.Context, path string, at time.Duration, outPath string) error {
	cmd := exec.CommandContext(ctx, s.ffmpeg,
		"-v", "error", "-hide_banner", "-nostdin",
		"-ss", fmt.Sprintf("%.3f", at.Seconds()),
		"-i", path,
		"-frames:v", "1",
		"-q:v", "2",
		"-y", outPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if detail == "" {
			detail = err.Error()
		}
		return services.Wrap(services.ErrExternalTool, "processing", "extract frame", detail, err)
	}
	return nil
}
