package capture

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"settlecam/internal/camera"
	"settlecam/internal/media/ffprobe"
	"settlecam/internal/services"
)

// MediaRunner abstracts the ffmpeg/ffprobe invocations the recorder depends
// on so the retry logic can be tested without real devices.
type MediaRunner interface {
	// RecordSegment records up to seconds of footage from the device into
	// outPath. While recording it reports the footage written so far through
	// progress, which may be nil.
	RecordSegment(ctx context.Context, device camera.Device, outPath string, seconds int, progress func(seconds float64)) error
	// MeasureSeconds returns the usable footage contained in the file at path.
	MeasureSeconds(ctx context.Context, path string) (float64, error)
	// GrabFrame captures a single frame from the device as a JPEG at outPath.
	GrabFrame(ctx context.Context, device camera.Device, outPath string) error
	// Concat merges the segment files into a single container at outPath.
	Concat(ctx context.Context, segments []string, outPath string) error
}

type ffmpegRunner struct {
	ffmpeg  string
	ffprobe string
}

// NewFFmpegRunner returns the production MediaRunner backed by the ffmpeg and
// ffprobe binaries.
func NewFFmpegRunner(ffmpegBinary, ffprobeBinary string) MediaRunner {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(ffprobeBinary) == "" {
		ffprobeBinary = "ffprobe"
	}
	return &ffmpegRunner{ffmpeg: ffmpegBinary, ffprobe: ffprobeBinary}
}

func (r *ffmpegRunner) RecordSegment(ctx context.Context, device camera.Device, outPath string, seconds int, progress func(float64)) error {
	args := append([]string{"-v", "error", "-hide_banner", "-nostdin"}, device.InputArgs()...)
	args = append(args, "-t", strconv.Itoa(seconds))
	args = append(args, codecArgs(device)...)
	args = append(args, "-progress", "pipe:1", "-nostats")
	args = append(args, "-y", outPath)

	cmd := exec.CommandContext(ctx, r.ffmpeg, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "capturing", "record segment", "open progress pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return services.Wrap(services.ErrExternalTool, "capturing", "record segment", err.Error(), err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if progress == nil {
			continue
		}
		if elapsed, ok := parseProgressSeconds(scanner.Text()); ok {
			progress(elapsed)
		}
	}

	if err := cmd.Wait(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return services.Wrap(services.ErrExternalTool, "capturing", "record segment", detail, err)
	}
	return nil
}

// parseProgressSeconds reads one line of ffmpeg -progress output. Only the
// out_time_us key matters; everything else on the stream is ignored.
func parseProgressSeconds(line string) (float64, bool) {
	value, found := strings.CutPrefix(strings.TrimSpace(line), "out_time_us=")
	if !found {
		return 0, false
	}
	us, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || us < 0 {
		return 0, false
	}
	return float64(us) / 1e6, true
}

func (r *ffmpegRunner) MeasureSeconds(ctx context.Context, path string) (float64, error) {
	result, err := ffprobe.Inspect(ctx, r.ffprobe, path)
	if err != nil {
		return 0, services.Wrap(services.ErrExternalTool, "capturing", "measure segment", path, err)
	}
	return result.DurationSeconds(), nil
}

func (r *ffmpegRunner) GrabFrame(ctx context.Context, device camera.Device, outPath string) error {
	args := append([]string{"-v", "error", "-hide_banner", "-nostdin"}, device.InputArgs()...)
	args = append(args, "-frames:v", "1", "-q:v", "2", "-y", outPath)

	cmd := exec.CommandContext(ctx, r.ffmpeg, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if detail == "" {
			detail = err.Error()
		}
		return services.Wrap(services.ErrExternalTool, "capturing", "grab frame", detail, err)
	}
	return nil
}

func (r *ffmpegRunner) Concat(ctx context.Context, segments []string, outPath string) error {
	listPath := outPath + ".segments.txt"
	var list strings.Builder
	for _, segment := range segments {
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(segment, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "capturing", "concat", "write segment list", err)
	}
	defer os.Remove(listPath)

	cmd := exec.CommandContext(ctx, r.ffmpeg,
		"-v", "error", "-hide_banner", "-nostdin",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y", outPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if detail == "" {
			detail = err.Error()
		}
		return services.Wrap(services.ErrExternalTool, "capturing", "concat", detail, err)
	}
	return nil
}

// codecArgs picks the transcode settings per device kind. Raw v4l2 input has
// to be encoded; stream and file sources already carry compressed video that
// can be remuxed without touching the bits.
func codecArgs(device camera.Device) []string {
	switch device.Kind {
	case camera.KindUSB:
		return []string{"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p"}
	default:
		return []string{"-c:v", "copy", "-an"}
	}
}

func segmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("segment_%03d.mp4", index))
}
