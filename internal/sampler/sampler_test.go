package sampler_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"settlecam/internal/logging"
	"settlecam/internal/sampler"
	"settlecam/internal/services"
)

type fakeSource struct {
	duration    float64
	durationErr error
	failAt      map[time.Duration]bool
	extracted   []time.Duration
}

func (f *fakeSource) DurationSeconds(context.Context, string) (float64, error) {
	return f.duration, f.durationErr
}

func (f *fakeSource) ExtractFrame(_ context.Context, _ string, at time.Duration, outPath string) error {
	if f.failAt[at] {
		return services.Wrap(services.ErrExternalTool, "processing", "extract frame", "decode error", nil)
	}
	f.extracted = append(f.extracted, at)
	return os.WriteFile(outPath, []byte("jpeg"), 0o644)
}

func TestExtractProducesFloorDurationOverInterval(t *testing.T) {
	source := &fakeSource{duration: 95}
	extractor := sampler.NewWithSource(10*time.Second, source, logging.NewNop())

	frames, err := extractor.Extract(context.Background(), "video.mp4", t.TempDir())
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	// floor(95/10) = 9 frames at 0s..80s
	if len(frames) != 9 {
		t.Fatalf("expected 9 frames, got %d", len(frames))
	}
	if frames[0].Timestamp != 0 {
		t.Fatalf("expected first frame at t=0, got %v", frames[0].Timestamp)
	}
	if frames[8].Timestamp != 80*time.Second {
		t.Fatalf("expected last frame at 80s, got %v", frames[8].Timestamp)
	}
	if got := filepath.Base(frames[8].Path); got != "cam1_frame0008_01m20s.jpg" {
		t.Fatalf("unexpected frame name: %q", got)
	}
}

func TestExtractSkipsFailedFrames(t *testing.T) {
	source := &fakeSource{duration: 50, failAt: map[time.Duration]bool{20 * time.Second: true}}
	extractor := sampler.NewWithSource(10*time.Second, source, logging.NewNop())

	frames, err := extractor.Extract(context.Background(), "video.mp4", t.TempDir())
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames after one failure, got %d", len(frames))
	}
	// Indexes stay dense even with a gap in timestamps.
	for i, frame := range frames {
		if frame.Index != i {
			t.Fatalf("expected dense indexes, frame %d has index %d", i, frame.Index)
		}
	}
}

func TestExtractRejectsEmptyVideo(t *testing.T) {
	source := &fakeSource{duration: 0}
	extractor := sampler.NewWithSource(10*time.Second, source, logging.NewNop())

	_, err := extractor.Extract(context.Background(), "video.mp4", t.TempDir())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty video, got %v", err)
	}
}

func TestExtractFailsWhenAllFramesFail(t *testing.T) {
	source := &fakeSource{
		duration: 20,
		failAt:   map[time.Duration]bool{0: true, 10 * time.Second: true},
	}
	extractor := sampler.NewWithSource(10*time.Second, source, logging.NewNop())

	_, err := extractor.Extract(context.Background(), "video.mp4", t.TempDir())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error when nothing extracts, got %v", err)
	}
}

func TestExtractRejectsVideoShorterThanInterval(t *testing.T) {
	source := &fakeSource{duration: 4}
	extractor := sampler.NewWithSource(10*time.Second, source, logging.NewNop())

	_, err := extractor.Extract(context.Background(), "video.mp4", t.TempDir())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for sub-interval video, got %v", err)
	}
	if len(source.extracted) != 0 {
		t.Fatalf("expected no extraction attempts, got %v", source.extracted)
	}
}
