package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"settlecam/internal/capture"
	"settlecam/internal/config"
	"settlecam/internal/dashboard"
	"settlecam/internal/logging"
	"settlecam/internal/preflight"
	"settlecam/internal/runstore"
	"settlecam/internal/sampler"
	"settlecam/internal/stage"
	"settlecam/internal/telemetry"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.BaseDir = root
	cfg.Paths.StagingDir = filepath.Join(root, "staging")
	cfg.Paths.ResultsDir = filepath.Join(root, "results")
	cfg.Paths.ArchiveDir = filepath.Join(root, "archive")
	cfg.Paths.LogDir = filepath.Join(root, "logs")
	cfg.Paths.BootMarkerPath = filepath.Join(root, "boot_marker")
	cfg.Workflow.RunOncePerBoot = false
	cfg.Workflow.HeartbeatInterval = 1
	// The synthetic frames put the container at columns 80-239 of a 320x480
	// image; the region keeps a sliver of background so the mask coverage
	// gate has something to measure.
	cfg.Geometry.ROIX = 70
	cfg.Geometry.ROIY = 0
	cfg.Geometry.ROIWidth = 170
	cfg.Geometry.ROIHeight = 480
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

func openStore(t *testing.T, cfg *config.Config) *runstore.Store {
	t.Helper()
	store, err := runstore.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func passingPreflight(ctx context.Context, cfg *config.Config) []preflight.Result {
	return []preflight.Result{{Name: "Camera cam1", Passed: true}}
}

// writeTestFrame renders one container frame. interfaceY < 0 renders the
// fully mixed state with no settled layer.
func writeTestFrame(t *testing.T, path string, interfaceY int) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 320, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 320; x++ {
			v := uint8(10)
			if x >= 80 && x < 240 {
				switch {
				case interfaceY < 0:
					v = 120
				case y < interfaceY:
					v = 200
				default:
					v = 30
				}
			}
			img.Pix[img.PixOffset(x, y)] = v
		}
	}
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create frame: %v", err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
}

// writeNarrowTestFrame renders a frame where the settled layer shows in a
// narrow band of columns only; everywhere else the liquid reads clear. Too
// few scan columns fire for the detection to be trusted.
func writeNarrowTestFrame(t *testing.T, path string, interfaceY int) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 320, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 320; x++ {
			v := uint8(10)
			if x >= 80 && x < 240 {
				v = 200
				if y >= interfaceY && x < 137 {
					v = 30
				}
			}
			img.Pix[img.PixOffset(x, y)] = v
		}
	}
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create frame: %v", err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
}

type fakeRecorder struct {
	block     bool
	snapshots bool
	err       error
}

func (f *fakeRecorder) Record(ctx context.Context, stagingDir string) (capture.Result, error) {
	if f.block {
		<-ctx.Done()
		partial := filepath.Join(stagingDir, "segments", "segment_000.mp4")
		_ = os.MkdirAll(filepath.Dir(partial), 0o755)
		_ = os.WriteFile(partial, []byte("partial"), 0o644)
		return capture.Result{}, ctx.Err()
	}
	if f.err != nil {
		return capture.Result{}, f.err
	}
	video := filepath.Join(stagingDir, "140326_092653test1.mp4")
	if err := os.WriteFile(video, []byte("video"), 0o644); err != nil {
		return capture.Result{}, err
	}
	result := capture.Result{
		VideoPath:       video,
		RecordedSeconds: 1800,
		Attempts:        1,
		Segments:        1,
		StartedAt:       time.Now().Add(-30 * time.Minute),
		FinishedAt:      time.Now(),
	}
	if f.snapshots {
		for _, offset := range []int{2, 33} {
			path := filepath.Join(stagingDir, fmt.Sprintf("cam2_t%d.jpg", offset))
			result.Snapshots = append(result.Snapshots,
				capture.Snapshot{Label: fmt.Sprintf("t%d", offset), OffsetMin: offset, Path: path})
		}
	}
	return result, nil
}

type fakeExtractor struct {
	mu     sync.Mutex
	called bool
	t      *testing.T
}

func (f *fakeExtractor) Extract(ctx context.Context, videoPath, outDir string) ([]sampler.Frame, error) {
	f.mu.Lock()
	f.called = true
	f.mu.Unlock()

	interfaces := []int{-1, 100, 300}
	frames := make([]sampler.Frame, 0, len(interfaces))
	for i, at := range interfaces {
		path := filepath.Join(outDir, fmt.Sprintf("cam1_frame%04d_00m%02ds.png", i, i*10))
		writeTestFrame(f.t, path, at)
		frames = append(frames, sampler.Frame{
			Index:     i,
			Timestamp: time.Duration(i) * 10 * time.Second,
			Path:      path,
		})
	}
	return frames, nil
}

// lowConfidenceTailExtractor ends the run on a frame where only three scan
// columns find the interface.
type lowConfidenceTailExtractor struct {
	t *testing.T
}

func (f *lowConfidenceTailExtractor) Extract(ctx context.Context, videoPath, outDir string) ([]sampler.Frame, error) {
	frames := make([]sampler.Frame, 0, 3)
	add := func(i int, write func(path string)) {
		path := filepath.Join(outDir, fmt.Sprintf("cam1_frame%04d_00m%02ds.png", i, i*10))
		write(path)
		frames = append(frames, sampler.Frame{
			Index:     i,
			Timestamp: time.Duration(i) * 10 * time.Second,
			Path:      path,
		})
	}
	add(0, func(p string) { writeTestFrame(f.t, p, -1) })
	add(1, func(p string) { writeTestFrame(f.t, p, 100) })
	add(2, func(p string) { writeNarrowTestFrame(f.t, p, 300) })
	return frames, nil
}

type fakeDashboard struct {
	mu       sync.Mutex
	initials int
	results  []dashboard.ResultEvent
	warnings []string
}

func (f *fakeDashboard) SendInitial(ctx context.Context, event dashboard.InitialEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initials++
	return nil
}

func (f *fakeDashboard) SendResult(ctx context.Context, event dashboard.ResultEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, event)
	return nil
}

func (f *fakeDashboard) SendWarning(ctx context.Context, runID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warnings = append(f.warnings, message)
	return nil
}

func (f *fakeDashboard) warningCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.warnings)
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, store *runstore.Store) (*Orchestrator, *fakeDashboard, *telemetry.Table) {
	t.Helper()
	dash := &fakeDashboard{}
	table := telemetry.NewTable()
	o := NewOrchestratorWith(cfg, store, nil, Deps{
		Recorder:  &fakeRecorder{},
		Extractor: &fakeExtractor{t: t},
		Dashboard: dash,
		Telemetry: table,
		Preflight: passingPreflight,
	})
	return o, dash, table
}

func TestRunFullPipeline(t *testing.T) {
	cfg := testConfig(t)
	store := openStore(t, cfg)
	o, dash, table := newTestOrchestrator(t, cfg, store)

	run, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != runstore.StatusCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	if run.VideoPath == "" {
		t.Fatal("video path not recorded")
	}

	// Local result persisted.
	resultPath := filepath.Join(cfg.Paths.ResultsDir, "result_"+run.ID+".json")
	payload, err := os.ReadFile(resultPath)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	var doc struct {
		Result struct {
			SV30Pct     float64 `json:"sv30_pct"`
			SampleCount int     `json:"sample_count"`
		} `json:"result"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	// Final interface at row 300 of 480: sludge 180px of a 479px column.
	if doc.Result.SV30Pct < 35 || doc.Result.SV30Pct > 40 {
		t.Fatalf("sv30 pct = %v, want about 37.6", doc.Result.SV30Pct)
	}
	if doc.Result.SampleCount != 2 {
		t.Fatalf("sample count = %d, want the two frames with an interface", doc.Result.SampleCount)
	}

	if dash.initials != 1 || len(dash.results) != 1 {
		t.Fatalf("dashboard events = %d initial, %d result", dash.initials, len(dash.results))
	}
	if got := table.Read(telemetry.RegisterSV30); got < 3500 || got > 4000 {
		t.Fatalf("telemetry sv30 register = %d", got)
	}

	// Discard retention removes intermediate frames.
	if _, err := os.Stat(filepath.Join(cfg.Paths.StagingDir, "frames")); !os.IsNotExist(err) {
		t.Fatal("frames directory kept under discard retention")
	}
}

func TestRunEmitsExactlyOneUnpublishedWarning(t *testing.T) {
	cfg := testConfig(t)
	store := openStore(t, cfg)
	o, dash, _ := newTestOrchestrator(t, cfg, store)

	// Leftover artifacts from a prior run, never uploaded.
	if err := os.WriteFile(filepath.Join(cfg.Paths.StagingDir, "old_test1.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed staging: %v", err)
	}

	run, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if dash.warningCount() != 1 {
		t.Fatalf("dashboard warnings = %d, want exactly 1", dash.warningCount())
	}
	if run.WarningCount != 1 {
		t.Fatalf("stored warnings = %d, want exactly 1", run.WarningCount)
	}
}

func TestRunCaptureOnlySkipsProcessing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workflow.Mode = "capture-only"
	store := openStore(t, cfg)
	dash := &fakeDashboard{}
	extractor := &fakeExtractor{t: t}
	o := NewOrchestratorWith(cfg, store, nil, Deps{
		Recorder:  &fakeRecorder{},
		Extractor: extractor,
		Dashboard: dash,
		Preflight: passingPreflight,
	})

	run, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != runstore.StatusCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	if extractor.called {
		t.Fatal("capture-only mode extracted frames")
	}
	if len(dash.results) != 0 {
		t.Fatal("capture-only mode published a result")
	}
}

func TestAbortMidCaptureRetainsFootage(t *testing.T) {
	cfg := testConfig(t)
	store := openStore(t, cfg)
	dash := &fakeDashboard{}
	o := NewOrchestratorWith(cfg, store, nil, Deps{
		Recorder:  &fakeRecorder{block: true},
		Extractor: &fakeExtractor{t: t},
		Dashboard: dash,
		Preflight: passingPreflight,
	})

	done := make(chan struct{})
	var run *runstore.Run
	var runErr error
	go func() {
		defer close(done)
		run, runErr = o.Run(context.Background())
	}()

	deadline := time.After(5 * time.Second)
	for o.ActiveRunID() == "" {
		select {
		case <-deadline:
			t.Fatal("run never became active")
		case <-time.After(10 * time.Millisecond):
		}
	}
	// Give the recorder a moment to block in capture.
	time.Sleep(50 * time.Millisecond)
	if !o.Abort() {
		t.Fatal("abort found no active run")
	}
	<-done

	if runErr == nil {
		t.Fatal("aborted run returned no error")
	}
	if run.Status != runstore.StatusAborted {
		t.Fatalf("status = %s, want aborted", run.Status)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.StagingDir, "segments", "segment_000.mp4")); err != nil {
		t.Fatalf("partial footage not retained: %v", err)
	}
}

func TestRunOncePerBootGuard(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workflow.RunOncePerBoot = true
	store := openStore(t, cfg)
	o, _, _ := newTestOrchestrator(t, cfg, store)

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	_, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("second run allowed without reset")
	}

	if err := o.ResetGuard(); err != nil {
		t.Fatalf("reset guard: %v", err)
	}
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("run after reset: %v", err)
	}
}

func TestLowConfidenceFramesExcludedFromResult(t *testing.T) {
	cfg := testConfig(t)
	store := openStore(t, cfg)
	o := NewOrchestratorWith(cfg, store, nil, Deps{
		Recorder:  &fakeRecorder{},
		Extractor: &lowConfidenceTailExtractor{t: t},
		Dashboard: &fakeDashboard{},
		Preflight: passingPreflight,
	})

	run, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	payload, err := os.ReadFile(filepath.Join(cfg.Paths.ResultsDir, "result_"+run.ID+".json"))
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	var doc struct {
		Result struct {
			SV30Pct       float64 `json:"sv30_pct"`
			SampleCount   int     `json:"sample_count"`
			LowConfidence bool    `json:"low_confidence"`
		} `json:"result"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		t.Fatalf("decode result: %v", err)
	}

	// Only the clean frame with the interface at row 100 counts; the trailing
	// frame where three columns agree must not anchor the final value.
	if doc.Result.SampleCount != 1 {
		t.Fatalf("sample count = %d, want only the trusted frame", doc.Result.SampleCount)
	}
	if doc.Result.SV30Pct < 77 || doc.Result.SV30Pct > 82 {
		t.Fatalf("sv30 pct = %v, want about 79.3 from the trusted frame", doc.Result.SV30Pct)
	}
	if doc.Result.LowConfidence {
		t.Fatal("result flagged low confidence despite a trusted anchor frame")
	}
}

func TestCompareSnapshotsUsesConfiguredPoints(t *testing.T) {
	cfg := testConfig(t)
	cfg.ColorSample = config.ColorSample{TopX: 4, TopY: 2, BottomX: 4, BottomY: 12, PatchRadius: 0}

	dir := t.TempDir()
	early := filepath.Join(dir, "cam2_t2.png")
	late := filepath.Join(dir, "cam2_t33.png")
	writeSnapshotImage(t, early, map[image.Point]uint8{})
	writeSnapshotImage(t, late, map[image.Point]uint8{
		{X: 4, Y: 2}:  240,
		{X: 4, Y: 12}: 60,
	})

	s := newProcessStage(cfg, nil, nil, logging.NewNop())
	p := &stage.Pipeline{Capture: &capture.Result{Snapshots: []capture.Snapshot{
		{Label: "t2", OffsetMin: 2, Path: early},
		{Label: "t33", OffsetMin: 33, Path: late},
	}}}
	s.compareSnapshots(p)

	if p.ColorSample == nil {
		t.Fatal("expected a color comparison")
	}
	// The snapshot frame is 16x16; the primary geometry ROI lies far outside
	// it, so only the configured points can produce these deltas.
	if got := p.ColorSample.TopDelta; got < 199 || got > 201 {
		t.Fatalf("top delta = %v, want 200 from the configured top point", got)
	}
	if got := p.ColorSample.BottomDelta; got < 19 || got > 21 {
		t.Fatalf("bottom delta = %v, want 20 from the configured bottom point", got)
	}
}

// writeSnapshotImage renders a 16x16 gray snapshot at value 40 with explicit
// overrides per pixel.
func writeSnapshotImage(t *testing.T, path string, overrides map[image.Point]uint8) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			v := uint8(40)
			if override, ok := overrides[image.Point{X: x, Y: y}]; ok {
				v = override
			}
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		t.Fatalf("encode snapshot: %v", err)
	}
}

func TestRunFailsWhenPreflightFails(t *testing.T) {
	cfg := testConfig(t)
	store := openStore(t, cfg)
	o := NewOrchestratorWith(cfg, store, nil, Deps{
		Recorder:  &fakeRecorder{},
		Extractor: &fakeExtractor{t: t},
		Dashboard: &fakeDashboard{},
		Preflight: func(ctx context.Context, cfg *config.Config) []preflight.Result {
			return []preflight.Result{{Name: "Camera cam1", Detail: "no frame within 10s"}}
		},
	})

	run, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected preflight failure")
	}
	if run.Status != runstore.StatusFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if run.ErrorMessage == "" {
		t.Fatal("failure message not recorded")
	}
}
