package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestArchiver(t *testing.T) (*Archiver, string, string) {
	t.Helper()
	root := t.TempDir()
	staging := filepath.Join(root, "staging")
	archiveDir := filepath.Join(root, "archive")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		t.Fatalf("mkdir staging: %v", err)
	}
	a := New(staging, archiveDir, nil)
	a.now = func() time.Time {
		return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	}
	return a, staging, archiveDir
}

func writeArtifact(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestArchivePreviousRelocatesArtifacts(t *testing.T) {
	a, staging, archiveDir := newTestArchiver(t)
	writeArtifact(t, staging, "140326_092653test1.mp4")
	writeArtifact(t, staging, "cam2_t2.jpg")
	if err := os.MkdirAll(filepath.Join(staging, "frames"), 0o755); err != nil {
		t.Fatalf("mkdir frames: %v", err)
	}
	writeArtifact(t, filepath.Join(staging, "frames"), "cam1_frame0000_00m00s.jpg")

	result, err := a.ArchivePrevious()
	if err != nil {
		t.Fatalf("archive: %v", err)
	}

	want := filepath.Join(archiveDir, "run_20260314_092653")
	if result.ArchivedPath != want {
		t.Fatalf("archived path = %s, want %s", result.ArchivedPath, want)
	}
	if result.EntryCount != 3 {
		t.Fatalf("entry count = %d, want 3", result.EntryCount)
	}
	if _, err := os.Stat(filepath.Join(want, "frames", "cam1_frame0000_00m00s.jpg")); err != nil {
		t.Fatalf("nested artifact missing after move: %v", err)
	}
	entries, err := os.ReadDir(staging)
	if err != nil {
		t.Fatalf("read staging: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("staging not emptied, %d entries remain", len(entries))
	}
}

func TestArchivePreviousFlagsUnpublishedData(t *testing.T) {
	a, staging, _ := newTestArchiver(t)
	writeArtifact(t, staging, "result.json")

	result, err := a.ArchivePrevious()
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !result.UnpublishedPrior {
		t.Fatal("expected unpublished-prior flag without uploaded marker")
	}
}

func TestArchivePreviousHonorsUploadedMarker(t *testing.T) {
	a, staging, _ := newTestArchiver(t)
	writeArtifact(t, staging, "result.json")
	if err := MarkUploaded(staging); err != nil {
		t.Fatalf("mark uploaded: %v", err)
	}

	result, err := a.ArchivePrevious()
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if result.UnpublishedPrior {
		t.Fatal("uploaded marker present but prior data flagged unpublished")
	}
}

func TestArchivePreviousEmptyStagingIsNoop(t *testing.T) {
	a, _, archiveDir := newTestArchiver(t)

	result, err := a.ArchivePrevious()
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if result.ArchivedPath != "" || result.EntryCount != 0 || result.UnpublishedPrior {
		t.Fatalf("expected empty result, got %+v", result)
	}
	if _, err := os.Stat(archiveDir); !os.IsNotExist(err) {
		t.Fatal("archive dir created for an empty staging pass")
	}
}

func TestArchivePreviousMissingStagingIsNoop(t *testing.T) {
	a := New(filepath.Join(t.TempDir(), "never-created"), t.TempDir(), nil)
	result, err := a.ArchivePrevious()
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if result.EntryCount != 0 {
		t.Fatalf("entry count = %d, want 0", result.EntryCount)
	}
}

func TestApplyRetention(t *testing.T) {
	a, staging, _ := newTestArchiver(t)
	frames := filepath.Join(staging, "frames")
	if err := os.MkdirAll(frames, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	a.ApplyRetention(RetentionKeep, frames)
	if _, err := os.Stat(frames); err != nil {
		t.Fatal("keep policy removed artifacts")
	}

	a.ApplyRetention(RetentionDiscard, frames, "")
	if _, err := os.Stat(frames); !os.IsNotExist(err) {
		t.Fatal("discard policy left artifacts behind")
	}
}
