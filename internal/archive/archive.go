// Package archive relocates a finished run's artifacts out of the staging
// directory before the next run begins.
package archive

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"settlecam/internal/logging"
	"settlecam/internal/services"
)

// UploadedMarker is written into a run directory once the object-storage
// upload is acknowledged. Its absence at archive time means the prior run's
// data never left the device.
const UploadedMarker = ".uploaded"

// RetentionPolicy decides what happens to intermediate artifacts once the
// stage that produced them is no longer needed.
type RetentionPolicy string

const (
	RetentionKeep    RetentionPolicy = "keep"
	RetentionDiscard RetentionPolicy = "discard"
)

// Result describes one archive pass.
type Result struct {
	ArchivedPath     string
	EntryCount       int
	UnpublishedPrior bool
}

// Archiver moves prior-run artifacts into timestamped archive directories.
type Archiver struct {
	stagingDir string
	archiveDir string
	logger     *slog.Logger
	now        func() time.Time
}

func New(stagingDir, archiveDir string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Archiver{
		stagingDir: stagingDir,
		archiveDir: archiveDir,
		logger:     logger.With(logging.String(logging.FieldComponent, "archive")),
		now:        time.Now,
	}
}

// ArchivePrevious relocates everything under the staging directory into a
// timestamped subdirectory of the archive directory. An empty or missing
// staging directory is a no-op. UnpublishedPrior is set when artifacts were
// present but no uploaded marker was found; the caller decides whether that
// warrants a warning event.
func (a *Archiver) ArchivePrevious() (*Result, error) {
	entries, err := os.ReadDir(a.stagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return &Result{}, nil
		}
		return nil, services.Wrap(services.ErrConfiguration, "archiving", "read_staging",
			fmt.Sprintf("read %s", a.stagingDir), err)
	}
	if len(entries) == 0 {
		return &Result{}, nil
	}

	uploaded := false
	for _, entry := range entries {
		if entry.Name() == UploadedMarker {
			uploaded = true
			break
		}
	}

	dest := filepath.Join(a.archiveDir, "run_"+a.now().Format("20060102_150405"))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "archiving", "create_archive_dir",
			fmt.Sprintf("create %s", dest), err)
	}

	moved := 0
	for _, entry := range entries {
		src := filepath.Join(a.stagingDir, entry.Name())
		if err := moveEntry(src, filepath.Join(dest, entry.Name())); err != nil {
			return nil, services.Wrap(services.ErrTransient, "archiving", "relocate",
				fmt.Sprintf("move %s", src), err)
		}
		moved++
	}

	a.logger.Info("previous run archived",
		logging.String("archived_path", dest),
		logging.Int("entries", moved),
		logging.Bool("uploaded", uploaded))

	return &Result{
		ArchivedPath:     dest,
		EntryCount:       moved,
		UnpublishedPrior: !uploaded,
	}, nil
}

// ApplyRetention removes the given intermediate paths under the discard
// policy. Removal failures are logged and skipped; retention is best-effort.
func (a *Archiver) ApplyRetention(policy RetentionPolicy, paths ...string) {
	if policy != RetentionDiscard {
		return
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			a.logger.Warn("intermediate cleanup failed",
				logging.String("path", path),
				logging.Error(err))
			continue
		}
		a.logger.Debug("intermediate discarded", logging.String("path", path))
	}
}

// MarkUploaded records that a run directory's artifacts reached external
// storage.
func MarkUploaded(dir string) error {
	path := filepath.Join(dir, UploadedMarker)
	if err := os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write uploaded marker: %w", err)
	}
	return nil
}

// moveEntry renames src into place, falling back to copy+remove when staging
// and archive live on different filesystems.
func moveEntry(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := copyTree(src, dst); err != nil {
			return err
		}
	} else if err := copyFile(src, dst, info.Mode()); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
