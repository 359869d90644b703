// Package bootguard implements the run-once-per-boot marker.
//
// The marker lives on a tmpfs path so a reboot clears it implicitly; a
// successful run writes it and automatic triggers refuse to start while it
// exists. Only an explicit reset removes it.
package bootguard

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Guard wraps a marker file path.
type Guard struct {
	path string
}

func New(path string) *Guard {
	return &Guard{path: path}
}

// Path returns the marker location.
func (g *Guard) Path() string {
	return g.path
}

// CompletedThisBoot reports whether the marker exists.
func (g *Guard) CompletedThisBoot() (bool, error) {
	_, err := os.Stat(g.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat boot marker: %w", err)
}

// Mark records a completed run. The marker body carries the completion time
// for operators inspecting the device; only its existence matters.
func (g *Guard) Mark(runID string) error {
	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return fmt.Errorf("create boot marker dir: %w", err)
	}
	body := fmt.Sprintf("run_id=%s\ncompleted_at=%s\n", runID, time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(g.path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write boot marker: %w", err)
	}
	return nil
}

// Reset removes the marker. Missing markers are not an error.
func (g *Guard) Reset() error {
	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove boot marker: %w", err)
	}
	return nil
}
