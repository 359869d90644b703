// Package preflight verifies the rig before a run starts: directories,
// external binaries, and camera connectivity.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"settlecam/internal/camera"
	"settlecam/internal/config"
	"settlecam/internal/deps"
	"settlecam/internal/services"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results,
		CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir),
		CheckDirectoryAccess("Results directory", cfg.Paths.ResultsDir),
		CheckDirectoryAccess("Archive directory", cfg.Paths.ArchiveDir),
	)

	for _, status := range deps.CheckBinaries(deps.Required()) {
		result := Result{Name: status.Name, Passed: status.Available, Detail: status.Detail}
		if status.Available {
			result.Detail = status.Command
		}
		results = append(results, result)
	}

	results = append(results, CheckCamera(ctx, cfg, camera.Primary(cfg)))
	if secondary, ok := camera.Secondary(cfg); ok {
		results = append(results, CheckCamera(ctx, cfg, secondary))
	}

	return results
}

// Failed returns an error summarizing any failed checks, nil when all passed.
func Failed(results []Result) error {
	var failed []string
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, fmt.Sprintf("%s (%s)", result.Name, result.Detail))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return services.Wrap(services.ErrHardware, "preflight", "checks",
		strings.Join(failed, "; "), nil)
}

// CheckCamera verifies a camera delivers at least one decodable frame.
func CheckCamera(ctx context.Context, cfg *config.Config, device camera.Device) Result {
	name := "Camera " + device.Name
	timeout := time.Duration(cfg.Camera.CheckTimeout) * time.Second
	checker := camera.NewChecker(cfg.FFmpegBinary(), timeout, nil)

	if err := checker.Check(ctx, device); err != nil {
		detail := err.Error()
		if errors.Is(err, services.ErrTimeout) {
			detail = fmt.Sprintf("no frame within %s", timeout)
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s: %s", device.Describe(), detail)}
	}
	return Result{Name: name, Passed: true, Detail: device.Describe()}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}
