package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration for run artifacts.
type Paths struct {
	BaseDir        string `toml:"base_dir"`
	StagingDir     string `toml:"staging_dir"`
	ResultsDir     string `toml:"results_dir"`
	ArchiveDir     string `toml:"archive_dir"`
	LogDir         string `toml:"log_dir"`
	BootMarkerPath string `toml:"boot_marker_path"`
	SocketPath     string `toml:"socket_path"`
}

// Camera describes the two capture devices.
type Camera struct {
	PrimaryKind     string `toml:"primary_kind"` // "usb", "rtsp", or "file"
	PrimarySource   string `toml:"primary_source"`
	SecondaryKind   string `toml:"secondary_kind"`
	SecondarySource string `toml:"secondary_source"`
	CheckTimeout    int    `toml:"check_timeout"` // seconds
	Width           int    `toml:"width"`
	Height          int    `toml:"height"`
	FPS             int    `toml:"fps"`
}

// Capture contains video acquisition settings.
type Capture struct {
	DurationSeconds    int   `toml:"duration_seconds"`
	SnapshotOffsetsMin []int `toml:"snapshot_offsets_min"`
	RetryAttempts      int   `toml:"retry_attempts"`
	RetryDelaySeconds  int   `toml:"retry_delay_seconds"`
	AttemptTimeoutPad  int   `toml:"attempt_timeout_pad"` // seconds added to segment length before killing ffmpeg
}

// Sampling controls frame extraction from the recorded video.
type Sampling struct {
	IntervalSeconds int `toml:"interval_seconds"`
}

// Detection holds the interface-detection tuning constants.
//
// These are empirically tuned values; there is no documented derivation for
// the pixel thresholds, so all of them are configurable rather than baked in.
type Detection struct {
	SearchRegion       float64 `toml:"search_region"`        // top fraction of image scanned for the mixture top
	MinGapPx           int     `toml:"min_gap_px"`           // scan starts this far below the mixture top
	MaxDepthPct        float64 `toml:"max_depth_pct"`        // scan stops at this percentage of image height
	ScanColumns        int     `toml:"scan_columns"`         // evenly spaced vertical scan columns
	ConsecutivePx      int     `toml:"consecutive_px"`       // settled pixels in a row required for a column to fire
	OutlierExtremePx   float64 `toml:"outlier_extreme_px"`   // stage-one rejection distance from the median
	OutlierModeratePx  float64 `toml:"outlier_moderate_px"`  // stage-two rejection distance from the recomputed median
	MinSurvivors       int     `toml:"min_survivors"`        // below this the frame is low-confidence
	MaskCoverageMinPct float64 `toml:"mask_coverage_min_pct"`
	MaskCoverageMaxPct float64 `toml:"mask_coverage_max_pct"`
}

// Geometry maps pixel space to physical units for the fixed camera mounting.
type Geometry struct {
	ContainerHeightMM float64 `toml:"container_height_mm"`
	ROIX              int     `toml:"roi_x"`
	ROIY              int     `toml:"roi_y"`
	ROIWidth          int     `toml:"roi_width"`
	ROIHeight         int     `toml:"roi_height"`
	MinPhysicalMM     float64 `toml:"min_physical_mm"`
	MaxPhysicalMM     float64 `toml:"max_physical_mm"`
}

// ColorSample locates the supernatant sample points in the secondary
// camera's snapshot frame. The wide-angle camera has its own mounting, so
// these coordinates are independent of the primary geometry ROI.
type ColorSample struct {
	TopX        int `toml:"top_x"`
	TopY        int `toml:"top_y"`
	BottomX     int `toml:"bottom_x"`
	BottomY     int `toml:"bottom_y"`
	PatchRadius int `toml:"patch_radius"`
}

// Dashboard configures the remote dashboard publish client.
type Dashboard struct {
	Enabled        bool   `toml:"enabled"`
	URL            string `toml:"url"`
	FactoryCode    string `toml:"factory_code"`
	Operator       string `toml:"operator"`
	RequestTimeout int    `toml:"request_timeout"`
	RetryAttempts  int    `toml:"retry_attempts"`
}

// Storage configures the external object-storage upload client.
type Storage struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Bucket         string `toml:"bucket"`
	RequestTimeout int    `toml:"request_timeout"`
	RetryAttempts  int    `toml:"retry_attempts"`
}

// Telemetry configures the register-mapped output sink.
type Telemetry struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
}

// Workflow contains orchestration behavior.
type Workflow struct {
	Mode              string `toml:"mode"`      // "full" or "capture-only"
	Retention         string `toml:"retention"` // "keep" or "discard"
	RunOncePerBoot    bool   `toml:"run_once_per_boot"`
	HeartbeatInterval int    `toml:"heartbeat_interval"`
	AutoShutdown      bool   `toml:"auto_shutdown"`
	ShutdownDelaySec  int    `toml:"shutdown_delay_sec"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for settlecam.
//
// Sections by subsystem:
//   - Paths: artifact and state directories
//   - Camera: the primary (continuous) and secondary (snapshot) sources
//   - Capture: guaranteed-duration recording and snapshot schedule
//   - Sampling: frame extraction interval
//   - Detection: interface-detection thresholds
//   - Geometry: pixel-to-millimeter calibration
//   - ColorSample: supernatant sample points in the snapshot frame
//   - Dashboard / Storage / Telemetry: external publish boundaries
//   - Workflow: mode, retention, run-once guard
//   - Logging: log format and level
type Config struct {
	Paths       Paths       `toml:"paths"`
	Camera      Camera      `toml:"camera"`
	Capture     Capture     `toml:"capture"`
	Sampling    Sampling    `toml:"sampling"`
	Detection   Detection   `toml:"detection"`
	Geometry    Geometry    `toml:"geometry"`
	ColorSample ColorSample `toml:"color_sample"`
	Dashboard   Dashboard   `toml:"dashboard"`
	Storage     Storage     `toml:"storage"`
	Telemetry   Telemetry   `toml:"telemetry"`
	Workflow    Workflow    `toml:"workflow"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/settlecam/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/settlecam/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("settlecam.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.ResultsDir, c.Paths.ArchiveDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable name used for capture and sampling.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for media inspection.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// CaptureOnly reports whether the acquisition-only mode is configured.
func (c *Config) CaptureOnly() bool {
	return strings.EqualFold(strings.TrimSpace(c.Workflow.Mode), "capture-only")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
