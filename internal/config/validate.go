package config

import (
	"errors"
	"fmt"
	"strings"
)

var validCameraKinds = map[string]bool{
	"usb":  true,
	"rtsp": true,
	"file": true,
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCamera(); err != nil {
		return err
	}
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateSampling(); err != nil {
		return err
	}
	if err := c.validateDetection(); err != nil {
		return err
	}
	if err := c.validateGeometry(); err != nil {
		return err
	}
	if err := c.validateColorSample(); err != nil {
		return err
	}
	if err := c.validateDashboard(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateTelemetry(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCamera() error {
	if !validCameraKinds[c.Camera.PrimaryKind] {
		return fmt.Errorf("camera.primary_kind must be one of usb, rtsp, file (got %q)", c.Camera.PrimaryKind)
	}
	if strings.TrimSpace(c.Camera.PrimarySource) == "" {
		return errors.New("camera.primary_source must be set")
	}
	if c.Camera.SecondarySource != "" && !validCameraKinds[c.Camera.SecondaryKind] {
		return fmt.Errorf("camera.secondary_kind must be one of usb, rtsp, file (got %q)", c.Camera.SecondaryKind)
	}
	return ensurePositiveMap(map[string]int{
		"camera.check_timeout": c.Camera.CheckTimeout,
		"camera.width":         c.Camera.Width,
		"camera.height":        c.Camera.Height,
		"camera.fps":           c.Camera.FPS,
	})
}

func (c *Config) validateCapture() error {
	if err := ensurePositiveMap(map[string]int{
		"capture.duration_seconds":    c.Capture.DurationSeconds,
		"capture.retry_attempts":      c.Capture.RetryAttempts,
		"capture.retry_delay_seconds": c.Capture.RetryDelaySeconds,
		"capture.attempt_timeout_pad": c.Capture.AttemptTimeoutPad,
	}); err != nil {
		return err
	}
	durationMin := c.Capture.DurationSeconds / 60
	for _, offset := range c.Capture.SnapshotOffsetsMin {
		if offset > durationMin {
			return fmt.Errorf("capture.snapshot_offsets_min entry %d exceeds the recording duration (%d minutes)", offset, durationMin)
		}
	}
	return nil
}

func (c *Config) validateSampling() error {
	if c.Sampling.IntervalSeconds <= 0 {
		return errors.New("sampling.interval_seconds must be positive")
	}
	if c.Sampling.IntervalSeconds > c.Capture.DurationSeconds {
		return errors.New("sampling.interval_seconds must not exceed capture.duration_seconds")
	}
	return nil
}

func (c *Config) validateDetection() error {
	d := c.Detection
	if d.SearchRegion <= 0 || d.SearchRegion > 1 {
		return errors.New("detection.search_region must be between 0 and 1")
	}
	if d.MaxDepthPct <= 0 || d.MaxDepthPct > 100 {
		return errors.New("detection.max_depth_pct must be between 0 and 100")
	}
	if err := ensurePositiveMap(map[string]int{
		"detection.min_gap_px":     d.MinGapPx,
		"detection.scan_columns":   d.ScanColumns,
		"detection.consecutive_px": d.ConsecutivePx,
		"detection.min_survivors":  d.MinSurvivors,
	}); err != nil {
		return err
	}
	if d.OutlierExtremePx <= 0 || d.OutlierModeratePx <= 0 {
		return errors.New("detection outlier thresholds must be positive")
	}
	if d.OutlierModeratePx > d.OutlierExtremePx {
		return errors.New("detection.outlier_moderate_px must not exceed detection.outlier_extreme_px")
	}
	if d.MaskCoverageMinPct < 0 || d.MaskCoverageMaxPct > 100 || d.MaskCoverageMinPct >= d.MaskCoverageMaxPct {
		return errors.New("detection mask coverage bounds must satisfy 0 <= min < max <= 100")
	}
	return nil
}

func (c *Config) validateGeometry() error {
	g := c.Geometry
	if g.ContainerHeightMM <= 0 {
		return errors.New("geometry.container_height_mm must be positive")
	}
	if g.ROIWidth <= 0 || g.ROIHeight <= 0 {
		return errors.New("geometry.roi_width and geometry.roi_height must be positive")
	}
	if g.ROIX < 0 || g.ROIY < 0 {
		return errors.New("geometry.roi_x and geometry.roi_y must be >= 0")
	}
	if g.MinPhysicalMM < 0 {
		return errors.New("geometry.min_physical_mm must be >= 0")
	}
	if g.MaxPhysicalMM <= g.MinPhysicalMM {
		return errors.New("geometry.max_physical_mm must be greater than geometry.min_physical_mm")
	}
	return nil
}

func (c *Config) validateColorSample() error {
	s := c.ColorSample
	if s.TopX < 0 || s.TopY < 0 || s.BottomX < 0 || s.BottomY < 0 {
		return errors.New("color_sample point coordinates must be >= 0")
	}
	if s.TopY >= s.BottomY {
		return errors.New("color_sample.top_y must be above color_sample.bottom_y")
	}
	if s.PatchRadius < 0 {
		return errors.New("color_sample.patch_radius must be >= 0")
	}
	return nil
}

func (c *Config) validateDashboard() error {
	if !c.Dashboard.Enabled {
		return nil
	}
	if c.Dashboard.URL == "" {
		return errors.New("dashboard.url must be set when dashboard.enabled is true")
	}
	if c.Dashboard.FactoryCode == "" {
		return errors.New("dashboard.factory_code must be set when dashboard.enabled is true")
	}
	return ensurePositiveMap(map[string]int{
		"dashboard.request_timeout": c.Dashboard.RequestTimeout,
		"dashboard.retry_attempts":  c.Dashboard.RetryAttempts,
	})
}

func (c *Config) validateStorage() error {
	if !c.Storage.Enabled {
		return nil
	}
	if c.Storage.Endpoint == "" {
		return errors.New("storage.endpoint must be set when storage.enabled is true")
	}
	if c.Storage.Bucket == "" {
		return errors.New("storage.bucket must be set when storage.enabled is true")
	}
	return ensurePositiveMap(map[string]int{
		"storage.request_timeout": c.Storage.RequestTimeout,
		"storage.retry_attempts":  c.Storage.RetryAttempts,
	})
}

func (c *Config) validateTelemetry() error {
	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.ListenAddr) == "" {
		return errors.New("telemetry.listen_addr must be set when telemetry.enabled is true")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	switch c.Workflow.Mode {
	case "full", "capture-only":
	default:
		return fmt.Errorf("workflow.mode must be \"full\" or \"capture-only\" (got %q)", c.Workflow.Mode)
	}
	switch c.Workflow.Retention {
	case "keep", "discard":
	default:
		return fmt.Errorf("workflow.retention must be \"keep\" or \"discard\" (got %q)", c.Workflow.Retention)
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.AutoShutdown && c.Workflow.ShutdownDelaySec <= 0 {
		return errors.New("workflow.shutdown_delay_sec must be positive when workflow.auto_shutdown is true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\" (got %q)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
