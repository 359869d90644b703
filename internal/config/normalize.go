package config

import (
	"fmt"
	"sort"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCamera()
	c.normalizeCapture()
	c.normalizeDashboard()
	c.normalizeStorage()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.BaseDir, err = expandPath(c.Paths.BaseDir); err != nil {
		return fmt.Errorf("paths.base_dir: %w", err)
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.ResultsDir, err = expandPath(c.Paths.ResultsDir); err != nil {
		return fmt.Errorf("paths.results_dir: %w", err)
	}
	if c.Paths.ArchiveDir, err = expandPath(c.Paths.ArchiveDir); err != nil {
		return fmt.Errorf("paths.archive_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.BootMarkerPath, err = expandPath(c.Paths.BootMarkerPath); err != nil {
		return fmt.Errorf("paths.boot_marker_path: %w", err)
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeCamera() {
	c.Camera.PrimaryKind = strings.ToLower(strings.TrimSpace(c.Camera.PrimaryKind))
	c.Camera.SecondaryKind = strings.ToLower(strings.TrimSpace(c.Camera.SecondaryKind))
	c.Camera.PrimarySource = strings.TrimSpace(c.Camera.PrimarySource)
	c.Camera.SecondarySource = strings.TrimSpace(c.Camera.SecondarySource)
	if c.Camera.CheckTimeout <= 0 {
		c.Camera.CheckTimeout = defaultCheckTimeout
	}
}

func (c *Config) normalizeCapture() {
	offsets := make([]int, 0, len(c.Capture.SnapshotOffsetsMin))
	seen := map[int]struct{}{}
	for _, offset := range c.Capture.SnapshotOffsetsMin {
		if offset < 0 {
			continue
		}
		if _, ok := seen[offset]; ok {
			continue
		}
		seen[offset] = struct{}{}
		offsets = append(offsets, offset)
	}
	sort.Ints(offsets)
	c.Capture.SnapshotOffsetsMin = offsets
	if c.Capture.AttemptTimeoutPad <= 0 {
		c.Capture.AttemptTimeoutPad = defaultAttemptTimeoutPad
	}
}

func (c *Config) normalizeDashboard() {
	c.Dashboard.URL = strings.TrimRight(strings.TrimSpace(c.Dashboard.URL), "/")
	c.Dashboard.FactoryCode = strings.TrimSpace(c.Dashboard.FactoryCode)
	if c.Dashboard.RequestTimeout <= 0 {
		c.Dashboard.RequestTimeout = defaultDashboardTimeout
	}
	if c.Dashboard.RetryAttempts <= 0 {
		c.Dashboard.RetryAttempts = defaultDashboardRetries
	}
}

func (c *Config) normalizeStorage() {
	c.Storage.Endpoint = strings.TrimRight(strings.TrimSpace(c.Storage.Endpoint), "/")
	c.Storage.Bucket = strings.TrimSpace(c.Storage.Bucket)
	if c.Storage.RequestTimeout <= 0 {
		c.Storage.RequestTimeout = defaultStorageTimeout
	}
	if c.Storage.RetryAttempts <= 0 {
		c.Storage.RetryAttempts = defaultStorageRetries
	}
}

func (c *Config) normalizeWorkflow() {
	c.Workflow.Mode = strings.ToLower(strings.TrimSpace(c.Workflow.Mode))
	if c.Workflow.Mode == "" {
		c.Workflow.Mode = defaultWorkflowMode
	}
	c.Workflow.Retention = strings.ToLower(strings.TrimSpace(c.Workflow.Retention))
	if c.Workflow.Retention == "" {
		c.Workflow.Retention = defaultRetention
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		c.Workflow.HeartbeatInterval = defaultHeartbeatInterval
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
