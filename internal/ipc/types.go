package ipc

import "time"

// StartRunRequest triggers a settling test.
type StartRunRequest struct{}

// StartRunResponse indicates whether a run was started.
type StartRunResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// AbortRequest aborts the active run.
type AbortRequest struct{}

// AbortResponse indicates abort result.
type AbortResponse struct {
	Aborted bool `json:"aborted"`
}

// ResetRequest clears the run-once-per-boot marker.
type ResetRequest struct{}

// ResetResponse indicates reset result.
type ResetResponse struct {
	Reset   bool   `json:"reset"`
	Message string `json:"message"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// RunSummary is the wire form of a recorded run.
type RunSummary struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Mode         string     `json:"mode"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	VideoPath    string     `json:"video_path,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	WarningCount int        `json:"warning_count"`
}

// RunTotals aggregates run counts by outcome.
type RunTotals struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Aborted   int `json:"aborted"`
}

// StageHealth describes readiness of a pipeline stage.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DependencyStatus describes availability of an external dependency.
type DependencyStatus struct {
	Name      string `json:"name"`
	Command   string `json:"command"`
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
}

// StatusResponse represents combined daemon and run status information.
type StatusResponse struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	LockPath     string             `json:"lock_path"`
	RunDBPath    string             `json:"run_db_path"`
	ActiveRun    *RunSummary        `json:"active_run,omitempty"`
	Totals       RunTotals          `json:"totals"`
	StageHealth  []StageHealth      `json:"stage_health"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// RunsRequest lists recent runs. Limit zero applies the server default.
type RunsRequest struct {
	Limit int `json:"limit"`
}

// RunsResponse contains recent runs, newest first.
type RunsResponse struct {
	Runs []RunSummary `json:"runs"`
}
