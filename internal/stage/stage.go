// Package stage defines the contract between the orchestrator and the
// pipeline stages it sequences.
package stage

import (
	"context"

	"settlecam/internal/capture"
	"settlecam/internal/colorsample"
	"settlecam/internal/geometry"
	"settlecam/internal/metrics"
	"settlecam/internal/runstore"
	"settlecam/internal/sampler"
)

// Pipeline carries each stage's output to the next one. Large artifacts stay
// on disk; the pipeline holds their paths.
type Pipeline struct {
	Run        *runstore.Run
	StagingDir string
	FramesDir  string

	Capture      *capture.Result
	Frames       []sampler.Frame
	Measurements []geometry.Measurement
	Result       *metrics.SV30Result
	ColorSample  *colorsample.Comparison
}

// Handler describes the contract the orchestrator needs from each stage.
type Handler interface {
	Prepare(context.Context, *Pipeline) error
	Execute(context.Context, *Pipeline) error
	HealthCheck(context.Context) Health
}
