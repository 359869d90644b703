// Package metrics aggregates per-frame measurements into the final settling
// result.
package metrics

import (
	"math"

	"settlecam/internal/geometry"
)

// SV30Result is the final measurement set for a run. Values are kept at full
// precision; rounding happens once, at the publish boundary.
type SV30Result struct {
	MixtureHeightMM         float64
	SludgeHeightMM          float64
	ClearHeightMM           float64
	SettledFraction         float64
	SettledFractionPerMille float64
	SV30Pct                 float64
	VelocityMMPerMin        float64
	ElapsedMinutes          float64
	SampleCount             int
	LowConfidence           bool
}

// Compute derives the final result from the first and last valid
// measurements. Heights come from the final measurement; the initial
// measurement pins the mixture column the percentages are relative to.
// A zero or negative elapsed time yields zero velocity rather than a division
// by zero.
func Compute(initial, final geometry.Measurement, elapsedMinutes float64, sampleCount int) SV30Result {
	result := SV30Result{
		MixtureHeightMM: initial.MixtureHeightMM,
		SludgeHeightMM:  final.SludgeHeightMM,
		ClearHeightMM:   final.ClearHeightMM,
		SettledFraction: clamp01(final.SettledFraction),
		ElapsedMinutes:  elapsedMinutes,
		SampleCount:     sampleCount,
		LowConfidence:   final.LowConfidence,
	}
	if result.MixtureHeightMM > 0 {
		ratio := result.SludgeHeightMM / result.MixtureHeightMM
		result.SV30Pct = ratio * 100
		result.SettledFractionPerMille = ratio * 1000
	}
	if elapsedMinutes > 0 {
		result.VelocityMMPerMin = result.SludgeHeightMM / elapsedMinutes
	}
	return result
}

// Published is the rounded view of a result emitted to external sinks:
// heights to 2 decimals, the per-mille ratio to 1, velocity to 2.
type Published struct {
	MixtureHeightMM         float64 `json:"mixture_height_mm"`
	SludgeHeightMM          float64 `json:"sludge_height_mm"`
	ClearHeightMM           float64 `json:"clear_height_mm"`
	SettledFractionPerMille float64 `json:"settled_fraction_per_mille"`
	SV30Pct                 float64 `json:"sv30_pct"`
	SV30MLPerL              float64 `json:"sv30_ml_per_l"`
	VelocityMMPerMin        float64 `json:"velocity_mm_per_min"`
	ElapsedMinutes          float64 `json:"elapsed_minutes"`
	SampleCount             int     `json:"sample_count"`
	LowConfidence           bool    `json:"low_confidence"`
}

// Publish applies the fixed precision policy.
func (r SV30Result) Publish() Published {
	return Published{
		MixtureHeightMM:        round(r.MixtureHeightMM, 2),
		SludgeHeightMM:         round(r.SludgeHeightMM, 2),
		ClearHeightMM:          round(r.ClearHeightMM, 2),
		SettledFractionPerMille: round(r.SettledFractionPerMille, 1),
		SV30Pct:                round(r.SV30Pct, 2),
		SV30MLPerL:             round(r.SV30Pct*10, 2),
		VelocityMMPerMin:       round(r.VelocityMMPerMin, 2),
		ElapsedMinutes:         r.ElapsedMinutes,
		SampleCount:            r.SampleCount,
		LowConfidence:          r.LowConfidence,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(v*scale) / scale
}
