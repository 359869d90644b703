package main

import (
	"testing"

	"settlecam/internal/telemetry"
)

func TestTelemetrySink(t *testing.T) {
	if _, ok := telemetrySink(nil).(telemetry.NopSink); !ok {
		t.Fatal("expected nop sink for nil table")
	}

	table := telemetry.NewTable()
	if sink := telemetrySink(table); sink != table {
		t.Fatal("expected the table itself as sink")
	}
}
