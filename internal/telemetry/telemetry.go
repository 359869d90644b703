// Package telemetry exposes the final result to external controllers as a
// small read-only register table.
//
// The register layout mirrors the plant PLC mapping: each value is scaled to
// fit an unsigned 16-bit holding register, with the completion timestamp
// split across two registers.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"settlecam/internal/config"
	"settlecam/internal/logging"
	"settlecam/internal/metrics"
)

// Register addresses in the plant holding-register convention.
const (
	RegisterSV30      = 40001 // sv30_pct x 100
	RegisterVelocity  = 40002 // velocity_mm_per_min x 10000
	RegisterDuration  = 40003 // elapsed minutes
	RegisterEpochHigh = 40004 // unix seconds >> 16
	RegisterEpochLow  = 40005 // unix seconds & 0xFFFF
)

// Sink receives the final result of a run. The daemon runs against a noop
// sink when telemetry is disabled.
type Sink interface {
	WriteResult(result metrics.Published, completedAt time.Time) error
}

// Table is a register-mapped Sink guarded for concurrent read-side polling.
type Table struct {
	mu        sync.RWMutex
	registers map[int]uint16
}

func NewTable() *Table {
	return &Table{registers: make(map[int]uint16)}
}

// WriteResult scales the result into the register map. Values that overflow a
// register are clamped to the register maximum rather than wrapped, so a
// polling controller reads a saturated value instead of garbage.
func (t *Table) WriteResult(result metrics.Published, completedAt time.Time) error {
	epoch := completedAt.Unix()
	if epoch < 0 {
		epoch = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.registers[RegisterSV30] = clampRegister(result.SV30Pct * 100)
	t.registers[RegisterVelocity] = clampRegister(result.VelocityMMPerMin * 10000)
	t.registers[RegisterDuration] = clampRegister(result.ElapsedMinutes)
	t.registers[RegisterEpochHigh] = uint16(epoch >> 16 & 0xFFFF)
	t.registers[RegisterEpochLow] = uint16(epoch & 0xFFFF)
	return nil
}

// Read returns a register value. Unwritten registers read as zero.
func (t *Table) Read(register int) uint16 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.registers[register]
}

// Snapshot returns all registers in address order.
func (t *Table) Snapshot() map[int]uint16 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[int]uint16, len(t.registers))
	for addr, value := range t.registers {
		out[addr] = value
	}
	return out
}

func clampRegister(v float64) uint16 {
	scaled := math.Round(v)
	if scaled < 0 {
		return 0
	}
	if scaled > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(scaled)
}

// Server serves the register table read-only over HTTP for external
// controllers and gateways.
type Server struct {
	table    *Table
	listener net.Listener
	server   *http.Server
	logger   *slog.Logger
}

// NewServer builds a telemetry server when enabled; otherwise it returns
// (nil, nil) and the caller uses the table directly or a noop sink.
func NewServer(cfg *config.Config, table *Table, logger *slog.Logger) (*Server, error) {
	if !cfg.Telemetry.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	listener, err := net.Listen("tcp", cfg.Telemetry.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("telemetry listen on %s: %w", cfg.Telemetry.ListenAddr, err)
	}

	mux := http.NewServeMux()
	srv := &Server{
		table:    table,
		listener: listener,
		logger:   logger.With(logging.String(logging.FieldComponent, "telemetry")),
	}
	mux.HandleFunc("GET /registers", srv.handleRegisters)
	srv.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return srv, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until the server is shut down.
func (s *Server) Serve() error {
	s.logger.Info("telemetry registers served", logging.String("addr", s.Addr()))
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type registerEntry struct {
	Register int    `json:"register"`
	Value    uint16 `json:"value"`
}

func (s *Server) handleRegisters(w http.ResponseWriter, r *http.Request) {
	snapshot := s.table.Snapshot()
	entries := make([]registerEntry, 0, len(snapshot))
	for addr, value := range snapshot {
		entries = append(entries, registerEntry{Register: addr, Value: value})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Register < entries[j].Register })

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		s.logger.Warn("register encode failed", logging.Error(err))
	}
}

// NopSink discards writes.
type NopSink struct{}

func (NopSink) WriteResult(metrics.Published, time.Time) error { return nil }
