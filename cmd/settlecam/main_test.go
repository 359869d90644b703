package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"settlecam/internal/config"
	"settlecam/internal/daemon"
	"settlecam/internal/ipc"
	"settlecam/internal/logging"
	"settlecam/internal/runstore"
	"settlecam/internal/workflow"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *runstore.Store
	socketPath string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.BaseDir = base
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.ResultsDir = filepath.Join(base, "results")
	cfgVal.Paths.ArchiveDir = filepath.Join(base, "archive")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.BootMarkerPath = filepath.Join(base, "boot_marker")
	cfgVal.Paths.SocketPath = filepath.Join(base, "cli.sock")
	cfgVal.Workflow.RunOncePerBoot = false
	cfg := &cfgVal
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	configPath := filepath.Join(base, "config.toml")
	encoded, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, encoded, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	store, err := runstore.Open(cfg)
	if err != nil {
		t.Fatalf("runstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := logging.NewNop()
	orch := workflow.NewOrchestrator(cfg, store, logger)
	d, err := daemon.New(cfg, store, logger, orch)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon start: %v", err)
	}
	t.Cleanup(d.Stop)

	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	time.Sleep(50 * time.Millisecond)

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		socketPath: cfg.Paths.SocketPath,
		configPath: configPath,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, error) {
	t.Helper()

	full := make([]string, 0, len(args)+4)
	full = append(full, args...)
	if socket != "" {
		full = append(full, "--socket", socket)
	}
	if configPath != "" {
		full = append(full, "--config", configPath)
	}

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(full)
	err := cmd.Execute()
	return out.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

func TestStatusCommandReportsDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Daemon")
	requireContains(t, out, "runs.db")
	requireContains(t, out, "completed")
}

func TestRunsCommandListsRecords(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, []string{"runs"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	requireContains(t, out, "No runs recorded")

	ctx := context.Background()
	run, err := env.store.NewRun(ctx, "full")
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	if err := env.store.MarkFailed(ctx, run.ID, "lens cap on"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	out, err = runCLI(t, []string{"runs"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	requireContains(t, out, shortID(run.ID))
	requireContains(t, out, "lens cap on")
}

func TestAbortCommandWithoutActiveRun(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, []string{"abort"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	requireContains(t, out, "No active run to abort")
}

func TestConfigInitWritesSample(t *testing.T) {
	tmp := t.TempDir()
	target := filepath.Join(tmp, "config.toml")

	out, err := runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
}

func TestStatusLinePlainFormatting(t *testing.T) {
	got := statusLine("Camera cam1", statusError, "no frame within 10s", false)
	want := "  Camera cam1:         [ERROR] no frame within 10s"
	if got != want {
		t.Fatalf("statusLine = %q, want %q", got, want)
	}
}

func TestTotalsTableListsEveryOutcome(t *testing.T) {
	out := totalsTable(ipc.RunTotals{Total: 3, Completed: 2, Failed: 1})
	for _, outcome := range []string{"total", "active", "completed", "failed", "aborted"} {
		if !strings.Contains(out, outcome) {
			t.Fatalf("totals table missing %q:\n%s", outcome, out)
		}
	}
}

func TestRunsTableShowsErrorColumn(t *testing.T) {
	out := runsTable([]ipc.RunSummary{{
		ID:           "0123456789abcdef",
		Status:       "failed",
		Mode:         "full",
		StartedAt:    time.Now(),
		ErrorMessage: "lens cap on",
	}})
	requireContains(t, out, "01234567")
	requireContains(t, out, "lens cap on")
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, []string{"version"}, "", "")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	requireContains(t, out, "settlecam "+version)
}
