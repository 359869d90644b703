package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"settlecam/internal/config"
	"settlecam/internal/daemon"
	"settlecam/internal/ipc"
	"settlecam/internal/logging"
	"settlecam/internal/runstore"
	"settlecam/internal/telemetry"
	"settlecam/internal/workflow"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := runstore.Open(cfg)
	if err != nil {
		logger.Error("open run store", logging.Error(err))
		return
	}

	registers := telemetry.NewTable()
	telemetryServer, err := telemetry.NewServer(cfg, registers, logger)
	if err != nil {
		logger.Error("start telemetry server", logging.Error(err))
		return
	}
	if telemetryServer != nil {
		go func() {
			if err := telemetryServer.Serve(); err != nil {
				logger.Warn("telemetry server stopped", logging.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = telemetryServer.Shutdown(shutdownCtx)
		}()
	}

	orch := workflow.NewOrchestratorWith(cfg, store, logger, workflow.Deps{Telemetry: telemetrySink(registers)})

	d, err := daemon.New(cfg, store, logger, orch)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		logger.Error("start IPC server", logging.Error(err))
		return
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("settlecamd shutting down")
}

func telemetrySink(table *telemetry.Table) telemetry.Sink {
	if table == nil {
		return telemetry.NopSink{}
	}
	return table
}
