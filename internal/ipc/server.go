package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"settlecam/internal/daemon"
	"settlecam/internal/logging"
	"settlecam/internal/runstore"
)

// Server accepts RPC connections from the CLI.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: ctx}
	if err := rpcServer.RegisterName("Settlecam", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed", logging.Error(err))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) StartRun(_ StartRunRequest, resp *StartRunResponse) error {
	started, message := s.daemon.StartRun()
	resp.Started = started
	resp.Message = message
	if started {
		s.logger.Info("run started via IPC")
	}
	return nil
}

func (s *service) Abort(_ AbortRequest, resp *AbortResponse) error {
	resp.Aborted = s.daemon.AbortRun()
	if resp.Aborted {
		s.logger.Info("run aborted via IPC")
	}
	return nil
}

func (s *service) Reset(_ ResetRequest, resp *ResetResponse) error {
	if err := s.daemon.ResetGuard(); err != nil {
		resp.Reset = false
		resp.Message = err.Error()
		return nil
	}
	resp.Reset = true
	resp.Message = "boot marker cleared"
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status, err := s.daemon.Status(s.ctx)
	if err != nil {
		return err
	}
	resp.Running = status.Running
	resp.PID = status.PID
	resp.LockPath = status.LockFilePath
	resp.RunDBPath = status.RunDBPath
	resp.ActiveRun = convertRun(status.ActiveRun)
	resp.Totals = RunTotals{
		Total:     status.Summary.Total,
		Active:    status.Summary.Active,
		Completed: status.Summary.Completed,
		Failed:    status.Summary.Failed,
		Aborted:   status.Summary.Aborted,
	}
	for _, health := range status.StageHealth {
		resp.StageHealth = append(resp.StageHealth, StageHealth{
			Name:   health.Name,
			Ready:  health.Ready,
			Detail: health.Detail,
		})
	}
	for _, dep := range status.Dependencies {
		resp.Dependencies = append(resp.Dependencies, DependencyStatus{
			Name:      dep.Name,
			Command:   dep.Command,
			Available: dep.Available,
			Detail:    dep.Detail,
		})
	}
	return nil
}

func (s *service) Runs(req RunsRequest, resp *RunsResponse) error {
	runs, err := s.daemon.Runs(s.ctx, req.Limit)
	if err != nil {
		return err
	}
	for _, run := range runs {
		if summary := convertRun(run); summary != nil {
			resp.Runs = append(resp.Runs, *summary)
		}
	}
	return nil
}

func convertRun(run *runstore.Run) *RunSummary {
	if run == nil {
		return nil
	}
	return &RunSummary{
		ID:           run.ID,
		Status:       string(run.Status),
		Mode:         run.Mode,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		VideoPath:    run.VideoPath,
		ErrorMessage: run.ErrorMessage,
		WarningCount: run.WarningCount,
	}
}
