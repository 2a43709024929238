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
	"time"

	"assessflow/internal/daemon"
	"assessflow/internal/logging"
	"assessflow/internal/workflow"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
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
	logger = logging.NewComponentLogger(logger, "ipc")
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
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
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
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

// Close stops the server and removes the socket file. Connected clients are
// served until they hang up.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Status = s.daemon.Status()
	return nil
}

func (s *service) QueueStatus(_ QueueStatusRequest, resp *QueueStatusResponse) error {
	resp.Queue = s.daemon.QueueStatus()
	return nil
}

func (s *service) WorkflowCreate(req WorkflowCreateRequest, resp *WorkflowResponse) error {
	wf, err := s.daemon.Create(s.ctx, daemon.CreateRequest{
		ClientID:       req.ClientID,
		TherapistID:    req.TherapistID,
		AssessmentType: req.AssessmentType,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return err
	}
	resp.Workflow = wf
	s.logger.Info("workflow created via IPC",
		logging.String(logging.FieldEventType, "ipc_workflow_create"),
		logging.String("workflow_id", wf.ID))
	return nil
}

func (s *service) WorkflowList(req WorkflowListRequest, resp *WorkflowListResponse) error {
	filter := workflow.Filter{ClientID: req.ClientID, TherapistID: req.TherapistID}
	if req.Status != "" {
		status, err := workflow.ParseStatus(req.Status)
		if err != nil {
			return err
		}
		filter.Status = status
	}
	resp.Workflows = s.daemon.List(filter)
	return nil
}

func (s *service) WorkflowShow(req WorkflowIDRequest, resp *WorkflowShowResponse) error {
	detail, err := s.daemon.Show(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Detail = detail
	return nil
}

func (s *service) WorkflowResume(req WorkflowIDRequest, resp *WorkflowResumeResponse) error {
	started, err := s.daemon.Resume(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Started = started
	return nil
}

func (s *service) WorkflowCancel(req WorkflowIDRequest, resp *WorkflowCancelResponse) error {
	if err := s.daemon.Cancel(s.ctx, req.ID); err != nil {
		return err
	}
	resp.Cancelled = true
	return nil
}

func (s *service) WorkflowSummary(_ WorkflowSummaryRequest, resp *WorkflowSummaryResponse) error {
	resp.Summary = s.daemon.Summary(time.Now())
	return nil
}

func (s *service) ErrorList(req ErrorListRequest, resp *ErrorListResponse) error {
	records, err := s.daemon.Errors(s.ctx, req.WorkflowID)
	if err != nil {
		return err
	}
	resp.Errors = records
	return nil
}

func (s *service) ErrorSummary(_ ErrorSummaryRequest, resp *ErrorSummaryResponse) error {
	resp.Summary = s.daemon.ErrorSummary()
	return nil
}

func (s *service) ErrorResolve(req ErrorResolveRequest, resp *ErrorResolveResponse) error {
	if err := s.daemon.ResolveError(s.ctx, req.ID, req.Notes); err != nil {
		return err
	}
	resp.Resolved = true
	return nil
}

func (s *service) ErrorClear(_ ErrorClearRequest, resp *ErrorClearResponse) error {
	resp.Cleared = s.daemon.ClearResolved()
	return nil
}

func (s *service) Agents(_ AgentsRequest, resp *AgentsResponse) error {
	resp.Agents = s.daemon.Agents()
	return nil
}

func (s *service) AgentSet(req AgentSetRequest, resp *AgentSetResponse) error {
	if err := s.daemon.SetAgentEnabled(req.AgentType, req.Enabled); err != nil {
		return err
	}
	for _, status := range s.daemon.Agents() {
		if status.AgentType == req.AgentType {
			resp.Agent = status
		}
	}
	return nil
}
