package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"
	"time"

	"log/slog"

	"desceval/internal/api"
	"desceval/internal/daemon"
	"desceval/internal/logging"
	"desceval/internal/logs"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
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
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Desceval", srv); err != nil {
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
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String("impact", "IPC clients may fail to connect"),
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
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String("impact", "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun desceval stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String("component", "ipc"))
}

func (s *service) Ping(_ PingRequest, resp *PingResponse) error {
	resp.Pong = true
	resp.PID = os.Getpid()
	resp.Name = "desceval"
	return nil
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.log().Info("daemon started via IPC",
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.StorePath = status.StorePath
	resp.LockPath = status.LockFilePath
	resp.SocketPath = status.SocketPath
	resp.RedisOK = status.RedisOK
	resp.RedisDetail = status.RedisDetail
	resp.WorkersAlive = status.WorkersAlive
	resp.QueueDepth = status.QueueDepth
	if len(status.ActiveJobs) > 0 {
		resp.ActiveJobs = api.SortJobsNewestFirst(api.FromJobs(status.ActiveJobs))
	}
	return nil
}

func (s *service) EnqueueEvaluation(req EnqueueEvaluationRequest, resp *EnqueueEvaluationResponse) error {
	s.log().Debug("evaluation enqueue requested", logging.String(logging.FieldQuizID, req.QuizID))
	result, err := s.daemon.EnqueueEvaluation(s.ctx, daemon.EvalParams{
		QuizID:         req.QuizID,
		Override:       req.Override,
		OverrideCache:  req.OverrideCache,
		Types:          req.Types,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		return err
	}
	resp.Job = result.Job
	resp.QueueDepth = result.QueueDepth
	resp.Submissions = result.Submissions
	return nil
}

func (s *service) Progress(req ProgressRequest, resp *ProgressResponse) error {
	if strings.TrimSpace(req.QuizID) == "" {
		return errors.New("quiz id is required")
	}
	snap, err := s.daemon.Progress(s.ctx, req.QuizID)
	if err != nil {
		return err
	}
	resp.Found = snap != nil
	resp.Progress = api.FromProgress(req.QuizID, snap)
	return nil
}

func (s *service) Jobs(req JobsRequest, resp *JobsResponse) error {
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.daemon.ListJobs(s.ctx, limit)
	if err != nil {
		return err
	}
	jobs := api.FilterJobsByStatus(api.FromJobs(rows), req.Statuses)
	resp.Jobs = api.SortJobsNewestFirst(jobs)
	return nil
}

func (s *service) JobDescribe(req JobDescribeRequest, resp *JobDescribeResponse) error {
	if strings.TrimSpace(req.ID) == "" {
		return errors.New("job id is required")
	}
	row, err := s.daemon.GetJob(s.ctx, req.ID)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("evaluation job %s not found", req.ID)
	}
	resp.Job = api.FromJob(row)
	return nil
}

func (s *service) Workers(_ WorkersRequest, resp *WorkersResponse) error {
	statuses := s.daemon.Workers(s.ctx)
	resp.Workers = api.FromWorkerStatuses(statuses)
	return nil
}

func (s *service) KillWorker(req KillWorkerRequest, resp *KillWorkerResponse) error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.New("worker name is required")
	}
	s.log().Debug("worker kill requested",
		logging.String(logging.FieldWorker, req.Name),
		logging.Bool("replace", req.Replace))
	message, err := s.daemon.KillWorker(s.ctx, req.Name, req.Replace)
	if err != nil {
		resp.Killed = false
		resp.Message = err.Error()
		return nil
	}
	resp.Killed = true
	resp.Message = message
	s.log().Info("worker killed via IPC",
		logging.String(logging.FieldWorker, req.Name),
		logging.String(logging.FieldEventType, "worker_kill"))
	return nil
}

func (s *service) LockStatus(req LockStatusRequest, resp *LockStatusResponse) error {
	if strings.TrimSpace(req.QuizID) == "" {
		return errors.New("quiz id is required")
	}
	info, err := s.daemon.QuizLockInfo(s.ctx, req.QuizID)
	if err != nil {
		return err
	}
	resp.Lock = api.LockStatus{
		QuizID:     req.QuizID,
		Locked:     info.Locked,
		Holder:     info.Holder,
		TTLSeconds: info.TTL.Seconds(),
	}
	return nil
}

func (s *service) ReleaseLock(req ReleaseLockRequest, resp *ReleaseLockResponse) error {
	if strings.TrimSpace(req.QuizID) == "" {
		return errors.New("quiz id is required")
	}
	s.log().Debug("lock release requested", logging.String(logging.FieldQuizID, req.QuizID))
	released, err := s.daemon.ReleaseQuizLock(s.ctx, req.QuizID)
	if err != nil {
		return err
	}
	resp.Released = released
	if released {
		s.log().Info("quiz lock released via IPC",
			logging.String(logging.FieldQuizID, req.QuizID),
			logging.String(logging.FieldEventType, "lock_release"))
	}
	return nil
}

func (s *service) QueueInfo(_ QueueInfoRequest, resp *QueueInfoResponse) error {
	info, err := s.daemon.QueueInfo(s.ctx)
	if err != nil {
		return err
	}
	resp.Stats = api.QueueStats{
		Depth:      info.Depth,
		PendingIDs: info.Pending,
	}
	return nil
}

func (s *service) QueuePurge(_ QueuePurgeRequest, resp *QueuePurgeResponse) error {
	purged, err := s.daemon.PurgeQueue(s.ctx)
	if err != nil {
		return err
	}
	resp.Purged = purged
	return nil
}

func (s *service) Report(req ReportRequest, resp *ReportResponse) error {
	report, err := s.daemon.Report(s.ctx, req.QuizID)
	if err != nil {
		return err
	}
	resp.Report = report
	return nil
}

func (s *service) RegenerateReport(req RegenerateReportRequest, resp *RegenerateReportResponse) error {
	s.log().Debug("report regeneration requested", logging.String(logging.FieldQuizID, req.QuizID))
	report, err := s.daemon.RegenerateReport(s.ctx, req.QuizID)
	if err != nil {
		return err
	}
	resp.Report = report
	s.log().Info("report regenerated via IPC",
		logging.String(logging.FieldQuizID, req.QuizID),
		logging.String(logging.FieldEventType, "report_regenerate"))
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}

func (s *service) StoreHealth(_ StoreHealthRequest, resp *StoreHealthResponse) error {
	health, err := s.daemon.StoreHealth(s.ctx)
	if err != nil && health.Error == "" {
		return err
	}
	resp.DBPath = health.DBPath
	resp.DatabaseExists = health.DatabaseExists
	resp.DatabaseReadable = health.DatabaseReadable
	resp.MigrationsApplied = health.MigrationsApplied
	resp.TablesPresent = append(resp.TablesPresent, health.TablesPresent...)
	resp.MissingTables = append(resp.MissingTables, health.MissingTables...)
	resp.IntegrityCheck = health.IntegrityCheck
	resp.Quizzes = health.Quizzes
	resp.Submissions = health.Submissions
	resp.Jobs = health.Jobs
	resp.Error = health.Error
	if err != nil {
		return err
	}
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
