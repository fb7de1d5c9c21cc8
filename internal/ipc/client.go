package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Ping checks that the daemon answers on the socket.
func (c *Client) Ping() (*PingResponse, error) {
	var resp PingResponse
	if err := c.client.Call("Desceval.Ping", PingRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start requests the daemon to start the worker pool.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.client.Call("Desceval.Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop the worker pool.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Desceval.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Desceval.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EnqueueEvaluation admits one quiz evaluation run.
func (c *Client) EnqueueEvaluation(req EnqueueEvaluationRequest) (*EnqueueEvaluationResponse, error) {
	var resp EnqueueEvaluationResponse
	if err := c.client.Call("Desceval.EnqueueEvaluation", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Progress fetches the live progress snapshot for a quiz.
func (c *Client) Progress(quizID string) (*ProgressResponse, error) {
	var resp ProgressResponse
	req := ProgressRequest{QuizID: quizID}
	if err := c.client.Call("Desceval.Progress", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Jobs lists recent evaluation jobs, optionally filtered by status.
func (c *Client) Jobs(limit int, statuses []string) (*JobsResponse, error) {
	var resp JobsResponse
	req := JobsRequest{Limit: limit, Statuses: statuses}
	if err := c.client.Call("Desceval.Jobs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobDescribe fetches one job by id.
func (c *Client) JobDescribe(id string) (*JobDescribeResponse, error) {
	var resp JobDescribeResponse
	req := JobDescribeRequest{ID: id}
	if err := c.client.Call("Desceval.JobDescribe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Workers lists pool workers with health samples.
func (c *Client) Workers() (*WorkersResponse, error) {
	var resp WorkersResponse
	if err := c.client.Call("Desceval.Workers", WorkersRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// KillWorker terminates one worker by registration name.
func (c *Client) KillWorker(name string, replace bool) (*KillWorkerResponse, error) {
	var resp KillWorkerResponse
	req := KillWorkerRequest{Name: name, Replace: replace}
	if err := c.client.Call("Desceval.KillWorker", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LockStatus inspects the distributed lock for a quiz.
func (c *Client) LockStatus(quizID string) (*LockStatusResponse, error) {
	var resp LockStatusResponse
	req := LockStatusRequest{QuizID: quizID}
	if err := c.client.Call("Desceval.LockStatus", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReleaseLock force-releases a quiz lock.
func (c *Client) ReleaseLock(quizID string) (*ReleaseLockResponse, error) {
	var resp ReleaseLockResponse
	req := ReleaseLockRequest{QuizID: quizID}
	if err := c.client.Call("Desceval.ReleaseLock", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueInfo summarizes the shared evaluation queue.
func (c *Client) QueueInfo() (*QueueInfoResponse, error) {
	var resp QueueInfoResponse
	if err := c.client.Call("Desceval.QueueInfo", QueueInfoRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueuePurge cancels every queued job no worker has claimed.
func (c *Client) QueuePurge() (*QueuePurgeResponse, error) {
	var resp QueuePurgeResponse
	if err := c.client.Call("Desceval.QueuePurge", QueuePurgeRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Report fetches the stored report for a quiz.
func (c *Client) Report(quizID string) (*ReportResponse, error) {
	var resp ReportResponse
	req := ReportRequest{QuizID: quizID}
	if err := c.client.Call("Desceval.Report", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RegenerateReport recomputes a quiz report from stored scores.
func (c *Client) RegenerateReport(quizID string) (*RegenerateReportResponse, error) {
	var resp RegenerateReportResponse
	req := RegenerateReportRequest{QuizID: quizID}
	if err := c.client.Call("Desceval.RegenerateReport", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Desceval.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StoreHealth retrieves detailed store diagnostics.
func (c *Client) StoreHealth() (*StoreHealthResponse, error) {
	var resp StoreHealthResponse
	if err := c.client.Call("Desceval.StoreHealth", StoreHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Desceval.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
