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
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(ServiceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

func (c *Client) QueueStatus() (*QueueStatusResponse, error) {
	return call[QueueStatusResponse](c, "QueueStatus", QueueStatusRequest{})
}

func (c *Client) WorkflowCreate(req WorkflowCreateRequest) (*WorkflowResponse, error) {
	return call[WorkflowResponse](c, "WorkflowCreate", req)
}

func (c *Client) WorkflowList(req WorkflowListRequest) (*WorkflowListResponse, error) {
	return call[WorkflowListResponse](c, "WorkflowList", req)
}

func (c *Client) WorkflowShow(id string) (*WorkflowShowResponse, error) {
	return call[WorkflowShowResponse](c, "WorkflowShow", WorkflowIDRequest{ID: id})
}

func (c *Client) WorkflowResume(id string) (*WorkflowResumeResponse, error) {
	return call[WorkflowResumeResponse](c, "WorkflowResume", WorkflowIDRequest{ID: id})
}

func (c *Client) WorkflowCancel(id string) (*WorkflowCancelResponse, error) {
	return call[WorkflowCancelResponse](c, "WorkflowCancel", WorkflowIDRequest{ID: id})
}

func (c *Client) WorkflowSummary() (*WorkflowSummaryResponse, error) {
	return call[WorkflowSummaryResponse](c, "WorkflowSummary", WorkflowSummaryRequest{})
}

func (c *Client) ErrorList(workflowID string) (*ErrorListResponse, error) {
	return call[ErrorListResponse](c, "ErrorList", ErrorListRequest{WorkflowID: workflowID})
}

func (c *Client) ErrorSummary() (*ErrorSummaryResponse, error) {
	return call[ErrorSummaryResponse](c, "ErrorSummary", ErrorSummaryRequest{})
}

func (c *Client) ErrorResolve(id, notes string) (*ErrorResolveResponse, error) {
	return call[ErrorResolveResponse](c, "ErrorResolve", ErrorResolveRequest{ID: id, Notes: notes})
}

func (c *Client) ErrorClear() (*ErrorClearResponse, error) {
	return call[ErrorClearResponse](c, "ErrorClear", ErrorClearRequest{})
}

func (c *Client) Agents() (*AgentsResponse, error) {
	return call[AgentsResponse](c, "Agents", AgentsRequest{})
}

func (c *Client) AgentSet(agentType string, enabled bool) (*AgentSetResponse, error) {
	return call[AgentSetResponse](c, "AgentSet", AgentSetRequest{AgentType: agentType, Enabled: enabled})
}
