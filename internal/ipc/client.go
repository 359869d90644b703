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

// StartRun requests the daemon to begin a settling test.
func (c *Client) StartRun() (*StartRunResponse, error) {
	var resp StartRunResponse
	if err := c.client.Call("Settlecam.StartRun", StartRunRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Abort requests the daemon to abort the active run.
func (c *Client) Abort() (*AbortResponse, error) {
	var resp AbortResponse
	if err := c.client.Call("Settlecam.Abort", AbortRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reset clears the run-once-per-boot marker.
func (c *Client) Reset() (*ResetResponse, error) {
	var resp ResetResponse
	if err := c.client.Call("Settlecam.Reset", ResetRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Settlecam.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Runs lists recent runs, newest first.
func (c *Client) Runs(limit int) (*RunsResponse, error) {
	var resp RunsResponse
	if err := c.client.Call("Settlecam.Runs", RunsRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
