package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/hypersim/hookengine/pkg/types"
)

// maxResponseBytes caps how much of a node response is read.
const maxResponseBytes = 8 << 20

// RPCError is the error object of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// StatusError is returned for a non-2xx HTTP status.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected HTTP status %d", e.Endpoint, e.StatusCode)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCTransport sends types.Request values as JSON-RPC 2.0 calls over HTTP.
type RPCTransport struct {
	pool    *ConnectionPool
	timeout time.Duration
	ids     atomic.Uint64
}

// NewRPCTransport creates a transport drawing clients from pool. A nil pool
// gets a private one.
func NewRPCTransport(pool *ConnectionPool, timeout time.Duration) *RPCTransport {
	if pool == nil {
		pool = NewConnectionPool(10, 20)
	}
	return &RPCTransport{pool: pool, timeout: timeout}
}

// Pool returns the pool the transport draws from.
func (t *RPCTransport) Pool() *ConnectionPool {
	return t.pool
}

// Do performs req. The response is returned alongside a StatusError or
// RPCError so callers can still inspect the body.
func (t *RPCTransport) Do(ctx context.Context, req *types.Request) (*types.Response, error) {
	u, err := url.Parse(req.Endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q", req.Endpoint)
	}

	params := req.Params
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: t.ids.Add(1), Method: req.Method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", req.Method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	httpResp, err := t.pool.GetClient(u.Host, t.timeout).Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Endpoint, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", req.Method, err)
	}

	resp := &types.Response{StatusCode: httpResp.StatusCode, Body: data, Latency: time.Since(start)}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return resp, &StatusError{Endpoint: req.Endpoint, StatusCode: httpResp.StatusCode}
	}

	var decoded rpcResponse
	if err := json.Unmarshal(data, &decoded); err == nil && decoded.Error != nil {
		return resp, decoded.Error
	}
	return resp, nil
}

// DecodeResult unmarshals the result member of a JSON-RPC response into v.
func DecodeResult(resp *types.Response, v any) error {
	if resp == nil {
		return fmt.Errorf("no response")
	}
	var decoded rpcResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return fmt.Errorf("decoding rpc response: %w", err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if len(decoded.Result) == 0 {
		return fmt.Errorf("rpc response has no result")
	}
	return json.Unmarshal(decoded.Result, v)
}

// RPCConnector opens connections by asking the node for its network id.
type RPCConnector struct {
	transport *RPCTransport
	now       func() time.Time
}

// NewRPCConnector creates a connector sharing transport's pool.
func NewRPCConnector(transport *RPCTransport) *RPCConnector {
	return &RPCConnector{transport: transport, now: time.Now}
}

// Connect calls net_version on endpoint.
func (c *RPCConnector) Connect(ctx context.Context, endpoint string) (*types.Connection, error) {
	resp, err := c.transport.Do(ctx, &types.Request{Method: "net_version", Endpoint: endpoint})
	if err != nil {
		return nil, err
	}

	var network string
	if err := DecodeResult(resp, &network); err != nil {
		return nil, fmt.Errorf("net_version: %w", err)
	}
	return &types.Connection{Endpoint: endpoint, Network: network, ConnectedAt: c.now()}, nil
}

// Disconnect releases the pooled client of the connection's host.
func (c *RPCConnector) Disconnect(_ context.Context, conn *types.Connection) error {
	if conn == nil {
		return nil
	}
	u, err := url.Parse(conn.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q", conn.Endpoint)
	}
	c.transport.pool.Release(u.Host)
	return nil
}
