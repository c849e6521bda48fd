package network

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/hypersim/hookengine/pkg/types"
)

// rpcNode answers JSON-RPC calls from a method table.
func rpcNode(t *testing.T, results map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.JSONRPC != "2.0" || r.Header.Get("Content-Type") != "application/json" {
			http.Error(w, "not json-rpc", http.StatusBadRequest)
			return
		}

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if result, ok := results[req.Method]; ok {
			resp["result"] = result
		} else {
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRPCTransport_Do(t *testing.T) {
	srv := rpcNode(t, map[string]any{"eth_blockNumber": "0x10"})
	transport := NewRPCTransport(nil, time.Second)
	defer transport.Pool().Close()

	resp, err := transport.Do(context.Background(), &types.Request{Method: "eth_blockNumber", Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if resp.Latency <= 0 {
		t.Error("Expected a positive latency")
	}

	var block string
	if err := DecodeResult(resp, &block); err != nil {
		t.Fatalf("DecodeResult() error = %v", err)
	}
	if block != "0x10" {
		t.Errorf("Expected 0x10, got %s", block)
	}
}

func TestRPCTransport_RPCError(t *testing.T) {
	srv := rpcNode(t, nil)
	transport := NewRPCTransport(nil, time.Second)
	defer transport.Pool().Close()

	resp, err := transport.Do(context.Background(), &types.Request{Method: "eth_missing", Endpoint: srv.URL})
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("Expected RPCError, got %v", err)
	}
	if rpcErr.Code != -32601 {
		t.Errorf("Expected code -32601, got %d", rpcErr.Code)
	}
	if resp == nil {
		t.Error("Expected the response alongside the rpc error")
	}
}

func TestRPCTransport_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	transport := NewRPCTransport(nil, time.Second)
	defer transport.Pool().Close()

	_, err := transport.Do(context.Background(), &types.Request{Method: "eth_chainId", Endpoint: srv.URL})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", statusErr.StatusCode)
	}
}

func TestRPCTransport_InvalidEndpoint(t *testing.T) {
	transport := NewRPCTransport(nil, time.Second)
	if _, err := transport.Do(context.Background(), &types.Request{Method: "x", Endpoint: "not a url"}); err == nil {
		t.Error("Expected an error for an endpoint without host")
	}
}

func TestRPCTransport_Cancelled(t *testing.T) {
	srv := rpcNode(t, map[string]any{"eth_chainId": "0x1"})
	transport := NewRPCTransport(nil, time.Second)
	defer transport.Pool().Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := transport.Do(ctx, &types.Request{Method: "eth_chainId", Endpoint: srv.URL})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestRPCConnector(t *testing.T) {
	srv := rpcNode(t, map[string]any{"net_version": "11155111"})
	transport := NewRPCTransport(nil, time.Second)
	defer transport.Pool().Close()

	connector := NewRPCConnector(transport)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	connector.now = func() time.Time { return fixed }

	conn, err := connector.Connect(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if conn.Network != "11155111" || !conn.ConnectedAt.Equal(fixed) {
		t.Errorf("Unexpected connection %+v", conn)
	}

	u, _ := url.Parse(srv.URL)
	if transport.Pool().Stats().Clients != 1 {
		t.Fatalf("Expected a pooled client for %s", u.Host)
	}
	if err := connector.Disconnect(context.Background(), conn); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if transport.Pool().Stats().Clients != 0 {
		t.Error("Expected Disconnect to release the pooled client")
	}
}

func TestDecodeResult_Errors(t *testing.T) {
	if err := DecodeResult(nil, new(string)); err == nil {
		t.Error("Expected error for nil response")
	}
	if err := DecodeResult(&types.Response{Body: []byte("{")}, new(string)); err == nil {
		t.Error("Expected error for malformed body")
	}
	if err := DecodeResult(&types.Response{Body: []byte(`{"jsonrpc":"2.0","id":1}`)}, new(string)); err == nil {
		t.Error("Expected error for missing result")
	}
}
