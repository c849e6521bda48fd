// Package network provides the HTTP side of the host: pooled clients and a
// JSON-RPC transport and connector for node endpoints.
package network

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultRequestTimeout bounds one RPC round trip when no timeout is given.
const DefaultRequestTimeout = 30 * time.Second

// NewTransport creates an HTTP transport tuned for many small JSON-RPC calls
// to a handful of node endpoints.
func NewTransport(maxIdle, maxConns int) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdle,
		MaxConnsPerHost:       maxConns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,

		// RPC payloads are small
		WriteBufferSize: 16 * 1024,
		ReadBufferSize:  16 * 1024,
	}
}

// NewClient creates a standalone client. A non-positive timeout uses
// DefaultRequestTimeout.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &http.Client{
		Transport: otelhttp.NewTransport(NewTransport(10, 20)),
		Timeout:   timeout,
	}
}
