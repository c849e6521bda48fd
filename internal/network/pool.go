package network

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ConnectionPool hands out one HTTP client per host so that calls to the same
// node reuse connections.
type ConnectionPool struct {
	mu       sync.RWMutex
	clients  map[string]*http.Client
	maxIdle  int
	maxConns int
}

// PoolStats describes the pool.
type PoolStats struct {
	Clients  int      `json:"clients"`
	MaxIdle  int      `json:"maxIdle"`
	MaxConns int      `json:"maxConns"`
	Hosts    []string `json:"hosts"`
}

// NewConnectionPool creates an empty pool.
func NewConnectionPool(maxIdle, maxConns int) *ConnectionPool {
	return &ConnectionPool{
		clients:  make(map[string]*http.Client),
		maxIdle:  maxIdle,
		maxConns: maxConns,
	}
}

// GetClient returns the client for host, creating it on first use. The
// timeout only applies to a newly created client. Requests are traced.
func (cp *ConnectionPool) GetClient(host string, timeout time.Duration) *http.Client {
	cp.mu.RLock()
	client, exists := cp.clients[host]
	cp.mu.RUnlock()

	if exists {
		return client
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()

	if client, exists = cp.clients[host]; exists {
		return client
	}

	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	client = &http.Client{
		Transport: otelhttp.NewTransport(NewTransport(cp.maxIdle, cp.maxConns)),
		Timeout:   timeout,
	}
	cp.clients[host] = client
	return client
}

// Release drops the client for host and closes its idle connections. It
// reports whether host had a client.
func (cp *ConnectionPool) Release(host string) bool {
	cp.mu.Lock()
	client, exists := cp.clients[host]
	delete(cp.clients, host)
	cp.mu.Unlock()

	if exists {
		client.CloseIdleConnections()
	}
	return exists
}

// Close releases every client.
func (cp *ConnectionPool) Close() {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	for _, client := range cp.clients {
		client.CloseIdleConnections()
	}
	cp.clients = make(map[string]*http.Client)
}

// Stats returns pool statistics. Hosts are sorted.
func (cp *ConnectionPool) Stats() PoolStats {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	hosts := make([]string, 0, len(cp.clients))
	for host := range cp.clients {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	return PoolStats{
		Clients:  len(cp.clients),
		MaxIdle:  cp.maxIdle,
		MaxConns: cp.maxConns,
		Hosts:    hosts,
	}
}
