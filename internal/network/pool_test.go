package network

import (
	"sync"
	"testing"
	"time"
)

func TestConnectionPool_GetClient(t *testing.T) {
	pool := NewConnectionPool(10, 20)
	defer pool.Close()

	client1 := pool.GetClient("node-a:8545", 5*time.Second)
	client2 := pool.GetClient("node-a:8545", time.Hour)
	if client1 != client2 {
		t.Error("Expected same client instance for same host")
	}
	if client1.Timeout != 5*time.Second {
		t.Errorf("Expected timeout of the first call, got %v", client1.Timeout)
	}

	client3 := pool.GetClient("node-b:8545", 0)
	if client1 == client3 {
		t.Error("Expected different client instances for different hosts")
	}
	if client3.Timeout != DefaultRequestTimeout {
		t.Errorf("Expected default timeout, got %v", client3.Timeout)
	}

	stats := pool.Stats()
	if stats.Clients != 2 {
		t.Errorf("Expected 2 clients in pool, got %d", stats.Clients)
	}
	if stats.Hosts[0] != "node-a:8545" || stats.Hosts[1] != "node-b:8545" {
		t.Errorf("Expected sorted hosts, got %v", stats.Hosts)
	}
}

func TestConnectionPool_Release(t *testing.T) {
	pool := NewConnectionPool(10, 20)
	defer pool.Close()

	first := pool.GetClient("node:8545", 0)
	if !pool.Release("node:8545") {
		t.Fatal("Expected Release to find the client")
	}
	if pool.Release("node:8545") {
		t.Error("Expected second Release to report no client")
	}
	if pool.GetClient("node:8545", 0) == first {
		t.Error("Expected a fresh client after Release")
	}
}

func TestConnectionPool_Concurrent(t *testing.T) {
	pool := NewConnectionPool(10, 20)
	defer pool.Close()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if pool.GetClient("concurrent:8545", time.Second) == nil {
				t.Error("Got nil client")
			}
		}()
	}
	wg.Wait()

	if n := pool.Stats().Clients; n != 1 {
		t.Errorf("Expected 1 client after concurrent access, got %d", n)
	}
}

func TestConnectionPool_Close(t *testing.T) {
	pool := NewConnectionPool(10, 20)
	pool.GetClient("a:1", 0)
	pool.GetClient("b:1", 0)

	pool.Close()

	if n := pool.Stats().Clients; n != 0 {
		t.Errorf("Expected empty pool after Close, got %d", n)
	}
}

func TestNewClient(t *testing.T) {
	if c := NewClient(0); c.Timeout != DefaultRequestTimeout {
		t.Errorf("Expected default timeout, got %v", c.Timeout)
	}
	if c := NewClient(time.Second); c.Timeout != time.Second {
		t.Errorf("Expected 1s timeout, got %v", c.Timeout)
	}
}
