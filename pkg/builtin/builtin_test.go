package builtin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hypersim/hookengine/pkg/plugin"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// newEngine registers plugins in order on an initialized engine.
func newEngine(t *testing.T, plugins ...plugin.Plugin) *plugin.Engine {
	t.Helper()

	engine := plugin.NewEngine(plugin.WithLogger(zerolog.Nop()))
	ctx := context.Background()
	require.NoError(t, engine.Initialize(ctx))
	for _, p := range plugins {
		require.NoError(t, engine.Register(ctx, plugin.NewConfig(p)))
	}
	t.Cleanup(func() { _ = engine.Shutdown(context.Background()) })
	return engine
}

func TestMetadataKeysAreDisjoint(t *testing.T) {
	limiter, err := NewRateLimitPlugin(nil, RateLimitReject)
	require.NoError(t, err)

	owners := map[string]MetadataOwner{
		"logging":   NewLoggingPlugin(),
		"metrics":   NewMetricsPlugin(),
		"retry":     NewRetryPlugin(RetryConfig{}),
		"caching":   NewCachingPlugin(CacheConfig{}),
		"ratelimit": limiter,
	}

	seen := map[string]string{}
	for name, owner := range owners {
		keys := owner.MetadataKeys()
		require.NotEmpty(t, keys, name)
		for _, key := range keys {
			if prev, ok := seen[key]; ok {
				t.Errorf("metadata key %q owned by both %s and %s", key, prev, name)
			}
			seen[key] = name
		}
	}
}

func TestBuiltinsRegister(t *testing.T) {
	limiter, err := NewRateLimitPlugin(nil, "")
	require.NoError(t, err)

	engine := newEngine(t,
		NewLoggingPlugin(),
		NewMetricsPlugin(),
		NewRetryPlugin(RetryConfig{}),
		NewCachingPlugin(CacheConfig{}),
		limiter,
	)

	infos := engine.ListPlugins()
	require.Len(t, infos, 5)
	for _, info := range infos {
		assert.Equal(t, Version, info.Version, info.Name)
		assert.True(t, info.Healthy, info.Name)
		assert.True(t, info.Initialized, info.Name)
		assert.NotEmpty(t, info.Description, info.Name)
	}
}
