package builtin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypersim/hookengine/pkg/hooks"
	"github.com/hypersim/hookengine/pkg/plugin"
	"github.com/hypersim/hookengine/pkg/ratelimit"
)

func TestRateLimitPlugin_Reject(t *testing.T) {
	limiter := ratelimit.NewRequestLimiter(ratelimit.Rate{Events: 1, Per: time.Hour})
	p, err := NewRateLimitPlugin(limiter, "REJECT")
	require.NoError(t, err)
	assert.Equal(t, RateLimitReject, p.Mode())

	// Caching runs after the limiter, so a rejected dispatch never reaches it.
	cache := NewCachingPlugin(CacheConfig{})
	engine := newEngine(t, p, cache)
	ctx := context.Background()

	first, err := engine.Execute(ctx, hooks.BeforeSimulation, hooks.NewContext("", nil), tx("0xB"))
	require.NoError(t, err)
	assert.False(t, first.Halted())
	assert.False(t, first.Meta().Bool(KeyRateLimited))

	second, err := engine.Execute(ctx, hooks.BeforeSimulation, hooks.NewContext("", nil), tx("0xB"))
	require.NoError(t, err)
	assert.True(t, second.Halted())
	assert.True(t, second.Meta().Bool(KeyRateLimited))
	assert.False(t, second.Meta().Has(KeyCacheKey))
	assert.EqualValues(t, 1, p.Rejected())
	assert.EqualValues(t, 1, cache.CacheStats().Misses)
}

func TestRateLimitPlugin_Wait(t *testing.T) {
	limiter := ratelimit.NewRequestLimiter(ratelimit.Rate{Events: 1, Per: time.Hour})
	p, err := NewRateLimitPlugin(limiter, RateLimitWait)
	require.NoError(t, err)
	engine := newEngine(t, p)

	hc, err := engine.Execute(context.Background(), hooks.BeforeRequest, hooks.NewContext("", nil), nil)
	require.NoError(t, err)
	assert.False(t, hc.Halted())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine.Execute(ctx, hooks.BeforeRequest, hooks.NewContext("", nil), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, plugin.ErrEngine)
}

func TestRateLimitPlugin_Bindings(t *testing.T) {
	p, err := NewRateLimitPlugin(nil, "")
	require.NoError(t, err)
	assert.Equal(t, RateLimitWait, p.Mode())

	for _, b := range p.Bindings() {
		assert.Equal(t, 0, b.Priority, b.Hook)
	}

	_, err = NewRateLimitPlugin(nil, "drop")
	assert.Error(t, err)
}
