// Package builtin provides the reference plugins shipped with the engine:
// logging, metrics, retry annotation, result caching and rate limiting.
//
// Plugins talk to each other only through HookContext metadata. Every plugin
// owns the keys it writes and lists them through MetadataKeys.
package builtin

// Metadata keys written by the built-in plugins.
const (
	KeyStartTime    = "startTime"
	KeyDuration     = "duration"
	KeyRequestCount = "requestCount"

	KeyMetricsStartTime = "metricsStartTime"

	KeyRetryAttempt   = "retryAttempt"
	KeyRetryDelay     = "retryDelay"
	KeyShouldRetry    = "shouldRetry"
	KeyRetryExhausted = "retryExhausted"

	KeyCacheKey     = "cacheKey"
	KeyCacheHit     = "cacheHit"
	KeyCachedResult = "cachedResult"

	KeyRateLimited = "rateLimited"
)

// MetadataOwner is implemented by plugins that document the metadata keys they write.
type MetadataOwner interface {
	MetadataKeys() []string
}

// Version is reported by every built-in plugin.
const Version = "1.0.0"
