package middleware

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Operation describes the host's own work that the chain wraps, such as a
// simulation call or an analysis request.
type Operation struct {
	Name      string
	RequestID string
	Input     any
}

// Handler performs an operation and returns its result.
type Handler func(ctx context.Context, op *Operation) (any, error)

// Middleware represents a middleware function that wraps a Handler
type Middleware func(next Handler) Handler

// MiddlewareChain manages a chain of middleware
type MiddlewareChain struct {
	middlewares []Middleware
	mu          sync.RWMutex
}

// NewMiddlewareChain creates a new middleware chain
func NewMiddlewareChain() *MiddlewareChain {
	return &MiddlewareChain{
		middlewares: make([]Middleware, 0),
	}
}

// Use adds a middleware to the chain
func (mc *MiddlewareChain) Use(m Middleware) {
	if m == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.middlewares = append(mc.middlewares, m)
}

// Then applies all middleware to the final handler and returns the wrapped handler
func (mc *MiddlewareChain) Then(handler Handler) Handler {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	// Apply middleware in reverse order so the first added runs first
	result := handler
	for i := len(mc.middlewares) - 1; i >= 0; i-- {
		result = mc.middlewares[i](result)
	}
	return result
}

// Run wraps handler and invokes it for op.
func (mc *MiddlewareChain) Run(ctx context.Context, op *Operation, handler Handler) (any, error) {
	return mc.Then(handler)(ctx, op)
}

// Clear removes all middleware from the chain
func (mc *MiddlewareChain) Clear() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.middlewares = nil
}

// Count returns the number of middleware in the chain
func (mc *MiddlewareChain) Count() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.middlewares)
}

// OperationRecorder receives one observation per finished operation.
type OperationRecorder interface {
	ObserveOperation(name string, elapsed time.Duration, err error)
}

// RateLimiter interface for rate limiting
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// Built-in Middleware Functions

// LoggingMiddleware logs the start and outcome of every operation.
func LoggingMiddleware(logger zerolog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, op *Operation) (any, error) {
			start := time.Now()
			l := logger.With().Str("operation", op.Name).Str("request_id", op.RequestID).Logger()
			l.Debug().Msg("operation started")

			result, err := next(ctx, op)

			if err != nil {
				l.Error().Err(err).Dur("duration", time.Since(start)).Msg("operation failed")
			} else {
				l.Info().Dur("duration", time.Since(start)).Msg("operation completed")
			}
			return result, err
		}
	}
}

// MetricsMiddleware reports every operation to recorder.
func MetricsMiddleware(recorder OperationRecorder) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, op *Operation) (any, error) {
			start := time.Now()
			result, err := next(ctx, op)
			recorder.ObserveOperation(op.Name, time.Since(start), err)
			return result, err
		}
	}
}

// RateLimitMiddleware blocks each operation until limiter admits it.
func RateLimitMiddleware(limiter RateLimiter) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, op *Operation) (any, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
			return next(ctx, op)
		}
	}
}

// TimeoutMiddleware creates a timeout middleware
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, op *Operation) (any, error) {
			timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			return next(timeoutCtx, op)
		}
	}
}

// PanicError is returned by RecoverMiddleware when the wrapped handler panicked.
type PanicError struct {
	Operation string
	Value     any
	Stack     []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("operation %s panicked: %v", e.Operation, e.Value)
}

// RecoverMiddleware turns a panic in the wrapped handler into a *PanicError.
func RecoverMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, op *Operation) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					result = nil
					err = &PanicError{Operation: op.Name, Value: r, Stack: debug.Stack()}
				}
			}()
			return next(ctx, op)
		}
	}
}
