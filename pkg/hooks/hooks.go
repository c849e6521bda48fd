package hooks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HookType identifies a lifecycle point of the host at which plugins are dispatched.
type HookType string

const (
	BeforeRequest    HookType = "before_request"
	AfterResponse    HookType = "after_response"
	BeforeSimulation HookType = "before_simulation"
	AfterSimulation  HookType = "after_simulation"
	BeforeAnalysis   HookType = "before_analysis"
	AfterAnalysis    HookType = "after_analysis"
	OnError          HookType = "on_error"
	OnConnect        HookType = "on_connect"
	OnDisconnect     HookType = "on_disconnect"
	OnStartup        HookType = "on_startup"
	OnShutdown       HookType = "on_shutdown"
)

var allHookTypes = []HookType{
	BeforeRequest,
	AfterResponse,
	BeforeSimulation,
	AfterSimulation,
	BeforeAnalysis,
	AfterAnalysis,
	OnError,
	OnConnect,
	OnDisconnect,
	OnStartup,
	OnShutdown,
}

// AllHookTypes returns every hook type in declaration order.
func AllHookTypes() []HookType {
	out := make([]HookType, len(allHookTypes))
	copy(out, allHookTypes)
	return out
}

// Valid reports whether t is one of the declared hook types.
func (t HookType) Valid() bool {
	for _, known := range allHookTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (t HookType) String() string {
	return string(t)
}

// ParseHookType converts a name such as "before_simulation" into a HookType.
func ParseHookType(s string) (HookType, error) {
	t := HookType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown hook type %q", s)
	}
	return t, nil
}

// Handler handles one dispatch of a hook. Returning a non-nil context replaces
// the dispatch context for every later handler; returning nil keeps the current one.
type Handler func(ctx context.Context, hc *HookContext, payload any) (*HookContext, error)

// HookContext carries the identity, payload and shared metadata of one dispatch.
type HookContext struct {
	RequestID string
	Timestamp time.Time
	Payload   any
	Metadata  Metadata

	halted bool
}

// NewContext builds a context for a new logical operation. An empty requestID
// is replaced with a random one.
func NewContext(requestID string, payload any) *HookContext {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return &HookContext{
		RequestID: requestID,
		Timestamp: time.Now(),
		Payload:   payload,
		Metadata:  make(Metadata),
	}
}

// SystemContext builds a payload-less context for engine level events such as
// startup and shutdown.
func SystemContext(requestID string) *HookContext {
	return NewContext(requestID, nil)
}

// Halt stops the current dispatch after the running handler returns.
// There is no way to clear it; a later phase must start from a fresh context.
func (hc *HookContext) Halt() {
	hc.halted = true
}

// Halted reports whether a handler halted this dispatch.
func (hc *HookContext) Halted() bool {
	return hc.halted
}

// Next derives the context for a later phase of the same operation. The request
// id and a copy of the metadata carry over, the halt flag does not.
func (hc *HookContext) Next(payload any) *HookContext {
	return &HookContext{
		RequestID: hc.RequestID,
		Timestamp: time.Now(),
		Payload:   payload,
		Metadata:  hc.Metadata.Clone(),
	}
}

// Meta returns the metadata map, creating it when a caller built the context by hand.
func (hc *HookContext) Meta() Metadata {
	if hc.Metadata == nil {
		hc.Metadata = make(Metadata)
	}
	return hc.Metadata
}
