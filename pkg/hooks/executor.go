package hooks

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"
)

// ErrNilContext is returned when a dispatch is started without a context.
var ErrNilContext = errors.New("hook context cannot be nil")

// Entry is one handler bound to a hook type, ordered by Priority, then Seq
// (owner registration order), then Index (declaration order inside the owner).
type Entry struct {
	Owner    string
	Priority int
	Seq      uint64
	Index    int
	Handler  Handler
}

// Chain is the list of entries bound to one hook type. Chains are never
// mutated in place; With and Without return new slices.
type Chain []Entry

// With returns a new chain holding c followed by entries.
func (c Chain) With(entries ...Entry) Chain {
	out := make(Chain, 0, len(c)+len(entries))
	out = append(out, c...)
	return append(out, entries...)
}

// Without returns a new chain with every entry of owner removed.
func (c Chain) Without(owner string) Chain {
	out := make(Chain, 0, len(c))
	for _, e := range c {
		if e.Owner != owner {
			out = append(out, e)
		}
	}
	return out
}

// Sorted returns a copy of c in dispatch order.
func (c Chain) Sorted() Chain {
	out := make(Chain, len(c))
	copy(out, c)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.Index < b.Index
	})
	return out
}

// Owners lists the owner of every entry in dispatch order.
func (c Chain) Owners() []string {
	sorted := c.Sorted()
	out := make([]string, len(sorted))
	for i, e := range sorted {
		out[i] = e.Owner
	}
	return out
}

// Observer receives dispatch events. Implementations must be safe for
// concurrent use since dispatches may overlap.
type Observer interface {
	DispatchStarted(hookType HookType, handlers int)
	HandlerFinished(hookType HookType, owner string, elapsed time.Duration, err error)
	DispatchHalted(hookType HookType, owner string)
}

type nopObserver struct{}

func (nopObserver) DispatchStarted(HookType, int)                        {}
func (nopObserver) HandlerFinished(HookType, string, time.Duration, error) {}
func (nopObserver) DispatchHalted(HookType, string)                      {}

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Owner string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler of %s panicked: %v", e.Owner, e.Value)
}

// IsCancellation reports whether err, returned by a handler running under ctx,
// must abort the dispatch. A deadline hit by the per-handler timeout alone is an
// ordinary failure.
func IsCancellation(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// Executor runs chains one handler at a time.
type Executor struct {
	// Timeout bounds each handler invocation. Zero disables it.
	Timeout time.Duration
}

// Run dispatches hc through chain. Handler failures and panics are reported to
// obs and skipped. A cancellation stops the dispatch and is returned together
// with the context as it was when the dispatch stopped.
func (x Executor) Run(ctx context.Context, hookType HookType, chain Chain, hc *HookContext, payload any, obs Observer) (*HookContext, error) {
	if hc == nil {
		return nil, ErrNilContext
	}
	if len(chain) == 0 {
		return hc, nil
	}
	if obs == nil {
		obs = nopObserver{}
	}

	ordered := chain.Sorted()
	obs.DispatchStarted(hookType, len(ordered))

	for _, entry := range ordered {
		if hc.Halted() {
			break
		}
		if err := ctx.Err(); err != nil {
			return hc, err
		}

		start := time.Now()
		next, err := x.invoke(ctx, entry, hc, payload)
		obs.HandlerFinished(hookType, entry.Owner, time.Since(start), err)

		if err != nil {
			if IsCancellation(ctx, err) {
				return hc, err
			}
		} else if next != nil && next != hc {
			if hc.Halted() {
				next.Halt()
			}
			hc = next
		}

		if hc.Halted() {
			obs.DispatchHalted(hookType, entry.Owner)
		}
	}

	return hc, nil
}

func (x Executor) invoke(ctx context.Context, entry Entry, hc *HookContext, payload any) (next *HookContext, err error) {
	if entry.Handler == nil {
		return nil, nil
	}
	if x.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Owner: entry.Owner, Value: r, Stack: debug.Stack()}
		}
	}()
	return entry.Handler(ctx, hc, payload)
}
