package backend

import (
	"context"
	"sync"
)

// Call records the last upstream request an adapter made while serving a tool
// call. Dispatch copies it into the audit row.
type Call struct {
	Method   string
	Endpoint string
	Status   int
}

// Trace collects upstream calls for one tool invocation.
type Trace struct {
	mu    sync.Mutex
	calls []Call
}

type traceKey struct{}

// WithTrace attaches a fresh Trace to ctx.
func WithTrace(ctx context.Context) (context.Context, *Trace) {
	t := &Trace{}
	return context.WithValue(ctx, traceKey{}, t), t
}

// Record notes an upstream call on the Trace carried by ctx, if any.
func Record(ctx context.Context, method, endpoint string, status int) {
	t, ok := ctx.Value(traceKey{}).(*Trace)
	if !ok || t == nil {
		return
	}
	t.mu.Lock()
	t.calls = append(t.calls, Call{Method: method, Endpoint: endpoint, Status: status})
	t.mu.Unlock()
}

// Last returns the most recent call, or false when none were recorded.
func (t *Trace) Last() (Call, bool) {
	if t == nil {
		return Call{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.calls) == 0 {
		return Call{}, false
	}
	return t.calls[len(t.calls)-1], true
}

// Calls returns a copy of every recorded call.
func (t *Trace) Calls() []Call {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Call, len(t.calls))
	copy(out, t.calls)
	return out
}
