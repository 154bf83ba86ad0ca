package middleware

import (
	"context"
	"time"

	"github.com/basedlsg/Car-Dream/id"
)

// Call describes one backend invocation flowing through the chain.
type Call struct {
	// Service names the dependency: "simulation" or "decision".
	Service string

	// Op is the operation name, e.g. "get_state" or "apply_action".
	Op string

	// ExperimentID is the experiment on whose behalf the call is made.
	// Nil for system calls (liveness probes).
	ExperimentID id.ExperimentID

	// Timeout bounds the call. Zero means the caller's context governs.
	Timeout time.Duration
}

// Handler is the terminal function that performs the backend call.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the call being made, and the next
// handler. Middleware MUST call next to continue the chain (unless
// short-circuiting on error).
type Middleware func(ctx context.Context, c *Call, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, c *Call, next Handler) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, c, prev)
			}
		}
		return h(ctx)
	}
}
