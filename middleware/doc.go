// Package middleware provides composable middleware for backend calls.
//
// A [Middleware] is a function that wraps a backend call. Middleware are
// composed into a chain using [Chain] and applied around every call the
// orchestrator or health monitor makes. They are applied right-to-left:
// the first middleware in the slice is the outermost wrapper.
//
//	// logging → recover → breaker → timeout → handler
//	chain := middleware.Chain(
//	    middleware.Logging(logger),
//	    middleware.Recover(logger),
//	    middleware.CircuitBreaker(breakers),
//	    middleware.Timeout(30*time.Second),
//	)
//
// # Built-in Middleware
//
//   - [Logging] — logs service, op, duration, and outcome per call
//   - [Recover] — catches panics and converts them to errors
//   - [Timeout] — enforces a per-call deadline
//   - [CircuitBreaker] — gates calls through per-service breakers
//   - [Tracing] — wraps each call in an OpenTelemetry span
//   - [Metrics] — records per-call duration and outcome counters
package middleware
