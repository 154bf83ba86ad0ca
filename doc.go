// Package cardream provides a fault-tolerant workflow engine for
// closed-loop driving experiments. It drives a simulation backend and a
// decision-model backend through a six-phase experiment lifecycle with
// durable phase persistence, checkpoint/restore, per-error-kind recovery
// budgets, circuit breaking, and proactive health monitoring.
//
// Car-Dream is designed as a library, not a service. Import it, configure
// a store and backend clients, and submit experiment configurations.
//
// # Quick Start
//
//	eng, err := cardream.New(
//	    cardream.WithStore(pgStore),
//	    cardream.WithMaxConcurrent(5),
//	)
//
// # Architecture
//
// Car-Dream follows a composable store pattern where each subsystem
// (experiment, checkpoint, fault, event, schedule) defines its own store
// interface. A single backend implements all of them.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package cardream
