// Package experiment defines the experiment entity, its configuration,
// the phase enum, and the persistence port used by the orchestrator.
//
// An experiment is one closed-loop driving run: a scenario executed
// against the simulation backend while the decision model drives. The
// orchestrator owns the in-flight state; this package owns what is
// persisted and how callers describe the run they want.
package experiment
