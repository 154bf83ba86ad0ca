// Package workflow drives experiments through their six-phase lifecycle:
// Initialization, BackendSetup, ModelSetup, Execution, ResultProcessing,
// Cleanup. The Orchestrator owns every state transition; each phase is
// persisted before its body runs, so a crash always leaves the stored
// phase unambiguous.
//
// Phase failures are classified and handed to the recovery dispatcher.
// A successful recovery retries the same phase; an exhausted budget
// fails the experiment terminally. Cancellation is cooperative: a flag
// checked between phases and on every Execution step, paired with
// context cancellation so no in-flight backend call can stall it.
package workflow
