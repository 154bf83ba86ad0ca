// Package health runs the engine's background watchdog. On a fixed tick
// the Monitor probes backend liveness, samples host memory and CPU,
// checks the rolling error rate, and purges expired checkpoints.
// Liveness and memory findings are routed through the recovery
// dispatcher under a synthetic system experiment ID, so proactive
// recovery draws on the same budgets and records as reactive recovery.
package health
