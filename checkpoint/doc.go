// Package checkpoint defines simulation checkpoints and their
// persistence port. A checkpoint captures the last known-good simulated
// state of one experiment so a recovery can re-create the vehicle at
// that snapshot instead of restarting the scenario from zero.
//
// Each experiment keeps exactly one latest checkpoint; saving replaces
// the previous snapshot. Old checkpoints are evicted by the health
// monitor after the retention window.
package checkpoint
