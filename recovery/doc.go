// Package recovery maps classified failures onto bounded recovery
// strategies. The Dispatcher is the single public entry point: workflows
// call it from their phase failure handlers, and the health monitor
// calls it proactively, both through Dispatch.
//
// Budgets are tracked per (experiment, kind) in the fault store and
// reset only when the experiment terminates. Backend restarts are
// additionally capped process-wide so respawn loops cannot run away.
package recovery
