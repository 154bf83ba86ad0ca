// Package fault defines the closed error taxonomy for experiment
// failures, the append-only error record, the classifier that maps raw
// errors onto the taxonomy, and the persistence port for records and
// per-(experiment, kind) recovery-attempt counters.
package fault
