package redis

// Redis key naming conventions for engine data.
// All keys are prefixed with "cardream:" to avoid collisions.

const keyPrefix = "cardream:"

// ── Experiment keys ──

// experimentKey returns the key for an experiment entity: cardream:experiment:{id}
func experimentKey(id string) string { return keyPrefix + "experiment:" + id }

// experimentIDsKey is the Set tracking all experiment IDs for enumeration.
const experimentIDsKey = keyPrefix + "experiment_ids"

// ── Checkpoint keys ──

// checkpointKey returns the key for an experiment's latest snapshot:
// cardream:checkpoint:{experimentID}
func checkpointKey(expID string) string { return keyPrefix + "checkpoint:" + expID }

// checkpointIndexKey is the Sorted Set indexing snapshots by creation
// time, used for retention purges. Score = CreatedAt unix seconds,
// member = experiment ID.
const checkpointIndexKey = keyPrefix + "checkpoint_idx"

// ── Fault keys ──

// faultKey returns the key for a failure record entity: cardream:fault:{id}
func faultKey(id string) string { return keyPrefix + "fault:" + id }

// faultListKey returns the List of record IDs for an experiment, in
// append order.
func faultListKey(expID string) string { return keyPrefix + "faults:" + expID }

// faultTimesKey is the Sorted Set indexing all records by occurrence
// time, used for the rolling error rate. Score = OccurredAt unix
// seconds, member = fault ID.
const faultTimesKey = keyPrefix + "fault_times"

// attemptsKey returns the Hash of recovery-attempt counters for an
// experiment, keyed by fault kind.
func attemptsKey(expID string) string { return keyPrefix + "attempts:" + expID }

// ── Event keys ──

// eventsKey returns the List of serialized events for an experiment, in
// publish order.
func eventsKey(expID string) string { return keyPrefix + "events:" + expID }

// ── Schedule keys ──

// scheduleKey returns the key for a schedule entry entity: cardream:schedule:{id}
func scheduleKey(id string) string { return keyPrefix + "schedule:" + id }

// scheduleIDsKey is the Set tracking all schedule entry IDs for enumeration.
const scheduleIDsKey = keyPrefix + "schedule_ids"

// scheduleNamesKey maps schedule names to IDs for duplicate detection.
const scheduleNamesKey = keyPrefix + "schedule_names"
