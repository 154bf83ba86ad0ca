// Package schedule launches experiments on cron schedules. Entries pair
// a cron expression with an experiment config; the Scheduler fires due
// entries on a tick loop and hands them to the orchestrator through a
// launch callback.
package schedule
