// Package jobs provides opsdeck's durable background job queue and
// recurring scheduler.
//
// Work enters through the Enqueuer as JobRun rows, is claimed atomically by
// worker identities through the Claimer, executed by the Runner with a
// timeout and bounded retries, and swept back into circulation by the
// Recovery pass when a worker dies mid-execution. Recurring definitions live
// as JobSchedule rows; the Scheduler computes their next-fire times and
// enqueues due occurrences with time-bucketed dedupe keys.
//
// All coordination between concurrent workers happens through conditional
// UPDATE statements in the Store - there is no in-process lock spanning
// workers and no external lock service. A conditional update that affects
// zero rows means another worker won the race; callers treat that as a
// no-op, not an error.
//
// Delivery is at-least-once. Handlers must tolerate re-execution or use
// dedupe/idempotency keys on their own side effects.
package jobs
