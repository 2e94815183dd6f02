// Package queue implements the job lifecycle: enqueue, lease, ack,
// nack, pause/resume, purge, and operator cancel/retry.
//
// The Service is the single authority over state transitions. Workers
// never mutate jobs through the store directly; they lease through the
// service and report outcomes with Ack and Nack so that retry policy,
// dead-letter routing, and lifecycle hooks always apply.
//
// Leasing selects waiting and delayed jobs whose availability time has
// passed, lowest priority value first, oldest first within a priority.
// Leased jobs carry an expiry; the Reaper reclaims jobs whose lease
// lapsed and charges the lost attempt as a timeout.
//
// The Manager bounds per-queue concurrency and throughput. Workers
// call Acquire before executing a job and Release when done; queues
// without an explicit configuration are unlimited.
package queue
