package redis

// Redis key naming conventions for conveyor data.
// All keys are prefixed with "conveyor:" to avoid collisions.

const keyPrefix = "conveyor:"

// ── Job keys ──

// jobKey returns the key for a job entity: conveyor:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// readyKey returns the Sorted Set of leasable jobs for a queue,
// scored by priority with a time fraction for FIFO ties:
// conveyor:ready:{name}
func readyKey(name string) string { return keyPrefix + "ready:" + name }

// delayedKey returns the Sorted Set of not-yet-available jobs for a
// queue, scored by their availability time: conveyor:delayed:{name}
func delayedKey(name string) string { return keyPrefix + "delayed:" + name }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// leasesKey is the Sorted Set of active jobs scored by lease expiry.
const leasesKey = keyPrefix + "leases"

// idempotencyKey returns the Hash mapping idempotency keys to job IDs
// for a queue: conveyor:idem:{name}
func idempotencyKey(name string) string { return keyPrefix + "idem:" + name }

// ── Queue keys ──

// queueMetaKey returns the Hash holding queue metadata: conveyor:queuemeta:{name}
func queueMetaKey(name string) string { return keyPrefix + "queuemeta:" + name }

// queueNamesKey is the Set tracking all known queue names.
const queueNamesKey = keyPrefix + "queues"

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry entity: conveyor:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all DLQ entry IDs for enumeration.
const dlqIDsKey = keyPrefix + "dlq_ids"
