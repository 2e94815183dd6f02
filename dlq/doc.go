// Package dlq provides the dead letter queue for jobs that exhausted
// their retry budget or failed permanently. It supports search,
// inspection, replay, and purging.
//
// When the queue service decides a failed job is done retrying, it
// calls [Service.Push] to record it here. The original payload, failure
// reason, classification, and attempt counts are preserved.
//
// # Entry
//
// An [Entry] captures:
//   - JobID / Queue: original job identity
//   - Payload: the raw JSON payload at time of failure
//   - Reason / Kind: the final error and its classification
//   - AttemptsMade / MaxAttempts: the exhausted budget
//   - ReplayedAt / ReplayedAs: set when the entry is replayed
//
// # Replay
//
// Replaying creates a brand new job with a fresh ID and a zero attempt
// counter; the new job's ReplayOf field points at the original and the
// entry records ReplayedAs. Nothing is deleted, so the failure history
// stays inspectable. An entry replays at most once.
//
// [Service.ReplayBatch] replays a set of entries independently and
// reports per-entry outcomes.
//
// # Admin API
//
// The DLQ is exposed via the HTTP admin API:
//   - GET    /v1/dlq                  search entries
//   - GET    /v1/dlq/{entryID}        get a single entry
//   - POST   /v1/dlq/{entryID}/replay replay one entry
//   - POST   /v1/dlq/replay           replay a batch
//   - DELETE /v1/dlq/{entryID}        delete one entry
//   - POST   /v1/dlq/purge            purge by queue/age
//   - GET    /v1/dlq/count            entry count
package dlq
