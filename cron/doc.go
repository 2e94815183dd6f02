// Package cron enqueues jobs on a recurring schedule.
//
// An [Entry] binds a cron expression to a target queue and a static
// payload. The [Scheduler] evaluates due entries on every tick and
// submits them through the engine, so scheduled work flows through the
// same lease, retry, and dead letter machinery as ad hoc jobs.
//
// Each firing carries an idempotency key derived from the entry name
// and the scheduled instant. If two scheduler instances run against a
// shared store, the store's key uniqueness collapses the duplicate
// firing into one job.
//
// Schedules use standard 5-field cron expressions plus descriptors:
//
//	"*/5 * * * *"   every five minutes
//	"0 9 * * 1-5"   09:00 on weekdays
//	"@every 30s"    fixed interval
//	"@hourly"       on the hour
package cron
