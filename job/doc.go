// Package job defines the job entity, state machine, typed handler
// definitions, and store interface.
//
// # Job Entity
//
// A [Job] represents a unit of work. It carries a JSON payload and
// progresses through a state machine:
//
//	waiting → active → completed
//	waiting → active → delayed → waiting → ...
//	waiting → active → dead_lettered
//	waiting → failed (operator cancel) → waiting (operator retry)
//
// Fields of note:
//   - Queue: which queue the job belongs to
//   - Priority: lower values lease first, FIFO within a tier
//   - MaxAttempts / AttemptsMade: the retry budget
//   - AvailableAt: earliest time the job may be leased
//   - Timeout: per-attempt execution deadline (zero = coordinator default)
//   - IdempotencyKey: deduplicates producer enqueues per queue
//
// # Defining a Handler
//
// Use [Definition] with a typed handler, one per queue. The payload is
// JSON-deserialized before the handler runs; a non-nil result is
// serialized back onto the completed job:
//
//	var SendEmail = job.NewDefinition("emails",
//	    func(ctx context.Context, input EmailInput) (any, error) {
//	        return nil, mailer.Send(input.To, input.Subject, input.Body)
//	    },
//	)
//
// # Registry
//
// [Registry] maps queue names to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition]:
//
//	job.RegisterDefinition(registry, SendEmail)
//	job.RegisterDefinition(registry, TranscodeVideo)
//
// The engine package provides higher-level engine.Register and
// engine.Enqueue wrappers.
package job
