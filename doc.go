// Package conveyor provides a durable background job queue for Go with
// retries, dead letter handling, and a live event stream. It powers the
// asynchronous side of a content publishing platform: media transcoding,
// search indexing, webhook fan-out, and the other work that must not run
// inside a request.
//
// Conveyor is designed as a library, not a service. Import it, configure
// a store, and register handlers as ordinary Go functions. A thin daemon
// and an operator CLI live under cmd/ for deployments that prefer a
// standalone process.
//
// # Quick Start
//
//	c, err := conveyor.New(
//	    conveyor.WithStore(pgStore),
//	    conveyor.WithConcurrency(20),
//	)
//
// # Architecture
//
// Conveyor follows a composable store pattern where each subsystem (job,
// dlq, queue metadata) defines its own store interface. A single backend
// implements all of them; memory, postgres, sqlite, redis, and mongo
// backends ship in store/.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package conveyor
