package job

import "context"

// Definition is a typed handler definition for a queue.
// T is the payload type (must be JSON-serializable). The handler's
// result, if non-nil, is JSON-serialized and stored on the completed
// job as its return value.
type Definition[T any] struct {
	// Queue is the queue this handler consumes. One handler per queue.
	Queue string

	// Handler is the function that processes the job payload.
	Handler func(ctx context.Context, payload T) (any, error)
}

// NewDefinition creates a typed handler definition for a queue.
func NewDefinition[T any](queue string, handler func(ctx context.Context, payload T) (any, error)) *Definition[T] {
	return &Definition[T]{
		Queue:   queue,
		Handler: handler,
	}
}
