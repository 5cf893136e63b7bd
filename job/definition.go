package job

import "context"

// Definition is a typed job definition with a handler function.
// T is the payload type (must be JSON-serializable). The handler's first
// return value, if non-nil, is persisted as the job's result.
type Definition[T any] struct {
	// Type is the job type this handler serves.
	Type Type

	// Handler processes the job payload.
	Handler func(ctx context.Context, payload T) (any, error)

	// Opts configures attempts and scheduling.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](t Type, handler func(ctx context.Context, payload T) (any, error), opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Type:    t,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
