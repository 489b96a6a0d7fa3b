package errorhandler

import (
	"context"
)

// ErrorPhase indicates where in the pipeline an error occurred
type ErrorPhase int

const (
	PhaseUnknown    ErrorPhase = iota // zero value - uninitialized phase
	PhaseConsume                      // error while polling the input topics
	PhaseSerde                        // error during key/value serialization or deserialization
	PhaseProcessing                   // error returned by the transform
	PhaseProduction                   // error while emitting a result
)

func (p ErrorPhase) String() string {
	switch p {
	case PhaseConsume:
		return "consume"
	case PhaseSerde:
		return "serde"
	case PhaseProcessing:
		return "processing"
	case PhaseProduction:
		return "production"
	default:
		return "unknown"
	}
}

var _ Handler = (*PhaseRouter)(nil)

type PhaseRouter struct {
	handler           Handler
	consumeHandler    Handler
	serdeHandler      Handler
	processingHandler Handler
	productionHandler Handler
}

type RouterOption func(*PhaseRouter)

func WithConsumeHandler(h Handler) RouterOption {
	return func(r *PhaseRouter) {
		r.consumeHandler = h
	}
}

func WithSerdeHandler(h Handler) RouterOption {
	return func(r *PhaseRouter) {
		r.serdeHandler = h
	}
}

func WithProcessingHandler(h Handler) RouterOption {
	return func(r *PhaseRouter) {
		r.processingHandler = h
	}
}

func WithProductionHandler(h Handler) RouterOption {
	return func(r *PhaseRouter) {
		r.productionHandler = h
	}
}

// NewPhaseRouter creates a PhaseRouter that sends each phase to its own handler.
// Phases without a handler fall back to the default handler.
// If the default handler is nil, SilentFail is used.
func NewPhaseRouter(handler Handler, opts ...RouterOption) *PhaseRouter {
	if handler == nil {
		handler = SilentFail()
	}

	r := &PhaseRouter{handler: handler}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *PhaseRouter) Handle(ctx context.Context, ec ErrorContext) Action {
	var h Handler
	switch ec.Phase {
	case PhaseConsume:
		h = r.consumeHandler
	case PhaseSerde:
		h = r.serdeHandler
	case PhaseProcessing:
		h = r.processingHandler
	case PhaseProduction:
		h = r.productionHandler
	case PhaseUnknown:
	default:
	}

	if h != nil {
		return h.Handle(ctx, ec)
	}

	return r.handler.Handle(ctx, ec)
}
