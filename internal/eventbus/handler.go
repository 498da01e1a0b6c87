package eventbus

import (
	"context"

	"github.com/google/uuid"

	"github.com/horizon-engine/horizon/internal/eventkey"
)

// HandlerID identifies a registered handler. Registration is idempotent by
// HandlerID: registering the same ID twice replaces the prior registration
// rather than appending a second one.
type HandlerID uuid.UUID

func (h HandlerID) String() string { return uuid.UUID(h).String() }

// NewHandlerID generates a fresh handler identifier.
func NewHandlerID() HandlerID { return HandlerID(uuid.New()) }

// EventData is the immutable, once-serialized payload shared by reference
// across every handler in a dispatch.
type EventData struct {
	Payload   []byte
	TypeName  string
	Metadata  map[string]string
}

// Context is the PropagationContext: metadata propagators and the bus's
// authority check read. It is immutable during a single dispatch — callers
// must not mutate Metadata after passing it to Emit.
type Context struct {
	Key      eventkey.Key
	Metadata map[string]string
}

// sourceOf returns ctx.Metadata["source"], or "" if ctx or the key is absent.
func (c Context) sourceOf() string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata["source"]
}

// HandlerFunc is the typed async callable a handler wraps. It receives the
// dispatch context (for cancellation/timeouts) and the (possibly
// per-handler-transformed) event data.
type HandlerFunc func(ctx context.Context, data EventData) error

// Handler is a typed async callable registered against a key.
type Handler struct {
	ID              HandlerID
	Key             eventkey.Key
	DeclaredType    string
	Fn              HandlerFunc
}

// Propagator is the pluggable decision object consulted per
// (event-key, handler, context) tuple. Implementations must be pure and
// must not perform I/O.
type Propagator interface {
	// ShouldPropagate decides whether handler h should receive the event
	// described by ctx.
	ShouldPropagate(ctx Context, h Handler) bool
	// TransformEvent optionally returns a per-handler transformed payload.
	// Implementations that do not transform should return data unchanged.
	TransformEvent(ctx Context, h Handler, data EventData) EventData
}
