// Package router implements the Message Router: it converts inbound network
// envelopes into event-bus emissions and enforces the client/server
// authority rule before anything reaches a handler.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/horizon-engine/horizon/internal/eventbus"
	"github.com/horizon-engine/horizon/internal/eventkey"
	"github.com/horizon-engine/horizon/internal/gorc"
	"github.com/horizon-engine/horizon/internal/logger"
)

const defaultMaxEnvelopeBytes = 64 * 1024

// ObjectLookup resolves an object_id to its live instance, so the router
// can recover the object type a gorc_event's channel/event belong to.
// *gorc.Store satisfies this directly.
type ObjectLookup interface {
	Object(id gorc.ObjectID) (*gorc.ObjectInstance, bool)
}

// Sender delivers a router-originated frame back to the connection that
// triggered it (used only for the synthetic error(reason) notification).
type Sender interface {
	Send(raw []byte) error
}

// Stats is a point-in-time snapshot of router-level outcome counters.
type Stats struct {
	InboundDropped  uint64
	InboundAccepted uint64
}

// Router parses inbound envelopes, enforces authority, and emits onto the
// event bus on behalf of network connections.
type Router struct {
	bus             *eventbus.Bus
	objects         ObjectLookup
	sanitizer       *bluemonday.Policy
	maxEnvelopeSize int

	inboundDropped  atomic.Uint64
	inboundAccepted atomic.Uint64
}

// Option configures a Router at construction time.
type Option func(*Router)

// WithMaxEnvelopeSize overrides the default 64KiB envelope size ceiling.
func WithMaxEnvelopeSize(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxEnvelopeSize = n
		}
	}
}

// New builds a Router. objects resolves object_id -> object type for
// gorc_event envelopes.
func New(bus *eventbus.Bus, objects ObjectLookup, opts ...Option) *Router {
	r := &Router{
		bus:             bus,
		objects:         objects,
		sanitizer:       bluemonday.StrictPolicy(),
		maxEnvelopeSize: defaultMaxEnvelopeBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stats returns a snapshot of the router's counters. Safe to call
// concurrently with Route.
func (r *Router) Stats() Stats {
	return Stats{
		InboundDropped:  r.inboundDropped.Load(),
		InboundAccepted: r.inboundAccepted.Load(),
	}
}

// Route parses raw and emits the corresponding event onto the bus, returning
// an error for every rejected envelope. Only authority rejections (a
// core/plugin/gorc_instance type, or a gorc_event channel outside 0-3) also
// write a client_event error notification back to sender when it is
// non-nil; oversized, malformed, unknown-type and unknown-object envelopes
// are counted and returned as errors without a notification.
func (r *Router) Route(ctx context.Context, raw []byte, sender Sender) error {
	if len(raw) > r.maxEnvelopeSize {
		r.inboundDropped.Add(1)
		logger.Router().Warn().Int("size", len(raw)).Msg("inbound envelope dropped: too large")
		return ErrEnvelopeTooLarge
	}

	var env InboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.inboundDropped.Add(1)
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch env.Type {
	case inboundClientEvent:
		return r.routeClientEvent(ctx, env)
	case inboundGorcEvent:
		return r.routeGorcEvent(ctx, env, sender)
	case "core", "plugin", "gorc_instance":
		r.reject(env, sender, "authority")
		return ErrAuthorityViolation
	default:
		r.inboundDropped.Add(1)
		return fmt.Errorf("%w: %q", ErrUnknownEnvelopeType, env.Type)
	}
}

func (r *Router) routeClientEvent(ctx context.Context, env InboundEnvelope) error {
	if env.Namespace == "" || env.Event == "" {
		r.inboundDropped.Add(1)
		return fmt.Errorf("%w: client_event requires namespace and event", ErrMalformedEnvelope)
	}
	key := eventkey.Client(env.Namespace, env.Event)
	pctx := eventbus.Context{Key: key, Metadata: map[string]string{"source": "network"}}
	if err := r.bus.EmitWithContext(ctx, key, env.Data, pctx); err != nil {
		r.inboundDropped.Add(1)
		return err
	}
	r.inboundAccepted.Add(1)
	return nil
}

func (r *Router) routeGorcEvent(ctx context.Context, env InboundEnvelope, sender Sender) error {
	if env.Channel < 0 || env.Channel > 3 {
		r.reject(env, sender, "authority")
		return fmt.Errorf("%w: channel %d out of range", ErrAuthorityViolation, env.Channel)
	}
	if env.ObjectID == "" || env.Event == "" {
		r.inboundDropped.Add(1)
		return fmt.Errorf("%w: gorc_event requires object_id and event", ErrMalformedEnvelope)
	}

	u, err := uuid.Parse(env.ObjectID)
	if err != nil {
		r.inboundDropped.Add(1)
		return fmt.Errorf("%w: object_id %q is not a valid id", ErrMalformedEnvelope, env.ObjectID)
	}
	inst, ok := r.objects.Object(gorc.ObjectID(u))
	if !ok {
		r.inboundDropped.Add(1)
		return fmt.Errorf("%w: %s", ErrUnknownObject, env.ObjectID)
	}

	key := eventkey.GorcClient(inst.TypeName, env.Channel, env.Event)
	pctx := eventbus.Context{Key: key, Metadata: map[string]string{"source": "network"}}
	if err := r.bus.EmitWithContext(ctx, key, env.Data, pctx); err != nil {
		r.inboundDropped.Add(1)
		return err
	}
	r.inboundAccepted.Add(1)
	return nil
}

// reject counts an authority violation, logs it with the client-supplied
// envelope type sanitized first, and writes the synthetic client_event/error
// notification, which carries only the server-chosen reason so no
// client-supplied string is reflected back.
func (r *Router) reject(env InboundEnvelope, sender Sender, reason string) {
	r.inboundDropped.Add(1)
	logger.Router().Warn().
		Str("type", r.sanitizer.Sanitize(env.Type)).
		Str("reason", reason).
		Msg("inbound envelope rejected")

	if sender == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"reason": reason})
	frame, err := NewClientEventFrame("error", "rejected", payload)
	if err != nil {
		return
	}
	_ = sender.Send(frame)
}
