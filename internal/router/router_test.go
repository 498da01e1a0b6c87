package router_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horizon-engine/horizon/internal/eventbus"
	"github.com/horizon-engine/horizon/internal/eventkey"
	"github.com/horizon-engine/horizon/internal/gorc"
	"github.com/horizon-engine/horizon/internal/propagator"
	"github.com/horizon-engine/horizon/internal/router"
)

type fakeLookup struct {
	objects map[gorc.ObjectID]*gorc.ObjectInstance
}

func (f fakeLookup) Object(id gorc.ObjectID) (*gorc.ObjectInstance, bool) {
	inst, ok := f.objects[id]
	return inst, ok
}

type fakeSender struct {
	sent [][]byte
}

func (f *fakeSender) Send(raw []byte) error {
	f.sent = append(f.sent, raw)
	return nil
}

func newTestRouter(t *testing.T, lookup router.ObjectLookup) (*router.Router, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(propagator.ExactMatch{})
	return router.New(bus, lookup), bus
}

func TestRouteClientEventDispatchesToHandler(t *testing.T) {
	r, bus := newTestRouter(t, fakeLookup{})
	var gotNamespace, gotEvent string
	bus.Register(eventkey.Client("chat", "say"), "json.RawMessage", func(_ context.Context, data eventbus.EventData) error {
		gotNamespace, gotEvent = "chat", "say"
		_ = data
		return nil
	})

	raw := []byte(`{"type":"client_event","namespace":"chat","event":"say","data":{"msg":"hi"}}`)
	err := r.Route(context.Background(), raw, nil)
	require.NoError(t, err)
	assert.Equal(t, "chat", gotNamespace)
	assert.Equal(t, "say", gotEvent)
	assert.EqualValues(t, 1, r.Stats().InboundAccepted)
}

func TestRouteGorcEventResolvesObjectTypeAndDispatches(t *testing.T) {
	id := gorc.NewObjectID()
	lookup := fakeLookup{objects: map[gorc.ObjectID]*gorc.ObjectInstance{
		id: {ID: id, TypeName: "crate"},
	}}
	r, bus := newTestRouter(t, lookup)

	var invoked bool
	bus.Register(eventkey.GorcClient("crate", 0, "open"), "json.RawMessage", func(_ context.Context, _ eventbus.EventData) error {
		invoked = true
		return nil
	})

	raw, err := json.Marshal(map[string]any{
		"type": "gorc_event", "object_id": id.String(), "channel": 0, "event": "open", "data": map[string]any{},
	})
	require.NoError(t, err)

	require.NoError(t, r.Route(context.Background(), raw, nil))
	assert.True(t, invoked)
}

func TestRouteRejectsGorcEventForUnknownObject(t *testing.T) {
	r, _ := newTestRouter(t, fakeLookup{objects: map[gorc.ObjectID]*gorc.ObjectInstance{}})
	raw, _ := json.Marshal(map[string]any{
		"type": "gorc_event", "object_id": gorc.NewObjectID().String(), "channel": 0, "event": "open", "data": map[string]any{},
	})
	err := r.Route(context.Background(), raw, nil)
	assert.ErrorIs(t, err, router.ErrUnknownObject)
}

// TestRouteScenarioS3AuthorityEnforcement exercises a gorc_instance-targeting
// envelope arriving over a client connection: it must be rejected outright,
// no handler is invoked, inbound_dropped increments, and the client
// receives a client_event namespace=error with reason=authority.
func TestRouteScenarioS3AuthorityEnforcement(t *testing.T) {
	r, bus := newTestRouter(t, fakeLookup{})
	var invoked bool
	bus.Register(eventkey.GorcInstance("crate", 0, "teleport"), "json.RawMessage", func(_ context.Context, _ eventbus.EventData) error {
		invoked = true
		return nil
	})

	sender := &fakeSender{}
	raw := []byte(`{"type":"gorc_instance","object_id":"x","channel":0,"event":"teleport","data":{}}`)
	err := r.Route(context.Background(), raw, sender)

	assert.ErrorIs(t, err, router.ErrAuthorityViolation)
	assert.False(t, invoked)
	assert.EqualValues(t, 1, r.Stats().InboundDropped)
	require.Len(t, sender.sent, 1)

	var got map[string]any
	require.NoError(t, json.Unmarshal(sender.sent[0], &got))
	assert.Equal(t, "client_event", got["type"])
	assert.Equal(t, "error", got["namespace"])
	data, ok := got["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "authority", data["reason"])
}

func TestRouteRejectsCoreAndPluginEnvelopes(t *testing.T) {
	r, _ := newTestRouter(t, fakeLookup{})
	for _, typ := range []string{"core", "plugin"} {
		raw := []byte(`{"type":"` + typ + `","event":"x"}`)
		err := r.Route(context.Background(), raw, nil)
		assert.ErrorIs(t, err, router.ErrAuthorityViolation)
	}
}

func TestRouteRejectsChannelOutOfRange(t *testing.T) {
	r, _ := newTestRouter(t, fakeLookup{})
	raw, _ := json.Marshal(map[string]any{
		"type": "gorc_event", "object_id": "x", "channel": 9, "event": "open", "data": map[string]any{},
	})
	err := r.Route(context.Background(), raw, nil)
	assert.ErrorIs(t, err, router.ErrAuthorityViolation)
}

func TestRouteRejectsOversizedEnvelope(t *testing.T) {
	small := router.New(eventbus.New(propagator.ExactMatch{}), fakeLookup{}, router.WithMaxEnvelopeSize(16))
	raw := []byte(`{"type":"client_event","namespace":"chat","event":"say","data":{"msg":"this is far too long"}}`)
	err := small.Route(context.Background(), raw, nil)
	assert.ErrorIs(t, err, router.ErrEnvelopeTooLarge)
}

func TestRouteRejectsUnknownType(t *testing.T) {
	r, _ := newTestRouter(t, fakeLookup{})
	err := r.Route(context.Background(), []byte(`{"type":"bogus"}`), nil)
	assert.ErrorIs(t, err, router.ErrUnknownEnvelopeType)
}

func TestRouteRejectsMalformedJSON(t *testing.T) {
	r, _ := newTestRouter(t, fakeLookup{})
	err := r.Route(context.Background(), []byte(`not json`), nil)
	assert.ErrorIs(t, err, router.ErrMalformedEnvelope)
}
