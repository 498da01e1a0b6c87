package propagator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horizon-engine/horizon/internal/eventbus"
	"github.com/horizon-engine/horizon/internal/eventkey"
	"github.com/horizon-engine/horizon/internal/propagator"
)

func noopHandler(key eventkey.Key) eventbus.Handler {
	return eventbus.Handler{ID: eventbus.NewHandlerID(), Key: key}
}

func TestExactMatch(t *testing.T) {
	p := propagator.ExactMatch{}
	key := eventkey.Client("lobby", "chat")
	other := eventkey.Client("lobby", "move")

	assert.True(t, p.ShouldPropagate(eventbus.Context{Key: key}, noopHandler(key)))
	assert.False(t, p.ShouldPropagate(eventbus.Context{Key: key}, noopHandler(other)))
}

func TestBroadcastAlwaysTrue(t *testing.T) {
	p := propagator.Broadcast{}
	assert.True(t, p.ShouldPropagate(eventbus.Context{Key: eventkey.Core("tick")}, noopHandler(eventkey.Client("x", "y"))))
}

func TestNamespaceFilterBlockWinsOverAllow(t *testing.T) {
	f := propagator.NewNamespaceFilter([]string{"Client"}, []string{"Client"})
	ctx := eventbus.Context{Key: eventkey.Client("lobby", "chat")}
	assert.False(t, f.ShouldPropagate(ctx, eventbus.Handler{}))
}

func TestNamespaceFilterAllowRestricts(t *testing.T) {
	f := propagator.NewNamespaceFilter([]string{"Core"}, nil)
	assert.True(t, f.ShouldPropagate(eventbus.Context{Key: eventkey.Core("tick")}, eventbus.Handler{}))
	assert.False(t, f.ShouldPropagate(eventbus.Context{Key: eventkey.Client("lobby", "chat")}, eventbus.Handler{}))
}

func TestNamespaceFilterEmptyAllowsEverythingNotBlocked(t *testing.T) {
	f := propagator.NewNamespaceFilter(nil, []string{"Plugin"})
	assert.True(t, f.ShouldPropagate(eventbus.Context{Key: eventkey.Core("tick")}, eventbus.Handler{}))
	assert.False(t, f.ShouldPropagate(eventbus.Context{Key: eventkey.Plugin("chat", "msg")}, eventbus.Handler{}))
}

func TestSpatialDistanceGate(t *testing.T) {
	s := propagator.Spatial{
		RadiusM: 10,
		Positions: func(ctx eventbus.Context) (propagator.Vec3, propagator.Vec3, bool) {
			return propagator.Vec3{X: 0, Y: 0, Z: 0}, propagator.Vec3{X: 5, Y: 0, Z: 0}, true
		},
	}
	ctx := eventbus.Context{Key: eventkey.GorcInstance("Tank", 0, "position")}
	assert.True(t, s.ShouldPropagate(ctx, eventbus.Handler{}))

	out := s.TransformEvent(ctx, eventbus.Handler{}, eventbus.EventData{})
	require.Contains(t, out.Metadata, "distance")
	assert.Equal(t, "5.000", out.Metadata["distance"])

	far := propagator.Spatial{
		RadiusM: 1,
		Positions: func(ctx eventbus.Context) (propagator.Vec3, propagator.Vec3, bool) {
			return propagator.Vec3{}, propagator.Vec3{X: 100}, true
		},
	}
	assert.False(t, far.ShouldPropagate(ctx, eventbus.Handler{}))
}

func TestChannelRateLimitsRepeatedSends(t *testing.T) {
	rate := propagator.NewChannelRate(1000) // 1ms min interval
	h := eventbus.Handler{Key: eventkey.GorcInstance("Tank", 0, "position")}
	ctx := eventbus.Context{Key: h.Key}

	assert.True(t, rate.ShouldPropagate(ctx, h))
	assert.False(t, rate.ShouldPropagate(ctx, h), "second call inside the interval should be rate-limited")

	time.Sleep(2 * time.Millisecond)
	assert.True(t, rate.ShouldPropagate(ctx, h), "call after the interval elapses should propagate")
}

func TestChannelRatePassesNonGorcKeysThrough(t *testing.T) {
	rate := propagator.NewChannelRate(1)
	h := eventbus.Handler{Key: eventkey.Core("tick")}
	ctx := eventbus.Context{Key: h.Key}
	assert.True(t, rate.ShouldPropagate(ctx, h))
	assert.True(t, rate.ShouldPropagate(ctx, h))
}

func TestCompositeAndShortCircuits(t *testing.T) {
	calls := 0
	tripwire := trackingPropagator{result: false, calls: &calls}
	never := trackingPropagator{result: true, calls: &calls}

	c := propagator.Composite{Op: propagator.OpAnd, Children: []eventbus.Propagator{tripwire, never}}
	ctx := eventbus.Context{Key: eventkey.Core("tick")}
	assert.False(t, c.ShouldPropagate(ctx, eventbus.Handler{}))
	assert.Equal(t, 1, calls, "AND should not evaluate the second child once the first fails")
}

func TestCompositeOrShortCircuits(t *testing.T) {
	calls := 0
	hit := trackingPropagator{result: true, calls: &calls}
	unreached := trackingPropagator{result: false, calls: &calls}

	c := propagator.Composite{Op: propagator.OpOr, Children: []eventbus.Propagator{hit, unreached}}
	ctx := eventbus.Context{Key: eventkey.Core("tick")}
	assert.True(t, c.ShouldPropagate(ctx, eventbus.Handler{}))
	assert.Equal(t, 1, calls)
}

type trackingPropagator struct {
	result bool
	calls  *int
}

func (t trackingPropagator) ShouldPropagate(eventbus.Context, eventbus.Handler) bool {
	*t.calls++
	return t.result
}

func (t trackingPropagator) TransformEvent(_ eventbus.Context, _ eventbus.Handler, data eventbus.EventData) eventbus.EventData {
	return data
}
