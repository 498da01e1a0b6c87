package gorc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horizon-engine/horizon/internal/gorc"
)

func layer100() []gorc.ReplicationLayer {
	return []gorc.ReplicationLayer{{Channel: 0, RadiusMeters: 100, TargetFrequencyHz: 20, Properties: []string{"x"}}}
}

// S2 — hysteresis, object-move path. Object at origin with a
// channel-0/radius-100 layer, epsilon=0.05 (outer = 105). The object itself
// never moves here; only the observer's reported position changes per tick,
// driven through UpdatePosition (the object-centric API). See
// TestHysteresisScenarioS2ObserverMoves below for the same scenario driven
// through the observer-centric UpdatePlayerPosition API.
func TestHysteresisScenarioS2(t *testing.T) {
	zi := gorc.NewZoneIndex(0.05)
	id := gorc.NewObjectID()
	zi.Register(id, gorc.Vec3{}, layer100())

	pid := gorc.NewPlayerID()
	// inner=100, outer=105: enter at 90, stay subscribed through the band at
	// 102, exit once 106 clears the outer radius, stay unsubscribed through
	// the band at 103 (inner radius not re-crossed), re-enter at 90.
	positions := []gorc.Vec3{
		{X: 90}, {X: 102}, {X: 106}, {X: 103}, {X: 90},
	}
	var entriesPerTick, exitsPerTick []int
	for _, pos := range positions {
		entries, exits := zi.UpdatePosition(id, gorc.Vec3{}, map[gorc.PlayerID]gorc.Vec3{pid: pos})
		entriesPerTick = append(entriesPerTick, len(entries))
		exitsPerTick = append(exitsPerTick, len(exits))
	}

	require.Len(t, entriesPerTick, 5)
	assert.Equal(t, []int{1, 0, 0, 0, 1}, entriesPerTick, "zone_entered at tick 1 and tick 5")
	assert.Equal(t, []int{0, 0, 1, 0, 0}, exitsPerTick, "zone_exited only at tick 3, once the outer 105 radius is crossed")
}

// S2 — hysteresis, observer-move path. Same scenario as
// TestHysteresisScenarioS2 but the object stays registered once and the
// player is the one that moves, through UpdatePlayerPosition: the common
// case of a stationary object and a walking observer.
func TestHysteresisScenarioS2ObserverMoves(t *testing.T) {
	zi := gorc.NewZoneIndex(0.05)
	id := gorc.NewObjectID()
	zi.Register(id, gorc.Vec3{}, layer100())
	pid := gorc.NewPlayerID()

	positions := []gorc.Vec3{
		{X: 90}, {X: 102}, {X: 106}, {X: 103}, {X: 90},
	}
	var entriesPerTick, exitsPerTick []int
	for _, pos := range positions {
		entries, exits := zi.UpdatePlayerPosition(pid, pos)
		entriesPerTick = append(entriesPerTick, len(entries))
		exitsPerTick = append(exitsPerTick, len(exits))
	}

	require.Len(t, entriesPerTick, 5)
	assert.Equal(t, []int{1, 0, 0, 0, 1}, entriesPerTick, "zone_entered at tick 1 and tick 5")
	assert.Equal(t, []int{0, 0, 1, 0, 0}, exitsPerTick, "zone_exited only at tick 3, once the outer 105 radius is crossed")
}

// Invariant #7: oscillation fully within [r, r*(1+eps)] produces at most one
// entered/exited per full traversal of the band, never a flood of events.
func TestHysteresisDampsFlickerAtBoundary(t *testing.T) {
	zi := gorc.NewZoneIndex(0.05)
	id := gorc.NewObjectID()
	zi.Register(id, gorc.Vec3{}, layer100())
	pid := gorc.NewPlayerID()

	// Enter once.
	entries, _ := zi.UpdatePosition(id, gorc.Vec3{}, map[gorc.PlayerID]gorc.Vec3{pid: {X: 50}})
	require.Len(t, entries, 1)

	// Oscillate inside the hysteresis band [100, 105) repeatedly: must never
	// exit or re-enter.
	oscillations := []float64{101, 103, 101, 104, 102}
	for _, x := range oscillations {
		entries, exits := zi.UpdatePosition(id, gorc.Vec3{}, map[gorc.PlayerID]gorc.Vec3{pid: {X: x}})
		assert.Empty(t, entries)
		assert.Empty(t, exits)
	}
}

// Invariant #2: entered-minus-exited equals current subscription state.
func TestSubscriptionStateMatchesEnteredMinusExited(t *testing.T) {
	zi := gorc.NewZoneIndex(0.05)
	id := gorc.NewObjectID()
	zi.Register(id, gorc.Vec3{}, layer100())
	pid := gorc.NewPlayerID()

	zi.UpdatePosition(id, gorc.Vec3{}, map[gorc.PlayerID]gorc.Vec3{pid: {X: 50}})
	assert.Len(t, zi.Subscribers(id, 0), 1)

	zi.UpdatePosition(id, gorc.Vec3{}, map[gorc.PlayerID]gorc.Vec3{pid: {X: 200}})
	assert.Len(t, zi.Subscribers(id, 0), 0)
}

func TestRemoveEmitsExitForEveryCurrentSubscriber(t *testing.T) {
	zi := gorc.NewZoneIndex(0.05)
	id := gorc.NewObjectID()
	zi.Register(id, gorc.Vec3{}, layer100())
	pid := gorc.NewPlayerID()
	zi.UpdatePosition(id, gorc.Vec3{}, map[gorc.PlayerID]gorc.Vec3{pid: {X: 10}})

	exits := zi.Remove(id)
	require.Len(t, exits, 1)
	assert.Equal(t, pid, exits[0].Player)
	assert.Equal(t, 0, exits[0].Channel)
}
