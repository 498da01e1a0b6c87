package gorc_test

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horizon-engine/horizon/internal/gorc"
)

type fakeReplicable struct {
	props map[string]any
}

func (f fakeReplicable) Properties() map[string]any { return f.props }

type capturingSink struct {
	mu     sync.Mutex
	frames map[gorc.PlayerID][][]byte
}

func newCapturingSink() *capturingSink {
	return &capturingSink{frames: make(map[gorc.PlayerID][][]byte)}
}

func (s *capturingSink) SendFrame(player gorc.PlayerID, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[player] = append(s.frames[player], frame)
	return nil
}

func (s *capturingSink) count(player gorc.PlayerID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames[player])
}

// S4 — bandwidth drop ordering: observer budget 1000 bytes/tick, one object
// with a ~600-byte property on each of channels (2, 0, 3). Each Register also
// queues a zone-entry frame, so the tick holds a zone-entry and an update
// frame per channel. Sorted by channel, only the channel-0 zone-entry frame
// fits the budget; everything after it is dropped.
func TestBandwidthDropOrderingScenarioS4(t *testing.T) {
	store := gorc.NewStore(nil, 0.05)
	pid := gorc.NewPlayerID()
	store.RegisterPlayer(gorc.NewPlayer(pid, gorc.Vec3{}, 1000))

	obj := fakeReplicable{props: map[string]any{"blob": strings.Repeat("a", 590)}}

	mk := func(channel int) gorc.ObjectID {
		id, err := store.Register(obj, "Blob", gorc.Vec3{}, []gorc.ReplicationLayer{
			{Channel: channel, RadiusMeters: 500, TargetFrequencyHz: 1000, Properties: []string{"blob"}, Compression: gorc.CompressionNone},
		})
		require.NoError(t, err)
		require.NoError(t, store.UpdatePosition(id, gorc.Vec3{X: 10}))
		require.NoError(t, store.MarkDirty(id, channel))
		return id
	}

	mk(2)
	mk(0)
	mk(3)

	sink := newCapturingSink()
	sched := gorc.NewScheduler(store, sink, gorc.DefaultSchedulerConfig())
	sched.Tick()

	// Exactly one observer frame batch should have been sent, carrying the
	// channel-0 zone-entry item; the channel-0 update and all channel-2 and
	// channel-3 frames fall past the bandwidth ceiling.
	assert.Equal(t, 1, sink.count(pid))
}

// Invariant #3: elapsed time between two transmitted frames for the same
// (object, channel) is >= 1/target_frequency within jitter tolerance.
func TestTargetFrequencyThrottlesRetransmission(t *testing.T) {
	store := gorc.NewStore(nil, 0.05)
	pid := gorc.NewPlayerID()
	store.RegisterPlayer(gorc.NewPlayer(pid, gorc.Vec3{}, 1<<20))

	obj := fakeReplicable{props: map[string]any{"hp": 100}}
	id, err := store.Register(obj, "Tank", gorc.Vec3{}, []gorc.ReplicationLayer{
		{Channel: 0, RadiusMeters: 500, TargetFrequencyHz: 10, Properties: []string{"hp"}}, // 100ms interval
	})
	require.NoError(t, err)
	require.NoError(t, store.UpdatePosition(id, gorc.Vec3{X: 1}))

	sink := newCapturingSink()
	sched := gorc.NewScheduler(store, sink, gorc.DefaultSchedulerConfig())

	require.NoError(t, store.MarkDirty(id, 0))
	sched.Tick()
	require.NoError(t, store.MarkDirty(id, 0))
	sched.Tick() // immediately after: rate limit should suppress this send

	assert.Equal(t, 1, sink.count(pid), "second tick arrives before the 100ms interval elapses and must be suppressed")

	time.Sleep(110 * time.Millisecond)
	require.NoError(t, store.MarkDirty(id, 0))
	sched.Tick()
	assert.Equal(t, 2, sink.count(pid), "a tick after the interval elapses must transmit")
}

// A freshly subscribed observer must receive a gorc_zone_entry frame
// carrying the full (uncompressed) state of the entered channel, even when
// the layer is configured for lz4 compression.
func TestTickEmitsZoneEntryFrameOnSubscription(t *testing.T) {
	store := gorc.NewStore(nil, 0.05)
	pid := gorc.NewPlayerID()
	store.RegisterPlayer(gorc.NewPlayer(pid, gorc.Vec3{}, 1<<20))

	obj := fakeReplicable{props: map[string]any{"hp": 100}}
	_, err := store.Register(obj, "Tank", gorc.Vec3{}, []gorc.ReplicationLayer{
		{Channel: 0, RadiusMeters: 50, TargetFrequencyHz: 10, Properties: []string{"hp"}, Compression: gorc.CompressionLz4},
	})
	require.NoError(t, err)

	sink := newCapturingSink()
	sched := gorc.NewScheduler(store, sink, gorc.DefaultSchedulerConfig())
	sched.Tick()

	require.Equal(t, 1, sink.count(pid))
	var items []map[string]any
	require.NoError(t, json.Unmarshal(sink.frames[pid][0], &items))
	require.Len(t, items, 1)
	assert.Equal(t, "gorc_zone_entry", items[0]["type"])
	assert.Equal(t, "Tank", items[0]["object_type"])
	assert.Equal(t, float64(100), items[0]["zone_data"].(map[string]any)["hp"])
}

// A departing observer must receive a gorc_zone_exit frame for the
// subscription it held.
func TestTickEmitsZoneExitFrameOnUnsubscribe(t *testing.T) {
	store := gorc.NewStore(nil, 0.05)
	pid := gorc.NewPlayerID()
	store.RegisterPlayer(gorc.NewPlayer(pid, gorc.Vec3{}, 1<<20))

	obj := fakeReplicable{props: map[string]any{"hp": 100}}
	id, err := store.Register(obj, "Tank", gorc.Vec3{}, []gorc.ReplicationLayer{
		{Channel: 0, RadiusMeters: 50, TargetFrequencyHz: 10, Properties: []string{"hp"}},
	})
	require.NoError(t, err)

	sink := newCapturingSink()
	sched := gorc.NewScheduler(store, sink, gorc.DefaultSchedulerConfig())
	sched.Tick() // drains the entry from Register, not relevant to this test

	store.Remove(id)
	sched.Tick()

	require.Equal(t, 2, sink.count(pid))
	var items []map[string]any
	require.NoError(t, json.Unmarshal(sink.frames[pid][1], &items))
	require.Len(t, items, 1)
	assert.Equal(t, "gorc_zone_exit", items[0]["type"])
	assert.Equal(t, float64(0), items[0]["channel"])
}

// Payloads at or below the compression threshold skip compression
// regardless of the layer's configured variant, avoiding overhead on tiny
// updates.
func TestSmallPayloadSkipsConfiguredCompression(t *testing.T) {
	store := gorc.NewStore(nil, 0.05)
	pid := gorc.NewPlayerID()
	store.RegisterPlayer(gorc.NewPlayer(pid, gorc.Vec3{}, 1<<20))

	obj := fakeReplicable{props: map[string]any{"hp": 1}}
	id, err := store.Register(obj, "Tank", gorc.Vec3{}, []gorc.ReplicationLayer{
		{Channel: 0, RadiusMeters: 50, TargetFrequencyHz: 1000, Properties: []string{"hp"}, Compression: gorc.CompressionLz4},
	})
	require.NoError(t, err)

	cfg := gorc.DefaultSchedulerConfig()
	cfg.CompressionThreshold = 4096 // comfortably above this tiny payload
	sink := newCapturingSink()
	sched := gorc.NewScheduler(store, sink, cfg)
	sched.Tick() // drains the zone entry from Register

	require.NoError(t, store.MarkDirty(id, 0))
	sched.Tick()

	require.Equal(t, 2, sink.count(pid))
	var items []map[string]any
	require.NoError(t, json.Unmarshal(sink.frames[pid][1], &items))
	require.Len(t, items, 1)
	assert.Equal(t, "gorc_update", items[0]["type"])
	assert.Equal(t, "none", items[0]["compression"], "tiny payload should bypass lz4 despite the layer's setting")
}

func TestDirtyWithNoSubscribersStaysDirty(t *testing.T) {
	store := gorc.NewStore(nil, 0.05)
	obj := fakeReplicable{props: map[string]any{"hp": 1}}
	id, err := store.Register(obj, "Tank", gorc.Vec3{X: 10000}, []gorc.ReplicationLayer{
		{Channel: 0, RadiusMeters: 1, TargetFrequencyHz: 10, Properties: []string{"hp"}},
	})
	require.NoError(t, err)
	require.NoError(t, store.MarkDirty(id, 0))

	sink := newCapturingSink()
	sched := gorc.NewScheduler(store, sink, gorc.DefaultSchedulerConfig())
	sched.Tick()

	assert.Equal(t, gorc.StateDirty, sched.State(id, 0))
}
