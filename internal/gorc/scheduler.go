package gorc

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/horizon-engine/horizon/internal/logger"
	"github.com/horizon-engine/horizon/internal/metrics"
)

// ChannelState is the per-(object,channel) replication state machine value:
// Idle -> Dirty -> Sending -> Idle.
type ChannelState int

const (
	StateIdle ChannelState = iota
	StateDirty
	StateSending
)

// FrameSink hands an assembled frame to the network layer for one observer.
// wsnet.Hub is the concrete implementation this repo wires in.
type FrameSink interface {
	SendFrame(player PlayerID, frame []byte) error
}

// pendingItem holds one already-rendered wire frame (zone_entry, zone_exit,
// or update) awaiting batching for a single observer.
type pendingItem struct {
	channel  int
	frame    []byte
	queuedAt time.Time
}

// SchedulerConfig configures tick cadence, batching, and compression
// thresholds.
type SchedulerConfig struct {
	TickPeriod           time.Duration
	MaxBatchSize         int
	MaxBatchAgeMs        int
	CompressionThreshold int
	JitterTolerance      float64
}

// DefaultSchedulerConfig holds the tuned defaults: a 16ms tick, batches of
// at most 64 items, and a 256-byte compression threshold. JitterTolerance is
// carried in the config but the scheduler does not read it; frequency
// scaling is governed by the 80% rule in adjustFrequencyScaleLocked.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TickPeriod:           16 * time.Millisecond,
		MaxBatchSize:         64,
		MaxBatchAgeMs:        50,
		CompressionThreshold: 256,
		JitterTolerance:      0.10,
	}
}

// Scheduler is the GORC Replication Scheduler: drives per-channel tick
// rates, assembles per-observer batches under bandwidth ceilings, and hands
// frames to a FrameSink.
type Scheduler struct {
	store  *Store
	sink   FrameSink
	config SchedulerConfig

	mu        sync.Mutex
	channelSt map[ObjectChannel]ChannelState
	freqScale [NumChannels]float64
	tickTimes []time.Duration

	stopCh    chan struct{}
	stoppedWg sync.WaitGroup
}

// NewScheduler builds a Scheduler over store, publishing frames to sink.
func NewScheduler(store *Store, sink FrameSink, cfg SchedulerConfig) *Scheduler {
	s := &Scheduler{
		store:     store,
		sink:      sink,
		config:    cfg,
		channelSt: make(map[ObjectChannel]ChannelState),
		stopCh:    make(chan struct{}),
	}
	for i := range s.freqScale {
		s.freqScale[i] = 1.0
	}
	return s
}

// Run drives the tick loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.TickPeriod)
	defer ticker.Stop()
	s.stoppedWg.Add(1)
	defer s.stoppedWg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			start := time.Now()
			s.tick()
			s.recordTickDuration(time.Since(start))
		}
	}
}

// Stop halts the tick loop and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.stoppedWg.Wait()
}

// Tick runs exactly one scheduler pass synchronously, for tests that need
// deterministic control over tick boundaries instead of racing a ticker.
func (s *Scheduler) Tick() {
	start := time.Now()
	s.tick()
	s.recordTickDuration(time.Since(start))
}

func (s *Scheduler) recordTickDuration(d time.Duration) {
	metrics.TickDuration.Observe(d.Seconds())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickTimes = append(s.tickTimes, d)
	if len(s.tickTimes) > 32 {
		s.tickTimes = s.tickTimes[len(s.tickTimes)-32:]
	}
	s.adjustFrequencyScaleLocked()
}

// adjustFrequencyScaleLocked: when the rolling (last 32 ticks) average
// duration exceeds 80% of the tick period, channels 2 and 3 have their
// target frequency halved; restored to 1.0 once headroom returns. Channel 0
// is never reduced; it carries the highest-priority state traffic.
func (s *Scheduler) adjustFrequencyScaleLocked() {
	if len(s.tickTimes) == 0 {
		return
	}
	var sum time.Duration
	for _, d := range s.tickTimes {
		sum += d
	}
	avg := sum / time.Duration(len(s.tickTimes))
	overBudget := avg > (s.config.TickPeriod*80)/100

	if overBudget {
		s.freqScale[ChannelCosmetic] = 0.5
		s.freqScale[ChannelMetadata] = 0.5
	} else {
		s.freqScale[ChannelCosmetic] = 1.0
		s.freqScale[ChannelMetadata] = 1.0
	}
}

func (s *Scheduler) scaledMinInterval(freqHz float64, channel int) time.Duration {
	s.mu.Lock()
	scale := s.freqScale[channel]
	s.mu.Unlock()
	effective := freqHz * scale
	if effective <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(float64(time.Second) / effective)
}

func (s *Scheduler) setState(oc ObjectChannel, st ChannelState) {
	s.mu.Lock()
	s.channelSt[oc] = st
	s.mu.Unlock()
}

// State returns the current per-(object,channel) state machine value.
func (s *Scheduler) State(id ObjectID, channel int) ChannelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelSt[ObjectChannel{Object: id, Channel: channel}]
}

func (s *Scheduler) tick() {
	now := time.Now()
	pending := make(map[PlayerID][]pendingItem)

	// Step 1: drain Zone Index entries/exits accumulated since the last tick
	// and build the initial per-observer zone_entry/zone_exit frames.
	entries, exits := s.store.DrainZoneTransitions()
	metrics.ZoneEntries.Add(float64(len(entries)))
	metrics.ZoneExits.Add(float64(len(exits)))
	for _, t := range entries {
		frame, err := buildZoneEntryFrame(s.store, t)
		if err != nil {
			logger.Gorc().Error().Err(err).Str("object", t.Object.String()).Int("channel", t.Channel).
				Msg("zone entry snapshot failed, skipping")
			continue
		}
		pending[t.Player] = append(pending[t.Player], pendingItem{channel: t.Channel, frame: frame, queuedAt: now})
	}
	for _, t := range exits {
		frame, err := buildZoneExitFrame(t)
		if err != nil {
			continue
		}
		pending[t.Player] = append(pending[t.Player], pendingItem{channel: t.Channel, frame: frame, queuedAt: now})
	}

	// Step 2: dirty-channel transmission under per-channel rate limits.
	s.store.ForEachObject(func(inst *ObjectInstance) {
		for _, layer := range inst.Layers {
			oc := ObjectChannel{Object: inst.ID, Channel: layer.Channel}
			if !inst.isDirty(layer.Channel) {
				s.setState(oc, StateIdle)
				continue
			}
			s.setState(oc, StateDirty)

			minInterval := s.scaledMinInterval(layer.TargetFrequencyHz, layer.Channel)
			if lastTx := inst.lastTx(layer.Channel); lastTx != 0 && now.Sub(time.Unix(0, lastTx)) < minInterval {
				continue
			}

			subs := s.store.Subscribers(inst.ID, layer.Channel)
			if len(subs) == 0 {
				metrics.UpdatesDropped.WithLabelValues("no_subscribers").Inc()
				continue // remains Dirty; no transmit, no state transition
			}

			payload, usedCompression, err := s.store.GetStateForLayerForTransmission(inst.ID, layer.Channel, s.config.CompressionThreshold)
			if err != nil {
				logger.Gorc().Error().Err(err).Str("object", inst.ID.String()).Int("channel", layer.Channel).
					Msg("serialization failed for channel, skipping")
				continue
			}
			frame, err := buildUpdateFrame(inst.ID, layer.Channel, payload, usedCompression)
			if err != nil {
				logger.Gorc().Error().Err(err).Str("object", inst.ID.String()).Int("channel", layer.Channel).
					Msg("update frame encoding failed, skipping")
				continue
			}

			s.setState(oc, StateSending)
			for _, pid := range subs {
				pending[pid] = append(pending[pid], pendingItem{
					channel:  layer.Channel,
					frame:    frame,
					queuedAt: now,
				})
			}
			inst.clearDirty(layer.Channel)
			inst.setLastTx(layer.Channel, now.UnixNano())
			s.setState(oc, StateIdle)
		}
	})

	for pid, items := range pending {
		s.flushObserver(pid, items)
	}
}

// flushObserver applies the per-observer bandwidth ceiling (sort by channel
// priority then age, drop from the tail) and batches the survivors.
func (s *Scheduler) flushObserver(pid PlayerID, items []pendingItem) {
	player, ok := s.store.Player(pid)
	if !ok {
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].channel != items[j].channel {
			return items[i].channel < items[j].channel
		}
		return items[i].queuedAt.Before(items[j].queuedAt)
	})

	budget := player.BandwidthBudgetBytesPerTick
	var kept []pendingItem
	used := 0
	for i, it := range items {
		if budget > 0 && used+len(it.frame) > budget {
			// The first item that does not fit ends the batch: it and every
			// lower-priority item after it are dropped.
			metrics.UpdatesDropped.WithLabelValues("bandwidth_ceiling").Add(float64(len(items) - i))
			break
		}
		used += len(it.frame)
		kept = append(kept, it)
	}
	if len(kept) == 0 {
		return
	}

	for start := 0; start < len(kept); start += s.config.MaxBatchSize {
		end := start + s.config.MaxBatchSize
		if end > len(kept) {
			end = len(kept)
		}
		frame := batchFrame(kept[start:end])
		if frame == nil {
			continue
		}
		if err := s.sink.SendFrame(pid, frame); err != nil {
			logger.Gorc().Warn().Err(err).Str("player", pid.String()).
				Msg("frame send failed, marking connection suspect for the network layer to act on")
		}
	}
}
