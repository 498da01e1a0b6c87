package eventbus

import (
	"sync/atomic"
	"time"

	"github.com/horizon-engine/horizon/internal/metrics"
)

// Stats are the dispatch statistics the bus owns: events_emitted,
// events_handled, handler_failures, plus a histogram of
// dispatch durations. The atomics here are the bus's own bookkeeping; every
// increment except authority denials is mirrored into the shared prometheus
// registry (internal/metrics) for external visibility, but Stats never depends on
// prometheus being reachable to be internally correct.
type Stats struct {
	eventsEmitted   atomic.Uint64
	eventsHandled   atomic.Uint64
	handlerFailures atomic.Uint64
	handlerTimeouts atomic.Uint64
	handlerPanics   atomic.Uint64
	authorityDenied atomic.Uint64
}

func (s *Stats) recordEmitted() {
	s.eventsEmitted.Add(1)
	metrics.EventsEmitted.Inc()
}

func (s *Stats) recordHandled(kind string) {
	s.eventsHandled.Add(1)
	metrics.EventsHandled.WithLabelValues(kind).Inc()
}

func (s *Stats) recordFailure(kind, reason string) {
	s.handlerFailures.Add(1)
	metrics.HandlerFailures.WithLabelValues(kind, reason).Inc()
}

func (s *Stats) recordTimeout(kind string) {
	s.handlerTimeouts.Add(1)
	s.recordFailure(kind, "timeout")
}

func (s *Stats) recordPanic(kind string) {
	s.handlerPanics.Add(1)
	s.recordFailure(kind, "panic")
}

func (s *Stats) recordAuthorityDenied() {
	s.authorityDenied.Add(1)
}

func (s *Stats) recordDispatchDuration(d time.Duration) {
	metrics.DispatchDuration.Observe(d.Seconds())
}

// Snapshot is a point-in-time copy of Stats, safe to read without racing the
// live counters.
type Snapshot struct {
	EventsEmitted   uint64
	EventsHandled   uint64
	HandlerFailures uint64
	HandlerTimeouts uint64
	HandlerPanics   uint64
	AuthorityDenied uint64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		EventsEmitted:   s.eventsEmitted.Load(),
		EventsHandled:   s.eventsHandled.Load(),
		HandlerFailures: s.handlerFailures.Load(),
		HandlerTimeouts: s.handlerTimeouts.Load(),
		HandlerPanics:   s.handlerPanics.Load(),
		AuthorityDenied: s.authorityDenied.Load(),
	}
}
