// Package eventbus implements the typed event bus: O(1) dispatch by
// StructuredEventKey, per-handler failure isolation, and the client/server
// authority boundary between client and server traffic.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/horizon-engine/horizon/internal/eventkey"
	"github.com/horizon-engine/horizon/internal/logger"
)

const numShards = 16

type bucketEntry struct {
	key      eventkey.Key
	handlers []*Handler
}

type shard struct {
	mu      sync.RWMutex
	emitMu  sync.Mutex // sequences emission scheduling for FIFO-per-key ordering
	buckets map[uint64][]*bucketEntry
}

func newShard() *shard {
	return &shard{buckets: make(map[uint64][]*bucketEntry)}
}

func (s *shard) snapshot(key eventkey.Key) []*Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.buckets[key.Hash()] {
		if e.key.Equal(key) {
			cp := make([]*Handler, len(e.handlers))
			copy(cp, e.handlers)
			return cp
		}
	}
	return nil
}

func (s *shard) register(h *Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := h.Key.Hash()
	for _, e := range s.buckets[hash] {
		if !e.key.Equal(h.Key) {
			continue
		}
		for i, existing := range e.handlers {
			if existing.ID == h.ID {
				e.handlers[i] = h
				return
			}
		}
		e.handlers = append(e.handlers, h)
		return
	}
	s.buckets[hash] = append(s.buckets[hash], &bucketEntry{key: h.Key, handlers: []*Handler{h}})
}

func (s *shard) unregister(key eventkey.Key, id HandlerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := key.Hash()
	entries := s.buckets[hash]
	for ei, e := range entries {
		if !e.key.Equal(key) {
			continue
		}
		for i, h := range e.handlers {
			if h.ID != id {
				continue
			}
			e.handlers = append(e.handlers[:i], e.handlers[i+1:]...)
			if len(e.handlers) == 0 {
				s.buckets[hash] = append(entries[:ei], entries[ei+1:]...)
			}
			return true
		}
	}
	return false
}

// Bus is the typed event bus.
type Bus struct {
	shards      [numShards]*shard
	propagator  Propagator
	stats       Stats
	sem         chan struct{}
	softTimeout time.Duration
	hardTimeout time.Duration

	idsMu sync.Mutex
	ids   map[HandlerID]eventkey.Key
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithTimeouts overrides the default soft (5s) / hard (30s) handler
// dispatch timeouts.
func WithTimeouts(soft, hard time.Duration) Option {
	return func(b *Bus) {
		b.softTimeout = soft
		b.hardTimeout = hard
	}
}

// WithConcurrency overrides the default bounded-pool size (GOMAXPROCS).
func WithConcurrency(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.sem = make(chan struct{}, n)
		}
	}
}

// New builds a Bus. prop must be non-nil; callers typically pass
// propagator.ExactMatch{} as the default.
func New(prop Propagator, opts ...Option) *Bus {
	b := &Bus{
		propagator:  prop,
		softTimeout: 5 * time.Second,
		hardTimeout: 30 * time.Second,
		ids:         make(map[HandlerID]eventkey.Key),
	}
	for i := range b.shards {
		b.shards[i] = newShard()
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.sem == nil {
		b.sem = make(chan struct{}, runtime.GOMAXPROCS(0))
	}
	return b
}

func (b *Bus) shardFor(key eventkey.Key) *shard {
	return b.shards[key.Hash()%numShards]
}

// Register adds a handler for key, returning its HandlerID. Registration is
// idempotent by HandlerID and never blocks emissions for longer than the
// brief per-shard lock in §4.1.
func (b *Bus) Register(key eventkey.Key, declaredType string, fn HandlerFunc) HandlerID {
	id := NewHandlerID()
	h := &Handler{ID: id, Key: key, DeclaredType: declaredType, Fn: fn}
	b.shardFor(key).register(h)
	b.idsMu.Lock()
	b.ids[id] = key
	b.idsMu.Unlock()
	return id
}

// Register is a free function (not a Bus method, since Go methods cannot
// introduce their own type parameters) that wraps a typed handler body in
// the erased-callable shim the Design Notes describe: the bus stores
// (type_tag, erased callable), and registration installs a thin shim that
// deserializes the shared payload bytes into T before invoking body.
func Register[T any](b *Bus, key eventkey.Key, body func(context.Context, T) error) HandlerID {
	var zero T
	declaredType := fmt.Sprintf("%T", zero)
	shim := func(ctx context.Context, data EventData) error {
		var payload T
		if len(data.Payload) > 0 {
			if err := json.Unmarshal(data.Payload, &payload); err != nil {
				return fmt.Errorf("%w: %v", ErrPayloadTypeMismatch, err)
			}
		}
		return body(ctx, payload)
	}
	return b.Register(key, declaredType, shim)
}

// Unregister removes a handler. Any in-flight dispatch that already
// snapshotted the handler list still completes.
func (b *Bus) Unregister(id HandlerID) error {
	b.idsMu.Lock()
	key, ok := b.ids[id]
	if ok {
		delete(b.ids, id)
	}
	b.idsMu.Unlock()
	if !ok {
		return ErrUnknownHandler
	}
	if !b.shardFor(key).unregister(key, id) {
		return ErrUnknownHandler
	}
	return nil
}

// Emit serializes payload once, builds an EventData with no extra metadata,
// and dispatches to every handler the propagator approves.
func (b *Bus) Emit(key eventkey.Key, payload any) error {
	return b.EmitWithContext(context.Background(), key, payload, Context{Key: key})
}

// EmitWithContext is Emit with caller-supplied propagation metadata.
// ctx.Metadata["source"] drives the authority rule: "network" marks traffic
// that originated from the Router; anything else (or absent) is
// server-internal (core, plugin, or GORC scheduler) traffic.
func (b *Bus) EmitWithContext(ctx context.Context, key eventkey.Key, payload any, pctx Context) error {
	if err := checkAuthority(key, pctx); err != nil {
		b.stats.recordAuthorityDenied()
		return err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	data := EventData{Payload: raw, TypeName: fmt.Sprintf("%T", payload), Metadata: pctx.Metadata}

	start := time.Now()
	sh := b.shardFor(key)

	// Hold emitMu only long enough to snapshot the handler list, so two
	// emissions on the same key are scheduled in FIFO order (all handlers of
	// the first are scheduled before any of the second begins) without
	// holding a lock across handler execution (no re-entrancy deadlocks).
	sh.emitMu.Lock()
	handlers := sh.snapshot(key)
	var wg sync.WaitGroup
	kind := key.Namespace1()
	for _, h := range handlers {
		if !b.propagator.ShouldPropagate(pctx, *h) {
			continue
		}
		hdata := b.propagator.TransformEvent(pctx, *h, data)
		wg.Add(1)
		go b.dispatchOne(ctx, h, hdata, &wg, kind)
	}
	sh.emitMu.Unlock()

	wg.Wait()
	b.stats.recordEmitted()
	b.stats.recordDispatchDuration(time.Since(start))
	return nil
}

func checkAuthority(key eventkey.Key, ctx Context) error {
	source := ctx.sourceOf()
	switch key.Kind {
	case eventkey.KindClient, eventkey.KindGorcClient:
		if source != "network" {
			return ErrAuthorityViolation
		}
	case eventkey.KindGorcInstance, eventkey.KindCore, eventkey.KindPlugin:
		if source == "network" {
			return ErrAuthorityViolation
		}
	}
	return nil
}

func (b *Bus) dispatchOne(parent context.Context, h *Handler, data EventData, wg *sync.WaitGroup, kind string) {
	defer wg.Done()
	b.sem <- struct{}{}
	defer func() { <-b.sem }()

	hctx, cancel := context.WithTimeout(parent, b.hardTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			}
		}()
		done <- h.Fn(hctx, data)
	}()

	softTimer := time.NewTimer(b.softTimeout)
	defer softTimer.Stop()

	select {
	case err := <-done:
		b.finish(h, kind, err)
	case <-softTimer.C:
		logger.Bus().Warn().Str("handler", h.ID.String()).Msg("handler exceeded soft timeout")
		select {
		case err := <-done:
			b.finish(h, kind, err)
		case <-hctx.Done():
			b.stats.recordTimeout(kind)
			logger.Bus().Error().Str("handler", h.ID.String()).Msg("handler exceeded hard timeout, abandoning wait")
		}
	}
}

func (b *Bus) finish(h *Handler, kind string, err error) {
	if err == nil {
		b.stats.recordHandled(kind)
		return
	}
	if errors.Is(err, ErrHandlerPanic) {
		b.stats.recordPanic(kind)
	} else {
		b.stats.recordFailure(kind, "error")
	}
	logger.Bus().Error().Err(err).Str("handler", h.ID.String()).Msg("handler failed")
}

// Stats returns a snapshot of the bus's dispatch statistics.
func (b *Bus) Stats() Snapshot {
	return b.stats.Snapshot()
}
