// Package propagator implements the eventbus.Propagator variants: pure,
// allocation-light decision objects consulted once per (event-key, handler,
// context) tuple. None of these types perform I/O; ChannelRate keeps its own
// mutex-guarded last-send table, and Spatial reads positions through a
// caller-supplied resolver.
package propagator

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/horizon-engine/horizon/internal/eventbus"
)

// ExactMatch is the default propagator: deliver iff the handler's
// registered key structurally equals the event key.
type ExactMatch struct{}

func (ExactMatch) ShouldPropagate(ctx eventbus.Context, h eventbus.Handler) bool {
	return ctx.Key.Equal(h.Key)
}

func (ExactMatch) TransformEvent(_ eventbus.Context, _ eventbus.Handler, data eventbus.EventData) eventbus.EventData {
	return data
}

// Broadcast always delivers.
type Broadcast struct{}

func (Broadcast) ShouldPropagate(eventbus.Context, eventbus.Handler) bool { return true }

func (Broadcast) TransformEvent(_ eventbus.Context, _ eventbus.Handler, data eventbus.EventData) eventbus.EventData {
	return data
}

// NamespaceFilter gates delivery on the event key's first-level tag (Core,
// Client, Plugin, GorcInstance, GorcClient, Custom). Allow wins over block
// when both sets are configured, except that an explicit block entry is
// always authoritative over an allow entry for the same tag.
type NamespaceFilter struct {
	Allow map[string]bool
	Block map[string]bool
}

func NewNamespaceFilter(allow, block []string) NamespaceFilter {
	f := NamespaceFilter{Allow: make(map[string]bool, len(allow)), Block: make(map[string]bool, len(block))}
	for _, a := range allow {
		f.Allow[a] = true
	}
	for _, b := range block {
		f.Block[b] = true
	}
	return f
}

func (f NamespaceFilter) ShouldPropagate(ctx eventbus.Context, _ eventbus.Handler) bool {
	tag := ctx.Key.Namespace1()
	if f.Block[tag] {
		return false
	}
	if len(f.Allow) == 0 {
		return true
	}
	return f.Allow[tag]
}

func (NamespaceFilter) TransformEvent(_ eventbus.Context, _ eventbus.Handler, data eventbus.EventData) eventbus.EventData {
	return data
}

// Vec3 is a minimal position type; gorc.Vec3 is structurally identical so
// callers can convert freely without an import cycle.
type Vec3 struct{ X, Y, Z float64 }

func (a Vec3) distance(b Vec3) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Spatial delivers iff the Euclidean distance between the source and target
// observer positions that Positions resolves for the context is within
// RadiusM; with no resolver, or when it reports !ok, it does not deliver.
// The transformed event gains a "distance" metadata entry.
type Spatial struct {
	RadiusM float64
	// Positions resolves the source and target observer positions for a
	// context. Context.Metadata only carries strings, so the bus's caller
	// supplies a resolver (typically backed by the GORC instance store /
	// player registry) rather than parsing floats out of metadata.
	Positions func(ctx eventbus.Context) (source, target Vec3, ok bool)
}

func (s Spatial) ShouldPropagate(ctx eventbus.Context, _ eventbus.Handler) bool {
	if s.Positions == nil {
		return false
	}
	src, tgt, ok := s.Positions(ctx)
	if !ok {
		return false
	}
	return src.distance(tgt) <= s.RadiusM
}

func (s Spatial) TransformEvent(ctx eventbus.Context, _ eventbus.Handler, data eventbus.EventData) eventbus.EventData {
	if s.Positions == nil {
		return data
	}
	src, tgt, ok := s.Positions(ctx)
	if !ok {
		return data
	}
	meta := make(map[string]string, len(data.Metadata)+1)
	for k, v := range data.Metadata {
		meta[k] = v
	}
	meta["distance"] = strconv.FormatFloat(src.distance(tgt), 'f', 3, 64)
	data.Metadata = meta
	return data
}

// ChannelRate rate-limits GorcInstance/GorcClient traffic to at most
// TargetFrequencyHz per (object type, channel), tracked by last-send
// timestamp. It holds a mutex because, unlike the other propagators, it is
// stateful across calls.
type ChannelRate struct {
	TargetFrequencyHz float64

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewChannelRate(hz float64) *ChannelRate {
	return &ChannelRate{TargetFrequencyHz: hz, lastSent: make(map[string]time.Time)}
}

func (c *ChannelRate) rateKey(h eventbus.Handler) (string, bool) {
	switch h.Key.Kind.String() {
	case "GorcInstance", "GorcClient":
		return h.Key.ObjectType + "#" + strconv.Itoa(h.Key.Channel), true
	default:
		return "", false
	}
}

func (c *ChannelRate) ShouldPropagate(_ eventbus.Context, h eventbus.Handler) bool {
	key, ok := c.rateKey(h)
	if !ok || c.TargetFrequencyHz <= 0 {
		return true
	}
	minInterval := time.Duration(float64(time.Second) / c.TargetFrequencyHz)

	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	last, seen := c.lastSent[key]
	if seen && now.Sub(last) < minInterval {
		return false
	}
	c.lastSent[key] = now
	return true
}

func (*ChannelRate) TransformEvent(_ eventbus.Context, _ eventbus.Handler, data eventbus.EventData) eventbus.EventData {
	return data
}

// CompositeOp selects AND/OR combination semantics for Composite.
type CompositeOp int

const (
	OpAnd CompositeOp = iota
	OpOr
)

// Composite combines child propagators with short-circuit AND/OR.
// TransformEvent threads the payload through every child in order,
// regardless of which one decided the outcome, so each child still gets a
// chance to annotate the transformed event.
type Composite struct {
	Op       CompositeOp
	Children []eventbus.Propagator
}

func (c Composite) ShouldPropagate(ctx eventbus.Context, h eventbus.Handler) bool {
	switch c.Op {
	case OpAnd:
		for _, child := range c.Children {
			if !child.ShouldPropagate(ctx, h) {
				return false
			}
		}
		return true
	default: // OpOr
		for _, child := range c.Children {
			if child.ShouldPropagate(ctx, h) {
				return true
			}
		}
		return false
	}
}

func (c Composite) TransformEvent(ctx eventbus.Context, h eventbus.Handler, data eventbus.EventData) eventbus.EventData {
	for _, child := range c.Children {
		data = child.TransformEvent(ctx, h, data)
	}
	return data
}
