package gorc

import (
	"math"
	"sync"
)

// DefaultHysteresisEpsilon is the damping band width applied to every
// layer's radius: outer = radius * (1 + epsilon). 0.05 gives enough slack
// to damp boundary flicker without materially delaying real zone changes.
const DefaultHysteresisEpsilon = 0.05

// Transition describes a single (observer, object, channel) membership
// change produced by one ZoneIndex membership update (InitialEntries,
// UpdatePosition, UpdatePlayerPosition, Remove or RemovePlayer).
type Transition struct {
	Player  PlayerID
	Object  ObjectID
	Channel int
}

// cellKey is a uniform-grid cell coordinate.
type cellKey struct{ X, Y, Z int64 }

// ZoneIndex tracks object positions and per-channel observer membership,
// answering "which (object, channel) pairs changed membership for this
// observer". Objects are also kept in a uniform grid whose cell size tracks
// the smallest configured channel radius (a uniform grid rather than an
// R*-tree because no spatial-tree library is available), but membership
// updates do not query the grid: UpdatePosition checks the moved object
// against every player, and UpdatePlayerPosition checks the moved player
// against every object, so each update is linear in that count.
type ZoneIndex struct {
	mu       sync.Mutex
	epsilon  float64
	cellSize float64

	objects map[ObjectID]*indexedObject
	cells   map[cellKey]map[ObjectID]bool
}

type indexedObject struct {
	pos    Vec3
	layers []ReplicationLayer
	// subscribed[channel] is the set of players currently subscribed to that
	// channel: added on crossing the inner radius, removed only once past the
	// outer (hysteresis) radius.
	subscribed [NumChannels]map[PlayerID]bool
}

// NewZoneIndex builds an empty index. epsilon <= 0 uses DefaultHysteresisEpsilon.
func NewZoneIndex(epsilon float64) *ZoneIndex {
	if epsilon <= 0 {
		epsilon = DefaultHysteresisEpsilon
	}
	return &ZoneIndex{
		epsilon:  epsilon,
		cellSize: math.Inf(1),
		objects:  make(map[ObjectID]*indexedObject),
		cells:    make(map[cellKey]map[ObjectID]bool),
	}
}

func (z *ZoneIndex) cellOf(pos Vec3) cellKey {
	size := z.cellSize
	if math.IsInf(size, 1) || size <= 0 {
		size = 1
	}
	return cellKey{
		X: int64(math.Floor(pos.X / size)),
		Y: int64(math.Floor(pos.Y / size)),
		Z: int64(math.Floor(pos.Z / size)),
	}
}

func (z *ZoneIndex) reindexCell(id ObjectID, oldPos, newPos Vec3) {
	oldCell, newCell := z.cellOf(oldPos), z.cellOf(newPos)
	if oldCell == newCell {
		return
	}
	if set, ok := z.cells[oldCell]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(z.cells, oldCell)
		}
	}
	set, ok := z.cells[newCell]
	if !ok {
		set = make(map[ObjectID]bool)
		z.cells[newCell] = set
	}
	set[id] = true
}

// considerCellSize shrinks the grid cell size to the smallest radius seen
// across any registered layer.
func (z *ZoneIndex) considerCellSize(layers []ReplicationLayer) {
	for _, l := range layers {
		if l.RadiusMeters > 0 && l.RadiusMeters < z.cellSize {
			z.cellSize = l.RadiusMeters
			// Cell boundaries moved; rebuild the grid against the new size.
			z.rebuildCellsLocked()
		}
	}
}

func (z *ZoneIndex) rebuildCellsLocked() {
	z.cells = make(map[cellKey]map[ObjectID]bool)
	for id, obj := range z.objects {
		cell := z.cellOf(obj.pos)
		set, ok := z.cells[cell]
		if !ok {
			set = make(map[ObjectID]bool)
			z.cells[cell] = set
		}
		set[id] = true
	}
}

// Register adds an object to the index at its initial position.
func (z *ZoneIndex) Register(id ObjectID, pos Vec3, layers []ReplicationLayer) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.considerCellSize(layers)
	obj := &indexedObject{pos: pos, layers: layers}
	for i := range obj.subscribed {
		obj.subscribed[i] = make(map[PlayerID]bool)
	}
	z.objects[id] = obj
	cell := z.cellOf(pos)
	set, ok := z.cells[cell]
	if !ok {
		set = make(map[ObjectID]bool)
		z.cells[cell] = set
	}
	set[id] = true
}

// InitialEntries checks players against an already-registered object's
// layers using the inner radius (no hysteresis ambiguity at registration
// time) and marks them subscribed, returning the resulting entry
// transitions. Used by Store.Register to seed zone_entered for observers
// already standing inside a freshly spawned object's layers.
func (z *ZoneIndex) InitialEntries(id ObjectID, players map[PlayerID]Vec3) []Transition {
	z.mu.Lock()
	defer z.mu.Unlock()
	obj, ok := z.objects[id]
	if !ok {
		return nil
	}
	var out []Transition
	for _, layer := range obj.layers {
		subs := obj.subscribed[layer.Channel]
		for pid, ppos := range players {
			if obj.pos.Distance(ppos) <= layer.RadiusMeters {
				subs[pid] = true
				out = append(out, Transition{Player: pid, Object: id, Channel: layer.Channel})
			}
		}
	}
	return out
}

// Remove deletes an object and returns the exit transitions for every
// player still subscribed to any of its channels.
func (z *ZoneIndex) Remove(id ObjectID) []Transition {
	z.mu.Lock()
	defer z.mu.Unlock()
	obj, ok := z.objects[id]
	if !ok {
		return nil
	}
	var out []Transition
	for ch, players := range obj.subscribed {
		for pid := range players {
			out = append(out, Transition{Player: pid, Object: id, Channel: ch})
		}
	}
	cell := z.cellOf(obj.pos)
	if set, ok := z.cells[cell]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(z.cells, cell)
		}
	}
	delete(z.objects, id)
	return out
}

// UpdatePosition moves an object and recomputes membership against every
// currently-tracked player position, returning entry/exit deltas.
func (z *ZoneIndex) UpdatePosition(id ObjectID, newPos Vec3, players map[PlayerID]Vec3) (entries, exits []Transition) {
	z.mu.Lock()
	defer z.mu.Unlock()
	obj, ok := z.objects[id]
	if !ok {
		return nil, nil
	}
	oldPos := obj.pos
	obj.pos = newPos
	z.reindexCell(id, oldPos, newPos)

	for _, layer := range obj.layers {
		inner := layer.RadiusMeters
		outer := layer.RadiusMeters * (1 + z.epsilon)
		subs := obj.subscribed[layer.Channel]
		for pid, ppos := range players {
			dist := newPos.Distance(ppos)
			wasSubscribed := subs[pid]
			switch {
			case !wasSubscribed && dist <= inner:
				subs[pid] = true
				entries = append(entries, Transition{Player: pid, Object: id, Channel: layer.Channel})
			case wasSubscribed && dist > outer:
				delete(subs, pid)
				exits = append(exits, Transition{Player: pid, Object: id, Channel: layer.Channel})
			}
			// dist in (inner, outer]: hysteresis band, no change either way.
		}
	}
	return entries, exits
}

// UpdatePlayerPosition moves an observer and recomputes its membership
// against every currently-tracked object, returning entry/exit deltas. This
// is the observer-move counterpart to UpdatePosition: it walks objects
// instead of players, since exactly one player's distance to each object
// changed rather than one object's distance to every player.
func (z *ZoneIndex) UpdatePlayerPosition(pid PlayerID, newPos Vec3) (entries, exits []Transition) {
	z.mu.Lock()
	defer z.mu.Unlock()
	for oid, obj := range z.objects {
		for _, layer := range obj.layers {
			inner := layer.RadiusMeters
			outer := layer.RadiusMeters * (1 + z.epsilon)
			subs := obj.subscribed[layer.Channel]
			dist := obj.pos.Distance(newPos)
			wasSubscribed := subs[pid]
			switch {
			case !wasSubscribed && dist <= inner:
				subs[pid] = true
				entries = append(entries, Transition{Player: pid, Object: oid, Channel: layer.Channel})
			case wasSubscribed && dist > outer:
				delete(subs, pid)
				exits = append(exits, Transition{Player: pid, Object: oid, Channel: layer.Channel})
			}
			// dist in (inner, outer]: hysteresis band, no change either way.
		}
	}
	return entries, exits
}

// RemovePlayer emits synthetic exits for every object/channel a
// disconnecting player was subscribed to, and drops that player from every
// object's subscriber set.
func (z *ZoneIndex) RemovePlayer(pid PlayerID) []Transition {
	z.mu.Lock()
	defer z.mu.Unlock()
	var out []Transition
	for oid, obj := range z.objects {
		for ch, players := range obj.subscribed {
			if players[pid] {
				delete(players, pid)
				out = append(out, Transition{Player: pid, Object: oid, Channel: ch})
			}
		}
	}
	return out
}

// Subscribers returns the current subscriber set for an object's channel.
func (z *ZoneIndex) Subscribers(id ObjectID, channel int) []PlayerID {
	z.mu.Lock()
	defer z.mu.Unlock()
	obj, ok := z.objects[id]
	if !ok || channel < 0 || channel >= NumChannels {
		return nil
	}
	out := make([]PlayerID, 0, len(obj.subscribed[channel]))
	for pid := range obj.subscribed[channel] {
		out = append(out, pid)
	}
	return out
}
