package pluginhost

import (
	"sync"

	"github.com/horizon-engine/horizon/internal/eventbus"
)

// Phase is a plugin's position in the strictly sequential lifecycle:
// Discovered -> Loaded -> PreInit -> Initialized -> Operational -> Draining
// -> Unloaded.
type Phase int

const (
	PhaseDiscovered Phase = iota
	PhaseLoaded
	PhasePreInit
	PhaseInitialized
	PhaseOperational
	PhaseDraining
	PhaseUnloaded
)

func (p Phase) String() string {
	switch p {
	case PhaseDiscovered:
		return "Discovered"
	case PhaseLoaded:
		return "Loaded"
	case PhasePreInit:
		return "PreInit"
	case PhaseInitialized:
		return "Initialized"
	case PhaseOperational:
		return "Operational"
	case PhaseDraining:
		return "Draining"
	case PhaseUnloaded:
		return "Unloaded"
	default:
		return "Unknown"
	}
}

// Record is the host's bookkeeping for one loaded plugin image: identity,
// lifecycle phase, and the handler registrations it owns so the host can
// unregister them all on drain without the plugin's cooperation.
type Record struct {
	mu sync.RWMutex

	Name    string
	Version string
	AbiTag  string
	Path    string

	abi    ABI
	handle any
	phase  Phase

	handlerIDs []eventbus.HandlerID
}

func (r *Record) Phase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

func (r *Record) setPhase(p Phase) {
	r.mu.Lock()
	r.phase = p
	r.mu.Unlock()
}

func (r *Record) addHandler(id eventbus.HandlerID) {
	r.mu.Lock()
	r.handlerIDs = append(r.handlerIDs, id)
	r.mu.Unlock()
}

func (r *Record) takeHandlers() []eventbus.HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.handlerIDs
	r.handlerIDs = nil
	return ids
}
