// Package pluginhost implements the dynamic plugin loader and lifecycle
// manager: discovery, ABI validation, staged lifecycle transitions, and
// panic-isolated callback dispatch.
package pluginhost

import (
	"fmt"
	"plugin"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/horizon-engine/horizon/internal/eventbus"
	"github.com/horizon-engine/horizon/internal/logger"
	"github.com/horizon-engine/horizon/internal/metrics"
)

// AbiTagPolicy governs what happens when a plugin's AbiTag doesn't match
// the host's.
type AbiTagPolicy int

const (
	// AbiTagStrict refuses to load a mismatched plugin.
	AbiTagStrict AbiTagPolicy = iota
	// AbiTagWarn loads it anyway, incrementing a counter.
	AbiTagWarn
)

// Host discovers, loads, and drives the lifecycle of plugin images found
// under Dir. It holds a non-owning handle to the event bus.
type Host struct {
	mu      sync.RWMutex
	plugins map[string]*Record

	bus        *eventbus.Bus
	dir        string
	hostAbiTag string
	policy     AbiTagPolicy

	watcher *fsnotify.Watcher
	cron    *cron.Cron
}

// NewHost builds a Host over dir, driven against bus. hostAbiTag is
// typically ComputeHostAbiTag().
func NewHost(bus *eventbus.Bus, dir, hostAbiTag string, policy AbiTagPolicy) *Host {
	return &Host{
		plugins:    make(map[string]*Record),
		bus:        bus,
		dir:        dir,
		hostAbiTag: hostAbiTag,
		policy:     policy,
	}
}

// WatchDir starts an fsnotify watcher over the plugin directory and a cron
// job that rescans it on a schedule, in case fsnotify events are coalesced
// or missed (e.g. network filesystem mounts). Discover is still the
// explicit, synchronous entry point; this just triggers it automatically.
func (h *Host) WatchDir(cronSpec string, onNewImage func(path string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(h.dir); err != nil {
		_ = w.Close()
		return err
	}
	h.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					onNewImage(ev.Name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.PluginHost().Warn().Err(err).Msg("plugin directory watcher error")
			}
		}
	}()

	if cronSpec != "" {
		h.cron = cron.New()
		_, err := h.cron.AddFunc(cronSpec, func() {
			images, err := discoverImages(h.dir)
			if err != nil {
				logger.PluginHost().Warn().Err(err).Msg("periodic plugin directory rescan failed")
				return
			}
			for _, path := range images {
				onNewImage(path)
			}
		})
		if err != nil {
			return err
		}
		h.cron.Start()
	}
	return nil
}

// StopWatching tears down the fsnotify watcher and cron scheduler.
func (h *Host) StopWatching() {
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
	if h.cron != nil {
		h.cron.Stop()
	}
}

// Discover scans the plugin directory and loads every image found, one
// record each, ending each in PhaseLoaded. An image that fails to load is
// logged and skipped; once every image has been tried, Discover returns the
// first such load error, or nil if all loaded.
func (h *Host) Discover() error {
	images, err := discoverImages(h.dir)
	if err != nil {
		return err
	}
	var firstErr error
	for _, path := range images {
		if _, err := h.Load(path); err != nil {
			logger.PluginHost().Error().Err(err).Str("path", path).Msg("failed to load discovered plugin")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Load opens a single plugin image via plugin.Open, validates its ABI tag,
// and registers a PhaseLoaded record. The plugin's own name (from
// Describe) becomes its registry key.
func (h *Host) Load(path string) (*Record, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pluginhost: opening %s: %w", path, err)
	}
	abi, err := loadABI(p)
	if err != nil {
		return nil, err
	}
	return h.loadFromABI(abi, path)
}

// LoadBuiltin registers an in-process ABI implementation (compiled directly
// into horizond) the same way a dynamically loaded image would be, without
// going through plugin.Open. Built-in plugins skip the shared-object file
// entirely but still pass through ABI-tag validation and panic-isolated
// lifecycle callbacks.
func (h *Host) LoadBuiltin(abi ABI, label string) (*Record, error) {
	return h.loadFromABI(abi, label)
}

func (h *Host) loadFromABI(abi ABI, path string) (*Record, error) {
	tag := abi.AbiTag()
	if tag != h.hostAbiTag {
		if h.policy == AbiTagStrict {
			return nil, fmt.Errorf("%w: plugin=%s host=%s", ErrAbiMismatch, tag, h.hostAbiTag)
		}
		metrics.PluginFaults.WithLabelValues(path).Inc()
		logger.PluginHost().Warn().Str("path", path).Str("plugin_tag", tag).Str("host_tag", h.hostAbiTag).
			Msg("loading plugin with mismatched abi tag under warn policy")
	}

	handle, err := h.safeCreate(abi)
	if err != nil {
		return nil, err
	}
	desc, err := h.safeDescribe(abi, handle)
	if err != nil {
		return nil, err
	}

	rec := &Record{Name: desc.Name, Version: desc.Version, AbiTag: tag, Path: path, abi: abi, handle: handle, phase: PhaseLoaded}

	h.mu.Lock()
	if _, exists := h.plugins[rec.Name]; exists {
		h.mu.Unlock()
		return nil, ErrAlreadyLoaded
	}
	h.plugins[rec.Name] = rec
	h.mu.Unlock()
	return rec, nil
}

// PreInit transitions a Loaded plugin to PreInit, during which it may
// register handlers via HostCallbacks.
func (h *Host) PreInit(name string) error {
	rec, err := h.get(name)
	if err != nil {
		return err
	}
	if rec.Phase() != PhaseLoaded {
		return ErrWrongPhase
	}
	rec.setPhase(PhasePreInit)
	cb := &hostCallbacks{host: h, record: rec}
	if err := h.safeCall(rec, func() error { return rec.abi.PreInit(rec.handle, cb) }); err != nil {
		h.rollbackToUnloaded(rec)
		return err
	}
	return nil
}

// Init transitions PreInit -> Initialized -> Operational. Emissions
// originated by the plugin are valid from Initialized onward.
func (h *Host) Init(name string) error {
	rec, err := h.get(name)
	if err != nil {
		return err
	}
	if rec.Phase() != PhasePreInit {
		return ErrWrongPhase
	}
	rec.setPhase(PhaseInitialized)
	cb := &hostCallbacks{host: h, record: rec}
	if err := h.safeCall(rec, func() error { return rec.abi.Init(rec.handle, cb) }); err != nil {
		h.rollbackToUnloaded(rec)
		return err
	}
	rec.setPhase(PhaseOperational)
	return nil
}

// Drain transitions a plugin to Draining: no new handlers may register, but
// events already scheduled for its handlers still complete, and the plugin
// may still emit. Shutdown is invoked immediately, and the plugin's handlers
// are unregistered from the bus before Drain returns.
func (h *Host) Drain(name string) error {
	rec, err := h.get(name)
	if err != nil {
		return err
	}
	phase := rec.Phase()
	if phase != PhaseInitialized && phase != PhaseOperational {
		return ErrWrongPhase
	}
	rec.setPhase(PhaseDraining)
	if err := h.safeCall(rec, func() error { return rec.abi.Shutdown(rec.handle) }); err != nil {
		logger.PluginHost().Error().Err(err).Str("plugin", name).Msg("shutdown callback faulted during drain")
	}
	for _, id := range rec.takeHandlers() {
		_ = h.bus.Unregister(id)
	}
	return nil
}

// Unload destroys a Draining plugin's handle and removes its record.
func (h *Host) Unload(name string) error {
	rec, err := h.get(name)
	if err != nil {
		return err
	}
	if rec.Phase() != PhaseDraining {
		return ErrWrongPhase
	}
	if err := h.safeCall(rec, func() error { return rec.abi.Destroy(rec.handle) }); err != nil {
		logger.PluginHost().Error().Err(err).Str("plugin", name).Msg("destroy callback faulted during unload")
	}
	rec.setPhase(PhaseUnloaded)
	h.mu.Lock()
	delete(h.plugins, name)
	h.mu.Unlock()
	return nil
}

// Get returns the record for name, or ErrUnknownPlugin.
func (h *Host) Get(name string) (*Record, error) { return h.get(name) }

func (h *Host) get(name string) (*Record, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.plugins[name]
	if !ok {
		return nil, ErrUnknownPlugin
	}
	return rec, nil
}

// List returns every currently tracked plugin record.
func (h *Host) List() []*Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Record, 0, len(h.plugins))
	for _, r := range h.plugins {
		out = append(out, r)
	}
	return out
}

func (h *Host) rollbackToUnloaded(rec *Record) {
	rec.setPhase(PhaseDraining)
	for _, id := range rec.takeHandlers() {
		_ = h.bus.Unregister(id)
	}
	rec.setPhase(PhaseUnloaded)
	h.mu.Lock()
	delete(h.plugins, rec.Name)
	h.mu.Unlock()
}

func (h *Host) safeCreate(abi ABI) (handle any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: Create panicked: %v", ErrPluginFault, r)
		}
	}()
	return abi.Create()
}

func (h *Host) safeDescribe(abi ABI, handle any) (desc Descriptor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: Describe panicked: %v", ErrPluginFault, r)
		}
	}()
	return abi.Describe(handle)
}

// safeCall wraps any lifecycle callback in panic recovery, isolating one
// plugin's fault from the host and from every other plugin (scenario S5).
// On fault, the plugin is driven to Draining and the fault is counted.
func (h *Host) safeCall(rec *Record, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPluginFault, r)
		}
		if err != nil {
			metrics.PluginFaults.WithLabelValues(rec.Name).Inc()
			rec.setPhase(PhaseDraining)
		}
	}()
	return fn()
}

// HotReload loads path as a parallel routing slot for an already-operational
// plugin of the same name, and atomically swaps it in once its PreInit and
// Init both succeed. On failure the existing Operational plugin is left
// untouched (rollback), matching scenario S6.
func (h *Host) HotReload(name, path string) error {
	p, err := plugin.Open(path)
	if err != nil {
		return err
	}
	abi, err := loadABI(p)
	if err != nil {
		return err
	}
	return h.hotReloadWithABI(name, path, abi)
}

// HotReloadBuiltin is HotReload for an in-process ABI implementation,
// bypassing plugin.Open the same way LoadBuiltin bypasses it for Load.
func (h *Host) HotReloadBuiltin(name string, abi ABI) error {
	return h.hotReloadWithABI(name, name, abi)
}

func (h *Host) hotReloadWithABI(name, path string, abi ABI) error {
	oldRec, err := h.get(name)
	if err != nil {
		return err
	}

	tag := abi.AbiTag()
	if tag != h.hostAbiTag && h.policy == AbiTagStrict {
		return fmt.Errorf("%w: plugin=%s host=%s", ErrAbiMismatch, tag, h.hostAbiTag)
	}

	handle, err := h.safeCreate(abi)
	if err != nil {
		return err
	}
	desc, err := h.safeDescribe(abi, handle)
	if err != nil {
		return err
	}

	newRec := &Record{Name: desc.Name, Version: desc.Version, AbiTag: tag, Path: path, abi: abi, handle: handle, phase: PhasePreInit}
	cb := &hostCallbacks{host: h, record: newRec}

	if err := h.safeCall(newRec, func() error { return abi.PreInit(handle, cb) }); err != nil {
		for _, id := range newRec.takeHandlers() {
			_ = h.bus.Unregister(id)
		}
		return err // newRec never entered the registry; oldRec is untouched
	}
	newRec.setPhase(PhaseInitialized)
	if err := h.safeCall(newRec, func() error { return abi.Init(handle, cb) }); err != nil {
		for _, id := range newRec.takeHandlers() {
			_ = h.bus.Unregister(id)
		}
		return err // rollback: oldRec remains Operational
	}
	newRec.setPhase(PhaseOperational)

	// Swap: drain the old record's handlers, install the new one under the
	// same registry key.
	h.mu.Lock()
	h.plugins[name] = newRec
	h.mu.Unlock()

	oldRec.setPhase(PhaseDraining)
	if err := h.safeCall(oldRec, func() error { return oldRec.abi.Shutdown(oldRec.handle) }); err != nil {
		logger.PluginHost().Error().Err(err).Str("plugin", name).Msg("shutdown callback faulted during hot reload")
	}
	for _, id := range oldRec.takeHandlers() {
		_ = h.bus.Unregister(id)
	}
	_ = h.safeCall(oldRec, func() error { return oldRec.abi.Destroy(oldRec.handle) })
	oldRec.setPhase(PhaseUnloaded)

	return nil
}
