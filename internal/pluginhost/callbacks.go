package pluginhost

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/horizon-engine/horizon/internal/eventbus"
	"github.com/horizon-engine/horizon/internal/eventkey"
	"github.com/horizon-engine/horizon/internal/logger"
	"github.com/horizon-engine/horizon/internal/metrics"
)

// HostCallbacks is handed to a plugin's PreInit/Init so it can register
// handlers and emit events without holding a direct reference to the Event
// Bus (GORC and the Plugin Host each hold a non-owning handle to the bus,
// never the reverse).
type HostCallbacks interface {
	// RegisterHandler is only permitted while the plugin is in PreInit;
	// any other phase fails with ErrWrongPhase.
	RegisterHandler(key eventkey.Key, declaredType string, fn eventbus.HandlerFunc) (eventbus.HandlerID, error)
	// Emit is permitted from Initialized through Draining inclusive.
	Emit(key eventkey.Key, payload any) error
	Logger() *zerolog.Logger
}

type hostCallbacks struct {
	host   *Host
	record *Record
}

func (c *hostCallbacks) RegisterHandler(key eventkey.Key, declaredType string, fn eventbus.HandlerFunc) (eventbus.HandlerID, error) {
	if c.record.Phase() != PhasePreInit {
		return eventbus.HandlerID{}, ErrWrongPhase
	}
	id := c.host.bus.Register(key, declaredType, c.isolate(fn))
	c.record.addHandler(id)
	return id, nil
}

// isolate wraps a plugin-registered handler so a panic in its body drains
// the owning plugin (scenario S5) before the bus's own recovery takes over:
// without this, the bus isolates the dispatch goroutine but the plugin stays
// Operational and its handler re-panics on every later emission.
func (c *hostCallbacks) isolate(fn eventbus.HandlerFunc) eventbus.HandlerFunc {
	host, rec := c.host, c.record
	return func(ctx context.Context, data eventbus.EventData) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.PluginHost().Error().Interface("panic", r).Str("plugin", rec.Name).
					Msg("handler panicked, draining plugin")
				metrics.PluginFaults.WithLabelValues(rec.Name).Inc()
				if derr := host.Drain(rec.Name); derr != nil {
					logger.PluginHost().Warn().Err(derr).Str("plugin", rec.Name).Msg("drain after handler panic failed")
				}
				panic(r)
			}
		}()
		return fn(ctx, data)
	}
}

func (c *hostCallbacks) Emit(key eventkey.Key, payload any) error {
	phase := c.record.Phase()
	if phase != PhaseInitialized && phase != PhaseOperational && phase != PhaseDraining {
		return ErrWrongPhase
	}
	return c.host.bus.EmitWithContext(context.Background(), key, payload, eventbus.Context{Key: key})
}

func (c *hostCallbacks) Logger() *zerolog.Logger {
	l := logger.PluginHost().With().Str("plugin", c.record.Name).Logger()
	return &l
}

var _ HostCallbacks = (*hostCallbacks)(nil)
