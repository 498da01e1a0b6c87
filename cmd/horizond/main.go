// Command horizond is the Horizon game-server runtime: it wires the event
// bus, GORC replication subsystem, plugin host, message router, and
// WebSocket transport into one running process.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/horizon-engine/horizon/internal/config"
	"github.com/horizon-engine/horizon/internal/eventbus"
	"github.com/horizon-engine/horizon/internal/gorc"
	"github.com/horizon-engine/horizon/internal/logger"
	"github.com/horizon-engine/horizon/internal/metrics"
	"github.com/horizon-engine/horizon/internal/pluginhost"
	"github.com/horizon-engine/horizon/internal/propagator"
	"github.com/horizon-engine/horizon/internal/router"
	"github.com/horizon-engine/horizon/internal/wsnet"
)

const (
	exitOK               = 0
	exitConfigError      = 1
	exitPluginLoadFailed = 2
	exitFatalRuntime     = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "horizond.toml", "path to the horizond TOML configuration file")
	listenAddr := flag.String("listen", ":8080", "address the WebSocket and metrics HTTP server listens on")
	logLevel := flag.String("log-level", "info", "zerolog level: debug, info, warn, error")
	logPretty := flag.Bool("log-pretty", false, "use human-readable console logging instead of JSON")
	flag.Parse()

	logger.Initialize(*logLevel, *logPretty)
	defer logger.Teardown()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.GetLogger().Error().Err(err).Str("path", *configPath).Msg("failed to load configuration")
		return exitConfigError
	}

	bus := eventbus.New(propagator.ExactMatch{})
	store := gorc.NewStore(bus, cfg.HysteresisEpsilon)

	r := router.New(bus, store, router.WithMaxEnvelopeSize(64*1024))
	hub := wsnet.NewHub(r)

	schedCfg := gorc.SchedulerConfig{
		TickPeriod:           time.Duration(cfg.TickIntervalMs) * time.Millisecond,
		MaxBatchSize:         64,
		MaxBatchAgeMs:        50,
		CompressionThreshold: cfg.CompressionThresholdBytes,
		JitterTolerance:      0.10,
	}
	scheduler := gorc.NewScheduler(store, hub, schedCfg)

	hostAbiTag := pluginhost.ComputeHostAbiTag()
	abiPolicy := pluginhost.AbiTagStrict
	if cfg.AbiTagPolicy == config.AbiTagPolicyWarn {
		abiPolicy = pluginhost.AbiTagWarn
	}
	host := pluginhost.NewHost(bus, cfg.PluginDirectory, hostAbiTag, abiPolicy)

	if err := host.Discover(); err != nil {
		logger.GetLogger().Error().Err(err).Msg("plugin discovery failed")
		if abiPolicy == pluginhost.AbiTagStrict {
			return exitPluginLoadFailed
		}
	}
	for _, rec := range host.List() {
		if err := host.PreInit(rec.Name); err != nil {
			logger.GetLogger().Error().Err(err).Str("plugin", rec.Name).Msg("plugin PreInit failed")
			if abiPolicy == pluginhost.AbiTagStrict {
				return exitPluginLoadFailed
			}
			continue
		}
		if err := host.Init(rec.Name); err != nil {
			logger.GetLogger().Error().Err(err).Str("plugin", rec.Name).Msg("plugin Init failed")
			if abiPolicy == pluginhost.AbiTagStrict {
				return exitPluginLoadFailed
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(ctx)
	go scheduler.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", wsHandler(hub))

	srv := &http.Server{Addr: *listenAddr, Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		logger.GetLogger().Info().Str("addr", *listenAddr).Msg("horizond listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.GetLogger().Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serveErr:
		logger.GetLogger().Error().Err(err).Msg("http server failed")
		cancel()
		return exitFatalRuntime
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.GetLogger().Warn().Err(err).Msg("http server forced to shutdown")
	}

	scheduler.Stop()
	hub.Stop()
	host.StopWatching()
	cancel()

	return exitOK
}

// wsHandler upgrades inbound connections and assigns each one a fresh
// player identity; a real deployment would authenticate the connection
// first and derive the player id from that session instead of minting one.
func wsHandler(hub *wsnet.Hub) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			logger.Net().Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		player := gorc.NewPlayerID()
		hub.ServeClient(req.Context(), conn, player)
	}
}
