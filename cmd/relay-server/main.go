package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/baby-monitor/relay-server/internal/api"
	"github.com/baby-monitor/relay-server/internal/cache"
	"github.com/baby-monitor/relay-server/internal/command"
	"github.com/baby-monitor/relay-server/internal/config"
	"github.com/baby-monitor/relay-server/internal/ingest"
	"github.com/baby-monitor/relay-server/internal/realtime"
	"github.com/baby-monitor/relay-server/internal/server"
	"github.com/baby-monitor/relay-server/internal/stream"
)

func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "", "Configuration file path")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	var cfg *config.Config
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load configuration")
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Snapshot cache: Redis when configured, in-memory otherwise. A
	// reachable Redis still gets a memory fallback behind it so a later
	// outage degrades instead of losing the current snapshot path.
	memory := cache.NewMemoryStore(cfg.Snapshots.TTL)
	var store cache.Store = memory
	if cfg.Redis.Addr != "" {
		redisStore, err := cache.NewRedisStore(&cfg.Redis, cfg.Snapshots.TTL)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, using in-memory cache")
		} else {
			defer redisStore.Close()
			store = cache.NewFallbackStore(redisStore, memory)
			log.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
		}
	} else {
		log.Info().Msg("Redis not configured, using in-memory cache")
	}

	// Core wiring
	tracker := ingest.NewDeviceTracker()
	bus := stream.NewFrameBus(cfg.Stream.ViewerQueueSize, cfg.Stream.MinFrameSize)
	registry := realtime.NewConnectionRegistry(ingest.StatusSnapshot{Tracker: tracker})
	relay := command.NewRelay(tracker, cfg.Command.Timeout)
	pipeline := ingest.NewPipeline(tracker, store, bus, registry)

	ticker := realtime.NewHeartbeatTicker(
		cfg.Realtime.HeartbeatInterval,
		cfg.Realtime.FreshnessWindow,
		registry,
		cache.Freshness{Store: store},
	)
	ticker.Start()
	defer ticker.Stop()

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiServer := api.NewRESTServer(cfg, api.Deps{
		Pipeline: pipeline,
		Registry: registry,
		Bus:      bus,
		Store:    store,
		Sink:     relay,
		Ticker:   ticker,
		Tracker:  tracker,
	})

	// WaitGroup for services
	var wg sync.WaitGroup

	// Start API server
	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	// Optional: NATS ingest bridge
	if cfg.NATS.URL != "" {
		log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.Server.Name),
			nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Msg("Reconnected to NATS")
			}),
		)

		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS ingest")
		} else {
			defer nc.Close()
			log.Info().Msg("Connected to NATS")

			bridge := server.NewNATSBridge(nc, pipeline)

			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := bridge.Start(ctx); err != nil && err != context.Canceled {
					log.Error().Err(err).Msg("NATS bridge stopped")
				}
			}()
		}
	} else {
		log.Info().Msg("NATS not configured, HTTP ingest only")
	}

	// Optional: MQTT ingest bridge
	if cfg.MQTT.Broker != "" {
		bridge := server.NewMQTTBridge(cfg.MQTT, pipeline)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bridge.Start(ctx); err != nil && err != context.Canceled {
				log.Error().Err(err).Msg("MQTT bridge stopped")
			}
		}()
	}

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// Cancel context
	cancel()

	// Shutdown API server. The timeout matters: open MJPEG and WebSocket
	// connections would otherwise hold Shutdown forever.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	registry.CloseAll()

	// Wait for all services
	wg.Wait()

	log.Info().Msg("Relay server stopped")
}
