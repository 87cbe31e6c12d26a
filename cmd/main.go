package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"chatsync/api"
	"chatsync/contract"
	"chatsync/domain"
	"chatsync/internal"
	"chatsync/observability"
	"chatsync/repositories"
	"chatsync/runtime"
	"chatsync/runtime/workers"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the whole engine and blocks until shutdown. Everything is
// returned as an error instead of exiting directly so the deferred closes
// (badger, bluge, http server) always execute.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// 2. Storage. A durable open failure is not fatal: the engine starts in
	// ephemeral mode and every feature keeps working for the process lifetime.
	memStore := repositories.NewMemoryStore(log, config.RingCapacity)
	ephemeralIDs := repositories.NewEphemeralIdentities()

	var (
		store      contract.MessageStore     = memStore
		identities contract.IdentityProvider = ephemeralIDs
		rooms      contract.RoomDirectory
		degraded   runtime.DegradedReporter
		db         *badger.DB
	)

	db, index, err := openDurable(config)
	if err != nil {
		log.Warn("durable backend unavailable, starting in ephemeral mode", "error", err)
		metrics.SetDegraded(true)
		rooms = repositories.NewMemoryDirectory(log, config.MaxRoomMembers)
	} else {
		defer func() {
			log.Info("Closing BadgerDB and search index...")
			_ = index.Close()
			_ = db.Close()
		}()

		durableStore := repositories.NewBadgerStore(db, index, log)
		failover := repositories.NewFailover(log, metrics,
			durableStore, memStore,
			repositories.NewGuestIdentities(db, log), ephemeralIDs)
		store, identities, degraded = failover, failover, failover

		durableRooms, err := repositories.NewDurableDirectory(db, log, config.MaxRoomMembers)
		if err != nil {
			log.Warn("room directory not recoverable, starting empty", "error", err)
			rooms = repositories.NewMemoryDirectory(log, config.MaxRoomMembers)
		} else {
			rooms = durableRooms
		}
	}

	// 3. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := seedDefaultRooms(ctx, rooms, config.MaxRoomMembers); err != nil {
		return fmt.Errorf("seeding default rooms: %w", err)
	}

	// 4. Engine
	var sendLimit rate.Limit
	if config.SendRatePerMin > 0 {
		sendLimit = rate.Every(time.Minute / time.Duration(config.SendRatePerMin))
	}
	connections := runtime.NewRegistry()
	broadcaster := runtime.NewBroadcaster(log, connections, rooms, config.DeliveryTimeout, metrics)
	engine := runtime.NewSyncEngine(log, runtime.EngineConfig{
		HistoryLimit:   config.HistoryLimit,
		MaxRoomMembers: config.MaxRoomMembers,
		SendRateLimit:  sendLimit,
		SendBurst:      config.SendBurst,
		SinkBufferSize: config.SinkBufferSize,
		SinkTimeout:    config.SinkTimeout,
	}, connections, broadcaster, store, rooms, identities, degraded, metrics)

	// 5. Supervision & Telemetry
	monitor := observability.NewMonitor(log)
	sup := workers.NewSupervisor(log)
	go sup.Add(workers.NewTelemetryWorker(log, config.MetricInterval, monitor, engine)).Run(ctx)

	if config.DebugPort > 0 && db != nil {
		internal.StartDebugServer(db, config.DebugPort, nil, monitor.Snapshot)
		log.Info("debug inspector listening", "port", config.DebugPort)
	}

	// 6. HTTP read-side API & metrics
	router := mux.NewRouter()
	api.NewServer(log, store, rooms).Register(router)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{Addr: address, Handler: router}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", address, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 8. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	sup.Stop()
	log.Info("Program stopped cleanly")

	return nil
}

func openDurable(config Config) (*badger.DB, *bluge.Writer, error) {
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, nil, fmt.Errorf("badger opening failed: %w", err)
	}
	index, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("bluge opening failed: %w", err)
	}
	return db, index, nil
}

func seedDefaultRooms(ctx context.Context, rooms contract.RoomDirectory, maxMembers int) error {
	defaults := []domain.RoomDefaults{
		{ID: "general", Name: "General", Description: "Main chat room", MaxMembers: maxMembers},
		{ID: "random", Name: "Random", Description: "Off-topic discussions", MaxMembers: maxMembers},
		{ID: "tech", Name: "Tech Talk", Description: "Technology discussions", MaxMembers: maxMembers},
		{ID: "announcements", Name: "Announcements", Description: "Important updates", MaxMembers: maxMembers},
	}
	for _, d := range defaults {
		if _, err := rooms.EnsureRoom(ctx, d); err != nil {
			return err
		}
	}
	return nil
}
