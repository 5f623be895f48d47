// Package agentroom wires the room coordinator service: durable stores, the
// room hub, the WebSocket gateway, and the observability surface.
package agentroom

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/agentroom-dev/agentroom/internal/gateway"
	"github.com/agentroom-dev/agentroom/internal/history"
	"github.com/agentroom-dev/agentroom/internal/room"
	"github.com/agentroom-dev/agentroom/pkg/config"
	"github.com/agentroom-dev/agentroom/pkg/observability"
	"github.com/agentroom-dev/agentroom/pkg/statestore"
)

const shutdownTimeout = 10 * time.Second

// Run starts the service and blocks until ctx is canceled, then shuts down
// gracefully: gateway first, then rooms (persisting final snapshots), then
// the stores.
func Run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	states, err := openStateStore(cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer states.Close()

	logStore, err := history.NewSQLiteStore(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer logStore.Close()

	observability.InitMetrics()
	checker := observability.InitHealthChecker()
	checker.RegisterCheck(observability.PingCheck())
	checker.RegisterCheck(observability.HistoryCheck(logStore.Ping))
	checker.RegisterCheck(observability.StateStoreCheck(states.Ping))

	hub := NewHub(states, logStore, room.Options{CommandBuffer: cfg.Room.CommandBuffer})

	gw := gateway.New(hub, logStore, gateway.Options{
		SendBuffer:      cfg.Room.SendBuffer,
		FramesPerSecond: cfg.Room.RateLimit.FramesPerSecond,
		Burst:           cfg.Room.RateLimit.Burst,
	})

	gatewaySrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      gw.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
	}
	metricsSrv := observability.NewServer(cfg.MetricsPort)

	summaries := cron.New()
	if _, err := summaries.AddFunc(cfg.SummarySchedule, func() {
		writeSummaries(hub, logStore)
	}); err != nil {
		return fmt.Errorf("invalid summary schedule %q: %w", cfg.SummarySchedule, err)
	}
	summaries.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("[Server] gateway listening on %s", cfg.ListenAddr)
		if err := gatewaySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("gateway server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Printf("[Server] metrics and health on :%d", cfg.MetricsPort)
		if err := metricsSrv.Start(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		summaries.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := gatewaySrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[Server] gateway shutdown: %v", err)
		}
		if err := hub.Close(shutdownCtx); err != nil {
			log.Printf("[Server] hub shutdown: %v", err)
		}
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[Server] metrics shutdown: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func openStateStore(cfg *config.Config) (statestore.Store, error) {
	switch cfg.State.Backend {
	case "redis":
		return statestore.NewRedisStore(statestore.RedisConfig{
			Addr:     cfg.State.Redis.Addr,
			Password: cfg.State.Redis.Password,
			DB:       cfg.State.Redis.DB,
			Prefix:   cfg.State.Redis.Prefix,
		})
	default:
		return statestore.NewFileStore(cfg.State.Dir)
	}
}

// writeSummaries mirrors live room aggregates into the durable log. Runs on
// the summary schedule; failures are per-room and logged.
func writeSummaries(hub *Hub, logStore history.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, sum := range hub.Summaries(ctx) {
		if err := logStore.UpsertRoomSummary(ctx, sum); err != nil {
			observability.RecordHistoryWriteFailure("room_summary")
			log.Printf("[Server] summary write for room %s failed: %v", sum.RoomID, err)
		}
	}
}
