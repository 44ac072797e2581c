package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"fundwatch/internal/alerts"
	"fundwatch/internal/api"
	"fundwatch/internal/auth"
	"fundwatch/internal/chat"
	"fundwatch/internal/notify"
	"fundwatch/internal/resilience"
	"fundwatch/internal/security"
	"fundwatch/internal/stream"
)

func newServeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP push server and the alert scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)
			return runServe(cmd, app)
		},
	}
}

func runServe(cmd *cobra.Command, app *App) (err error) {
	ctx := cmd.Context()
	cfg := app.Config
	logger := app.Logger

	db, err := app.openStore()
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, db.Close()) }()

	relay, closeRelay, err := app.newRelay(cmd)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeRelay()) }()

	audit, err := security.NewAuditLogger(cfg.Audit)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, audit.Close()) }()

	registry := stream.NewRegistry(stream.RegistryConfig{
		BufferSize: cfg.Push.BufferSize,
		KeepAlive:  cfg.Push.KeepAlive,
	}, logger)

	// With a relay every event goes through Redis, so each server replica
	// delivers to the connections it owns.
	var pusher notify.Pusher = registry
	if relay != nil {
		pusher = relay
	}
	emitter := notify.NewEmitter(db, pusher, logger)

	reconciler, quotes, confirmations := app.newReconciler()
	scheduler := alerts.NewScheduler(alerts.SchedulerConfig{
		Interval:   cfg.Scheduler.Interval,
		FetchPause: cfg.Scheduler.FetchPause,
		Window:     cfg.TradingWindow(),
		Workers:    cfg.Scheduler.Workers,
	}, db, reconciler, emitter, alerts.NewCooldown(db, cfg.Scheduler.Cooldown), logger)

	var chatFn api.ChatFunc
	if streamer, err := chat.NewStreamer(cfg.Chat); err == nil {
		chatFn = api.ChatFromStreamer(streamer)
	} else {
		logger.Info().Msg("Chat upstream not configured, chat stream disabled")
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Warn().Msg("auth.jwt_secret is empty, every user token will be rejected")
	}

	health := resilience.NewHealthMonitor(5 * time.Second)
	health.RegisterComponent("database", resilience.DatabaseHealthCheck(db.Ping))
	health.RegisterComponent("feeds", resilience.BreakerHealthCheck(quotes.Breaker(), confirmations.Breaker()))
	health.RegisterComponent("connections", connectionsHealthCheck(registry))
	health.RegisterComponent("scheduler", schedulerHealthCheck(scheduler))
	if relay != nil {
		health.RegisterComponent("relay", resilience.DatabaseHealthCheck(relay.Ping))
	}

	handler := api.NewHandler(api.Deps{
		Rules:         db,
		Notifications: db,
		Emitter:       emitter,
		Registry:      registry,
		Verifier:      auth.NewVerifier(cfg.Auth.JWTSecret),
		AdminKey:      cfg.Auth.AdminKey,
		Chat:          chatFn,
		Health:        health,
		Audit:         audit,
	}, logger)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		registry.KeepAlive(ctx, cfg.Push.KeepAlive)
		return nil
	})
	if relay != nil {
		p.Go(func(ctx context.Context) error {
			return relay.Forward(ctx, registry)
		})
	}
	p.Go(func(ctx context.Context) error {
		return scheduler.Run(ctx)
	})
	p.Go(func(ctx context.Context) error {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	p.Go(func(ctx context.Context) error {
		<-ctx.Done()
		logger.Info().Msg("Shutting down server")

		// Push streams only return once their connection is dropped.
		registry.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = p.Wait()
	logger.Info().Msg("Server stopped")
	return err
}

// connectionsHealthCheck reports open push connections with the delivered
// and dropped frame counters.
func connectionsHealthCheck(r *stream.Registry) resilience.HealthCheck {
	return resilience.StatsHealthCheck("push", func() interface{} { return r.Metrics() })
}

// schedulerHealthCheck reports the most recent tick.
func schedulerHealthCheck(s *alerts.Scheduler) resilience.HealthCheck {
	return func(ctx context.Context) resilience.ComponentHealth {
		report, ok := s.LastReport()
		if !ok {
			return resilience.ComponentHealth{
				Status:  resilience.HealthStatusHealthy,
				Message: "no tick yet",
			}
		}
		return resilience.ComponentHealth{
			Status:  resilience.HealthStatusHealthy,
			Message: report.String(),
			Details: map[string]interface{}{"last_tick": report},
		}
	}
}
