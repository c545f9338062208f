package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ampguard/telemetry-core/internal/api"
	"github.com/ampguard/telemetry-core/internal/config"
	"github.com/ampguard/telemetry-core/internal/evaluator"
	"github.com/ampguard/telemetry-core/internal/identity"
	"github.com/ampguard/telemetry-core/internal/ingest"
	"github.com/ampguard/telemetry-core/internal/retention"
	"github.com/ampguard/telemetry-core/internal/rul"
	"github.com/ampguard/telemetry-core/pkg/hub"
	"github.com/ampguard/telemetry-core/pkg/log"
	"github.com/ampguard/telemetry-core/pkg/security"
	"github.com/ampguard/telemetry-core/pkg/storage"
	"github.com/spf13/cobra"
)

const evaluatorShardCount = 8

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the telemetry API, evaluator, and retention sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		log.Init(log.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})
		logger := log.WithComponent("serve")

		store, err := storage.Open(storage.Config{DSN: cfg.DatabaseURL, MaxConns: cfg.StoreMaxConns})
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		h := hub.New(func(batteryID string) string {
			siteID, err := store.SiteIDForBattery(context.Background(), batteryID)
			if err != nil {
				return ""
			}
			return siteID
		})
		h.Start()
		defer h.Stop()

		eval := evaluator.New(store, h, cfg.Evaluator, evaluatorShardCount)
		if err := eval.Start(context.Background()); err != nil {
			return fmt.Errorf("start evaluator: %w", err)
		}
		defer eval.Stop()

		rulProxy := rul.New(store, eval, rul.Config{
			ServiceURL:  cfg.RULServiceURL,
			MaxFailures: cfg.RULBreakerMaxFailures,
			Cooldown:    cfg.RULBreakerCooldown,
		})

		pipeline := ingest.New(store, eval, h, cfg.RateLimitSamplesPerMinute)

		tokens := security.NewTokenIssuer([]byte(cfg.TokenSigningSecret), cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
		identitySvc := identity.New(store, tokens, cfg.BcryptCost, cfg.RateLimitLoginPerMinute)

		sweeper := retention.NewSweeper(store, cfg.TelemetryRetentionDays, 24*time.Hour)
		sweeper.Start()
		defer sweeper.Stop()

		apiServer := api.New(api.Dependencies{
			Store:       store,
			Identity:    identitySvc,
			Ingest:      pipeline,
			RUL:         rulProxy,
			Hub:         h,
			StoreHealth: &api.StoreChecker{Store: store},
		})

		srv := &http.Server{Addr: cfg.HTTPAddr, Handler: apiServer}

		go func() {
			logger.Info().Str("addr", cfg.HTTPAddr).Msg("telemetryd listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("http server error")
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		logger.Info().Msg("shutting down")
		apiServer.CloseStreams("server is shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info().Msg("shutdown complete")
		return nil
	},
}
