package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/coursemart/marketplace/internal/api"
	"github.com/coursemart/marketplace/internal/auth"
	"github.com/coursemart/marketplace/internal/config"
	"github.com/coursemart/marketplace/internal/database"
	"github.com/coursemart/marketplace/internal/media"
	"github.com/coursemart/marketplace/internal/metrics"
	"github.com/coursemart/marketplace/internal/payment"
	"github.com/coursemart/marketplace/internal/purchase"
	"github.com/coursemart/marketplace/internal/reconcile"
)

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")

	return cmd
}

func serve(ctx context.Context, migrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := setupLogger(cfg.Env)
	log.Info("starting marketplace", slog.String("env", cfg.Env), slog.String("version", Version))
	log.Debug("debug messages are enabled")

	if cfg.Env == config.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if migrate {
		applied, err := database.Migrate(ctx, db, database.MigrateUp)
		if err != nil {
			return err
		}
		log.Info("migrations applied", slog.Int("count", len(applied)))
	}

	metrics.Register(prometheus.DefaultRegisterer)

	gateway, err := payment.New(cfg.Payment)
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return err
	}

	deps := api.Deps{
		DB:        db,
		Purchases: purchase.NewService(db, gateway, cfg.Payment.Currency, log),
		Verifier:  verifier,
		Gatherer:  prometheus.DefaultGatherer,
		Config:    cfg,
		Log:       log,
	}

	if cfg.Auth.WebhookSecret != "" {
		userSync, err := auth.NewUserSync(cfg.Auth.WebhookSecret)
		if err != nil {
			return err
		}
		deps.UserSync = userSync
	} else {
		log.Warn("CLERK_WEBHOOK_SECRET is not set, user sync webhook is disabled")
	}

	if cfg.Media.Enabled() {
		uploader, err := media.NewOSS(cfg.Media)
		if err != nil {
			return err
		}
		deps.Uploader = uploader
	} else {
		log.Warn("object storage is not configured, course thumbnails are disabled")
	}

	if cfg.Reconcile.Schedule != "" {
		job, err := reconcile.Schedule(cfg.Reconcile.Schedule, reconcile.NewReporter(db, cfg.Reconcile, log))
		if err != nil {
			return err
		}
		defer job.Stop()
		log.Info("reconcile job scheduled", slog.String("schedule", cfg.Reconcile.Schedule))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("server listening", slog.String("address", server.Addr), slog.String("payment_provider", gateway.Name()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	select {
	case <-done:
		log.Info("shutting down server...")
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop server gracefully", slog.Any("error", err))
		return err
	}

	log.Info("server stopped")
	return nil
}
