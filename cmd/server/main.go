package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"docmeta/internal/app"
	"docmeta/internal/config"
	"docmeta/internal/handler"
	"docmeta/internal/logger"
	"docmeta/internal/router"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("server")

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	// Initialize handlers
	healthH := handler.NewHealthHandler(map[string]handler.ReadinessCheck{
		"extractor": a.ExtractorReady,
	})
	runH := handler.NewRunHandler(a.Service)
	validationH := handler.NewValidationHandler(a.Service)
	rulesH := handler.NewRulesHandler(a.Rules)

	// Setup router
	r := router.Setup(router.Handlers{
		Health:     healthH,
		Runs:       runH,
		Validation: validationH,
		Rules:      rulesH,
	}, cfg.CORS.AllowedOrigins, prometheus.DefaultGatherer)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	lg.Info("shutting down")
	a.StopRuns()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
