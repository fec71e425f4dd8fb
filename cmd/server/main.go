package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/inkwell-hq/inkwell/internal/api"
	"github.com/inkwell-hq/inkwell/internal/app"
	"github.com/inkwell-hq/inkwell/internal/app/maintenance"
	iauth "github.com/inkwell-hq/inkwell/internal/auth"
	"github.com/inkwell-hq/inkwell/internal/cache"
	"github.com/inkwell-hq/inkwell/internal/database"
	"github.com/inkwell-hq/inkwell/internal/handlers"
	"github.com/inkwell-hq/inkwell/internal/realtime"
	"github.com/inkwell-hq/inkwell/internal/services"
	"github.com/inkwell-hq/inkwell/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "inkwell: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.WithModule("server")

	db, err := database.Open(cfg.DatabaseConfigValue())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	jwtService, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         cfg.Auth.JWT.Secret,
		Issuer:         cfg.Auth.JWT.Issuer,
		AccessTokenTTL: cfg.Auth.JWT.TTL,
	})
	if err != nil {
		return fmt.Errorf("jwt service: %w", err)
	}

	hub := realtime.NewHub()
	registry := services.NewSessionRegistry()

	sessionSvc, err := services.NewSessionService(db, registry, hub)
	if err != nil {
		return err
	}

	presenceOpts := []services.PresenceServiceOption{}
	var cursorCache *cache.RedisPresenceCache
	if cfg.Cache.Redis.Enabled {
		redisCfg := cfg.RedisConfigValue()
		cursorCache, err = cache.NewRedisPresenceCache(redisCfg)
		if err != nil {
			return fmt.Errorf("presence cache: %w", err)
		}
		presenceOpts = append(presenceOpts, services.WithPresenceCache(cursorCache))
		log.Info("presence cache enabled", zap.String("address", redisCfg.Address))
	}
	presenceSvc, err := services.NewPresenceService(db, registry, hub, presenceOpts...)
	if err != nil {
		return err
	}

	editSvc, err := services.NewEditService(db, registry, hub)
	if err != nil {
		return err
	}
	commentSvc, err := services.NewCommentService(db, registry, hub,
		services.WithMaxCommentLength(cfg.Collab.MaxCommentLength))
	if err != nil {
		return err
	}
	snapshotSvc, err := services.NewSnapshotService(db, registry, hub)
	if err != nil {
		return err
	}

	if err := sessionSvc.RestoreRegistry(ctx); err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}
	log.Info("session registry restored", zap.Int("active_sessions", len(registry.List())))

	sweeper := maintenance.NewSweeper(db, sessionSvc, registry, presenceSvc,
		maintenance.WithIdleTTL(cfg.Collab.SessionIdleTTL),
		maintenance.WithSweepInterval(cfg.Collab.SweepInterval),
	)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}

	router := api.NewRouter(jwtService, api.Handlers{
		Health:    handlers.NewHealthHandler(db),
		Sessions:  handlers.NewSessionHandler(sessionSvc),
		Edits:     handlers.NewEditHandler(editSvc),
		Comments:  handlers.NewCommentHandler(commentSvc),
		Snapshots: handlers.NewSnapshotHandler(snapshotSvc),
		Socket: handlers.NewCollabSocketHandler(
			hub, jwtService, sessionSvc, presenceSvc, editSvc, commentSvc, snapshotSvc),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var errs error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	<-sweeper.Stop().Done()
	if cursorCache != nil {
		if err := cursorCache.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close presence cache: %w", err))
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errs
}
