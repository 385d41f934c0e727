package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"med-records/internal/config"
	"med-records/internal/server"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "backend").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		logger = logger.Level(level)
	}

	dbConn, err := server.OpenDB(cfg.Database.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("db connect failed")
	}
	defer func() { _ = dbConn.Close() }()

	logger.Info().Msg("running migrations")
	if err := server.RunMigrations(dbConn); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}
	logger.Info().Msg("migrations complete")

	mc, err := server.NewMinioClient(context.Background(),
		cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey, cfg.Storage.Bucket)
	if err != nil {
		logger.Fatal().Err(err).Msg("object storage connect failed")
	}

	srv := server.New(server.Config{
		Addr: cfg.Server.Addr,
		Auth: server.AuthConfig{
			AdminUser:     cfg.Auth.AdminUser,
			AdminPass:     cfg.Auth.AdminPass,
			SessionSecret: cfg.Auth.SessionSecret,
			SessionTTL:    cfg.Auth.SessionTTL,
			CookieName:    cfg.Auth.CookieName,
			DB:            dbConn,
		},
		DB:     dbConn,
		Store:  server.NewObjectStore(mc, cfg.Storage.Bucket),
		Logger: logger,
	})

	// Start the HTTP server in a background goroutine so we can listen
	// for OS signals while it runs.
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("starting")
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Fatal().Err(err).Msg("shutdown error")
		}
		logger.Info().Msg("shutdown complete")
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server error")
		}
	}
}
