package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/userdir/internal/core"
	"github.com/JonMunkholm/userdir/internal/database"
	"github.com/JonMunkholm/userdir/internal/metrics"
	"github.com/JonMunkholm/userdir/internal/password"
	"github.com/JonMunkholm/userdir/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"time_zone", cfg.Server.TimeZone,
		"db_max_conns", cfg.Database.MaxConns,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"import_chunk_size", cfg.Import.ChunkSize,
		"export_batch_size", cfg.Export.BatchSize,
		"require_api_key", cfg.Security.RequireAPIKey,
	)

	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(cfg.Database.URL, database.Up); err != nil {
			return err
		}
	}

	pool, err := database.Connect(ctx, cfg.Database, cfg.Server.TimeZone)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := database.NewStore(pool)
	service := core.NewService(store, password.NewHasher(cfg.Import.PasswordCost), cfg)
	m := metrics.New(service.Limiter().ActiveCount)
	service.SetRecorder(m)

	server := web.NewServer(service, store, m, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Let running imports finish their chunks before the pool closes.
	limiter := service.Limiter()
	if active := limiter.ActiveCount(); active > 0 {
		slog.Info("waiting for imports to complete", "active", active)
		if err := limiter.WaitForDrain(shutdownCtx); err != nil {
			slog.Warn("imports did not complete in time", "error", err)
		} else {
			slog.Info("all imports completed")
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}
