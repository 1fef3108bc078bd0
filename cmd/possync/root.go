package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blendsoftware/possync/internal/api"
	"github.com/blendsoftware/possync/internal/backup"
	"github.com/blendsoftware/possync/internal/catalog"
	"github.com/blendsoftware/possync/internal/checkout"
	"github.com/blendsoftware/possync/internal/config"
	"github.com/blendsoftware/possync/internal/connectivity"
	"github.com/blendsoftware/possync/internal/remote"
	"github.com/blendsoftware/possync/internal/status"
	"github.com/blendsoftware/possync/internal/store"
	"github.com/blendsoftware/possync/internal/syncer"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "possync",
	Short: "PosSync - offline-first POS sync agent",
	Long:  "Runs the on-device sales terminal agent: local replica, outbox sync and the register API.",
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(outboxCmd)
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Initialize logger
	initLogger(cfg.Log)
	slog.Info("configuration loaded", "kiosco_id", cfg.Kiosco.ID)

	// 4. Initialize the replica store (migrations, WAL mode)
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	// 5. Remote authority client
	client := remote.NewClient(remote.Options{
		BaseURL:          cfg.Remote.BaseURL,
		APIKey:           cfg.Remote.APIKey,
		Timeout:          time.Duration(cfg.Remote.Timeout),
		RetryBase:        time.Duration(cfg.Sync.RetryBase),
		RetryCap:         time.Duration(cfg.Sync.RetryCap),
		RetryMaxAttempts: cfg.Sync.RetryMaxAttempts,
	})
	slog.Info("remote client initialized", "base_url", cfg.Remote.BaseURL)

	// 6. Sync machinery
	monitor := connectivity.NewMonitor(client, time.Duration(cfg.Connectivity.ProbeInterval))
	broadcaster := status.NewBroadcaster()
	engine := syncer.NewEngine(db, client, broadcaster)
	coordinator := syncer.NewCoordinator(engine, db, monitor, time.Duration(cfg.Sync.Interval))
	retention := syncer.NewRetentionWorker(db,
		time.Duration(cfg.Sync.RetentionWindow),
		time.Duration(cfg.Sync.RetentionSweep))

	// 7. Backup uploader (noop when no bucket configured)
	uploader, err := backup.NewUploader(cfg.Backup)
	if err != nil {
		return err
	}

	// 8. HTTP router for the register UI
	handler := api.NewHandler(
		db,
		catalog.NewService(db),
		checkout.NewAdapter(db, cfg.Kiosco.ID),
		engine,
		broadcaster,
		monitor,
		Version,
	)
	router := api.NewRouter(handler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 9. Worker lifecycle
	var wg sync.WaitGroup
	startWorker(ctx, &wg, "connectivity-monitor", monitor.Run)
	startWorker(ctx, &wg, "sync-coordinator", coordinator.Run)
	startWorker(ctx, &wg, "sale-retention", retention.Run)
	if uploader.Enabled() {
		backupWorker := backup.NewWorker(uploader, cfg.Kiosco.ID, db.Path(),
			time.Duration(cfg.Backup.Interval))
		startWorker(ctx, &wg, "db-backup", backupWorker.Run)
	}

	// 10. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called
		// gracefully. Anything else is a real failure.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 11. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 12. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 12a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 12b. Wait for workers to complete
	wg.Wait()

	// 12c. Close store
	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func initLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context
// cancellation. Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn(ctx)
	}()
}
