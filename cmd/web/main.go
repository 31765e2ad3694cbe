package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"splicework.tv/mediasync/cmd/web/internal/web"
	"splicework.tv/mediasync/internal/application"
	"splicework.tv/mediasync/internal/assetsync"
	"splicework.tv/mediasync/internal/config"
	"splicework.tv/mediasync/internal/db"
	"splicework.tv/mediasync/internal/storage"
	"splicework.tv/mediasync/internal/streaming"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting mediasync web service")

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if conf.DatabaseRetries <= 0 {
		conf.DatabaseRetries = 10
	}

	pool, err := application.OpenDBPoolWithRetry(ctx, *conf)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	dbc, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		slog.Error("failed to create database connection", "error", err)
		os.Exit(1)
	}
	defer dbc.Close()

	inventory, err := storage.NewInventory(ctx, *conf)
	if err != nil {
		slog.Error("failed to initialize object store client", "error", err)
		os.Exit(1)
	}

	stream := streaming.NewClient(conf.StreamingAPIBaseURL, conf.StreamingDeliveryHost, conf.StreamingAPIToken)
	verifier := streaming.NewVerifier(conf.StreamingWebhookSecret, conf.WebhookTolerance())

	catalog := assetsync.NewPGCatalog(dbc)
	pipeline := assetsync.NewPipeline(catalog, inventory, stream, conf.SignedURLTTL())
	reconciler := assetsync.NewReconciler(pipeline, catalog, inventory, stream,
		conf.SyncWorkers, int32(conf.SyncBatchLimit), conf.StorageUploadPrefix)

	// Scheduled reconciliation: webhooks are best-effort delivery, this loop
	// is the guarantee that the catalog converges anyway.
	if interval := conf.SyncInterval(); interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					res, err := reconciler.Run(ctx)
					if err != nil {
						if !errors.Is(err, assetsync.ErrSyncInFlight) {
							slog.Error("scheduled reconciliation failed", "error", err)
						}
						continue
					}
					slog.Info("scheduled reconciliation finished",
						"rows_migrated", res.RowsMigrated,
						"thumbnails_backfilled", res.ThumbnailsBackfilled,
						"errors", res.Errors,
						"findings", len(res.Findings),
					)
				}
			}
		}()
		slog.Info("Scheduled reconciliation enabled", "interval", interval)
	}

	e, err := web.NewWebserver(ctx, *conf, dbc, catalog, inventory, pipeline, reconciler, verifier)
	if err != nil {
		slog.Error("failed to create webserver", "error", err)
		os.Exit(1)
	}

	addr := ":" + strconv.Itoa(conf.WebServerPort)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	slog.Info("Listening", "addr", addr)
	if err := e.Start(addr); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		// Echo returns an error on Shutdown; treat it as normal if context is done.
		if ctx.Err() != nil {
			return
		}
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
