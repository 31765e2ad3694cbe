// syncctl is the operator entry point for the video-asset synchronization
// subsystem: run a reconciliation pass by hand, or print the storage audit
// without touching anything.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

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

	root := &cobra.Command{
		Use:           "syncctl",
		Short:         "Operate the video-asset synchronization subsystem",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var workers int
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one reconciliation pass and print the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, cleanup, err := buildReconciler(cmd.Context(), workers)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := r.Run(cmd.Context())
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		},
	}
	runCmd.Flags().IntVar(&workers, "workers", 0, "per-row worker count (0 uses the configured default)")

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Cross-check object store and catalog; report orphans and dangling references",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, cleanup, err := buildReconciler(cmd.Context(), 0)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := r.Audit(cmd.Context())
			if err != nil {
				return err
			}
			printFindings(cmd, res)
			return nil
		},
	}

	root.AddCommand(runCmd, auditCmd)

	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("syncctl failed", "error", err)
		os.Exit(1)
	}
}

func buildReconciler(ctx context.Context, workers int) (*assetsync.Reconciler, func(), error) {
	conf, err := config.LoadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	if conf.DatabaseRetries <= 0 {
		conf.DatabaseRetries = 3
	}
	if workers <= 0 {
		workers = conf.SyncWorkers
	}

	pool, err := application.OpenDBPoolWithRetry(ctx, *conf)
	if err != nil {
		return nil, nil, err
	}

	dbc, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	inventory, err := storage.NewInventory(ctx, *conf)
	if err != nil {
		dbc.Close()
		return nil, nil, err
	}

	stream := streaming.NewClient(conf.StreamingAPIBaseURL, conf.StreamingDeliveryHost, conf.StreamingAPIToken)
	catalog := assetsync.NewPGCatalog(dbc)
	pipeline := assetsync.NewPipeline(catalog, inventory, stream, conf.SignedURLTTL())
	reconciler := assetsync.NewReconciler(pipeline, catalog, inventory, stream,
		workers, int32(conf.SyncBatchLimit), conf.StorageUploadPrefix)

	return reconciler, dbc.Close, nil
}

func printResult(cmd *cobra.Command, res *assetsync.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "pass finished in %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(out, "  rows migrated:         %d\n", res.RowsMigrated)
	fmt.Fprintf(out, "  thumbnails backfilled: %d\n", res.ThumbnailsBackfilled)
	fmt.Fprintf(out, "  errors:                %d\n", res.Errors)
	if res.Cancelled {
		fmt.Fprintln(out, "  (pass was cancelled; counts are partial)")
	}

	for _, a := range res.Actions {
		if a.Error != "" {
			fmt.Fprintf(out, "  ERR  %-22s video=%s %s: %s\n", a.Kind, a.VideoID, a.Detail, a.Error)
			continue
		}
		if a.Kind == assetsync.ActionSkipped {
			continue
		}
		fmt.Fprintf(out, "  ok   %-22s video=%s asset=%s %s\n", a.Kind, a.VideoID, a.AssetID, a.Detail)
	}

	printFindings(cmd, res)
}

func printFindings(cmd *cobra.Command, res *assetsync.Result) {
	out := cmd.OutOrStdout()
	if len(res.Findings) == 0 {
		fmt.Fprintln(out, "no audit findings")
		return
	}

	fmt.Fprintf(out, "%d audit finding(s):\n", len(res.Findings))
	for _, f := range res.Findings {
		switch f.Kind {
		case assetsync.FindingOrphanedObject:
			fmt.Fprintf(out, "  orphaned object     %s (%s, modified %s)\n",
				f.Key, humanize.Bytes(uint64(f.Size)), humanize.Time(f.LastModified))
		case assetsync.FindingDanglingReference:
			fmt.Fprintf(out, "  dangling reference  %s (catalog row points at a missing object)\n", f.Key)
		}
	}
}
