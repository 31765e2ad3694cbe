package stream_api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"splicework.tv/mediasync/internal/assetsync"
)

// SyncRunner runs one reconciliation pass.
type SyncRunner interface {
	Run(ctx context.Context) (*assetsync.Result, error)
}

// HandleSyncTrigger runs a reconciliation pass on demand and returns its
// structured result. The request context doubles as the operator abort
// channel: disconnecting stops new per-row work and returns partial counts.
func HandleSyncTrigger(runner SyncRunner) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, err := runner.Run(c.Request().Context())
		if err != nil {
			if errors.Is(err, assetsync.ErrSyncInFlight) {
				return c.JSON(http.StatusConflict, echo.Map{"error": "a reconciliation pass is already running"})
			}
			slog.Error("reconciliation pass failed", "error", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "reconciliation failed"})
		}

		slog.Info("reconciliation pass finished",
			"rows_migrated", res.RowsMigrated,
			"thumbnails_backfilled", res.ThumbnailsBackfilled,
			"errors", res.Errors,
			"findings", len(res.Findings),
			"cancelled", res.Cancelled,
		)
		return c.JSON(http.StatusOK, res)
	}
}
