// Package stream_api holds the HTTP surface of the video-asset
// synchronization subsystem: the streaming service's webhook sink, the
// reconciliation trigger, and read-only status for the app layer.
package stream_api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"splicework.tv/mediasync/internal/assetsync"
	"splicework.tv/mediasync/internal/streaming"
)

// EventApplier drives verified stream events into the catalog.
type EventApplier interface {
	ApplyStreamEvent(ctx context.Context, ev streaming.Event) error
}

const maxWebhookBody = 1 << 20

// HandleStreamWebhook authenticates and applies a status notification from
// the streaming service. Verification is a hard gate: nothing is read from
// the body, let alone written to the catalog, until the signature checks out.
func HandleStreamWebhook(verifier *streaming.Verifier, applier EventApplier) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
		}

		header := c.Request().Header.Get(streaming.SignatureHeader)
		if err := verifier.Verify(body, header, time.Now()); err != nil {
			slog.Warn("webhook rejected", "error", err, "remote_ip", c.RealIP())
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "signature verification failed"})
		}

		ev, err := streaming.ParseEvent(body)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed event body"})
		}

		if err := applier.ApplyStreamEvent(c.Request().Context(), ev); err != nil {
			if errors.Is(err, assetsync.ErrUnknownAsset) {
				// No catalog row yet; the reconciler will converge this asset.
				// 2xx keeps the service from redelivering forever.
				slog.Warn("webhook for unknown asset", "asset_id", ev.AssetID)
				return c.JSON(http.StatusOK, echo.Map{"status": "ignored"})
			}
			slog.Error("failed to apply stream event", "asset_id", ev.AssetID, "error", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "catalog update failed"})
		}

		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	}
}
