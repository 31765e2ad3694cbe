package stream_api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"splicework.tv/mediasync/internal/assetsync"
	"splicework.tv/mediasync/internal/db"
	"splicework.tv/mediasync/pkg/utils/format"
)

type registerRequest struct {
	ProjectID      string `json:"project_id"`
	Title          string `json:"title"`
	Filename       string `json:"filename"`
	ObjectStoreKey string `json:"object_store_key"`
}

type videoResponse struct {
	ID               string     `json:"id"`
	ProjectID        string     `json:"project_id"`
	Title            string     `json:"title"`
	Status           string     `json:"status"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	Filename         string     `json:"filename,omitempty"`
	StreamingAssetID *string    `json:"streaming_asset_id,omitempty"`
	ThumbnailURL     *string    `json:"thumbnail_url,omitempty"`
	ThumbnailVariant *string    `json:"thumbnail_variant_key,omitempty"`
	DurationSeconds  *float64   `json:"duration_seconds,omitempty"`
	DurationDisplay  string     `json:"duration_display,omitempty"`
	RawFileURL       string     `json:"raw_file_url,omitempty"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
}

func buildVideoResponse(video *db.Video, spec *db.TechnicalSpec) videoResponse {
	resp := videoResponse{
		ID:            uuid.UUID(video.ID.Bytes).String(),
		ProjectID:     uuid.UUID(video.ProjectID.Bytes).String(),
		Title:         video.Title,
		Status:        string(video.Status),
		FailureReason: video.FailureReason,
		CreatedAt:     db.NilTimePtr(video.CreatedAt),
	}
	if spec != nil {
		resp.Filename = spec.Filename
		resp.StreamingAssetID = spec.StreamingAssetID
		resp.ThumbnailURL = spec.ThumbnailURL
		resp.ThumbnailVariant = spec.ThumbnailVariantKey
		resp.DurationSeconds = spec.DurationSeconds
		resp.DurationDisplay = format.DurationPtr(spec.DurationSeconds)
	}
	return resp
}

// HandleRegisterVideo is the app layer's entry into the ingestion pipeline:
// it records a completed raw upload and returns the new catalog row.
func HandleRegisterVideo(pipeline *assetsync.Pipeline) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req registerRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed request body"})
		}

		projectID, err := uuid.Parse(req.ProjectID)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid project_id"})
		}
		if req.Title == "" || req.Filename == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "title and filename are required"})
		}

		video, spec, err := pipeline.Register(c.Request().Context(), assetsync.RegisterVideoParams{
			ProjectID:      projectID,
			Title:          req.Title,
			Filename:       req.Filename,
			ObjectStoreKey: req.ObjectStoreKey,
		})
		if err != nil {
			slog.Error("video registration failed", "project_id", projectID, "error", err)
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "registration failed"})
		}

		return c.JSON(http.StatusCreated, buildVideoResponse(video, spec))
	}
}

type uploadCompleteRequest struct {
	ObjectStoreKey string `json:"object_store_key"`
}

// HandleUploadComplete records the durable raw object for a video that was
// registered before its upload finished, advancing it to stored. Confirming
// twice is a no-op; the response reports whether this call recorded the key.
func HandleUploadComplete(pipeline *assetsync.Pipeline) echo.HandlerFunc {
	return func(c echo.Context) error {
		videoID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid video id"})
		}

		var req uploadCompleteRequest
		if err := c.Bind(&req); err != nil || req.ObjectStoreKey == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "object_store_key is required"})
		}

		_, recorded, err := pipeline.ConfirmUpload(c.Request().Context(), videoID, req.ObjectStoreKey)
		if err != nil {
			if db.IsNotFound(err) {
				return c.JSON(http.StatusNotFound, echo.Map{"error": "video not found"})
			}
			slog.Error("upload confirmation failed", "video_id", videoID, "error", err)
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "confirmation failed"})
		}

		return c.JSON(http.StatusOK, echo.Map{"recorded": recorded})
	}
}

// HandleVideoStatus is the read-only status surface for the app layer. The
// raw-file URL, when the object is still referenced, is a short-lived signed
// link for preview/download fallback.
func HandleVideoStatus(catalog assetsync.Catalog, store assetsync.ObjectStore, signedURLTTL time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		videoID, err := db.ParsePgUUID(c.Param("id"))
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid video id"})
		}

		ctx := c.Request().Context()
		video, err := catalog.VideoByID(ctx, videoID)
		if err != nil {
			if db.IsNotFound(err) {
				return c.JSON(http.StatusNotFound, echo.Map{"error": "video not found"})
			}
			slog.Error("failed to load video", "video_id", c.Param("id"), "error", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "catalog unavailable"})
		}

		spec, err := catalog.SpecByVideoID(ctx, videoID)
		if err != nil && !db.IsNotFound(err) {
			slog.Error("failed to load technical spec", "video_id", c.Param("id"), "error", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "catalog unavailable"})
		}

		resp := buildVideoResponse(video, spec)
		if spec != nil && spec.ObjectStoreKey != nil {
			if url, err := store.SignedURL(ctx, *spec.ObjectStoreKey, signedURLTTL); err == nil {
				resp.RawFileURL = url
			} else {
				slog.Warn("failed to sign raw file url", "video_id", resp.ID, "error", err)
			}
		}

		return c.JSON(http.StatusOK, resp)
	}
}
