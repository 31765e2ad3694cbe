package db

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// VideoStatus is the ingestion lifecycle state of a video asset.
type VideoStatus string

const (
	VideoStatusUploading     VideoStatus = "uploading"
	VideoStatusStored        VideoStatus = "stored"
	VideoStatusStreamPending VideoStatus = "stream_pending"
	VideoStatusFinal         VideoStatus = "final"
	VideoStatusFailed        VideoStatus = "failed"
)

// Video is a catalog row for a single commissioned video asset.
type Video struct {
	ID            pgtype.UUID
	ProjectID     pgtype.UUID
	Title         string
	Status        VideoStatus
	FailureReason *string
	CreatedAt     pgtype.Timestamptz
	UpdatedAt     pgtype.Timestamptz
}

// TechnicalSpec holds the per-video file and streaming references. Exactly one
// row exists per video; a re-upload creates a new row for a new video version.
type TechnicalSpec struct {
	ID                  pgtype.UUID
	VideoID             pgtype.UUID
	Filename            string
	ObjectStoreKey      *string
	StreamingAssetID    *string
	ThumbnailURL        *string
	ThumbnailVariantKey *string
	DurationSeconds     *float64
	CreatedAt           pgtype.Timestamptz
}

// MigrationEligible reports whether the spec has a durable raw file but has
// not yet been handed to the streaming service.
func (s *TechnicalSpec) MigrationEligible() bool {
	return s.StreamingAssetID == nil && s.ObjectStoreKey != nil
}
