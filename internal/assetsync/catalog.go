package assetsync

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"splicework.tv/mediasync/internal/db"
)

// PGCatalog implements Catalog on the Postgres catalog.
type PGCatalog struct {
	dbc *db.DatabaseConnection
}

func NewPGCatalog(dbc *db.DatabaseConnection) *PGCatalog {
	return &PGCatalog{dbc: dbc}
}

// RegisterVideo inserts the video and its technical spec in one transaction.
// The unique(video_id) constraint rejects a concurrent duplicate registration.
func (c *PGCatalog) RegisterVideo(ctx context.Context, params RegisterVideoParams) (*db.Video, *db.TechnicalSpec, error) {
	q, tx, err := c.dbc.NewWithTX(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	status := db.VideoStatusUploading
	var key *string
	if params.ObjectStoreKey != "" {
		status = db.VideoStatusStored
		key = &params.ObjectStoreKey
	}

	video, err := q.InsertVideo(ctx, db.InsertVideoParams{
		ID:        db.NewPgUUID(uuid.New()),
		ProjectID: db.NewPgUUID(params.ProjectID),
		Title:     params.Title,
		Status:    status,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("insert video: %w", err)
	}

	spec, err := q.InsertTechnicalSpec(ctx, db.InsertTechnicalSpecParams{
		ID:             db.NewPgUUID(uuid.New()),
		VideoID:        video.ID,
		Filename:       params.Filename,
		ObjectStoreKey: key,
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, nil, fmt.Errorf("technical spec already registered for video: %w", err)
		}
		return nil, nil, fmt.Errorf("insert technical spec: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return video, spec, nil
}

func (c *PGCatalog) VideoByID(ctx context.Context, videoID pgtype.UUID) (*db.Video, error) {
	return c.dbc.Queries(ctx).GetVideo(ctx, videoID)
}

func (c *PGCatalog) SpecByVideoID(ctx context.Context, videoID pgtype.UUID) (*db.TechnicalSpec, error) {
	return c.dbc.Queries(ctx).GetSpecByVideoID(ctx, videoID)
}

func (c *PGCatalog) SpecByStreamingAssetID(ctx context.Context, assetID string) (*db.TechnicalSpec, error) {
	return c.dbc.Queries(ctx).GetSpecByStreamingAssetID(ctx, assetID)
}

func (c *PGCatalog) ListMigrationEligible(ctx context.Context, limit int32) ([]*db.TechnicalSpec, error) {
	return c.dbc.Queries(ctx).ListMigrationEligibleSpecs(ctx, limit)
}

func (c *PGCatalog) ListMissingThumbnail(ctx context.Context, limit int32) ([]*db.TechnicalSpec, error) {
	return c.dbc.Queries(ctx).ListSpecsMissingThumbnail(ctx, limit)
}

func (c *PGCatalog) ObjectStoreKeys(ctx context.Context) ([]string, error) {
	return c.dbc.Queries(ctx).ListObjectStoreKeys(ctx)
}

func (c *PGCatalog) RecordObjectStoreKey(ctx context.Context, specID pgtype.UUID, key string) (bool, error) {
	return c.dbc.Queries(ctx).SetObjectStoreKey(ctx, specID, key)
}

func (c *PGCatalog) ClaimStreamingAsset(ctx context.Context, specID pgtype.UUID, assetID string) (bool, error) {
	return c.dbc.Queries(ctx).SetStreamingAssetID(ctx, specID, assetID)
}

func (c *PGCatalog) FillThumbnailURL(ctx context.Context, specID pgtype.UUID, url string) (bool, error) {
	return c.dbc.Queries(ctx).SetThumbnailURL(ctx, specID, url)
}

func (c *PGCatalog) RecordDuration(ctx context.Context, specID pgtype.UUID, seconds float64) error {
	return c.dbc.Queries(ctx).SetSpecDuration(ctx, specID, seconds)
}

func (c *PGCatalog) AdvanceStatus(ctx context.Context, videoID pgtype.UUID, from, to db.VideoStatus) (bool, error) {
	return c.dbc.Queries(ctx).SetVideoStatus(ctx, videoID, from, to)
}

func (c *PGCatalog) FailVideo(ctx context.Context, videoID pgtype.UUID, reason string) (bool, error) {
	return c.dbc.Queries(ctx).MarkVideoFailed(ctx, videoID, reason)
}
