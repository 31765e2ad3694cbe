package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const videoColumns = `id, project_id, title, status, failure_reason, created_at, updated_at`

const specColumns = `id, video_id, filename, object_store_key, streaming_asset_id,
	thumbnail_url, thumbnail_variant_key, duration_seconds, created_at`

func scanVideo(row pgx.Row) (*Video, error) {
	var v Video
	err := row.Scan(&v.ID, &v.ProjectID, &v.Title, &v.Status, &v.FailureReason, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func scanSpec(row pgx.Row) (*TechnicalSpec, error) {
	var s TechnicalSpec
	err := row.Scan(&s.ID, &s.VideoID, &s.Filename, &s.ObjectStoreKey, &s.StreamingAssetID,
		&s.ThumbnailURL, &s.ThumbnailVariantKey, &s.DurationSeconds, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// InsertVideoParams contains the parameters for creating a new video row.
type InsertVideoParams struct {
	ID        pgtype.UUID
	ProjectID pgtype.UUID
	Title     string
	Status    VideoStatus
}

func (q *Queries) InsertVideo(ctx context.Context, params InsertVideoParams) (*Video, error) {
	return scanVideo(q.db.QueryRow(ctx, `
		INSERT INTO videos (id, project_id, title, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+videoColumns,
		params.ID, params.ProjectID, params.Title, params.Status))
}

// InsertTechnicalSpecParams contains the parameters for creating a spec row.
type InsertTechnicalSpecParams struct {
	ID             pgtype.UUID
	VideoID        pgtype.UUID
	Filename       string
	ObjectStoreKey *string
}

func (q *Queries) InsertTechnicalSpec(ctx context.Context, params InsertTechnicalSpecParams) (*TechnicalSpec, error) {
	return scanSpec(q.db.QueryRow(ctx, `
		INSERT INTO technical_specs (id, video_id, filename, object_store_key)
		VALUES ($1, $2, $3, $4)
		RETURNING `+specColumns,
		params.ID, params.VideoID, params.Filename, params.ObjectStoreKey))
}

func (q *Queries) GetVideo(ctx context.Context, id pgtype.UUID) (*Video, error) {
	return scanVideo(q.db.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id))
}

func (q *Queries) GetSpecByVideoID(ctx context.Context, videoID pgtype.UUID) (*TechnicalSpec, error) {
	return scanSpec(q.db.QueryRow(ctx, `SELECT `+specColumns+` FROM technical_specs WHERE video_id = $1`, videoID))
}

func (q *Queries) GetSpecByStreamingAssetID(ctx context.Context, assetID string) (*TechnicalSpec, error) {
	return scanSpec(q.db.QueryRow(ctx,
		`SELECT `+specColumns+` FROM technical_specs WHERE streaming_asset_id = $1`, assetID))
}

// ListMigrationEligibleSpecs returns specs with a durable raw file and no
// streaming registration yet. Failed videos are excluded; they stay visible
// to operators but never re-enter the eligibility scan.
func (q *Queries) ListMigrationEligibleSpecs(ctx context.Context, limit int32) ([]*TechnicalSpec, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+prefixed("s", specColumns)+`
		FROM technical_specs s
		JOIN videos v ON v.id = s.video_id
		WHERE s.object_store_key IS NOT NULL
		  AND s.streaming_asset_id IS NULL
		  AND v.status <> 'failed'
		ORDER BY s.created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSpecs(rows)
}

// ListSpecsMissingThumbnail returns specs with a streaming asset but no
// thumbnail URL recorded yet.
func (q *Queries) ListSpecsMissingThumbnail(ctx context.Context, limit int32) ([]*TechnicalSpec, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+prefixed("s", specColumns)+`
		FROM technical_specs s
		JOIN videos v ON v.id = s.video_id
		WHERE s.streaming_asset_id IS NOT NULL
		  AND s.thumbnail_url IS NULL
		  AND v.status <> 'failed'
		ORDER BY s.created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSpecs(rows)
}

// ListObjectStoreKeys returns every object key the catalog references.
func (q *Queries) ListObjectStoreKeys(ctx context.Context) ([]string, error) {
	rows, err := q.db.Query(ctx,
		`SELECT object_store_key FROM technical_specs WHERE object_store_key IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SetObjectStoreKey records the durable raw-file key for a spec whose upload
// finished after registration. The key is write-once: a row that already has
// one is left untouched and false is returned.
func (q *Queries) SetObjectStoreKey(ctx context.Context, specID pgtype.UUID, key string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE technical_specs
		SET object_store_key = $2
		WHERE id = $1
		  AND object_store_key IS NULL`,
		specID, key)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetStreamingAssetID records the streaming service's asset identifier. The
// precondition (migration-eligible) travels in the WHERE clause, so a row
// that was claimed concurrently is left untouched and false is returned.
// A streaming_asset_id is never overwritten once set.
func (q *Queries) SetStreamingAssetID(ctx context.Context, specID pgtype.UUID, assetID string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE technical_specs
		SET streaming_asset_id = $2
		WHERE id = $1
		  AND streaming_asset_id IS NULL
		  AND object_store_key IS NOT NULL`,
		specID, assetID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetThumbnailURL backfills the derived thumbnail URL. No-op (false) when the
// thumbnail is already set or the spec has no streaming asset.
func (q *Queries) SetThumbnailURL(ctx context.Context, specID pgtype.UUID, url string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE technical_specs
		SET thumbnail_url = $2
		WHERE id = $1
		  AND streaming_asset_id IS NOT NULL
		  AND thumbnail_url IS NULL`,
		specID, url)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetSpecDuration records the duration reported by the streaming service.
func (q *Queries) SetSpecDuration(ctx context.Context, specID pgtype.UUID, seconds float64) error {
	_, err := q.db.Exec(ctx,
		`UPDATE technical_specs SET duration_seconds = $2 WHERE id = $1`, specID, seconds)
	return err
}

// SetVideoStatus advances a video's lifecycle status only if the row is still
// in the expected prior state. Returns false when the transition already
// happened (or the row moved elsewhere), which callers treat as a benign no-op.
func (q *Queries) SetVideoStatus(ctx context.Context, videoID pgtype.UUID, from, to VideoStatus) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE videos
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`,
		videoID, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkVideoFailed moves a video to failed from any non-terminal state.
func (q *Queries) MarkVideoFailed(ctx context.Context, videoID pgtype.UUID, reason string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE videos
		SET status = 'failed', failure_reason = $2, updated_at = now()
		WHERE id = $1 AND status NOT IN ('final', 'failed')`,
		videoID, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func collectSpecs(rows pgx.Rows) ([]*TechnicalSpec, error) {
	var specs []*TechnicalSpec
	for rows.Next() {
		s, err := scanSpec(rows)
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return specs, rows.Err()
}

// prefixed qualifies a comma-separated column list with a table alias.
func prefixed(alias, columns string) string {
	out := ""
	for i, c := range splitColumns(columns) {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + c
	}
	return out
}

func splitColumns(columns string) []string {
	var cols []string
	cur := ""
	for _, r := range columns {
		switch r {
		case ',':
			cols = append(cols, cur)
			cur = ""
		case ' ', '\n', '\t':
		default:
			cur += string(r)
		}
	}
	if cur != "" {
		cols = append(cols, cur)
	}
	return cols
}

// NewPgUUID wraps a uuid.UUID for the pgx parameter layer.
func NewPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// ParsePgUUID parses a string identifier into a pgtype.UUID.
func ParsePgUUID(s string) (pgtype.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("invalid uuid %q: %w", s, err)
	}
	return NewPgUUID(id), nil
}

// IsNotFound reports whether err is pgx's no-rows marker.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
