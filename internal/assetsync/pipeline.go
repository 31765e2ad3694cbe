// Package assetsync keeps the video catalog, the object store, and the
// streaming service convergent for every video asset. The ingestion pipeline
// drives a single asset through its lifecycle; the reconciler repairs drift
// across the whole catalog.
package assetsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"splicework.tv/mediasync/internal/db"
	"splicework.tv/mediasync/internal/storage"
	"splicework.tv/mediasync/internal/streaming"
	"splicework.tv/mediasync/pkg/utils/filename"
)

// ErrUnknownAsset is returned for stream events that reference no catalog row.
var ErrUnknownAsset = errors.New("stream event for unknown asset")

// Catalog is the slice of the relational catalog this subsystem mutates.
// All single-row writes are conditional: the precondition travels with the
// statement and an already-satisfied postcondition reports false, not an error.
type Catalog interface {
	RegisterVideo(ctx context.Context, params RegisterVideoParams) (*db.Video, *db.TechnicalSpec, error)
	VideoByID(ctx context.Context, videoID pgtype.UUID) (*db.Video, error)
	SpecByVideoID(ctx context.Context, videoID pgtype.UUID) (*db.TechnicalSpec, error)
	SpecByStreamingAssetID(ctx context.Context, assetID string) (*db.TechnicalSpec, error)
	ListMigrationEligible(ctx context.Context, limit int32) ([]*db.TechnicalSpec, error)
	ListMissingThumbnail(ctx context.Context, limit int32) ([]*db.TechnicalSpec, error)
	ObjectStoreKeys(ctx context.Context) ([]string, error)
	RecordObjectStoreKey(ctx context.Context, specID pgtype.UUID, key string) (bool, error)
	ClaimStreamingAsset(ctx context.Context, specID pgtype.UUID, assetID string) (bool, error)
	FillThumbnailURL(ctx context.Context, specID pgtype.UUID, url string) (bool, error)
	RecordDuration(ctx context.Context, specID pgtype.UUID, seconds float64) error
	AdvanceStatus(ctx context.Context, videoID pgtype.UUID, from, to db.VideoStatus) (bool, error)
	FailVideo(ctx context.Context, videoID pgtype.UUID, reason string) (bool, error)
}

// ObjectStore is the read-only object-store surface the pipeline needs.
type ObjectStore interface {
	List(ctx context.Context, prefix string) ([]storage.Object, error)
	Head(ctx context.Context, key string) (storage.Object, bool, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// StreamService is the streaming/transcode service surface.
type StreamService interface {
	ListAssets(ctx context.Context) ([]streaming.RemoteAsset, error)
	CreateAsset(ctx context.Context, inputURL string) (streaming.RemoteAsset, error)
	ThumbnailURL(assetID string) string
}

// RegisterVideoParams describes a freshly uploaded asset.
type RegisterVideoParams struct {
	ProjectID      uuid.UUID
	Title          string
	Filename       string
	ObjectStoreKey string
}

// Pipeline moves one video asset through
// uploading -> stored -> stream_pending -> final, with failed reachable from
// any non-terminal state.
type Pipeline struct {
	catalog      Catalog
	store        ObjectStore
	stream       StreamService
	signedURLTTL time.Duration

	// Per-spec guard for the check-then-act window of a transition. Held only
	// for the single transition, never across transcode waits.
	locks sync.Map // spec id -> *sync.Mutex
}

func NewPipeline(catalog Catalog, store ObjectStore, stream StreamService, signedURLTTL time.Duration) *Pipeline {
	if signedURLTTL <= 0 {
		signedURLTTL = 15 * time.Minute
	}
	return &Pipeline{
		catalog:      catalog,
		store:        store,
		stream:       stream,
		signedURLTTL: signedURLTTL,
	}
}

func (p *Pipeline) lockSpec(id pgtype.UUID) func() {
	key := uuid.UUID(id.Bytes).String()
	muAny, _ := p.locks.LoadOrStore(key, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Register creates the catalog rows for an uploaded asset. The row is only
// written after the raw object is confirmed durable, so a storage failure
// leaves no half-written catalog state behind.
func (p *Pipeline) Register(ctx context.Context, params RegisterVideoParams) (*db.Video, *db.TechnicalSpec, error) {
	if params.ObjectStoreKey != "" {
		_, exists, err := p.store.Head(ctx, params.ObjectStoreKey)
		if err != nil {
			return nil, nil, fmt.Errorf("confirm upload: %w", err)
		}
		if !exists {
			return nil, nil, fmt.Errorf("confirm upload: object %q not found in store", params.ObjectStoreKey)
		}
	}

	// Uploaders send whatever their editing suite produced; normalize the
	// display filename before it lands in the catalog.
	params.Filename = filename.Sanitize(params.Filename, 0)

	video, spec, err := p.catalog.RegisterVideo(ctx, params)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("video registered",
		"video_id", uuid.UUID(video.ID.Bytes),
		"status", video.Status,
		"object_store_key", params.ObjectStoreKey,
	)
	return video, spec, nil
}

// ConfirmUpload records the durable raw object for a video that registered
// ahead of its upload, moving uploading -> stored. The key is write-once; a
// repeat confirmation (or a race with another caller) is a benign no-op.
func (p *Pipeline) ConfirmUpload(ctx context.Context, videoID uuid.UUID, key string) (*db.TechnicalSpec, bool, error) {
	_, exists, err := p.store.Head(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("confirm upload: %w", err)
	}
	if !exists {
		return nil, false, fmt.Errorf("confirm upload: object %q not found in store", key)
	}

	spec, err := p.catalog.SpecByVideoID(ctx, db.NewPgUUID(videoID))
	if err != nil {
		return nil, false, err
	}

	unlock := p.lockSpec(spec.ID)
	defer unlock()

	recorded, err := p.catalog.RecordObjectStoreKey(ctx, spec.ID, key)
	if err != nil {
		return nil, false, err
	}
	if !recorded {
		return spec, false, nil
	}
	spec.ObjectStoreKey = &key

	if _, err := p.catalog.AdvanceStatus(ctx, spec.VideoID, db.VideoStatusUploading, db.VideoStatusStored); err != nil {
		return spec, true, err
	}

	slog.Info("upload confirmed",
		"video_id", videoID,
		"object_store_key", key,
	)
	return spec, true, nil
}

// PromoteStored hands a migration-eligible spec to the streaming service:
// signed raw-file URL in, streaming asset id out. Idempotent; calling it for
// a spec that already has an asset id (or losing the conditional write to a
// concurrent caller) is a benign no-op. Returns whether this call performed
// the registration.
func (p *Pipeline) PromoteStored(ctx context.Context, spec *db.TechnicalSpec) (bool, error) {
	unlock := p.lockSpec(spec.ID)
	defer unlock()

	if !spec.MigrationEligible() {
		return false, nil
	}

	inputURL, err := p.store.SignedURL(ctx, *spec.ObjectStoreKey, p.signedURLTTL)
	if err != nil {
		return false, fmt.Errorf("sign raw object: %w", err)
	}

	asset, err := p.stream.CreateAsset(ctx, inputURL)
	if err != nil {
		return false, fmt.Errorf("register streaming asset: %w", err)
	}

	claimed, err := p.catalog.ClaimStreamingAsset(ctx, spec.ID, asset.ID)
	if err != nil {
		return false, err
	}
	if !claimed {
		// A concurrent path won the row. The asset created here is unreferenced
		// on the remote side; surface it for the audit trail.
		slog.Warn("streaming asset claim lost to concurrent writer",
			"spec_id", uuid.UUID(spec.ID.Bytes),
			"unreferenced_asset_id", asset.ID,
		)
		return false, nil
	}

	spec.StreamingAssetID = &asset.ID

	if _, err := p.catalog.AdvanceStatus(ctx, spec.VideoID, db.VideoStatusStored, db.VideoStatusStreamPending); err != nil {
		return true, err
	}

	slog.Info("streaming asset registered",
		"video_id", uuid.UUID(spec.VideoID.Bytes),
		"asset_id", asset.ID,
		"state", asset.State,
	)

	// Some ingests complete synchronously.
	if asset.State == streaming.StateReady {
		if err := p.finalize(ctx, spec, asset.Duration); err != nil {
			return true, err
		}
	}

	return true, nil
}

// ApplyStreamEvent applies a verified status notification. Both the webhook
// handler and the reconciler funnel through here, so either arriving first
// (or both arriving) converges to the same catalog state.
func (p *Pipeline) ApplyStreamEvent(ctx context.Context, ev streaming.Event) error {
	spec, err := p.catalog.SpecByStreamingAssetID(ctx, ev.AssetID)
	if err != nil {
		if db.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrUnknownAsset, ev.AssetID)
		}
		return err
	}

	switch ev.Status.State {
	case streaming.StateReady:
		return p.finalize(ctx, spec, ev.Duration)
	case streaming.StateError:
		return p.fail(ctx, spec.VideoID, fmt.Sprintf("streaming service reported error for asset %s", ev.AssetID))
	default:
		// queued/processing carry no catalog-visible change.
		return nil
	}
}

// finalize performs stream_pending -> final: deterministic thumbnail backfill
// plus the terminal status flip. No in-process lock here: every write carries
// its precondition, so a concurrent webhook and reconciler both finalizing
// the same row produce exactly one effective mutation.
func (p *Pipeline) finalize(ctx context.Context, spec *db.TechnicalSpec, duration float64) error {
	if spec.StreamingAssetID == nil {
		return fmt.Errorf("finalize: spec %s has no streaming asset", uuid.UUID(spec.ID.Bytes))
	}

	url := p.stream.ThumbnailURL(*spec.StreamingAssetID)
	filled, err := p.catalog.FillThumbnailURL(ctx, spec.ID, url)
	if err != nil {
		return err
	}

	if duration > 0 && (spec.DurationSeconds == nil || *spec.DurationSeconds != duration) {
		if err := p.catalog.RecordDuration(ctx, spec.ID, duration); err != nil {
			return err
		}
	}

	advanced, err := p.catalog.AdvanceStatus(ctx, spec.VideoID, db.VideoStatusStreamPending, db.VideoStatusFinal)
	if err != nil {
		return err
	}
	if !advanced {
		// The ready notification can overtake the stored -> stream_pending
		// status write; the asset id is already claimed either way.
		if _, err := p.catalog.AdvanceStatus(ctx, spec.VideoID, db.VideoStatusStored, db.VideoStatusFinal); err != nil {
			return err
		}
	}

	if filled || advanced {
		slog.Info("video finalized",
			"video_id", uuid.UUID(spec.VideoID.Bytes),
			"asset_id", *spec.StreamingAssetID,
			"thumbnail_url", url,
		)
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, videoID pgtype.UUID, reason string) error {
	failed, err := p.catalog.FailVideo(ctx, videoID, reason)
	if err != nil {
		return err
	}
	if failed {
		slog.Warn("video failed", "video_id", uuid.UUID(videoID.Bytes), "reason", reason)
	}
	return nil
}

// MarkFailed moves a video to failed from any non-terminal state. Failed rows
// drop out of eligibility scans but stay visible for manual operator retry.
func (p *Pipeline) MarkFailed(ctx context.Context, videoID uuid.UUID, reason string) error {
	return p.fail(ctx, db.NewPgUUID(videoID), reason)
}
