package assetsync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"splicework.tv/mediasync/internal/db"
	"splicework.tv/mediasync/internal/storage"
	"splicework.tv/mediasync/internal/streaming"
)

// ErrSyncInFlight rejects a reconciliation pass while another one runs.
var ErrSyncInFlight = errors.New("reconciliation pass already in flight")

// Action is one per-row step taken (or attempted) during a pass.
type Action struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	VideoID string    `json:"video_id,omitempty"`
	AssetID string    `json:"asset_id,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Action kinds recorded in the pass log.
const (
	ActionMigrated          = "migrated"
	ActionThumbnailBackfill = "thumbnail_backfilled"
	ActionFinalized         = "finalized"
	ActionError             = "error"
	ActionSkipped           = "skipped"
)

// Finding is an advisory cross-check result. Findings are reported, never
// auto-repaired: either side of the mismatch could be the source of truth
// depending on timing.
type Finding struct {
	Kind         string    `json:"kind"` // orphaned_object | dangling_reference
	Key          string    `json:"key"`
	Size         int64     `json:"size,omitempty"`
	LastModified time.Time `json:"last_modified,omitzero"`
}

const (
	FindingOrphanedObject    = "orphaned_object"
	FindingDanglingReference = "dangling_reference"
)

// Result is the structured outcome of one reconciliation pass.
type Result struct {
	StartedAt            time.Time `json:"started_at"`
	FinishedAt           time.Time `json:"finished_at"`
	Cancelled            bool      `json:"cancelled,omitempty"`
	RowsMigrated         int       `json:"rows_migrated"`
	ThumbnailsBackfilled int       `json:"thumbnails_backfilled"`
	Errors               int       `json:"errors"`
	Actions              []Action  `json:"actions"`
	Findings             []Finding `json:"findings,omitempty"`
}

// Reconciler runs the drift-repair pass over catalog, object store and
// streaming service. One pass at a time, process-wide.
type Reconciler struct {
	pipeline     *Pipeline
	catalog      Catalog
	store        ObjectStore
	stream       StreamService
	workers      int
	batchLimit   int32
	uploadPrefix string

	runMu sync.Mutex
}

func NewReconciler(pipeline *Pipeline, catalog Catalog, store ObjectStore, stream StreamService, workers int, batchLimit int32, uploadPrefix string) *Reconciler {
	if workers <= 0 {
		workers = 4
	}
	if batchLimit <= 0 {
		batchLimit = 500
	}
	return &Reconciler{
		pipeline:     pipeline,
		catalog:      catalog,
		store:        store,
		stream:       stream,
		workers:      workers,
		batchLimit:   batchLimit,
		uploadPrefix: uploadPrefix,
	}
}

type resultCollector struct {
	mu  sync.Mutex
	res *Result
}

func (rc *resultCollector) record(a Action) {
	a.At = time.Now().UTC()
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if a.Error != "" {
		rc.res.Errors++
	}
	switch a.Kind {
	case ActionMigrated:
		rc.res.RowsMigrated++
	case ActionThumbnailBackfill:
		rc.res.ThumbnailsBackfilled++
	}
	rc.res.Actions = append(rc.res.Actions, a)
}

func (rc *resultCollector) finding(f Finding) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.res.Findings = append(rc.res.Findings, f)
}

// Run performs one reconciliation pass. Per-row failures are recorded in the
// result and never abort the pass; a catalog-level failure does abort it,
// leaving the catalog at its last committed state. Cancelling ctx stops new
// per-row work while in-flight rows finish, and the partial result is
// returned. A second Run with no intervening external change mutates nothing.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	if !r.runMu.TryLock() {
		return nil, ErrSyncInFlight
	}
	defer r.runMu.Unlock()

	rc := &resultCollector{res: &Result{StartedAt: time.Now().UTC()}}

	if err := r.migrateEligible(ctx, rc); err != nil {
		// A cancelled pass keeps its partial counts; only a real catalog
		// failure aborts.
		if ctx.Err() != nil {
			return r.finish(ctx, rc), nil
		}
		return nil, err
	}
	r.observeRemoteState(ctx, rc)
	if err := r.backfillThumbnails(ctx, rc); err != nil {
		if ctx.Err() != nil {
			return r.finish(ctx, rc), nil
		}
		return nil, err
	}
	r.auditStorage(ctx, rc)

	return r.finish(ctx, rc), nil
}

// Audit runs only the storage cross-check. Report-only: no catalog rows are
// migrated, no thumbnails backfilled, nothing written anywhere.
func (r *Reconciler) Audit(ctx context.Context) (*Result, error) {
	if !r.runMu.TryLock() {
		return nil, ErrSyncInFlight
	}
	defer r.runMu.Unlock()

	rc := &resultCollector{res: &Result{StartedAt: time.Now().UTC()}}
	r.auditStorage(ctx, rc)
	return r.finish(ctx, rc), nil
}

func (r *Reconciler) finish(ctx context.Context, rc *resultCollector) *Result {
	rc.res.Cancelled = ctx.Err() != nil
	rc.res.FinishedAt = time.Now().UTC()
	return rc.res
}

// migrateEligible is step one: hand every migration-eligible spec to the
// streaming service, bounded-concurrency, per-row failure isolation.
func (r *Reconciler) migrateEligible(ctx context.Context, rc *resultCollector) error {
	if ctx.Err() != nil {
		return nil
	}
	specs, err := r.catalog.ListMigrationEligible(ctx, r.batchLimit)
	if err != nil {
		return err
	}

	g := new(errgroup.Group)
	g.SetLimit(r.workers)
	for _, spec := range specs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			videoID := uuid.UUID(spec.VideoID.Bytes).String()
			migrated, err := r.pipeline.PromoteStored(ctx, spec)
			switch {
			case err != nil:
				rc.record(Action{Kind: ActionError, VideoID: videoID, Detail: "migrate", Error: err.Error()})
			case migrated:
				rc.record(Action{Kind: ActionMigrated, VideoID: videoID, AssetID: derefOr(spec.StreamingAssetID, "")})
			default:
				rc.record(Action{Kind: ActionSkipped, VideoID: videoID, Detail: "already migrated"})
			}
			return nil
		})
	}
	return g.Wait()
}

// observeRemoteState finalizes rows whose ready notification never arrived.
// A streaming-service failure here is "no new information", not evidence of
// absence, so the step is skipped with a recorded error.
func (r *Reconciler) observeRemoteState(ctx context.Context, rc *resultCollector) {
	if ctx.Err() != nil {
		return
	}

	assets, err := r.stream.ListAssets(ctx)
	if err != nil {
		rc.record(Action{Kind: ActionError, Detail: "list remote assets", Error: err.Error()})
		return
	}

	for _, asset := range assets {
		if ctx.Err() != nil {
			return
		}
		if asset.State != streaming.StateReady && asset.State != streaming.StateError {
			continue
		}

		spec, err := r.catalog.SpecByStreamingAssetID(ctx, asset.ID)
		if err != nil {
			if !db.IsNotFound(err) {
				rc.record(Action{Kind: ActionError, AssetID: asset.ID, Detail: "lookup spec", Error: err.Error()})
			}
			continue
		}
		if spec.ThumbnailURL != nil && asset.State == streaming.StateReady {
			continue // already converged
		}
		if asset.State == streaming.StateError {
			if v, err := r.catalog.VideoByID(ctx, spec.VideoID); err == nil && v.Status == db.VideoStatusFailed {
				continue // already converged
			}
		}

		ev := streaming.Event{AssetID: asset.ID, Duration: asset.Duration}
		ev.Status.State = asset.State
		if err := r.pipeline.ApplyStreamEvent(ctx, ev); err != nil {
			rc.record(Action{Kind: ActionError, AssetID: asset.ID, Detail: "apply remote state", Error: err.Error()})
			continue
		}
		rc.record(Action{
			Kind:    ActionFinalized,
			VideoID: uuid.UUID(spec.VideoID.Bytes).String(),
			AssetID: asset.ID,
			Detail:  "state " + asset.State + " observed via catalog listing",
		})
	}
}

// backfillThumbnails is step three: derive the deterministic thumbnail URL
// for any spec that has an asset id but no thumbnail recorded.
func (r *Reconciler) backfillThumbnails(ctx context.Context, rc *resultCollector) error {
	if ctx.Err() != nil {
		return nil
	}
	specs, err := r.catalog.ListMissingThumbnail(ctx, r.batchLimit)
	if err != nil {
		return err
	}

	g := new(errgroup.Group)
	g.SetLimit(r.workers)
	for _, spec := range specs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			videoID := uuid.UUID(spec.VideoID.Bytes).String()
			url := r.stream.ThumbnailURL(*spec.StreamingAssetID)
			filled, err := r.catalog.FillThumbnailURL(ctx, spec.ID, url)
			switch {
			case err != nil:
				rc.record(Action{Kind: ActionError, VideoID: videoID, Detail: "thumbnail backfill", Error: err.Error()})
			case filled:
				rc.record(Action{Kind: ActionThumbnailBackfill, VideoID: videoID, AssetID: *spec.StreamingAssetID, Detail: url})
			default:
				rc.record(Action{Kind: ActionSkipped, VideoID: videoID, Detail: "thumbnail already set"})
			}
			return nil
		})
	}
	return g.Wait()
}

// auditStorage cross-checks storage listings against catalog keys. Orphaned
// objects and dangling references are surfaced as advisory findings only.
func (r *Reconciler) auditStorage(ctx context.Context, rc *resultCollector) {
	if ctx.Err() != nil {
		return
	}

	objects, err := r.store.List(ctx, r.uploadPrefix)
	if err != nil {
		rc.record(Action{Kind: ActionError, Detail: "list object store", Error: err.Error()})
		return
	}
	keys, err := r.catalog.ObjectStoreKeys(ctx)
	if err != nil {
		rc.record(Action{Kind: ActionError, Detail: "list catalog keys", Error: err.Error()})
		return
	}

	catalogKeys := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		catalogKeys[k] = struct{}{}
	}
	stored := make(map[string]storage.Object, len(objects))
	for _, obj := range objects {
		stored[obj.Key] = obj
		if _, ok := catalogKeys[obj.Key]; !ok {
			rc.finding(Finding{
				Kind:         FindingOrphanedObject,
				Key:          obj.Key,
				Size:         obj.Size,
				LastModified: obj.LastModified,
			})
		}
	}
	for _, k := range keys {
		// Only keys under the audited prefix can be judged by this listing.
		if !strings.HasPrefix(k, r.uploadPrefix) {
			continue
		}
		if _, ok := stored[k]; !ok {
			rc.finding(Finding{Kind: FindingDanglingReference, Key: k})
		}
	}
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
