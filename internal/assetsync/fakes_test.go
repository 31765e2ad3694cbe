package assetsync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"splicework.tv/mediasync/internal/db"
	"splicework.tv/mediasync/internal/storage"
	"splicework.tv/mediasync/internal/streaming"
)

// fakeCatalog is an in-memory Catalog with the same compare-and-set write
// semantics as the Postgres queries: every conditional write re-checks its
// precondition under the lock.
type fakeCatalog struct {
	mu     sync.Mutex
	videos map[uuid.UUID]*db.Video
	specs  map[uuid.UUID]*db.TechnicalSpec

	// effective mutation counters
	records  int
	claims   int
	fills    int
	advances int
	failures int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		videos: map[uuid.UUID]*db.Video{},
		specs:  map[uuid.UUID]*db.TechnicalSpec{},
	}
}

type seedParams struct {
	status    db.VideoStatus
	key       string
	assetID   string
	thumbURL  string
	title     string
	filename  string
	projectID uuid.UUID
}

func (c *fakeCatalog) seed(p seedParams) (*db.Video, *db.TechnicalSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()

	videoID := uuid.New()
	specID := uuid.New()
	if p.title == "" {
		p.title = "commission " + videoID.String()[:8]
	}
	if p.filename == "" {
		p.filename = "v1.mp4"
	}
	if p.projectID == (uuid.UUID{}) {
		p.projectID = uuid.New()
	}
	v := &db.Video{
		ID:        db.NewPgUUID(videoID),
		ProjectID: db.NewPgUUID(p.projectID),
		Title:     p.title,
		Status:    p.status,
	}
	s := &db.TechnicalSpec{
		ID:       db.NewPgUUID(specID),
		VideoID:  v.ID,
		Filename: p.filename,
	}
	if p.key != "" {
		k := p.key
		s.ObjectStoreKey = &k
	}
	if p.assetID != "" {
		a := p.assetID
		s.StreamingAssetID = &a
	}
	if p.thumbURL != "" {
		u := p.thumbURL
		s.ThumbnailURL = &u
	}
	c.videos[videoID] = v
	c.specs[specID] = s
	return copyVideo(v), copySpec(s)
}

func copyVideo(v *db.Video) *db.Video {
	cp := *v
	return &cp
}

func copySpec(s *db.TechnicalSpec) *db.TechnicalSpec {
	cp := *s
	if s.ObjectStoreKey != nil {
		k := *s.ObjectStoreKey
		cp.ObjectStoreKey = &k
	}
	if s.StreamingAssetID != nil {
		a := *s.StreamingAssetID
		cp.StreamingAssetID = &a
	}
	if s.ThumbnailURL != nil {
		u := *s.ThumbnailURL
		cp.ThumbnailURL = &u
	}
	if s.DurationSeconds != nil {
		d := *s.DurationSeconds
		cp.DurationSeconds = &d
	}
	return &cp
}

func (c *fakeCatalog) mutations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records + c.claims + c.fills + c.advances + c.failures
}

func (c *fakeCatalog) RegisterVideo(ctx context.Context, params RegisterVideoParams) (*db.Video, *db.TechnicalSpec, error) {
	seed := seedParams{
		status:    db.VideoStatusUploading,
		key:       params.ObjectStoreKey,
		title:     params.Title,
		filename:  params.Filename,
		projectID: params.ProjectID,
	}
	if params.ObjectStoreKey != "" {
		seed.status = db.VideoStatusStored
	}
	v, s := c.seed(seed)
	return v, s, nil
}

func (c *fakeCatalog) VideoByID(ctx context.Context, videoID pgtype.UUID) (*db.Video, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.videos[uuid.UUID(videoID.Bytes)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return copyVideo(v), nil
}

func (c *fakeCatalog) SpecByVideoID(ctx context.Context, videoID pgtype.UUID) (*db.TechnicalSpec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.specs {
		if s.VideoID == videoID {
			return copySpec(s), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (c *fakeCatalog) SpecByStreamingAssetID(ctx context.Context, assetID string) (*db.TechnicalSpec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.specs {
		if s.StreamingAssetID != nil && *s.StreamingAssetID == assetID {
			return copySpec(s), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (c *fakeCatalog) ListMigrationEligible(ctx context.Context, limit int32) ([]*db.TechnicalSpec, error) {
	// pgx surfaces a cancelled context as a query error.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*db.TechnicalSpec
	for _, s := range c.specs {
		v := c.videos[uuid.UUID(s.VideoID.Bytes)]
		if s.MigrationEligible() && v.Status != db.VideoStatusFailed {
			out = append(out, copySpec(s))
		}
		if int32(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (c *fakeCatalog) ListMissingThumbnail(ctx context.Context, limit int32) ([]*db.TechnicalSpec, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*db.TechnicalSpec
	for _, s := range c.specs {
		v := c.videos[uuid.UUID(s.VideoID.Bytes)]
		if s.StreamingAssetID != nil && s.ThumbnailURL == nil && v.Status != db.VideoStatusFailed {
			out = append(out, copySpec(s))
		}
		if int32(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (c *fakeCatalog) ObjectStoreKeys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for _, s := range c.specs {
		if s.ObjectStoreKey != nil {
			keys = append(keys, *s.ObjectStoreKey)
		}
	}
	return keys, nil
}

func (c *fakeCatalog) RecordObjectStoreKey(ctx context.Context, specID pgtype.UUID, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.specs[uuid.UUID(specID.Bytes)]
	if !ok || s.ObjectStoreKey != nil {
		return false, nil
	}
	s.ObjectStoreKey = &key
	c.records++
	return true, nil
}

func (c *fakeCatalog) ClaimStreamingAsset(ctx context.Context, specID pgtype.UUID, assetID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.specs[uuid.UUID(specID.Bytes)]
	if !ok || !s.MigrationEligible() {
		return false, nil
	}
	s.StreamingAssetID = &assetID
	c.claims++
	return true, nil
}

func (c *fakeCatalog) FillThumbnailURL(ctx context.Context, specID pgtype.UUID, url string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.specs[uuid.UUID(specID.Bytes)]
	if !ok || s.StreamingAssetID == nil || s.ThumbnailURL != nil {
		return false, nil
	}
	s.ThumbnailURL = &url
	c.fills++
	return true, nil
}

func (c *fakeCatalog) RecordDuration(ctx context.Context, specID pgtype.UUID, seconds float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.specs[uuid.UUID(specID.Bytes)]; ok {
		s.DurationSeconds = &seconds
	}
	return nil
}

func (c *fakeCatalog) AdvanceStatus(ctx context.Context, videoID pgtype.UUID, from, to db.VideoStatus) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.videos[uuid.UUID(videoID.Bytes)]
	if !ok || v.Status != from {
		return false, nil
	}
	v.Status = to
	c.advances++
	return true, nil
}

func (c *fakeCatalog) FailVideo(ctx context.Context, videoID pgtype.UUID, reason string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.videos[uuid.UUID(videoID.Bytes)]
	if !ok || v.Status == db.VideoStatusFinal || v.Status == db.VideoStatusFailed {
		return false, nil
	}
	v.Status = db.VideoStatusFailed
	v.FailureReason = &reason
	c.failures++
	return true, nil
}

func (c *fakeCatalog) videoStatus(id pgtype.UUID) db.VideoStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videos[uuid.UUID(id.Bytes)].Status
}

func (c *fakeCatalog) specByID(id pgtype.UUID) *db.TechnicalSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copySpec(c.specs[uuid.UUID(id.Bytes)])
}

// allSpecs snapshots every spec, for invariant assertions.
func (c *fakeCatalog) allSpecs() []*db.TechnicalSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*db.TechnicalSpec
	for _, s := range c.specs {
		out = append(out, copySpec(s))
	}
	return out
}

// fakeStore is an in-memory ObjectStore.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string]storage.Object
	listErr error
}

func newFakeStore(keys ...string) *fakeStore {
	st := &fakeStore{objects: map[string]storage.Object{}}
	for _, k := range keys {
		st.put(k, 1024)
	}
	return st
}

func (st *fakeStore) put(key string, size int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.objects[key] = storage.Object{Key: key, Size: size, LastModified: time.Now().UTC()}
}

func (st *fakeStore) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.listErr != nil {
		return nil, st.listErr
	}
	var out []storage.Object
	for k, obj := range st.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (st *fakeStore) Head(ctx context.Context, key string) (storage.Object, bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	obj, ok := st.objects[key]
	return obj, ok, nil
}

func (st *fakeStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://store.test/" + key + "?sig=stub", nil
}

// fakeStream is an in-memory StreamService. CreateAsset fails for input URLs
// containing any configured failKey substring.
type fakeStream struct {
	mu       sync.Mutex
	nextID   int
	fixedID  string
	failKeys []string
	remote   []streaming.RemoteAsset
	created  []string

	// onCreate, when set, runs inside each CreateAsset call.
	onCreate func()
}

func (fs *fakeStream) ListAssets(ctx context.Context) ([]streaming.RemoteAsset, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]streaming.RemoteAsset(nil), fs.remote...), nil
}

func (fs *fakeStream) CreateAsset(ctx context.Context, inputURL string) (streaming.RemoteAsset, error) {
	fs.mu.Lock()
	onCreate := fs.onCreate
	fs.mu.Unlock()
	if onCreate != nil {
		onCreate()
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, key := range fs.failKeys {
		if strings.Contains(inputURL, key) {
			return streaming.RemoteAsset{}, fmt.Errorf("%w: simulated outage", streaming.ErrUnavailable)
		}
	}
	id := fs.fixedID
	if id == "" {
		fs.nextID++
		id = fmt.Sprintf("asset-%04d", fs.nextID)
	}
	fs.created = append(fs.created, id)
	return streaming.RemoteAsset{ID: id, State: streaming.StateQueued}, nil
}

func (fs *fakeStream) ThumbnailURL(assetID string) string {
	return "https://cdn.test/" + assetID + "/thumbnails/thumbnail.jpg"
}

func (fs *fakeStream) createdCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.created)
}
