package stream_api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"splicework.tv/mediasync/internal/assetsync"
)

type stubRunner struct {
	res *assetsync.Result
	err error
}

func (s *stubRunner) Run(ctx context.Context) (*assetsync.Result, error) {
	return s.res, s.err
}

func triggerSync(t *testing.T, runner SyncRunner) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, HandleSyncTrigger(runner)(e.NewContext(req, rec)))
	return rec
}

func TestSyncTrigger_ReturnsResult(t *testing.T) {
	now := time.Now().UTC()
	rec := triggerSync(t, &stubRunner{res: &assetsync.Result{
		StartedAt:            now,
		FinishedAt:           now,
		RowsMigrated:         3,
		ThumbnailsBackfilled: 1,
		Errors:               1,
	}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"rows_migrated":3`)
	require.Contains(t, rec.Body.String(), `"errors":1`)
}

func TestSyncTrigger_ConflictWhileInFlight(t *testing.T) {
	rec := triggerSync(t, &stubRunner{err: assetsync.ErrSyncInFlight})
	require.Equal(t, http.StatusConflict, rec.Code)
}
