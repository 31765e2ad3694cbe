package stream_api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"splicework.tv/mediasync/internal/assetsync"
	"splicework.tv/mediasync/internal/streaming"
)

const testSecret = "whsec_handler_test"

type stubApplier struct {
	applied []streaming.Event
	err     error
}

func (s *stubApplier) ApplyStreamEvent(ctx context.Context, ev streaming.Event) error {
	if s.err != nil {
		return s.err
	}
	s.applied = append(s.applied, ev)
	return nil
}

func signedHeader(body []byte, ts int64) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return fmt.Sprintf("time=%d,sig1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func postWebhook(t *testing.T, applier EventApplier, body string, header string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/stream/webhook", strings.NewReader(body))
	if header != "" {
		req.Header.Set(streaming.SignatureHeader, header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	verifier := streaming.NewVerifier(testSecret, 5*time.Minute)
	require.NoError(t, HandleStreamWebhook(verifier, applier)(c))
	return rec
}

func TestWebhook_ValidEventApplied(t *testing.T) {
	applier := &stubApplier{}
	body := `{"assetId":"abc123","status":{"state":"ready"},"duration":31.4}`

	rec := postWebhook(t, applier, body, signedHeader([]byte(body), time.Now().Unix()))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, applier.applied, 1)
	require.Equal(t, "abc123", applier.applied[0].AssetID)
	require.Equal(t, streaming.StateReady, applier.applied[0].Status.State)
}

func TestWebhook_MissingSignatureRejectedBeforeApply(t *testing.T) {
	applier := &stubApplier{}
	rec := postWebhook(t, applier, `{"assetId":"abc123","status":{"state":"ready"}}`, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, applier.applied, "no catalog mutation on rejected requests")
}

func TestWebhook_TamperedBodyRejected(t *testing.T) {
	applier := &stubApplier{}
	signed := `{"assetId":"abc123","status":{"state":"ready"}}`
	tampered := `{"assetId":"evil999","status":{"state":"ready"}}`

	rec := postWebhook(t, applier, tampered, signedHeader([]byte(signed), time.Now().Unix()))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, applier.applied)
}

func TestWebhook_StaleSignatureRejected(t *testing.T) {
	applier := &stubApplier{}
	body := `{"assetId":"abc123","status":{"state":"ready"}}`
	stale := time.Now().Add(-time.Hour).Unix()

	rec := postWebhook(t, applier, body, signedHeader([]byte(body), stale))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, applier.applied)
}

func TestWebhook_UnknownAssetAcknowledged(t *testing.T) {
	applier := &stubApplier{err: fmt.Errorf("%w: nope", assetsync.ErrUnknownAsset)}
	body := `{"assetId":"nope","status":{"state":"ready"}}`

	rec := postWebhook(t, applier, body, signedHeader([]byte(body), time.Now().Unix()))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ignored")
}

func TestWebhook_MalformedEventBody(t *testing.T) {
	applier := &stubApplier{}
	body := `{"status":{"state":"ready"}}` // missing assetId

	rec := postWebhook(t, applier, body, signedHeader([]byte(body), time.Now().Unix()))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, applier.applied)
}

func TestWebhook_CatalogFailure(t *testing.T) {
	applier := &stubApplier{err: fmt.Errorf("catalog down")}
	body := `{"assetId":"abc123","status":{"state":"ready"}}`

	rec := postWebhook(t, applier, body, signedHeader([]byte(body), time.Now().Unix()))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
