package streaming

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_0123456789abcdef"

func signBody(t *testing.T, secret string, ts int64, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return fmt.Sprintf("time=%d,sig1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerify_ValidSignature(t *testing.T) {
	v := NewVerifier(testSecret, 5*time.Minute)
	now := time.Unix(1700000000, 0)
	body := []byte(`{"assetId":"abc123","status":{"state":"ready"},"duration":12.5}`)

	header := signBody(t, testSecret, now.Unix(), body)
	require.NoError(t, v.Verify(body, header, now))
}

func TestVerify_TamperedBodyRejected(t *testing.T) {
	v := NewVerifier(testSecret, 5*time.Minute)
	now := time.Unix(1700000000, 0)
	body := []byte(`{"assetId":"abc123","status":{"state":"ready"}}`)
	header := signBody(t, testSecret, now.Unix(), body)

	tampered := []byte(`{"assetId":"evil999","status":{"state":"ready"}}`)
	err := v.Verify(tampered, header, now)
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerify_StaleTimestampRejected(t *testing.T) {
	v := NewVerifier(testSecret, 5*time.Minute)
	now := time.Unix(1700000000, 0)
	body := []byte(`{"assetId":"abc123","status":{"state":"ready"}}`)

	// Correctly signed, but ten minutes in the past.
	stale := now.Add(-10 * time.Minute).Unix()
	header := signBody(t, testSecret, stale, body)

	err := v.Verify(body, header, now)
	require.ErrorIs(t, err, ErrSignatureExpired)
}

func TestVerify_FutureTimestampRejected(t *testing.T) {
	v := NewVerifier(testSecret, 5*time.Minute)
	now := time.Unix(1700000000, 0)
	body := []byte(`{}`)

	header := signBody(t, testSecret, now.Add(10*time.Minute).Unix(), body)
	require.ErrorIs(t, v.Verify(body, header, now), ErrSignatureExpired)
}

func TestVerify_WrongSecretRejected(t *testing.T) {
	v := NewVerifier(testSecret, 5*time.Minute)
	now := time.Unix(1700000000, 0)
	body := []byte(`{"assetId":"abc123"}`)

	header := signBody(t, "whsec_other", now.Unix(), body)
	require.ErrorIs(t, v.Verify(body, header, now), ErrSignatureInvalid)
}

func TestVerify_MalformedHeaders(t *testing.T) {
	v := NewVerifier(testSecret, 5*time.Minute)
	now := time.Unix(1700000000, 0)
	body := []byte(`{}`)

	for _, header := range []string{
		"",
		"time=123",
		"sig1=deadbeef",
		"time=notanumber,sig1=deadbeef",
		"time=123,sig1=nothex!",
	} {
		require.ErrorIs(t, v.Verify(body, header, now), ErrSignatureInvalid, "header %q", header)
	}
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"assetId":"abc123","status":{"state":"ready"},"duration":42}`))
	require.NoError(t, err)
	require.Equal(t, "abc123", ev.AssetID)
	require.Equal(t, StateReady, ev.Status.State)
	require.Equal(t, 42.0, ev.Duration)

	_, err = ParseEvent([]byte(`{"status":{"state":"ready"}}`))
	require.Error(t, err)

	_, err = ParseEvent([]byte(`not json`))
	require.Error(t, err)
}
