// Package streaming talks to the managed streaming/transcode service: asset
// listing and registration over its REST API, plus verification of its
// asynchronous status webhooks.
package streaming

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable marks persistent streaming-service failures. Callers treat
// it as "no new information", never as evidence an asset is absent.
var ErrUnavailable = errors.New("streaming service unavailable")

// Asset processing states reported by the streaming service.
const (
	StateQueued     = "queued"
	StateProcessing = "processing"
	StateReady      = "ready"
	StateError      = "error"
)

// RemoteAsset is one asset as the streaming service sees it.
type RemoteAsset struct {
	ID        string  `json:"id"`
	State     string  `json:"state"`
	Duration  float64 `json:"duration"`
	CreatedAt string  `json:"created_at"`
}

const (
	maxAttempts    = 3
	backoffBase    = 250 * time.Millisecond
	backoffCeiling = 4 * time.Second
	requestTimeout = 15 * time.Second
)

type Client struct {
	baseURL      string
	deliveryHost string
	token        string
	backoff      time.Duration
	http         *http.Client
}

func NewClient(baseURL, deliveryHost, token string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")

	return &Client{
		baseURL:      baseURL,
		deliveryHost: strings.TrimSpace(deliveryHost),
		token:        token,
		backoff:      backoffBase,
		http: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// ThumbnailURL derives the default thumbnail location for an asset. The
// template is fixed; no round trip to the service is needed.
func (c *Client) ThumbnailURL(assetID string) string {
	return fmt.Sprintf("https://%s/%s/thumbnails/thumbnail.jpg", c.deliveryHost, assetID)
}

// ListAssets returns every remote asset with its processing state.
func (c *Client) ListAssets(ctx context.Context) ([]RemoteAsset, error) {
	var out struct {
		Data []RemoteAsset `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/video/v1/assets", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CreateAsset hands a signed object URL to the service for ingestion and
// returns the accepted asset in its initial queued state.
func (c *Client) CreateAsset(ctx context.Context, inputURL string) (RemoteAsset, error) {
	body := map[string]any{
		"input": inputURL,
	}
	var out struct {
		Data RemoteAsset `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/video/v1/assets", body, &out); err != nil {
		return RemoteAsset{}, err
	}
	if out.Data.ID == "" {
		return RemoteAsset{}, fmt.Errorf("%w: create asset: empty asset id in response", ErrUnavailable)
	}
	return out.Data, nil
}

// GetAsset fetches a single asset's current state.
func (c *Client) GetAsset(ctx context.Context, assetID string) (RemoteAsset, error) {
	var out struct {
		Data RemoteAsset `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/video/v1/assets/"+assetID, nil, &out); err != nil {
		return RemoteAsset{}, err
	}
	return out.Data, nil
}

// do issues one API request with bounded retry. Transport errors and 5xx
// responses are retried with exponential backoff; 4xx responses are not.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.backoff << (attempt * 2)
			if backoff > backoffCeiling {
				backoff = backoffCeiling
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			resp.Body.Close()
			return fmt.Errorf("%w: %s %s: status %d: %s",
				ErrUnavailable, method, path, resp.StatusCode, strings.TrimSpace(string(body)))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("%w: %s %s: decode response: %v", ErrUnavailable, method, path, err)
		}
		return nil
	}

	return fmt.Errorf("%w: %s %s after %d attempts: %v", ErrUnavailable, method, path, maxAttempts, lastErr)
}
