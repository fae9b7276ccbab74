package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	clinsync "clinicore/internal/sync"
	dErrors "clinicore/pkg/domain-errors"
)

// Client is the device-side sync transport over HTTP. It implements
// sync.Transport against a hub running the router in this package.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient targets a hub base URL, e.g. "https://hub.practice.example".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) Handshake(ctx context.Context, req clinsync.Handshake) (clinsync.HandshakeAck, error) {
	var ack clinsync.HandshakeAck
	err := c.post(ctx, "/sync/handshake", req, &ack)
	return ack, err
}

func (c *Client) Upload(ctx context.Context, deviceID string, batch clinsync.Upload) (clinsync.UploadAck, error) {
	var ack clinsync.UploadAck
	err := c.post(ctx, "/sync/upload", uploadRequest{DeviceID: deviceID, Batch: batch}, &ack)
	return ack, err
}

func (c *Client) Download(ctx context.Context, deviceID string, limit int) (clinsync.Download, error) {
	var page clinsync.Download
	err := c.post(ctx, "/sync/download", downloadRequest{DeviceID: deviceID, Limit: limit}, &page)
	return page, err
}

func (c *Client) AckDownload(ctx context.Context, deviceID string, ack clinsync.DownloadAck) error {
	var out map[string]bool
	return c.post(ctx, "/sync/download/ack", downloadAckRequest{DeviceID: deviceID, Ack: ack}, &out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeTransient, "encode sync request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return dErrors.Wrap(dErrors.CodeTransient, "build sync request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeTransient, "sync request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return dErrors.Newf(dErrors.CodeTransient, "hub returned %s for %s", resp.Status, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return dErrors.Wrap(dErrors.CodeTransient, fmt.Sprintf("decode %s response", path), err)
	}
	return nil
}
