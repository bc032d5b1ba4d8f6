// Package client is an HTTP client for a kv-server instance. It mirrors the
// engine's public operations over the /v1 API and contains no engine logic.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrNotFound reports a key the server does not have.
var ErrNotFound = errors.New("key not found")

// Client talks to a kv-server over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// Options configures a Client.
type Options struct {
	// Timeout bounds each request end to end. Zero means no timeout.
	Timeout time.Duration
}

// New creates a client for the server at baseURL, e.g.
// "http://127.0.0.1:8080".
func New(baseURL string, opts Options) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: opts.Timeout},
	}
}

func (c *Client) keyURL(key string) string {
	return c.baseURL + "/v1/keys/" + url.PathEscape(key)
}

// Get returns the value stored under key, or ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.keyURL(key), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		return nil, fmt.Errorf("get %q: %w", key, ErrNotFound)
	default:
		return nil, serverError("get", resp)
	}
}

// Put writes value under key.
func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.keyURL(key), bytes.NewReader(value))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return serverError("put", resp)
	}
	return nil
}

// Delete removes key. Deleting an absent key succeeds.
func (c *Client) Delete(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.keyURL(key), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return serverError("delete", resp)
	}
	return nil
}

// Keys returns all live keys in sorted order.
func (c *Client) Keys(ctx context.Context) ([]string, error) {
	var out struct {
		Keys []string `json:"keys"`
	}
	if err := c.getJSON(ctx, "/v1/keys", &out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

// Stats returns the server's store statistics.
func (c *Client) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64)
	if err := c.getJSON(ctx, "/v1/stats", &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Flush forces durability of all acknowledged writes on the server.
func (c *Client) Flush(ctx context.Context) error {
	return c.post(ctx, "/v1/flush", nil)
}

// Compact runs a compaction pass and returns the bytes reclaimed.
func (c *Client) Compact(ctx context.Context) (int64, error) {
	var out struct {
		ReclaimedBytes int64 `json:"reclaimed_bytes"`
	}
	if err := c.post(ctx, "/v1/compact", &out); err != nil {
		return 0, err
	}
	return out.ReclaimedBytes, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return serverError("get", resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return serverError("post", resp)
	}
	if out != nil && resp.StatusCode == http.StatusOK {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// serverError turns a non-2xx response into an error carrying the server's
// message when one is present.
func serverError(op string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("%s: server returned %d: %s", op, resp.StatusCode, body.Error)
	}
	return fmt.Errorf("%s: server returned %d", op, resp.StatusCode)
}
