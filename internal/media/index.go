// Package media implements the per-user music player: track resolution
// against an external index, chunked audio streaming toward the session,
// and queue management.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Track is one playable item resolved from the media index.
type Track struct {
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	StreamURL string  `json:"stream_url"`
	Duration  float64 `json:"duration"`
}

// Resolver turns a free-text query into a playable track.
type Resolver interface {
	Resolve(ctx context.Context, query string) (*Track, error)
}

// IndexClient resolves queries against the media index service.
type IndexClient struct {
	baseURL string
	client  *http.Client
}

func NewIndexClient(baseURL string) *IndexClient {
	return &IndexClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *IndexClient) Resolve(ctx context.Context, query string) (*Track, error) {
	u := c.baseURL + "/resolve?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create resolve request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("no track found for %q", query)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("resolve %q: status %d", query, resp.StatusCode)
	}

	var track Track
	if err := json.NewDecoder(resp.Body).Decode(&track); err != nil {
		return nil, fmt.Errorf("decode track: %w", err)
	}
	if track.StreamURL == "" {
		return nil, fmt.Errorf("track %q has no stream url", track.Title)
	}
	return &track, nil
}
