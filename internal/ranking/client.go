package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rankstream/rankstream/internal/leaderboard"
)

const defaultTimeout = 10 * time.Second

// Client is an HTTP SnapshotProvider against the ranking service's
// leaderboard endpoints.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

func (c *Client) Snapshot(ctx context.Context, scope string) (leaderboard.Snapshot, error) {
	endpoint := fmt.Sprintf("/leaderboards/%s", url.PathEscape(scope))
	return c.fetch(ctx, endpoint)
}

func (c *Client) SnapshotPage(ctx context.Context, scope string, page, limit int) (leaderboard.Snapshot, error) {
	endpoint := fmt.Sprintf("/leaderboards/%s?page=%s&limit=%s",
		url.PathEscape(scope), strconv.Itoa(page), strconv.Itoa(limit))
	return c.fetch(ctx, endpoint)
}

func (c *Client) fetch(ctx context.Context, endpoint string) (leaderboard.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return leaderboard.Snapshot{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return leaderboard.Snapshot{}, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return leaderboard.Snapshot{}, fmt.Errorf("ranking service returned status %d: %s", resp.StatusCode, string(body))
	}

	var snap leaderboard.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return leaderboard.Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}
