// Package imdb implements the secondary metadata provider client against the
// IMDb suggestion API.
package imdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"streamharvest/internal/harvest"
)

const defaultBaseURL = "https://v2.sg.media-imdb.com/suggestion"

// Config controls the client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client searches IMDb suggestions by title, yielding an IMDb id directly.
type Client struct {
	cfg    Config
	http   *http.Client
	retry  *harvest.ExponentialRetryPolicy
	logger *zap.Logger
}

// New builds a Client.
func New(cfg Config, retry *harvest.ExponentialRetryPolicy, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if retry == nil {
		retry = harvest.NewExponentialRetryPolicy(0, 0, 0)
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		retry:  retry,
		logger: logger,
	}
}

type suggestionResponse struct {
	D []struct {
		ID   string `json:"id"`
		Kind string `json:"qid"`
	} `json:"d"`
}

// SearchByTitle returns the first series-shaped IMDb id suggested for the
// title, or ErrNotFound.
func (c *Client) SearchByTitle(ctx context.Context, title string) (string, error) {
	slug := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(title), " ", "_"))
	if slug == "" {
		return "", harvest.ErrNotFound
	}
	path := fmt.Sprintf("/%s/%s.json", slug[:1], url.PathEscape(slug))

	var resp suggestionResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return "", fmt.Errorf("suggestion search: %w", err)
	}
	for _, d := range resp.D {
		if !strings.HasPrefix(d.ID, "tt") {
			continue
		}
		switch d.Kind {
		case "tvSeries", "tvMiniSeries", "":
			return d.ID, nil
		}
	}
	return "", harvest.ErrNotFound
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = c.doOnce(ctx, path, out)
		if lastErr == nil {
			return nil
		}
		if !c.retry.ShouldRetry(lastErr, attempt) {
			return lastErr
		}
		c.logger.Debug("retrying suggestion call",
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry wait: %w", ctx.Err())
		case <-time.After(c.retry.Backoff(attempt)):
		}
	}
}

func (c *Client) doOnce(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &harvest.TransientError{Err: fmt.Errorf("do request: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return harvest.ErrNotFound
	case resp.StatusCode >= 500:
		return &harvest.TransientError{Err: fmt.Errorf("server status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &harvest.TransientError{Err: fmt.Errorf("read body: %w", err)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
