// Package tmdb implements the primary metadata provider client.
package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"streamharvest/internal/harvest"
)

const defaultBaseURL = "https://api.themoviedb.org/3"

// Config controls the client.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client talks to the TMDB API. The primary id is the TMDB series id; the
// cross-referenced secondary id is the IMDb id from external_ids.
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

type searchResponse struct {
	Results []struct {
		ID int `json:"id"`
	} `json:"results"`
}

type detailsResponse struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	PosterPath   string `json:"poster_path"`
	FirstAirDate string `json:"first_air_date"`
	ExternalIDs  struct {
		IMDBID string `json:"imdb_id"`
	} `json:"external_ids"`
}

type findResponse struct {
	TVResults []detailsResponse `json:"tv_results"`
}

// SearchByTitle returns candidate series ids for a title, optionally
// constrained by first-air year (year == 0 means unconstrained).
func (c *Client) SearchByTitle(ctx context.Context, title string, year int) ([]string, error) {
	q := url.Values{}
	q.Set("api_key", c.cfg.APIKey)
	q.Set("query", title)
	if year > 0 {
		q.Set("first_air_date_year", strconv.Itoa(year))
	}

	var resp searchResponse
	if err := c.getJSON(ctx, "/search/tv?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("search tv: %w", err)
	}
	ids := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		ids = append(ids, strconv.Itoa(r.ID))
	}
	return ids, nil
}

// GetDetails fetches full series details including the IMDb cross-reference.
func (c *Client) GetDetails(ctx context.Context, id string) (harvest.ShowIdentity, error) {
	q := url.Values{}
	q.Set("api_key", c.cfg.APIKey)
	q.Set("append_to_response", "external_ids")

	var resp detailsResponse
	if err := c.getJSON(ctx, "/tv/"+url.PathEscape(id)+"?"+q.Encode(), &resp); err != nil {
		return harvest.ShowIdentity{}, fmt.Errorf("get details: %w", err)
	}
	return toIdentity(resp), nil
}

// FindBySecondaryID resolves an IMDb id back to a TMDB series.
func (c *Client) FindBySecondaryID(ctx context.Context, secondaryID string) (harvest.ShowIdentity, error) {
	q := url.Values{}
	q.Set("api_key", c.cfg.APIKey)
	q.Set("external_source", "imdb_id")

	var resp findResponse
	if err := c.getJSON(ctx, "/find/"+url.PathEscape(secondaryID)+"?"+q.Encode(), &resp); err != nil {
		return harvest.ShowIdentity{}, fmt.Errorf("find by imdb id: %w", err)
	}
	if len(resp.TVResults) == 0 {
		return harvest.ShowIdentity{}, harvest.ErrNotFound
	}
	id := toIdentity(resp.TVResults[0])
	if id.SecondaryID == "" {
		id.SecondaryID = secondaryID
	}
	return id, nil
}

func toIdentity(d detailsResponse) harvest.ShowIdentity {
	year := 0
	if len(d.FirstAirDate) >= 4 {
		year, _ = strconv.Atoi(d.FirstAirDate[:4])
	}
	poster := ""
	if d.PosterPath != "" {
		poster = "https://image.tmdb.org/t/p/w500" + d.PosterPath
	}
	return harvest.ShowIdentity{
		PrimaryID:   strconv.Itoa(d.ID),
		SecondaryID: d.ExternalIDs.IMDBID,
		DisplayName: d.Name,
		Poster:      poster,
		Year:        year,
	}
}

// getJSON performs a GET with jittered retries on server/network failures.
// Client errors (4xx) are terminal.
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
		c.logger.Debug("retrying provider call",
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
