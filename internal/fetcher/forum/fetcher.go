// Package forum fetches listing and thread pages from the source forum and
// extracts the narrow contract the pipeline consumes.
package forum

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"streamharvest/internal/harvest"
	"streamharvest/internal/metrics"
)

// Renderer produces a fully rendered DOM for pages that hide their content
// behind scripts. Optional.
type Renderer interface {
	Render(ctx context.Context, url string) ([]byte, error)
}

// Config controls the fetcher.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements harvest.ThreadFetcher with a Colly probe fetch and
// goquery extraction. The probe fails fast on timeout; retries are the
// provider layer's business, not this one's.
type Fetcher struct {
	cfg      Config
	base     *colly.Collector
	renderer Renderer
	logger   *zap.Logger
}

// New builds a Fetcher. renderer may be nil to disable headless promotion.
func New(cfg Config, renderer Renderer, logger *zap.Logger) (*Fetcher, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base url required")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "streamharvest/0.1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.Async(false),
	)
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(&http.Transport{
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	return &Fetcher{
		cfg:      cfg,
		base:     c,
		renderer: renderer,
		logger:   logger,
	}, nil
}

// FetchListing retrieves one page of the paginated topic listing and returns
// the discovered thread links. Returns ErrNotFound past the last page.
func (f *Fetcher) FetchListing(ctx context.Context, page int) ([]harvest.ThreadLink, error) {
	url := f.listingURL(page)
	body, err := f.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	seen := map[string]struct{}{}
	var links []harvest.ThreadLink
	doc.Find(`a[href*="/topic/"]`).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.SplitN(href, "#", 2)[0]
		if _, dup := seen[href]; dup {
			return
		}
		title := strings.TrimSpace(sel.Text())
		if title == "" {
			return
		}
		seen[href] = struct{}{}
		links = append(links, harvest.ThreadLink{URL: href, Title: title})
	})
	if len(links) == 0 {
		// An empty listing page past the end renders without topic links.
		return nil, harvest.ErrNotFound
	}
	return links, nil
}

// FetchThread retrieves one thread page and extracts its title, poster and
// magnet links, promoting to a rendered fetch when the probe body looks
// script-rendered and carries no magnets.
func (f *Fetcher) FetchThread(ctx context.Context, url string) (harvest.ThreadPage, error) {
	body, err := f.fetch(ctx, url)
	if err != nil {
		return harvest.ThreadPage{}, err
	}
	page, err := extractThread(body)
	if err != nil {
		return harvest.ThreadPage{}, err
	}

	if len(page.Magnets) == 0 && f.renderer != nil && looksScriptRendered(body) {
		rendered, rerr := f.renderThread(ctx, url)
		if rerr != nil {
			f.logger.Warn("headless promotion failed", zap.String("url", url), zap.Error(rerr))
			return page, nil
		}
		if rpage, perr := extractThread(rendered); perr == nil && len(rpage.Magnets) > 0 {
			return rpage, nil
		}
	}
	return page, nil
}

func (f *Fetcher) renderThread(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	rendered, err := f.renderer.Render(ctx, url)
	metrics.ObserveFetch("headless", time.Since(start).Seconds())
	return rendered, err
}

func (f *Fetcher) listingURL(page int) string {
	base := strings.TrimRight(f.cfg.BaseURL, "/")
	if page <= 1 {
		return base + "/"
	}
	return fmt.Sprintf("%s/page/%d/", base, page)
}

// fetch performs one probe request. 404 maps to ErrNotFound; any other
// failure surfaces as-is with no retry.
func (f *Fetcher) fetch(ctx context.Context, url string) ([]byte, error) {
	c := f.base.Clone()

	var (
		body     []byte
		status   int
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- c.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch %s canceled: %w", url, ctx.Err())
	case err := <-done:
		metrics.ObserveFetch("probe", time.Since(start).Seconds())
		if status == http.StatusNotFound || status == http.StatusGone {
			return nil, harvest.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, fetchErr)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("fetch %s: empty body", url)
	}
	return body, nil
}

func extractThread(body []byte) (harvest.ThreadPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return harvest.ThreadPage{}, fmt.Errorf("parse thread html: %w", err)
	}

	page := harvest.ThreadPage{}
	page.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	if page.Title == "" {
		page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if poster, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok {
		page.PosterURL = poster
	}

	seen := map[string]struct{}{}
	doc.Find(`a[href^="magnet:"]`).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		page.Magnets = append(page.Magnets, href)
	})
	return page, nil
}

// looksScriptRendered is a cheap heuristic for pages whose content arrives
// via JavaScript: lots of script tags, next to no anchors.
func looksScriptRendered(body []byte) bool {
	scripts := bytes.Count(body, []byte("<script"))
	anchors := bytes.Count(body, []byte("<a "))
	return scripts >= 5 && anchors < 5
}
