package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-smartphones/config"
	"github.com/aluiziolira/go-scrape-smartphones/parser"
)

// Fetcher retrieves and parses one listing page. Failures are *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (parser.Node, error)
}

// FetchStats counts the work a fetcher has done.
type FetchStats struct {
	Requests     int
	Errors       int
	Retries      int
	ErrorsByType map[string]int
}

type statsReporter interface {
	Stats() FetchStats
}

// CollyFetcher fetches pages one at a time through a synchronous colly
// collector, retrying failed requests with exponential backoff.
type CollyFetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	metrics   *Metrics
	stats     FetchStats
}

// NewCollyFetcher builds a fetcher configured from cfg. metrics may be nil.
func NewCollyFetcher(cfg *config.Config, metrics *Metrics) (*CollyFetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	f := &CollyFetcher{
		cfg:       cfg,
		collector: collector,
		metrics:   metrics,
		stats:     FetchStats{ErrorsByType: make(map[string]int)},
	}
	f.configureHandlers()
	return f, nil
}

func (f *CollyFetcher) configureHandlers() {
	f.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		f.stats.Requests++
		f.metrics.IncRequest("started")
		slog.Debug("fetching page", slog.String("url", r.URL.String()))
	})

	f.collector.OnResponse(func(r *colly.Response) {
		if start, ok := r.Ctx.GetAny("start").(time.Time); ok {
			f.metrics.ObserveDuration(time.Since(start))
		}
		r.Ctx.Put("status", r.StatusCode)
		r.Ctx.Put("body", r.Body)
	})

	f.collector.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Ctx == nil {
			return
		}
		if start, ok := r.Ctx.GetAny("start").(time.Time); ok {
			f.metrics.ObserveDuration(time.Since(start))
		}
		r.Ctx.Put("status", r.StatusCode)
	})
}

// Fetch returns the parsed page at pageURL.
func (f *CollyFetcher) Fetch(ctx context.Context, pageURL string) (parser.Node, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &FetchError{URL: pageURL, Err: err}
		}

		body, status, err := f.get(pageURL)
		if err == nil {
			return f.parse(pageURL, body)
		}

		classified := classifyError(err, status)
		if classified == nil {
			classified = err
		}
		category := errorTypeLabel(classified)
		f.stats.Errors++
		f.stats.ErrorsByType[category]++
		f.metrics.IncError(category)
		fetchErr := &FetchError{URL: pageURL, StatusCode: status, Err: classified}

		if attempt >= f.cfg.MaxRetries || !retryable(classified) {
			return nil, fetchErr
		}

		f.stats.Retries++
		f.metrics.IncRetries()
		delay := f.backoff(attempt + 1)
		slog.Debug("retrying page",
			slog.String("url", pageURL),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("category", category),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &FetchError{URL: pageURL, StatusCode: status, Err: ctx.Err()}
		case <-timer.C:
		}
	}
}

// Stats returns a copy of the fetch counters.
func (f *CollyFetcher) Stats() FetchStats {
	out := f.stats
	out.ErrorsByType = make(map[string]int, len(f.stats.ErrorsByType))
	for k, v := range f.stats.ErrorsByType {
		out.ErrorsByType[k] = v
	}
	return out
}

func (f *CollyFetcher) get(pageURL string) ([]byte, int, error) {
	cctx := colly.NewContext()
	err := f.collector.Request(http.MethodGet, pageURL, nil, cctx, nil)
	status, _ := cctx.GetAny("status").(int)
	if err != nil {
		return nil, status, err
	}
	body, _ := cctx.GetAny("body").([]byte)
	return body, status, nil
}

func (f *CollyFetcher) parse(pageURL string, body []byte) (parser.Node, error) {
	doc, err := parser.NewDocument(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}
	return doc, nil
}

func (f *CollyFetcher) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := f.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := f.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

// Missing and forbidden pages will not appear on a second attempt.
func retryable(err error) bool {
	var notFound ErrNotFound
	var forbidden ErrForbidden
	return !errors.As(err, &notFound) && !errors.As(err, &forbidden)
}
