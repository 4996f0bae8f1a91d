package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aluiziolira/go-scrape-smartphones/config"
	"github.com/aluiziolira/go-scrape-smartphones/models"
	"github.com/aluiziolira/go-scrape-smartphones/parser"
	"github.com/aluiziolira/go-scrape-smartphones/pipeline"
)

// Scraper walks the catalog pages one after another and feeds every page's
// products into the pipeline.
type Scraper struct {
	cfg     *config.Config
	fetcher Fetcher
	layout  parser.Layout
	Metrics *Metrics
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	metrics := NewMetrics()
	fetcher, err := NewCollyFetcher(cfg, metrics)
	if err != nil {
		return nil, err
	}
	return NewScraperWithFetcher(cfg, fetcher, metrics), nil
}

// NewScraperWithFetcher builds a scraper around an existing fetcher.
func NewScraperWithFetcher(cfg *config.Config, fetcher Fetcher, metrics *Metrics) *Scraper {
	return &Scraper{
		cfg:     cfg,
		fetcher: fetcher,
		layout:  parser.DefaultLayout(),
		Metrics: metrics,
	}
}

// Run scrapes the base page, then every other page its pagination control
// lists. Pages fetched after the first are leaves: their own pagination is
// not followed. A failed base page aborts the run; failed later pages are
// skipped unless FailFast is set.
func (s *Scraper) Run(ctx context.Context, p *pipeline.Pipeline) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result := &models.ScraperResult{
		RunID:        uuid.NewString(),
		StartTime:    time.Now(),
		ErrorsByType: make(map[string]int),
	}
	logger := slog.With(slog.String("run_id", result.RunID))

	baseURL := s.cfg.BaseURL
	doc, err := s.fetcher.Fetch(ctx, baseURL)
	if err != nil {
		s.recordFailure(result, baseURL, err)
		return nil, fmt.Errorf("initial visit: %w", err)
	}
	if err := s.collect(p, result, doc, baseURL, logger); err != nil {
		return nil, err
	}

	visited := map[string]struct{}{baseURL: {}}
	var pending []string
	for _, link := range parser.ResolvePageURLs(doc, baseURL, s.layout) {
		if _, ok := visited[link.URL]; ok {
			continue
		}
		visited[link.URL] = struct{}{}
		if link.Active {
			continue
		}
		pending = append(pending, link.URL)
	}

	if limit := s.cfg.MaxPages - 1; len(pending) > limit {
		logger.Warn("page limit reached, ignoring remaining pages",
			slog.Int("max_pages", s.cfg.MaxPages),
			slog.Int("ignored", len(pending)-limit),
		)
		pending = pending[:limit]
	}

	for _, pageURL := range pending {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("scrape interrupted: %w", err)
		}

		pageDoc, err := s.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			s.recordFailure(result, pageURL, err)
			if s.cfg.FailFast || ctx.Err() != nil {
				return nil, err
			}
			result.SkippedPages++
			s.Metrics.IncPage("skipped")
			logger.Warn("skipping unreachable page",
				slog.String("url", pageURL),
				slog.Any("error", err),
			)
			continue
		}

		if err := s.collect(p, result, pageDoc, pageURL, logger); err != nil {
			return nil, err
		}
		s.flagUnfollowedPages(pageDoc, pageURL, visited, logger)
	}

	result.Products = p.Products()
	result.TotalCount = len(result.Products)
	result.EndTime = time.Now()
	if reporter, ok := s.fetcher.(statsReporter); ok {
		stats := reporter.Stats()
		result.RequestCount = stats.Requests
		result.ErrorCount = stats.Errors
		result.RetryCount = stats.Retries
		for category, n := range stats.ErrorsByType {
			result.ErrorsByType[category] = n
		}
	}
	return result, nil
}

func (s *Scraper) collect(p *pipeline.Pipeline, result *models.ScraperResult, doc parser.Node, pageURL string, logger *slog.Logger) error {
	products := parser.ExtractProducts(doc, s.cfg.BaseURL, s.layout)
	accepted, err := p.Process(products...)
	if err != nil {
		return fmt.Errorf("process %s: %w", pageURL, err)
	}

	duplicates := len(products) - accepted
	result.PageCount++
	result.DuplicateCount += duplicates
	s.Metrics.IncPage("scraped")
	s.Metrics.AddProducts(accepted, duplicates)

	logger.Info("page scraped",
		slog.String("url", pageURL),
		slog.Int("products", len(products)),
		slog.Int("new", accepted),
	)
	return nil
}

// flagUnfollowedPages logs pages a leaf page links to that the first page
// never listed. They are reported, not fetched.
func (s *Scraper) flagUnfollowedPages(doc parser.Node, pageURL string, visited map[string]struct{}, logger *slog.Logger) {
	unknown := 0
	for _, link := range parser.ResolvePageURLs(doc, s.cfg.BaseURL, s.layout) {
		if _, ok := visited[link.URL]; !ok {
			unknown++
		}
	}
	if unknown > 0 {
		logger.Warn("page lists pages missing from the first page, not following",
			slog.String("url", pageURL),
			slog.Int("pages", unknown),
		)
	}
}

func (s *Scraper) recordFailure(result *models.ScraperResult, pageURL string, err error) {
	result.FailedURLs = append(result.FailedURLs, pageURL)
	slog.Error("request error",
		slog.String("url", pageURL),
		slog.String("category", errorTypeLabel(err)),
		slog.Any("error", err),
	)
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
	}

	if err == nil {
		return nil
	}
	return err
}
