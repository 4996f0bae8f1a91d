package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-smartphones/config"
	"github.com/aluiziolira/go-scrape-smartphones/models"
	"github.com/aluiziolira/go-scrape-smartphones/pipeline"
)

const testBaseURL = "http://example.test/smartphones"

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = testBaseURL
	cfg.MaxRetries = 0
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = 5 * time.Millisecond
	return cfg
}

func newMockedScraper(t *testing.T, cfg *config.Config, transport *httpmock.MockTransport) *Scraper {
	t.Helper()
	metrics := NewMetrics()
	fetcher, err := NewCollyFetcher(cfg, metrics)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	fetcher.collector.WithTransport(transport)
	return NewScraperWithFetcher(cfg, fetcher, metrics)
}

type collectingWriter struct {
	products []*models.Product
}

func (cw *collectingWriter) Write(products []*models.Product) error {
	cw.products = append(cw.products, products...)
	return nil
}

func (cw *collectingWriter) Close() error {
	return nil
}

func (cw *collectingWriter) Validate() error {
	return nil
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func buildListingPage(titles []string, pages int, active int) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="products">`)
	for _, title := range titles {
		b.WriteString(`<div class="product"><div class="bg-white p-4">`)
		fmt.Fprintf(&b, `<h3><span class="product-name">%s</span> <span class="product-capacity">64GB</span></h3>`, title)
		b.WriteString(`<img src="../images/phone.png">`)
		b.WriteString(`<div class="my-4 flex"><div class="px-2"><span data-colour="Black"></span></div></div>`)
		b.WriteString(`<div class="my-8 block text-center">£199.99</div>`)
		b.WriteString(`<div class="my-4 text-sm block">Availability: In Stock</div>`)
		b.WriteString(`<div class="my-4 text-sm block">Delivery by 2nd Jun 2023</div>`)
		b.WriteString(`</div></div>`)
	}
	b.WriteString(`</div>`)
	if pages > 0 {
		b.WriteString(`<div id="pages"><div class="flex">`)
		for i := 1; i <= pages; i++ {
			class := "px-4"
			if i == active {
				class = "px-4 active"
			}
			fmt.Fprintf(&b, `<a href="?page=%d" class="%s">%d</a>`, i, class, i)
		}
		b.WriteString(`</div></div>`)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func resultTitles(result *models.ScraperResult) []string {
	out := make([]string, 0, len(result.Products))
	for _, p := range result.Products {
		out = append(out, p.Title)
	}
	return out
}

func TestScraper_Integration(t *testing.T) {
	cfg := testConfig()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBaseURL, htmlResponder(buildListingPage([]string{"X", "Y"}, 3, 1)))
	transport.RegisterResponder("GET", testBaseURL+"?page=1", htmlResponder(buildListingPage([]string{"X", "Y"}, 3, 1)))
	transport.RegisterResponder("GET", testBaseURL+"?page=2", htmlResponder(buildListingPage([]string{"Y", "Z"}, 3, 2)))
	transport.RegisterResponder("GET", testBaseURL+"?page=3", htmlResponder(buildListingPage([]string{"W", "W"}, 3, 3)))

	s := newMockedScraper(t, cfg, transport)
	writer := &collectingWriter{}
	p := pipeline.NewPipeline(writer)

	result, err := s.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}

	got := strings.Join(resultTitles(result), ",")
	if got != "X,Y,Z,W" {
		t.Fatalf("titles = %s, want X,Y,Z,W", got)
	}
	if len(writer.products) != 4 {
		t.Fatalf("written = %d, want 4", len(writer.products))
	}

	calls := transport.GetCallCountInfo()
	if calls["GET "+testBaseURL+"?page=1"] != 0 {
		t.Fatalf("active page should not be fetched again, calls=%v", calls)
	}
	for _, page := range []string{"", "?page=2", "?page=3"} {
		if n := calls["GET "+testBaseURL+page]; n != 1 {
			t.Fatalf("calls to %q = %d, want 1 (%v)", page, n, calls)
		}
	}

	if result.PageCount != 3 {
		t.Fatalf("pages = %d, want 3", result.PageCount)
	}
	if result.DuplicateCount != 1 {
		t.Fatalf("duplicates = %d, want 1", result.DuplicateCount)
	}
	if result.RequestCount != 3 || result.ErrorCount != 0 {
		t.Fatalf("requests=%d errors=%d, want 3/0", result.RequestCount, result.ErrorCount)
	}
	if result.RunID == "" {
		t.Fatalf("run id should be set")
	}

	sample := result.Products[0]
	if sample.CapacityMB != 65536 || !sample.IsAvailable || len(sample.Colours) != 1 {
		t.Fatalf("unexpected product: %+v", sample)
	}
	if sample.ImageURL != testBaseURL+"/images/phone.png" {
		t.Fatalf("image url = %q", sample.ImageURL)
	}
	if sample.ShippingDate == nil || sample.ShippingDate.Month() != time.June {
		t.Fatalf("shipping date = %v", sample.ShippingDate)
	}
}

func TestScraperSkipsFailedPage(t *testing.T) {
	cfg := testConfig()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBaseURL, htmlResponder(buildListingPage([]string{"A"}, 3, 1)))
	transport.RegisterResponder("GET", testBaseURL+"?page=2", httpmock.NewStringResponder(http.StatusNotFound, ""))
	transport.RegisterResponder("GET", testBaseURL+"?page=3", htmlResponder(buildListingPage([]string{"B"}, 3, 3)))

	s := newMockedScraper(t, cfg, transport)
	p := pipeline.NewPipeline(&collectingWriter{})

	result, err := s.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.Join(resultTitles(result), ","); got != "A,B" {
		t.Fatalf("titles = %s, want A,B", got)
	}
	if result.SkippedPages != 1 {
		t.Fatalf("skipped = %d, want 1", result.SkippedPages)
	}
	if len(result.FailedURLs) != 1 || result.FailedURLs[0] != testBaseURL+"?page=2" {
		t.Fatalf("failed urls = %v", result.FailedURLs)
	}
	if result.ErrorsByType["not_found"] != 1 {
		t.Fatalf("errors by type = %v", result.ErrorsByType)
	}
}

func TestScraperFailFast(t *testing.T) {
	cfg := testConfig()
	cfg.FailFast = true

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBaseURL, htmlResponder(buildListingPage([]string{"A"}, 3, 1)))
	transport.RegisterResponder("GET", testBaseURL+"?page=2", httpmock.NewStringResponder(http.StatusInternalServerError, ""))
	transport.RegisterResponder("GET", testBaseURL+"?page=3", htmlResponder(buildListingPage([]string{"B"}, 3, 3)))

	s := newMockedScraper(t, cfg, transport)
	result, err := s.Run(context.Background(), pipeline.NewPipeline(&collectingWriter{}))
	if err == nil {
		t.Fatalf("expected error, got result %+v", result)
	}
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.URL != testBaseURL+"?page=2" {
		t.Fatalf("expected FetchError for page 2, got %v", err)
	}
	if calls := transport.GetCallCountInfo(); calls["GET "+testBaseURL+"?page=3"] != 0 {
		t.Fatalf("page 3 should not be fetched after a fatal error")
	}
}

func TestScraperBasePageFailureIsFatal(t *testing.T) {
	cfg := testConfig()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBaseURL, httpmock.NewStringResponder(http.StatusForbidden, ""))

	s := newMockedScraper(t, cfg, transport)
	_, err := s.Run(context.Background(), pipeline.NewPipeline(&collectingWriter{}))
	var forbidden ErrForbidden
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden error, got %v", err)
	}
}

func TestScraperDoesNotFollowSubPagePagination(t *testing.T) {
	cfg := testConfig()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBaseURL, htmlResponder(buildListingPage([]string{"A"}, 2, 1)))
	transport.RegisterResponder("GET", testBaseURL+"?page=2", htmlResponder(buildListingPage([]string{"B"}, 4, 2)))
	transport.RegisterResponder("GET", testBaseURL+"?page=3", htmlResponder(buildListingPage([]string{"C"}, 4, 3)))

	s := newMockedScraper(t, cfg, transport)
	result, err := s.Run(context.Background(), pipeline.NewPipeline(&collectingWriter{}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.Join(resultTitles(result), ","); got != "A,B" {
		t.Fatalf("titles = %s, want A,B", got)
	}
	if calls := transport.GetCallCountInfo(); calls["GET "+testBaseURL+"?page=3"] != 0 {
		t.Fatalf("sub-page pagination must not be followed")
	}
}

func TestScraperMaxPages(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 2

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBaseURL, htmlResponder(buildListingPage([]string{"A"}, 3, 1)))
	transport.RegisterResponder("GET", testBaseURL+"?page=2", htmlResponder(buildListingPage([]string{"B"}, 3, 2)))
	transport.RegisterResponder("GET", testBaseURL+"?page=3", htmlResponder(buildListingPage([]string{"C"}, 3, 3)))

	s := newMockedScraper(t, cfg, transport)
	result, err := s.Run(context.Background(), pipeline.NewPipeline(&collectingWriter{}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.PageCount != 2 {
		t.Fatalf("pages = %d, want 2", result.PageCount)
	}
}

func TestScraperCancelledContext(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBaseURL, htmlResponder(buildListingPage([]string{"A"}, 0, 0)))

	s := newMockedScraper(t, cfg, transport)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Run(ctx, pipeline.NewPipeline(&collectingWriter{})); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFetcherRetriesThenSucceeds(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2

	transport := httpmock.NewMockTransport()
	calls := 0
	transport.RegisterResponder("GET", testBaseURL, func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return httpmock.NewStringResponse(http.StatusTooManyRequests, ""), nil
		}
		resp := httpmock.NewStringResponse(http.StatusOK, buildListingPage([]string{"A"}, 0, 0))
		resp.Header.Set("Content-Type", "text/html")
		return resp, nil
	})

	fetcher, err := NewCollyFetcher(cfg, NewMetrics())
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	fetcher.collector.WithTransport(transport)

	if _, err := fetcher.Fetch(context.Background(), testBaseURL); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	stats := fetcher.Stats()
	if stats.Retries != 1 || stats.Requests != 2 || stats.ErrorsByType["rate_limited"] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestFetcherDoesNotRetryNotFound(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 3

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBaseURL, httpmock.NewStringResponder(http.StatusNotFound, ""))

	fetcher, err := NewCollyFetcher(cfg, nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	fetcher.collector.WithTransport(transport)

	_, err = fetcher.Fetch(context.Background(), testBaseURL)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected FetchError with status 404, got %v", err)
	}
	if n := transport.GetTotalCallCount(); n != 1 {
		t.Fatalf("calls = %d, want 1", n)
	}
}

func TestFetcherBackoffCapped(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = 200 * time.Millisecond
	cfg.RetryBackoffMax = 500 * time.Millisecond

	fetcher, err := NewCollyFetcher(cfg, nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	if delay := fetcher.backoff(1); delay != 200*time.Millisecond {
		t.Fatalf("first delay = %v, want 200ms", delay)
	}
	if delay := fetcher.backoff(4); delay > cfg.RetryBackoffMax {
		t.Fatalf("delay %v exceeds max %v", delay, cfg.RetryBackoffMax)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
		{name: "wrapped in fetch error", err: &FetchError{URL: "u", Err: ErrNotFound{Err: errors.New("x")}}, statusCode: 0, expected: "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestMetricsHandler(t *testing.T) {
	metrics := NewMetrics()
	metrics.IncPage("scraped")
	metrics.AddProducts(3, 1)

	srv := httptest.NewServer(NewMetricsHandler(metrics))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(body), "scraper_products_total 3") {
		t.Fatalf("metrics output missing products counter:\n%s", body)
	}
}
