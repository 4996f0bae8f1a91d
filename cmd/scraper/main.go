package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-smartphones/config"
	"github.com/aluiziolira/go-scrape-smartphones/models"
	"github.com/aluiziolira/go-scrape-smartphones/pipeline"
	"github.com/aluiziolira/go-scrape-smartphones/scraper"
)

func main() {
	defaults := config.DefaultConfig()

	configPath := flag.String("config", "", "Optional YAML config file")
	baseURL := flag.String("base-url", defaults.BaseURL, "Catalog page to start from")
	maxPages := flag.Int("pages", defaults.MaxPages, "Maximum catalog pages to scrape")
	delayMs := flag.Int("delay", 0, "Delay between requests (milliseconds)")
	randomDelayMs := flag.Int("random-delay", 0, "Random jitter added to delay (milliseconds)")
	maxRetries := flag.Int("max-retries", defaults.MaxRetries, "Maximum retry attempts per page")
	retryBackoffMs := flag.Int("retry-backoff", int(defaults.RetryBackoff/time.Millisecond), "Initial retry backoff (milliseconds)")
	retryBackoffMaxMs := flag.Int("retry-backoff-max", int(defaults.RetryBackoffMax/time.Millisecond), "Maximum retry backoff (milliseconds)")
	failFast := flag.Bool("fail-fast", defaults.FailFast, "Abort the run when any page fails")
	respectRobots := flag.Bool("respect-robots", false, "Respect robots.txt directives")
	outputFile := flag.String("output", defaults.OutputFile, "Output file path")
	outputFormat := flag.String("format", defaults.OutputFormat, "Output format: json, csv, or dual")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if err := applyEnv(cfg); err != nil {
		slog.Error("invalid environment", slog.Any("error", err))
		os.Exit(1)
	}

	// Explicit flags win over file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "base-url":
			cfg.BaseURL = *baseURL
		case "pages":
			cfg.MaxPages = *maxPages
		case "delay":
			cfg.Delay = time.Duration(*delayMs) * time.Millisecond
		case "random-delay":
			cfg.RandomDelay = time.Duration(*randomDelayMs) * time.Millisecond
		case "max-retries":
			cfg.MaxRetries = *maxRetries
		case "retry-backoff":
			cfg.RetryBackoff = time.Duration(*retryBackoffMs) * time.Millisecond
		case "retry-backoff-max":
			cfg.RetryBackoffMax = time.Duration(*retryBackoffMaxMs) * time.Millisecond
		case "fail-fast":
			cfg.FailFast = *failFast
		case "respect-robots":
			cfg.RespectRobotsTxt = *respectRobots
		case "output":
			cfg.OutputFile = *outputFile
		case "format":
			cfg.OutputFormat = *outputFormat
		case "v":
			cfg.Verbose = *verbose
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		}
	})
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)
	if cfg.Verbose {
		level.Set(slog.LevelDebug)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting scrape",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("max_pages", cfg.MaxPages),
		slog.Bool("fail_fast", cfg.FailFast),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsServer := startMetricsServer(cfg.MetricsAddr, s.Metrics)

	p := pipeline.NewPipeline(writer)

	startTime := time.Now()
	result, err := s.Run(ctx, p)
	if err != nil {
		// Nothing is written: writers only touch the output file on Close.
		slog.Error("scraping failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := writer.Close(); err != nil {
		slog.Error("close writer", slog.Any("error", err))
		os.Exit(1)
	}
	if err := writer.Validate(); err != nil {
		slog.Error("output validation failed", slog.Any("error", err))
		os.Exit(1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result, time.Since(startTime), outputFiles(writer, cfg.OutputFile), p.GetMetrics())
}

func applyEnv(cfg *config.Config) error {
	if value, ok := config.EnvString("SCRAPER_BASE_URL"); ok {
		cfg.BaseURL = value
	}
	if value, ok, err := config.EnvInt("SCRAPER_PAGES"); err != nil {
		return fmt.Errorf("SCRAPER_PAGES: %w", err)
	} else if ok {
		cfg.MaxPages = value
	}
	if value, ok := config.EnvString("SCRAPER_OUTPUT"); ok {
		cfg.OutputFile = value
	}
	if value, ok := config.EnvString("SCRAPER_METRICS_ADDR"); ok {
		cfg.MetricsAddr = value
	}
	if value, ok, err := config.EnvBool("SCRAPER_FAIL_FAST"); err != nil {
		return fmt.Errorf("SCRAPER_FAIL_FAST: %w", err)
	} else if ok {
		cfg.FailFast = value
	}
	return nil
}

func startMetricsServer(addr string, metrics *scraper.Metrics) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           scraper.NewMetricsHandler(metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return srv
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		return pipeline.NewDualWriter(pipeline.OutputStem(filename))
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func outputFiles(writer pipeline.OutputWriter, filename string) string {
	if dual, ok := writer.(*pipeline.DualWriter); ok {
		return strings.Join(dual.Files(), ", ")
	}
	return filename
}

func printSummary(result *models.ScraperResult, duration time.Duration, outputFile string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")
	fmt.Printf("  Run ID:        %s\n", result.RunID)
	fmt.Printf("  Products:      %d\n", result.TotalCount)
	fmt.Printf("  Pages:         %d\n", result.PageCount)
	fmt.Printf("  Duplicates:    %d\n", result.DuplicateCount)
	if result.SkippedPages > 0 {
		fmt.Printf("  Skipped pages: %d (warning)\n", result.SkippedPages)
	}
	fmt.Printf("  Requests:      %d\n", result.RequestCount)
	fmt.Printf("  Errors:        %d\n", result.ErrorCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	if len(result.FailedURLs) > 0 {
		fmt.Printf("  Failed URLs:   %s\n", strings.Join(result.FailedURLs, ", "))
	}
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
