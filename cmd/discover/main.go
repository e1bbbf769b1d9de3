package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/izome2/moftahak-discovery/cache"
	"github.com/izome2/moftahak-discovery/config"
	"github.com/izome2/moftahak-discovery/export"
	"github.com/izome2/moftahak-discovery/models"
	"github.com/izome2/moftahak-discovery/ratelimit"
	"github.com/izome2/moftahak-discovery/scraper"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	defaultCfg := config.DefaultConfig()

	neLat := flag.Float64("ne-lat", defaultCfg.DefaultBox.NELat, "North-east corner latitude")
	neLng := flag.Float64("ne-lng", defaultCfg.DefaultBox.NELng, "North-east corner longitude")
	swLat := flag.Float64("sw-lat", defaultCfg.DefaultBox.SWLat, "South-west corner latitude")
	swLng := flag.Float64("sw-lng", defaultCfg.DefaultBox.SWLng, "South-west corner longitude")
	adults := flag.Int("adults", defaultCfg.DefaultAdults, "Number of adults")
	checkin := flag.String("checkin", "", "Check-in date (YYYY-MM-DD)")
	checkout := flag.String("checkout", "", "Check-out date (YYYY-MM-DD)")
	thoroughness := flag.String("thoroughness", models.ThoroughnessNormal, "Grid density: fast, normal, thorough, or complete")
	outputFile := flag.String("output", "output/listings.csv", "Output file path")
	outputFormat := flag.String("format", "csv", "Output format: csv, json, or dual")
	baseURL := flag.String("base-url", defaultCfg.BaseURL, "Upstream search page URL")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := defaultCfg
	cfg.BaseURL = *baseURL
	cfg.Verbose = *verbose
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	s, err := scraper.New(cfg, ratelimit.New(cfg), cache.New(cfg.CacheSize, cfg.FreshFor, cfg.EvictAfter))
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	writer, err := createWriter(strings.ToLower(*outputFormat), *outputFile)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	params := &models.SearchParams{
		Box: models.Box{
			NELat: *neLat,
			NELng: *neLng,
			SWLat: *swLat,
			SWLng: *swLng,
		},
		Adults:       *adults,
		Checkin:      *checkin,
		Checkout:     *checkout,
		Thoroughness: *thoroughness,
	}

	slog.Info("starting discovery",
		slog.Float64("area_lat_span", params.Box.LatSpan()),
		slog.Float64("area_lng_span", params.Box.LngSpan()),
		slog.String("thoroughness", params.Thoroughness),
	)

	startTime := time.Now()
	result, err := s.Search(ctx, params)
	if err != nil {
		slog.Error("search failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := writer.Write(result.Listings); err != nil {
		slog.Error("writing output failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := writer.Validate(); err != nil {
		slog.Error("output validation failed", slog.Any("error", err))
		os.Exit(1)
	}

	printSummary(result, time.Since(startTime), *outputFile)
}

func createWriter(format, filename string) (export.OutputWriter, error) {
	switch format {
	case "json":
		return export.NewJSONWriter(filename)
	case "csv":
		return export.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".json"
		return export.NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(result *models.SearchResult, duration time.Duration, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Discovery complete")
	fmt.Printf("  Listings:      %d\n", len(result.Listings))
	fmt.Printf("  Requests:      %d\n", result.Metadata.TotalRequests)
	fmt.Printf("  Grid size:     %d\n", result.Metadata.GridSize)
	fmt.Printf("  Area (km):     %.2f\n", result.Metadata.AreaSizeKm)
	fmt.Printf("  Rate limit:    %s\n", result.Metadata.RateLimitStatus)
	fmt.Printf("  From cache:    %v\n", result.Metadata.FromCache)
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
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
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
