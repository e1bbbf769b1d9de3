package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/izome2/moftahak-discovery/models"
)

// Config holds pipeline configuration. The grid ceiling, thoroughness
// divisors and rate-limit knobs are tuned values carried as configuration;
// do not re-derive them.
type Config struct {
	// Upstream
	BaseURL    string
	Currency   string
	UserAgents []string
	Timeout    time.Duration

	// Rate governor
	MaxRequestsPerMinute int
	RateWindow           time.Duration
	MinRequestSpacing    time.Duration
	DefaultCooldown      time.Duration
	BlockCooldown        time.Duration

	// Orchestration
	MaxConcurrentRequests int
	BatchDelay            time.Duration
	ZoomDelay             time.Duration
	SupplementaryDelay    time.Duration
	SparseThreshold       int

	// Partitioning
	MaxGridSize          int
	ThoroughnessDivisors map[string]float64
	FreshZoom            int
	LoadMoreZooms        []int

	// Cache
	CacheSize  int
	FreshFor   time.Duration
	EvictAfter time.Duration

	// Defaults for callers that omit a bounding box
	DefaultBox    models.Box
	DefaultAdults int

	// Serving
	ListenAddr  string
	MetricsAddr string
	Verbose     bool
}

// DefaultConfig returns the tuned defaults for the upstream target.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:  "https://www.airbnb.com/s/homes",
		Currency: "EGP",
		UserAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		},
		Timeout: 15 * time.Second,

		MaxRequestsPerMinute: 15,
		RateWindow:           time.Minute,
		MinRequestSpacing:    1500 * time.Millisecond,
		DefaultCooldown:      15 * time.Second,
		BlockCooldown:        60 * time.Second,

		MaxConcurrentRequests: 3,
		BatchDelay:            3 * time.Second,
		ZoomDelay:             2 * time.Second,
		SupplementaryDelay:    2 * time.Second,
		SparseThreshold:       10,

		MaxGridSize: 4,
		ThoroughnessDivisors: map[string]float64{
			models.ThoroughnessFast:     8,
			models.ThoroughnessNormal:   5,
			models.ThoroughnessThorough: 3,
			models.ThoroughnessComplete: 2,
		},
		FreshZoom:     15,
		LoadMoreZooms: []int{14, 16, 17},

		CacheSize:  64,
		FreshFor:   10 * time.Minute,
		EvictAfter: 20 * time.Minute,

		// Greater Cairo
		DefaultBox: models.Box{
			NELat: 30.15,
			NELng: 31.40,
			SWLat: 29.95,
			SWLng: 31.20,
		},
		DefaultAdults: 1,

		ListenAddr:  ":8080",
		MetricsAddr: ":9090",
		Verbose:     false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}
	if len(c.UserAgents) == 0 {
		return fmt.Errorf("user agent pool cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRequestsPerMinute <= 0 {
		return fmt.Errorf("max requests per minute must be positive")
	}
	if c.RateWindow <= 0 {
		return fmt.Errorf("rate window must be positive")
	}
	if c.MinRequestSpacing < 0 {
		return fmt.Errorf("request spacing cannot be negative")
	}
	if c.DefaultCooldown <= 0 || c.BlockCooldown <= 0 {
		return fmt.Errorf("cooldown durations must be positive")
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("max concurrent requests must be positive")
	}
	if c.BatchDelay < 0 || c.ZoomDelay < 0 || c.SupplementaryDelay < 0 {
		return fmt.Errorf("delays cannot be negative")
	}
	if c.SparseThreshold < 0 {
		return fmt.Errorf("sparse threshold cannot be negative")
	}
	if c.MaxGridSize <= 0 {
		return fmt.Errorf("max grid size must be positive")
	}
	if len(c.ThoroughnessDivisors) == 0 {
		return fmt.Errorf("thoroughness divisors cannot be empty")
	}
	for level, div := range c.ThoroughnessDivisors {
		if div <= 0 {
			return fmt.Errorf("thoroughness divisor for %q must be positive", level)
		}
	}
	if len(c.LoadMoreZooms) == 0 {
		return fmt.Errorf("load-more zoom levels cannot be empty")
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.FreshFor <= 0 || c.EvictAfter <= 0 {
		return fmt.Errorf("cache windows must be positive")
	}
	if c.FreshFor > c.EvictAfter {
		return fmt.Errorf("freshness window (%s) cannot exceed retention window (%s)", c.FreshFor, c.EvictAfter)
	}
	if c.DefaultBox.SWLat >= c.DefaultBox.NELat || c.DefaultBox.SWLng >= c.DefaultBox.NELng {
		return fmt.Errorf("default box corners are inverted")
	}
	return nil
}

// EnvString reads a string environment override.
func EnvString(key string) (string, bool) {
	val := os.Getenv(key)
	if val == "" {
		return "", false
	}
	return val, true
}

// EnvInt reads an integer environment override.
func EnvInt(key string) (int, bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, true, nil
}
