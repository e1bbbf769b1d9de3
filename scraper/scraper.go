// Package scraper orchestrates listing discovery: it partitions the
// requested bounding box, fans out rate-governed tile fetches, merges and
// deduplicates the extracted listings, and serves repeat searches from the
// result cache.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/izome2/moftahak-discovery/cache"
	"github.com/izome2/moftahak-discovery/config"
	"github.com/izome2/moftahak-discovery/grid"
	"github.com/izome2/moftahak-discovery/models"
	"github.com/izome2/moftahak-discovery/parser"
	"github.com/izome2/moftahak-discovery/ratelimit"
)

// Scraper runs searches against the upstream listing source.
type Scraper struct {
	cfg       *config.Config
	collector *colly.Collector
	governor  *ratelimit.Governor
	cache     *cache.Store
	Metrics   *Metrics
}

// New builds a scraper around the given governor and cache. Both are shared
// with the API layer so the admin reset can reach them.
func New(cfg *config.Config, governor *ratelimit.Governor, store *cache.Store) (*Scraper, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Host),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	s := &Scraper{
		cfg:       cfg,
		collector: collector,
		governor:  governor,
		cache:     store,
		Metrics:   NewMetrics(),
	}
	s.registerHandlers()
	return s, nil
}

// Search executes one search. Fresh searches are served from the cache when
// a fresh entry exists; otherwise tiles are fetched per the partition plan,
// merged, filtered to the requested box, and (for fresh searches) cached.
// Upstream failures degrade the result instead of failing it.
func (s *Scraper) Search(ctx context.Context, params *models.SearchParams) (*models.SearchResult, error) {
	params.ApplyDefaults(time.Now())

	loadMore := params.IsLoadMore()
	key := cache.Key(params.Box)

	if loadMore {
		s.Metrics.IncSearch("load_more")
	} else {
		s.Metrics.IncSearch("fresh")
		if entry, fresh := s.cache.Get(key); fresh {
			s.Metrics.IncCache("hit")
			slog.Debug("serving cached result", slog.String("key", key), slog.Int("listings", len(entry.Listings)))
			return s.cachedResult(params.Box, entry), nil
		} else if entry != nil {
			s.Metrics.IncCache("stale")
		} else {
			s.Metrics.IncCache("miss")
		}
	}

	plan := grid.BuildPlan(params, s.cfg)
	slog.Info("starting search",
		slog.Bool("load_more", loadMore),
		slog.Int("grid_size", plan.GridSize),
		slog.Float64("area_km", plan.AreaSizeKm),
		slog.String("thoroughness", params.Thoroughness),
	)

	agg := newAggregator()
	var requests int64
	pass := "fresh"
	if loadMore {
		pass = "load_more"
	}

	for i, zoom := range plan.Zooms {
		if i > 0 && !sleepCtx(ctx, s.cfg.ZoomDelay) {
			break
		}
		s.runPass(ctx, plan.Tiles, zoom, plan.ItemsOffset, params, pass, agg, &requests)
	}

	// Sparse fresh coverage gets one finer pass at the next zoom.
	if !loadMore && agg.size() < s.cfg.SparseThreshold && ctx.Err() == nil {
		if sleepCtx(ctx, s.cfg.SupplementaryDelay) {
			finer := plan.GridSize + 1
			if finer > s.cfg.MaxGridSize {
				finer = s.cfg.MaxGridSize
			}
			s.runPass(ctx, grid.Split(params.Box, finer), s.cfg.FreshZoom+1, 0, params, "supplementary", agg, &requests)
		}
	}

	listings := agg.finalize(params.Box, params.ExcludeSet())

	status := models.RateLimitOK
	if s.governor.Blocked() {
		status = models.RateLimitBlocked
	}
	metadata := models.SearchMetadata{
		TotalRequests:   int(atomic.LoadInt64(&requests)),
		GridSize:        plan.GridSize,
		AreaSizeKm:      plan.AreaSizeKm,
		Thoroughness:    params.Thoroughness,
		RateLimitStatus: status,
	}

	if !loadMore {
		s.cache.Put(key, &cache.Entry{Listings: listings, Metadata: metadata})
	}

	slog.Info("search finished",
		slog.Int("listings", len(listings)),
		slog.Int("requests", metadata.TotalRequests),
		slog.String("rate_limit", status),
	)

	return &models.SearchResult{
		Listings:   listings,
		SearchArea: params.Box,
		Metadata:   metadata,
	}, nil
}

// ResetState clears the governor and the result cache.
func (s *Scraper) ResetState() {
	s.governor.Reset()
	s.cache.Purge()
}

// runPass fetches every tile at one zoom level in batches of at most
// MaxConcurrentRequests, pausing between batches.
func (s *Scraper) runPass(ctx context.Context, tiles []models.Box, zoom, offset int, params *models.SearchParams, pass string, agg *aggregator, requests *int64) {
	batchSize := s.cfg.MaxConcurrentRequests
	for start := 0; start < len(tiles); start += batchSize {
		if ctx.Err() != nil {
			return
		}
		if start > 0 && !sleepCtx(ctx, s.cfg.BatchDelay) {
			return
		}

		end := start + batchSize
		if end > len(tiles) {
			end = len(tiles)
		}

		var wg sync.WaitGroup
		for _, tile := range tiles[start:end] {
			wg.Add(1)
			go func(tile models.Box) {
				defer wg.Done()
				if ctx.Err() != nil {
					return
				}
				agg.add(s.fetchTile(ctx, tile, zoom, offset, params, pass, requests))
			}(tile)
		}
		wg.Wait()
	}
}

func (s *Scraper) extract(body []byte) []*models.Listing {
	return parser.Extract(body, s.cfg.Currency)
}

func (s *Scraper) cachedResult(box models.Box, entry *cache.Entry) *models.SearchResult {
	metadata := entry.Metadata
	metadata.FromCache = true
	if s.governor.Blocked() {
		metadata.RateLimitStatus = models.RateLimitBlocked
	} else {
		metadata.RateLimitStatus = models.RateLimitOK
	}
	return &models.SearchResult{
		Listings:   append([]*models.Listing(nil), entry.Listings...),
		SearchArea: box,
		Metadata:   metadata,
	}
}

// aggregator merges listings across tiles and zoom passes by id.
type aggregator struct {
	mu   sync.Mutex
	byID map[string]*models.Listing
}

func newAggregator() *aggregator {
	return &aggregator{byID: make(map[string]*models.Listing)}
}

func (a *aggregator) add(listings []*models.Listing) {
	if len(listings) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, l := range listings {
		if l == nil || l.ID == "" {
			continue
		}
		if existing, ok := a.byID[l.ID]; ok {
			a.byID[l.ID] = models.Merge(existing, l)
		} else {
			a.byID[l.ID] = l
		}
	}
}

func (a *aggregator) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.byID)
}

// finalize filters the merged set to the originally requested box and drops
// ids the caller already holds, in either bare or prefixed form. Output is
// sorted by id so repeated searches compare equal.
func (a *aggregator) finalize(box models.Box, exclude map[string]struct{}) []*models.Listing {
	a.mu.Lock()
	defer a.mu.Unlock()

	listings := make([]*models.Listing, 0, len(a.byID))
	for _, l := range a.byID {
		if !box.Contains(l.Lat, l.Lng) {
			continue
		}
		if exclude != nil {
			if _, ok := exclude[l.ID]; ok {
				continue
			}
			if _, ok := exclude["airbnb-"+l.ID]; ok {
				continue
			}
		}
		listings = append(listings, l)
	}
	sort.Slice(listings, func(i, j int) bool { return listings[i].ID < listings[j].ID })
	return listings
}

// sleepCtx pauses for d, returning false if ctx is done first or already.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
