package scraper

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/izome2/moftahak-discovery/models"
)

const resultKey = "tile_result"

// blockMarkers are body substrings that mean the upstream served a
// challenge page instead of search results.
var blockMarkers = []string{
	"captcha",
	"verify you are a human",
	"please verify",
	"access denied",
}

// fetchResult collects the outcome of one tile request. It travels through
// the colly request context, so only the goroutine issuing the request
// touches it.
type fetchResult struct {
	listings []*models.Listing
	status   int
	captcha  string
	err      error
}

func (s *Scraper) registerHandlers() {
	s.collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", s.cfg.UserAgents[rand.Intn(len(s.cfg.UserAgents))])
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "ar-EG,ar;q=0.9,en-US;q=0.8,en;q=0.7")
		r.Headers.Set("Sec-Fetch-Dest", "document")
		r.Headers.Set("Sec-Fetch-Mode", "navigate")
		r.Headers.Set("Sec-Fetch-Site", "none")
		r.Headers.Set("Upgrade-Insecure-Requests", "1")
	})

	s.collector.OnResponse(func(r *colly.Response) {
		holder, ok := r.Ctx.GetAny(resultKey).(*fetchResult)
		if !ok {
			return
		}
		if marker := findBlockMarker(r.Body); marker != "" {
			holder.captcha = marker
			return
		}
		holder.listings = s.extract(r.Body)
	})

	s.collector.OnError(func(r *colly.Response, err error) {
		holder, ok := r.Ctx.GetAny(resultKey).(*fetchResult)
		if !ok {
			return
		}
		if r != nil {
			holder.status = r.StatusCode
		}
		holder.err = err
	})
}

// fetchTile issues exactly one upstream request for a sub-area and zoom
// level. Every failure mode is absorbed as an empty result; block signals
// additionally put the governor into cooldown.
func (s *Scraper) fetchTile(ctx context.Context, tile models.Box, zoom, offset int, params *models.SearchParams, pass string, requests *int64) []*models.Listing {
	for {
		decision := s.governor.Check()
		if decision.Allowed {
			break
		}
		slog.Debug("fetch delayed by rate governor",
			slog.Duration("wait", decision.Wait),
			slog.String("reason", decision.Reason),
		)
		if !sleepCtx(ctx, decision.Wait) {
			return nil
		}
	}

	s.governor.Record()
	atomic.AddInt64(requests, 1)
	s.Metrics.IncRequest(pass)

	target := s.buildURL(tile, zoom, offset, params)
	holder := &fetchResult{}
	cctx := colly.NewContext()
	cctx.Put(resultKey, holder)

	start := time.Now()
	reqErr := s.collector.Request(http.MethodGet, target, nil, cctx, nil)
	s.Metrics.ObserveDuration(time.Since(start))

	switch {
	case holder.status == http.StatusForbidden || holder.status == http.StatusTooManyRequests:
		s.governor.Cooldown(s.cfg.BlockCooldown)
		s.Metrics.IncBlock("blocked")
		slog.Warn("upstream block signal",
			slog.Int("status", holder.status),
			slog.Int("zoom", zoom),
		)
		return nil
	case holder.captcha != "":
		s.governor.Cooldown(s.cfg.BlockCooldown)
		s.Metrics.IncBlock("captcha")
		slog.Warn("challenge page served", slog.Any("error", ErrCaptcha{Marker: holder.captcha}))
		return nil
	case holder.err != nil || reqErr != nil:
		err := holder.err
		if err == nil {
			err = reqErr
		}
		classified := classifyError(err, holder.status)
		s.governor.Cooldown(0)
		s.Metrics.IncBlock(errorTypeLabel(classified))
		slog.Error("tile fetch failed",
			slog.Int("zoom", zoom),
			slog.String("category", errorTypeLabel(classified)),
			slog.Any("error", classified),
		)
		return nil
	}

	s.Metrics.AddListings(len(holder.listings))
	return holder.listings
}

func (s *Scraper) buildURL(tile models.Box, zoom, offset int, params *models.SearchParams) string {
	values := url.Values{}
	values.Set("ne_lat", strconv.FormatFloat(tile.NELat, 'f', -1, 64))
	values.Set("ne_lng", strconv.FormatFloat(tile.NELng, 'f', -1, 64))
	values.Set("sw_lat", strconv.FormatFloat(tile.SWLat, 'f', -1, 64))
	values.Set("sw_lng", strconv.FormatFloat(tile.SWLng, 'f', -1, 64))
	values.Set("zoom", strconv.Itoa(zoom))
	values.Set("search_by_map", "true")
	values.Set("search_type", "user_map_move")
	values.Set("checkin", params.Checkin)
	values.Set("checkout", params.Checkout)
	values.Set("adults", strconv.Itoa(params.Adults))
	if offset > 0 {
		values.Set("items_offset", strconv.Itoa(offset))
	}
	return s.cfg.BaseURL + "?" + values.Encode()
}

func findBlockMarker(body []byte) string {
	lower := strings.ToLower(string(body))
	for _, marker := range blockMarkers {
		if strings.Contains(lower, marker) {
			return marker
		}
	}
	return ""
}
