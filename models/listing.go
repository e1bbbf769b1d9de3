// Package models defines data structures for the discovery pipeline.
package models

import "time"

// Thoroughness levels for a fresh search.
const (
	ThoroughnessFast     = "fast"
	ThoroughnessNormal   = "normal"
	ThoroughnessThorough = "thorough"
	ThoroughnessComplete = "complete"
)

// Load-more search strategies.
const (
	StrategyNormal    = "normal"
	StrategyMicroGrid = "micro-grid"
	StrategyOffset    = "offset"
)

// Listing represents a normalized rental unit observation.
type Listing struct {
	ID           string  `json:"id"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Name         string  `json:"name"`
	PropertyType string  `json:"propertyType"`
	HostName     string  `json:"hostName"`
	ImageURL     string  `json:"imageUrl"`
	Bedrooms     int     `json:"bedrooms"`
	Bathrooms    int     `json:"bathrooms"`
	Beds         int     `json:"beds"`
	Guests       int     `json:"guests"`
	Rating       float64 `json:"rating"`
	ReviewsCount int     `json:"reviewsCount"`
	Price        float64 `json:"price"`
	Currency     string  `json:"currency"`
}

// Merge combines two observations of the same listing, preferring fields
// that already carry data over empty ones.
func Merge(a, b *Listing) *Listing {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}

	out := *a
	if out.Name == "" {
		out.Name = b.Name
	}
	if out.PropertyType == "" {
		out.PropertyType = b.PropertyType
	}
	if out.HostName == "" {
		out.HostName = b.HostName
	}
	if out.ImageURL == "" {
		out.ImageURL = b.ImageURL
	}
	if out.Bedrooms == 0 {
		out.Bedrooms = b.Bedrooms
	}
	if out.Bathrooms == 0 {
		out.Bathrooms = b.Bathrooms
	}
	if out.Beds == 0 {
		out.Beds = b.Beds
	}
	if out.Guests == 0 {
		out.Guests = b.Guests
	}
	if out.Rating == 0 {
		out.Rating = b.Rating
	}
	if out.ReviewsCount == 0 {
		out.ReviewsCount = b.ReviewsCount
	}
	if out.Price == 0 {
		out.Price = b.Price
	}
	if out.Currency == "" {
		out.Currency = b.Currency
	}
	return &out
}

// Box is a geographic bounding box. Callers are expected to supply
// sw_lat < ne_lat and sw_lng < ne_lng.
type Box struct {
	NELat float64 `json:"ne_lat"`
	NELng float64 `json:"ne_lng"`
	SWLat float64 `json:"sw_lat"`
	SWLng float64 `json:"sw_lng"`
}

// Contains reports whether the point lies inside the box. Comparisons are
// inclusive so that grid-cell edges subject to float drift still pass.
func (b Box) Contains(lat, lng float64) bool {
	return lat >= b.SWLat && lat <= b.NELat && lng >= b.SWLng && lng <= b.NELng
}

// LatSpan returns the box height in degrees.
func (b Box) LatSpan() float64 { return b.NELat - b.SWLat }

// LngSpan returns the box width in degrees.
func (b Box) LngSpan() float64 { return b.NELng - b.SWLng }

// SearchParams carries the bounding box and query intent for one search.
type SearchParams struct {
	Box          Box
	Adults       int
	Checkin      string
	Checkout     string
	Thoroughness string
	ExcludeIDs   []string
	Strategy     string
}

// IsLoadMore reports whether the caller already holds listings and wants
// new ones beyond them.
func (p *SearchParams) IsLoadMore() bool {
	return len(p.ExcludeIDs) > 0
}

// ApplyDefaults fills booking context left empty by the caller: one adult,
// check-in three days out, one night stay.
func (p *SearchParams) ApplyDefaults(now time.Time) {
	if p.Adults <= 0 {
		p.Adults = 1
	}
	if p.Checkin == "" {
		p.Checkin = now.AddDate(0, 0, 3).Format("2006-01-02")
	}
	if p.Checkout == "" {
		checkin, err := time.Parse("2006-01-02", p.Checkin)
		if err != nil {
			checkin = now.AddDate(0, 0, 3)
		}
		p.Checkout = checkin.AddDate(0, 0, 1).Format("2006-01-02")
	}
	switch p.Thoroughness {
	case ThoroughnessFast, ThoroughnessNormal, ThoroughnessThorough, ThoroughnessComplete:
	default:
		p.Thoroughness = ThoroughnessNormal
	}
	if p.IsLoadMore() {
		switch p.Strategy {
		case StrategyNormal, StrategyMicroGrid, StrategyOffset:
		default:
			p.Strategy = StrategyNormal
		}
	}
}

// ExcludeSet returns the exclude ids as a set for membership checks.
func (p *SearchParams) ExcludeSet() map[string]struct{} {
	if len(p.ExcludeIDs) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(p.ExcludeIDs))
	for _, id := range p.ExcludeIDs {
		set[id] = struct{}{}
	}
	return set
}

// Rate limit status values reported in search metadata.
const (
	RateLimitOK      = "ok"
	RateLimitBlocked = "blocked"
)

// SearchMetadata summarizes how a search was executed.
type SearchMetadata struct {
	TotalRequests   int     `json:"totalRequests"`
	GridSize        int     `json:"gridSize"`
	AreaSizeKm      float64 `json:"areaSizeKm"`
	Thoroughness    string  `json:"thoroughness"`
	FromCache       bool    `json:"fromCache"`
	RateLimitStatus string  `json:"rateLimitStatus"`
}

// SearchResult is the merged outcome of one search.
type SearchResult struct {
	Listings   []*Listing     `json:"listings"`
	SearchArea Box            `json:"searchArea"`
	Metadata   SearchMetadata `json:"metadata"`
}
