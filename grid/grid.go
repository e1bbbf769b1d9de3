// Package grid partitions a bounding box into sub-areas and plans the
// zoom/offset strategy for a search.
package grid

import (
	"math"

	"github.com/izome2/moftahak-discovery/config"
	"github.com/izome2/moftahak-discovery/models"
)

// Plan describes how one search will query the upstream source.
type Plan struct {
	GridSize    int
	Tiles       []models.Box
	Zooms       []int
	ItemsOffset int
	AreaSizeKm  float64
}

// AreaSizeKm approximates the box edge length in kilometers. One degree is
// taken as 111km on both axes.
func AreaSizeKm(box models.Box) float64 {
	latSpan := box.LatSpan()
	lngSpan := box.LngSpan()
	if latSpan <= 0 || lngSpan <= 0 {
		return 0
	}
	return math.Sqrt(latSpan*lngSpan) * 111
}

// BuildPlan computes the tiling for params. Fresh searches size the grid by
// thoroughness at a single zoom; load-more searches repartition by strategy
// and sweep the zoom ladder so the upstream clusters listings differently.
func BuildPlan(params *models.SearchParams, cfg *config.Config) Plan {
	areaKm := AreaSizeKm(params.Box)

	if !params.IsLoadMore() {
		divisor, ok := cfg.ThoroughnessDivisors[params.Thoroughness]
		if !ok {
			divisor = cfg.ThoroughnessDivisors[models.ThoroughnessNormal]
		}
		size := clamp(int(math.Ceil(areaKm/divisor)), 1, cfg.MaxGridSize)
		return Plan{
			GridSize:   size,
			Tiles:      Split(params.Box, size),
			Zooms:      []int{cfg.FreshZoom},
			AreaSizeKm: areaKm,
		}
	}

	var size, offset int
	switch params.Strategy {
	case models.StrategyMicroGrid:
		size = clamp(int(math.Ceil(areaKm/2)), 2, cfg.MaxGridSize)
	case models.StrategyOffset:
		size = 1
		offset = len(params.ExcludeIDs)
	default:
		size = 2
		offset = (len(params.ExcludeIDs) / 20) * 20
	}

	return Plan{
		GridSize:    size,
		Tiles:       Split(params.Box, size),
		Zooms:       append([]int(nil), cfg.LoadMoreZooms...),
		ItemsOffset: offset,
		AreaSizeKm:  areaKm,
	}
}

// Split partitions box into an n by n grid of equal-size cells by linear
// interpolation along each axis. n below 1 is treated as 1.
func Split(box models.Box, n int) []models.Box {
	if n < 1 {
		n = 1
	}

	latStep := box.LatSpan() / float64(n)
	lngStep := box.LngSpan() / float64(n)

	tiles := make([]models.Box, 0, n*n)
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			tiles = append(tiles, models.Box{
				SWLat: box.SWLat + float64(row)*latStep,
				SWLng: box.SWLng + float64(col)*lngStep,
				NELat: box.SWLat + float64(row+1)*latStep,
				NELng: box.SWLng + float64(col+1)*lngStep,
			})
		}
	}
	return tiles
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
