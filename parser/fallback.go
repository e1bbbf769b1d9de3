package parser

import (
	"encoding/json"
	"regexp"
	"strconv"

	"github.com/izome2/moftahak-discovery/models"
)

// fallbackWindow is how far past an id match the opportunistic field
// regexes are allowed to look.
const fallbackWindow = 1200

var (
	idCoordPattern = regexp.MustCompile(`(?s)"id"\s*:\s*"([A-Za-z0-9+/=]+)".{0,600}?"coordinate"\s*:\s*\{\s*"latitude"\s*:\s*(-?[0-9.]+)\s*,\s*"longitude"\s*:\s*(-?[0-9.]+)`)
	namePattern    = regexp.MustCompile(`"name"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	ratingPattern  = regexp.MustCompile(`"avgRatingLocalized"\s*:\s*"([0-9]+(?:\.[0-9]+)?)\s*\((\d+)\)"`)
	bedroomPattern = regexp.MustCompile(`(\d+)\s*(?:bedroom|غرف نوم|غرفة نوم)`)
	picturePattern = regexp.MustCompile(`"picture"\s*:\s*"(https:[^"]+?)"`)
)

// extractFallback recovers (id, lat, lng) triples straight from the raw
// HTML when the embedded payload could not be walked, then widens a text
// window around each match to pick up name, rating, bedrooms and image
// opportunistically.
func extractFallback(html []byte, currency string) []*models.Listing {
	matches := idCoordPattern.FindAllSubmatchIndex(html, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	var listings []*models.Listing

	for _, m := range matches {
		rawID := string(html[m[2]:m[3]])
		lat, err1 := strconv.ParseFloat(string(html[m[4]:m[5]]), 64)
		lng, err2 := strconv.ParseFloat(string(html[m[6]:m[7]]), 64)
		if err1 != nil || err2 != nil {
			continue
		}

		id := DecodeListingID(rawID)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		end := m[1] + fallbackWindow
		if end > len(html) {
			end = len(html)
		}
		window := html[m[0]:end]

		listing := &models.Listing{
			ID:       id,
			Lat:      lat,
			Lng:      lng,
			Currency: currency,
		}

		if nm := namePattern.FindSubmatch(window); nm != nil {
			listing.Name = unescapeJSON(string(nm[1]))
		}
		if rm := ratingPattern.FindSubmatch(window); rm != nil {
			if rating, err := strconv.ParseFloat(string(rm[1]), 64); err == nil {
				listing.Rating = rating
			}
			if reviews, err := strconv.Atoi(string(rm[2])); err == nil {
				listing.ReviewsCount = reviews
			}
		}
		if bm := bedroomPattern.FindSubmatch(window); bm != nil {
			if bedrooms, err := strconv.Atoi(string(bm[1])); err == nil {
				listing.Bedrooms = bedrooms
			}
		}
		if pm := picturePattern.FindSubmatch(window); pm != nil {
			listing.ImageURL = string(pm[1])
		}

		listings = append(listings, listing)
	}
	return listings
}

func unescapeJSON(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}
