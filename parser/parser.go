// Package parser turns the upstream search page HTML into normalized
// listings. The primary path walks the JSON payload embedded in the
// deferred-state script tag; when that yields nothing, a regex fallback
// scans the raw HTML. Either way extraction is best-effort: a result that
// cannot be normalized is dropped, never surfaced as an error.
package parser

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/izome2/moftahak-discovery/models"
)

const stayResultTypename = "StaySearchResult"

var (
	trailingIDPattern = regexp.MustCompile(`:(\d+)$`)
	leadingNumber     = regexp.MustCompile(`(\d+)`)
	localizedRating   = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*\((\d+)\)`)
)

// Extract parses the search page and returns zero or more listings.
func Extract(html []byte, currency string) []*models.Listing {
	listings := extractEmbedded(html, currency)
	if len(listings) == 0 {
		listings = extractFallback(html, currency)
	}
	return listings
}

type deferredState struct {
	NiobeMinimalClientData []json.RawMessage `json:"niobeMinimalClientData"`
}

type searchPayload struct {
	Data struct {
		Presentation struct {
			StaysSearch struct {
				Results struct {
					SearchResults []rawSearchResult `json:"searchResults"`
				} `json:"results"`
			} `json:"staysSearch"`
		} `json:"presentation"`
	} `json:"data"`
}

type rawSearchResult struct {
	Typename           string      `json:"__typename"`
	Title              string      `json:"title"`
	Subtitle           string      `json:"subtitle"`
	AvgRatingLocalized string      `json:"avgRatingLocalized"`
	AvgRating          float64     `json:"avgRating"`
	ReviewsCount       int         `json:"reviewsCount"`
	ContextualPictures []rawPicture `json:"contextualPictures"`
	Listing            *rawUnit    `json:"listing"`
}

type rawPicture struct {
	Picture string `json:"picture"`
}

type rawUnit struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Title            string         `json:"title"`
	LocalizedName    string         `json:"localizedName"`
	RoomTypeCategory string         `json:"roomTypeCategory"`
	Coordinate       *rawCoordinate `json:"coordinate"`
	StructuredContent *struct {
		PrimaryLine   []rawContentLine `json:"primaryLine"`
		SecondaryLine []rawContentLine `json:"secondaryLine"`
	} `json:"structuredContent"`
	PrimaryHost *struct {
		FirstName string `json:"firstName"`
	} `json:"primaryHost"`
}

type rawCoordinate struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type rawContentLine struct {
	Body string `json:"body"`
}

func extractEmbedded(html []byte, currency string) []*models.Listing {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil
	}

	sel := doc.Find("script#data-deferred-state-0")
	if sel.Length() == 0 {
		sel = doc.Find(`script[id^="data-deferred-state"]`)
	}
	if sel.Length() == 0 {
		return nil
	}

	var state deferredState
	if err := json.Unmarshal([]byte(sel.First().Text()), &state); err != nil {
		return nil
	}

	var listings []*models.Listing
	for _, entry := range state.NiobeMinimalClientData {
		// Each entry is a [key, payload] pair.
		var pair []json.RawMessage
		if err := json.Unmarshal(entry, &pair); err != nil || len(pair) < 2 {
			continue
		}
		var payload searchPayload
		if err := json.Unmarshal(pair[1], &payload); err != nil {
			continue
		}
		for i := range payload.Data.Presentation.StaysSearch.Results.SearchResults {
			if l := extractListing(&payload.Data.Presentation.StaysSearch.Results.SearchResults[i], currency); l != nil {
				listings = append(listings, l)
			}
		}
	}
	return listings
}

// extractListing normalizes one raw search result, or returns nil when the
// result lacks a type tag, a listing object, valid coordinates, or a
// derivable id.
func extractListing(raw *rawSearchResult, currency string) *models.Listing {
	if raw == nil || raw.Typename != stayResultTypename || raw.Listing == nil {
		return nil
	}
	coord := raw.Listing.Coordinate
	if coord == nil || coord.Latitude == nil || coord.Longitude == nil {
		return nil
	}

	id := DecodeListingID(raw.Listing.ID)
	if id == "" {
		return nil
	}

	listing := &models.Listing{
		ID:           id,
		Lat:          *coord.Latitude,
		Lng:          *coord.Longitude,
		Name:         pickName(raw),
		PropertyType: raw.Listing.RoomTypeCategory,
		Currency:     currency,
	}

	if raw.Listing.PrimaryHost != nil {
		listing.HostName = raw.Listing.PrimaryHost.FirstName
	}
	for _, pic := range raw.ContextualPictures {
		if pic.Picture != "" {
			listing.ImageURL = pic.Picture
			break
		}
	}

	if sc := raw.Listing.StructuredContent; sc != nil {
		scanLines(listing, sc.PrimaryLine, true)
		scanLines(listing, sc.SecondaryLine, false)
	}

	listing.Rating, listing.ReviewsCount = parseRating(raw)

	// Price is not present in this upstream view; 0 is the contract, not a
	// missing extraction.
	listing.Price = 0

	return listing
}

// DecodeListingID recovers the stable numeric id from the upstream's opaque
// token. Tokens are usually base64 of "SomeType:12345"; when decoding or the
// trailing-run pattern fails the raw token is used verbatim.
func DecodeListingID(raw string) string {
	if raw == "" {
		return ""
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if m := trailingIDPattern.FindSubmatch(decoded); m != nil {
			return string(m[1])
		}
	}
	return raw
}

func pickName(raw *rawSearchResult) string {
	candidates := []string{
		raw.Listing.Name,
		raw.Listing.Title,
		raw.Listing.LocalizedName,
		raw.Title,
		raw.Subtitle,
	}
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return strings.TrimSpace(c)
		}
	}
	return ""
}

// scanLines fills capacity fields from the structured-content free text.
// Keywords are matched bilingually. The primary line takes precedence: the
// secondary line only fills bathrooms and guests still unset.
func scanLines(listing *models.Listing, lines []rawContentLine, primary bool) {
	for _, line := range lines {
		body := line.Body
		if body == "" {
			continue
		}
		n, ok := firstNumber(body)
		if !ok {
			continue
		}
		lower := strings.ToLower(body)

		switch {
		case strings.Contains(body, "غرف نوم") || strings.Contains(body, "غرفة نوم") || strings.Contains(lower, "bedroom"):
			if primary && listing.Bedrooms == 0 {
				listing.Bedrooms = n
			}
		case (strings.Contains(body, "سرير") || strings.Contains(lower, "bed")) &&
			!strings.Contains(body, "غرف") && !strings.Contains(lower, "bedroom"):
			if primary && listing.Beds == 0 {
				listing.Beds = n
			}
		case strings.Contains(body, "حمام") || strings.Contains(lower, "bath"):
			if listing.Bathrooms == 0 {
				listing.Bathrooms = n
			}
		case strings.Contains(body, "ضيف") || strings.Contains(body, "ضيوف") || strings.Contains(lower, "guest"):
			if listing.Guests == 0 {
				listing.Guests = n
			}
		}
	}
}

func firstNumber(body string) (int, bool) {
	m := leadingNumber.FindString(body)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseRating reads the combined localized "x.x (n)" string, falling back to
// the separate numeric fields when it is absent or malformed.
func parseRating(raw *rawSearchResult) (float64, int) {
	if m := localizedRating.FindStringSubmatch(raw.AvgRatingLocalized); m != nil {
		rating, err1 := strconv.ParseFloat(m[1], 64)
		reviews, err2 := strconv.Atoi(m[2])
		if err1 == nil && err2 == nil {
			return rating, reviews
		}
	}
	return raw.AvgRating, raw.ReviewsCount
}
