// Package api exposes the discovery pipeline over JSON HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/izome2/moftahak-discovery/config"
	"github.com/izome2/moftahak-discovery/models"
)

// Searcher is the pipeline surface the API needs.
type Searcher interface {
	Search(ctx context.Context, params *models.SearchParams) (*models.SearchResult, error)
	ResetState()
}

// Server routes search requests to a Searcher.
type Server struct {
	cfg    *config.Config
	search Searcher
}

// NewServer builds the HTTP surface around a pipeline.
func NewServer(cfg *config.Config, search Searcher) *Server {
	return &Server{cfg: cfg, search: search}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return recoverPanics(mux)
}

type searchResponse struct {
	Success    bool                  `json:"success"`
	Count      int                   `json:"count"`
	Listings   []*models.Listing     `json:"listings"`
	SearchArea models.Box            `json:"searchArea"`
	Metadata   models.SearchMetadata `json:"metadata"`
	IsLoadMore *bool                 `json:"isLoadMore,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGet(w, r)
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	}
}

// handleGet runs a fresh search. Every parameter is optional; the box
// defaults to the configured area.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	box := s.cfg.DefaultBox

	box.NELat = floatParam(q.Get("ne_lat"), box.NELat)
	box.NELng = floatParam(q.Get("ne_lng"), box.NELng)
	box.SWLat = floatParam(q.Get("sw_lat"), box.SWLat)
	box.SWLng = floatParam(q.Get("sw_lng"), box.SWLng)

	params := &models.SearchParams{
		Box:          box,
		Adults:       intParam(q.Get("adults"), s.cfg.DefaultAdults),
		Checkin:      q.Get("checkin"),
		Checkout:     q.Get("checkout"),
		Thoroughness: q.Get("thoroughness"),
	}

	result, err := s.search.Search(r.Context(), params)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "search failed", Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Success:    true,
		Count:      len(result.Listings),
		Listings:   result.Listings,
		SearchArea: result.SearchArea,
		Metadata:   result.Metadata,
	})
}

type postSearchBody struct {
	NELat          *float64 `json:"ne_lat"`
	NELng          *float64 `json:"ne_lng"`
	SWLat          *float64 `json:"sw_lat"`
	SWLng          *float64 `json:"sw_lng"`
	Adults         int      `json:"adults"`
	Checkin        string   `json:"checkin"`
	Checkout       string   `json:"checkout"`
	Thoroughness   string   `json:"thoroughness"`
	ExcludeIDs     []string `json:"excludeIds"`
	SearchStrategy string   `json:"searchStrategy"`
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	var body postSearchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to parse request body", Details: err.Error()})
		return
	}

	if body.NELat == nil || body.NELng == nil || body.SWLat == nil || body.SWLng == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "ne_lat, ne_lng, sw_lat and sw_lng are required"})
		return
	}

	params := &models.SearchParams{
		Box: models.Box{
			NELat: *body.NELat,
			NELng: *body.NELng,
			SWLat: *body.SWLat,
			SWLng: *body.SWLng,
		},
		Adults:       body.Adults,
		Checkin:      body.Checkin,
		Checkout:     body.Checkout,
		Thoroughness: body.Thoroughness,
		ExcludeIDs:   body.ExcludeIDs,
		Strategy:     body.SearchStrategy,
	}

	isLoadMore := params.IsLoadMore()
	result, err := s.search.Search(r.Context(), params)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "search failed", Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Success:    true,
		Count:      len(result.Listings),
		Listings:   result.Listings,
		SearchArea: result.SearchArea,
		Metadata:   result.Metadata,
		IsLoadMore: &isLoadMore,
	})
}

// handleDelete is the operational reset hook: it clears the rate governor
// and the whole result cache.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.search.ResetState()
	slog.Info("rate limit state and result cache cleared")
	writeJSON(w, http.StatusOK, statusResponse{Success: true, Message: "rate limit state and result cache cleared"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", slog.Any("error", err))
	}
}

func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("handler panic", slog.Any("panic", rec), slog.String("path", r.URL.Path))
				writeJSON(w, http.StatusInternalServerError, errorResponse{
					Error:   "internal server error",
					Details: fmt.Sprint(rec),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func floatParam(raw string, fallback float64) float64 {
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
