// Package cache stores merged search results keyed by a rounded-coordinate
// fingerprint of the bounding box.
package cache

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/izome2/moftahak-discovery/models"
)

// Entry is one cached result set with its write time.
type Entry struct {
	Listings  []*models.Listing
	Metadata  models.SearchMetadata
	Timestamp time.Time
}

// Store is an expiring LRU of search results. Entries older than the
// retention window are evicted by the backing store; the shorter freshness
// window is checked on read.
type Store struct {
	lru      *expirable.LRU[string, *Entry]
	freshFor time.Duration
	now      func() time.Time
}

// New builds a store holding up to size entries for at most evictAfter,
// serving them as fresh for freshFor.
func New(size int, freshFor, evictAfter time.Duration) *Store {
	return &Store{
		lru:      expirable.NewLRU[string, *Entry](size, nil, evictAfter),
		freshFor: freshFor,
		now:      time.Now,
	}
}

// Key fingerprints a bounding box with each corner rounded to 3 decimal
// places, about 110m of precision.
func Key(box models.Box) string {
	return fmt.Sprintf("%.3f,%.3f,%.3f,%.3f", box.SWLat, box.SWLng, box.NELat, box.NELng)
}

// Get returns the entry for key and whether it is still fresh. A stale but
// not yet evicted entry is returned with fresh=false.
func (s *Store) Get(key string) (*Entry, bool) {
	entry, ok := s.lru.Get(key)
	if !ok {
		return nil, false
	}
	return entry, s.now().Sub(entry.Timestamp) < s.freshFor
}

// Put stores an entry, stamping it with the current time.
func (s *Store) Put(key string, entry *Entry) {
	entry.Timestamp = s.now()
	s.lru.Add(key, entry)
}

// Purge drops every entry.
func (s *Store) Purge() {
	s.lru.Purge()
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	return s.lru.Len()
}
