package cache

import (
	"testing"
	"time"

	"github.com/izome2/moftahak-discovery/models"
)

func TestKeyRoundsBeyondThirdDecimal(t *testing.T) {
	a := models.Box{SWLat: 29.9501, SWLng: 31.2002, NELat: 30.1503, NELng: 31.4004}
	b := models.Box{SWLat: 29.95012, SWLng: 31.20019, NELat: 30.15031, NELng: 31.40038}

	if Key(a) != Key(b) {
		t.Fatalf("keys differ: %q vs %q", Key(a), Key(b))
	}

	c := models.Box{SWLat: 29.951, SWLng: 31.2002, NELat: 30.1503, NELng: 31.4004}
	if Key(a) == Key(c) {
		t.Fatalf("boxes differing in the third decimal should not collide")
	}
}

func TestGetFreshness(t *testing.T) {
	s := New(8, 10*time.Minute, 20*time.Minute)
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	key := Key(models.Box{SWLat: 29.95, SWLng: 31.2, NELat: 30.15, NELng: 31.4})
	s.Put(key, &Entry{Listings: []*models.Listing{{ID: "1"}}})

	entry, fresh := s.Get(key)
	if entry == nil || !fresh {
		t.Fatalf("entry just written should be fresh")
	}

	current = current.Add(11 * time.Minute)
	entry, fresh = s.Get(key)
	if entry == nil {
		t.Fatalf("entry within retention should still be present")
	}
	if fresh {
		t.Fatalf("entry older than the freshness window should be stale")
	}
}

func TestGetMissing(t *testing.T) {
	s := New(8, 10*time.Minute, 20*time.Minute)
	if entry, fresh := s.Get("nope"); entry != nil || fresh {
		t.Fatalf("missing key should return nil, false")
	}
}

func TestPurge(t *testing.T) {
	s := New(8, 10*time.Minute, 20*time.Minute)
	s.Put("a", &Entry{})
	s.Put("b", &Entry{})

	if got := s.Len(); got != 2 {
		t.Fatalf("len = %d, want 2", got)
	}

	s.Purge()

	if got := s.Len(); got != 0 {
		t.Fatalf("len after purge = %d, want 0", got)
	}
	if entry, _ := s.Get("a"); entry != nil {
		t.Fatalf("purged entry should be gone")
	}
}
