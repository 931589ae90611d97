package cache

import (
	"testing"

	apperrors "github.com/framepilot/framepilot/internal/errors"
	"github.com/framepilot/framepilot/internal/vision/fingerprint"
	"github.com/framepilot/framepilot/internal/vision/library"
	"github.com/framepilot/framepilot/internal/vision/match"
)

func positive(id string, conf float64) match.Result {
	return match.Result{Template: &library.Template{ID: id}, Confidence: conf}
}

func mustNew(t *testing.T, capacity int) *Cache {
	t.Helper()
	c, err := New(capacity)
	if err != nil {
		t.Fatalf("New(%d): %v", capacity, err)
	}
	return c
}

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		if _, err := New(capacity); !apperrors.IsCode(err, apperrors.CodeConfigInvalid) {
			t.Errorf("New(%d): code = %s, want config_invalid", capacity, apperrors.CodeOf(err))
		}
	}
}

func TestGetPut(t *testing.T) {
	c := mustNew(t, 4)

	if _, ok := c.Get(1); ok {
		t.Error("empty cache should miss")
	}

	c.Put(1, positive("a", 0.95))
	got, ok := c.Get(1)
	if !ok || got.TemplateID() != "a" || got.Confidence != 0.95 {
		t.Errorf("Get(1) = (%+v, %v), want cached result", got, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestNegativeResultsAreCached(t *testing.T) {
	c := mustNew(t, 4)
	c.Put(7, match.Result{Fingerprint: 7})

	got, ok := c.Get(7)
	if !ok {
		t.Fatal("negative result should be cached")
	}
	if got.Matched() {
		t.Errorf("cached negative = %+v, want no template", got)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := mustNew(t, 3)
	c.Put(1, positive("a", 0.9))
	c.Put(2, positive("b", 0.9))
	c.Put(3, positive("c", 0.9))

	// Touch 1 so 2 becomes the eviction victim.
	if _, ok := c.Get(1); !ok {
		t.Fatal("1 should be present")
	}
	c.Put(4, positive("d", 0.9))

	if _, ok := c.Get(2); ok {
		t.Error("2 should have been evicted")
	}
	for _, print := range []fingerprint.Fingerprint{1, 3, 4} {
		if _, ok := c.Get(print); !ok {
			t.Errorf("%d should still be cached", print)
		}
	}
	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
}

func TestPutRefreshesRecencyAndValue(t *testing.T) {
	c := mustNew(t, 2)
	c.Put(1, positive("a", 0.9))
	c.Put(2, positive("b", 0.9))

	// Overwrite 1: refreshes recency, so 2 is evicted next.
	c.Put(1, positive("a2", 0.8))
	c.Put(3, positive("c", 0.9))

	got, ok := c.Get(1)
	if !ok || got.TemplateID() != "a2" {
		t.Errorf("Get(1) = (%+v, %v), want refreshed value", got, ok)
	}
	if _, ok := c.Get(2); ok {
		t.Error("2 should have been evicted")
	}
}

func TestPurge(t *testing.T) {
	c := mustNew(t, 4)
	c.Put(1, positive("a", 0.9))
	c.Put(2, positive("b", 0.9))

	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Len after purge = %d, want 0", c.Len())
	}
	if _, ok := c.Get(1); ok {
		t.Error("purged entry should miss")
	}
}

func TestStats(t *testing.T) {
	c := mustNew(t, 1)
	c.Get(1) // miss
	c.Put(1, positive("a", 0.9))
	c.Get(1) // hit
	c.Put(2, positive("b", 0.9)) // evicts 1
	c.Get(1) // miss

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 2 || s.Evictions != 1 {
		t.Errorf("stats = %+v, want 1 hit, 2 misses, 1 eviction", s)
	}
	if s.Len != 1 || s.Capacity != 1 {
		t.Errorf("stats = %+v, want len 1 cap 1", s)
	}
}
