// Package stub provides an in-memory listing source for tests and the test
// server.
package stub

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/calcops/internal/model"
	"github.com/seantiz/calcops/internal/source"
)

// GonePrefix marks listing IDs that the stub reports as not found.
const GonePrefix = "gone-"

var _ source.Source = (*Source)(nil)

// Source serves listings from memory. Listings that were not Put are
// synthesized deterministically from their ID, except those starting with
// GonePrefix.
type Source struct {
	name           string
	maxConcurrency int

	mu       sync.Mutex
	delay    time.Duration
	delays   map[string]time.Duration
	listings map[string]model.Listing
	failures map[string]error

	calls atomic.Int64
	cur   atomic.Int64
	peak  atomic.Int64
}

// New creates a stub source registered under name.
func New(name string, maxConcurrency int) *Source {
	return &Source{
		name:           name,
		maxConcurrency: maxConcurrency,
		delays:         make(map[string]time.Duration),
		listings:       make(map[string]model.Listing),
		failures:       make(map[string]error),
	}
}

// SetDelay sets the latency of every lookup.
func (s *Source) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// SetItemDelay sets the latency of lookups for one listing.
func (s *Source) SetItemDelay(listingID string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[listingID] = d
}

// Put stores a listing returned verbatim by Lookup.
func (s *Source) Put(l model.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ListingID] = l
}

// Fail makes lookups of listingID return err.
func (s *Source) Fail(listingID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[listingID] = err
}

// Calls returns the number of lookups performed.
func (s *Source) Calls() int64 { return s.calls.Load() }

// Peak returns the highest number of concurrent lookups observed.
func (s *Source) Peak() int64 { return s.peak.Load() }

// Capabilities implements source.Source.
func (s *Source) Capabilities() source.Capabilities {
	return source.Capabilities{Name: s.name, MaxConcurrency: s.maxConcurrency}
}

// Lookup implements source.Source.
func (s *Source) Lookup(ctx context.Context, listingID string) (model.Listing, error) {
	s.calls.Add(1)
	n := s.cur.Add(1)
	defer s.cur.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	s.mu.Lock()
	delay, ok := s.delays[listingID]
	if !ok {
		delay = s.delay
	}
	l, found := s.listings[listingID]
	failure := s.failures[listingID]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return model.Listing{}, ctx.Err()
		}
	}

	switch {
	case failure != nil:
		return model.Listing{}, failure
	case found:
		return l, nil
	case strings.HasPrefix(listingID, GonePrefix):
		return model.Listing{}, fmt.Errorf("item %s: %w", listingID, source.ErrListingNotFound)
	}
	return synthesize(listingID), nil
}

func synthesize(listingID string) model.Listing {
	h := fnv.New32a()
	h.Write([]byte(listingID))
	return model.Listing{
		ListingID:  listingID,
		Title:      "Listing " + listingID,
		PriceCents: int64(500 + h.Sum32()%20000),
		Currency:   "USD",
		ItemURL:    "https://example.invalid/itm/" + listingID,
		Available:  true,
	}
}
