package e2e

import (
	"bufio"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/calcops/internal/model"
)

type refreshResult struct {
	Run     model.RefreshRun `json:"run"`
	Summary string           `json:"summary"`
}

type watchlistPage struct {
	Items []model.WatchItem `json:"items"`
	Total int               `json:"total"`
}

func (s *stack) watch(t *testing.T, userID, listingID string) model.WatchItem {
	t.Helper()
	var item model.WatchItem
	s.do(t, http.MethodPost, "/v1/watchlist",
		fmt.Sprintf(`{"user_id":%q,"source":"ebay","listing_id":%q}`, userID, listingID),
		http.StatusCreated, &item)
	return item
}

func TestWatchlistRefreshLifecycle(t *testing.T) {
	s := newStack(t)

	delays := []time.Duration{50, 10, 30, 5, 20}
	var items []model.WatchItem
	for i, d := range delays {
		id := fmt.Sprintf("v1|%d|0", 100+i)
		s.ebay.put(id, fakeListing{title: fmt.Sprintf("TI-8%d", i), price: "10.00"})
		items = append(items, s.watch(t, "alice", id))
		s.ebay.put(id, fakeListing{title: fmt.Sprintf("TI-8%d", i), price: fmt.Sprintf("%d.50", 20+i), delay: d * time.Millisecond})
	}
	s.watch(t, "bob", "v1|100|0")

	var res refreshResult
	s.do(t, http.MethodPost, "/v1/refresh", `{"user_id":"alice","concurrency":2}`, http.StatusOK, &res)

	if res.Summary != "5 of 5 refreshed" {
		t.Errorf("summary = %q, want 5 of 5 refreshed", res.Summary)
	}
	if res.Run.Total != 5 || res.Run.Concurrency != 2 {
		t.Errorf("run = %+v", res.Run)
	}
	if peak := s.ebay.peak.Load(); peak > 2 {
		t.Errorf("peak concurrent item requests = %d, want <= 2", peak)
	}

	for i, it := range items {
		var got model.WatchItem
		s.do(t, http.MethodGet, "/v1/watchlist/"+it.ID, "", http.StatusOK, &got)
		want := int64((20+i)*100 + 50)
		if got.PriceCents == nil || *got.PriceCents != want {
			t.Errorf("item %d PriceCents = %v, want %d", i, got.PriceCents, want)
		}
	}

	// One token serves every lookup of every run.
	if hits := s.ebay.tokenHits.Load(); hits != 1 {
		t.Errorf("token fetches = %d, want 1", hits)
	}
}

func TestRefreshRecordsRemovedListing(t *testing.T) {
	s := newStack(t)

	s.ebay.put("keep", fakeListing{title: "TI-Nspire", price: "99.00"})
	s.ebay.put("ended", fakeListing{title: "HP Prime", price: "120.00"})
	s.watch(t, "carol", "keep")
	ended := s.watch(t, "carol", "ended")
	s.ebay.remove("ended")

	var res refreshResult
	s.do(t, http.MethodPost, "/v1/refresh", `{"user_id":"carol"}`, http.StatusOK, &res)
	if res.Summary != "1 of 2 refreshed" {
		t.Errorf("summary = %q, want 1 of 2 refreshed", res.Summary)
	}

	var got model.WatchItem
	s.do(t, http.MethodGet, "/v1/watchlist/"+ended.ID, "", http.StatusOK, &got)
	if !strings.Contains(got.LastError, "listing not found") {
		t.Errorf("LastError = %q, want listing not found", got.LastError)
	}
	if got.PriceCents == nil || *got.PriceCents != 12000 {
		t.Errorf("PriceCents = %v, want last known 12000", got.PriceCents)
	}

	var fail refreshResult
	s.do(t, http.MethodPost, "/v1/refresh", `{"user_id":"carol","mode":"failfast"}`, http.StatusOK, &fail)
	if fail.Run.Status != model.RunFailed || !strings.Contains(fail.Run.Error, "ended") {
		t.Errorf("failfast run = %+v, want failure naming the ended listing", fail.Run)
	}

	var page watchlistPage
	s.do(t, http.MethodGet, "/v1/watchlist?user_id=carol", "", http.StatusOK, &page)
	if page.Total != 2 {
		t.Errorf("Total = %d, want 2", page.Total)
	}
}

func TestAsyncRefreshStreamsProgress(t *testing.T) {
	s := newStack(t)

	for i := range 3 {
		id := fmt.Sprintf("slow-%d", i)
		s.ebay.put(id, fakeListing{title: id, price: "5.00"})
		s.watch(t, "dave", id)
		s.ebay.put(id, fakeListing{title: id, price: "6.00", delay: 150 * time.Millisecond})
	}

	var run model.RefreshRun
	s.do(t, http.MethodPost, "/v1/refresh/async", `{"user_id":"dave","concurrency":1}`, http.StatusAccepted, &run)

	resp, err := http.Get(s.ts.URL + "/v1/refresh/runs/" + run.ID + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	var progress int
	var done string
	scanner := bufio.NewScanner(resp.Body)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && event == "done":
			done = strings.TrimPrefix(line, "data: ")
		case strings.HasPrefix(line, "data: "):
			progress++
		}
	}

	if progress != 3 {
		t.Errorf("progress events = %d, want 3", progress)
	}
	if done != "3 of 3 refreshed" {
		t.Errorf("done = %q, want 3 of 3 refreshed", done)
	}

	var finished model.RefreshRun
	s.do(t, http.MethodGet, "/v1/refresh/runs/"+run.ID, "", http.StatusOK, &finished)
	if finished.Status != model.RunCompleted || finished.Trigger != model.TriggerAsync {
		t.Errorf("run = %+v, want completed async run", finished)
	}
}
