package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seantiz/calcops/internal/model"
	"github.com/seantiz/calcops/internal/source/stub"
)

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func addItem(t *testing.T, ts *httptest.Server, userID, listingID string) model.WatchItem {
	t.Helper()
	resp := postJSON(t, ts.URL+"/v1/watchlist",
		fmt.Sprintf(`{"user_id":%q,"source":"stub","listing_id":%q}`, userID, listingID))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add %s: status = %d, want 201", listingID, resp.StatusCode)
	}
	var item model.WatchItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return item
}

func TestCreateWatchItemValid(t *testing.T) {
	srv, src := newTestServer(t)
	src.Put(model.Listing{ListingID: "ti84", Title: "TI-84 Plus", PriceCents: 8999, Currency: "USD", Available: true})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	item := addItem(t, ts, "u1", "ti84")

	if len(item.ID) != 26 {
		t.Errorf("ID length = %d, want 26", len(item.ID))
	}
	if item.Title != "TI-84 Plus" {
		t.Errorf("Title = %q, want %q", item.Title, "TI-84 Plus")
	}
	if item.PriceCents == nil || *item.PriceCents != 8999 {
		t.Errorf("PriceCents = %v, want 8999", item.PriceCents)
	}
	if item.LastRefreshedAt == nil {
		t.Error("LastRefreshedAt is nil")
	}
}

func TestCreateWatchItemValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "not json", http.StatusBadRequest},
		{"missing user", `{"source":"stub","listing_id":"x"}`, http.StatusBadRequest},
		{"missing source", `{"user_id":"u1","listing_id":"x"}`, http.StatusBadRequest},
		{"missing listing", `{"user_id":"u1","source":"stub"}`, http.StatusBadRequest},
		{"unknown source", `{"user_id":"u1","source":"craigslist","listing_id":"x"}`, http.StatusBadRequest},
		{"listing gone", `{"user_id":"u1","source":"stub","listing_id":"` + stub.GonePrefix + `x"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/v1/watchlist", tt.body)
			defer resp.Body.Close()

			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			var errResp map[string]string
			json.NewDecoder(resp.Body).Decode(&errResp)
			if errResp["error"] == "" {
				t.Error("expected error message in response")
			}
		})
	}
}

func TestCreateWatchItemSourceFailure(t *testing.T) {
	srv, src := newTestServer(t)
	src.Fail("flaky", errors.New("upstream 503"))
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/watchlist", `{"user_id":"u1","source":"stub","listing_id":"flaky"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestCreateWatchItemDuplicate(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	addItem(t, ts, "u1", "dup")
	resp := postJSON(t, ts.URL+"/v1/watchlist", `{"user_id":"u1","source":"stub","listing_id":"dup"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestGetWatchItem(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	created := addItem(t, ts, "u1", "a")

	resp, err := http.Get(ts.URL + "/v1/watchlist/" + created.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got model.WatchItem
	json.NewDecoder(resp.Body).Decode(&got)
	if got.ID != created.ID || got.ListingID != "a" {
		t.Errorf("got %+v, want item %s", got, created.ID)
	}

	resp2, err := http.Get(ts.URL + "/v1/watchlist/nonexistent")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp2.StatusCode)
	}
}

func TestListWatchItemsPaginationAndFilter(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for i := range 5 {
		addItem(t, ts, "u1", fmt.Sprintf("l%d", i))
	}
	addItem(t, ts, "u2", "other")

	resp, err := http.Get(ts.URL + "/v1/watchlist?user_id=u1&limit=2&offset=1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var list listWatchItemsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Total != 5 {
		t.Errorf("Total = %d, want 5", list.Total)
	}
	if len(list.Items) != 2 || list.Limit != 2 || list.Offset != 1 {
		t.Errorf("page = %d items limit %d offset %d, want 2/2/1", len(list.Items), list.Limit, list.Offset)
	}
	for _, it := range list.Items {
		if it.UserID != "u1" {
			t.Errorf("item for user %q in u1 listing", it.UserID)
		}
	}
}

func TestListWatchItemsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/watchlist?limit=500")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var list listWatchItemsResponse
	json.NewDecoder(resp.Body).Decode(&list)
	if list.Items == nil || len(list.Items) != 0 {
		t.Errorf("Items = %v, want empty array", list.Items)
	}
	if list.Limit != defaultListLimit {
		t.Errorf("Limit = %d, want default %d", list.Limit, defaultListLimit)
	}
}

func TestDeleteWatchItem(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	created := addItem(t, ts, "u1", "a")

	del := func() int {
		req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/watchlist/"+created.ID, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("DELETE: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := del(); got != http.StatusNoContent {
		t.Errorf("first delete status = %d, want 204", got)
	}
	if got := del(); got != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", got)
	}
}
