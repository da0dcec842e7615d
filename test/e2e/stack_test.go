package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seantiz/calcops/internal/api"
	"github.com/seantiz/calcops/internal/refresh"
	"github.com/seantiz/calcops/internal/source"
	"github.com/seantiz/calcops/internal/source/ebay"
	"github.com/seantiz/calcops/internal/store"
)

// fakeListing is one item served by the fake Browse API.
type fakeListing struct {
	title string
	price string
	delay time.Duration
}

// fakeEbay emulates the OAuth token endpoint and the Browse getItem endpoint.
type fakeEbay struct {
	ts *httptest.Server

	tokenHits atomic.Int64
	inFlight  atomic.Int64
	peak      atomic.Int64

	mu       sync.Mutex
	listings map[string]fakeListing
}

func newFakeEbay(t *testing.T) *fakeEbay {
	t.Helper()
	f := &fakeEbay{listings: make(map[string]fakeListing)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /identity/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		n := f.tokenHits.Add(1)
		if id, secret, ok := r.BasicAuth(); !ok || id != "e2e-client" || secret != "e2e-secret" {
			http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"e2e-tok-%d","expires_in":7200}`, n)
	})
	mux.HandleFunc("GET /buy/browse/v1/item/{id}", func(w http.ResponseWriter, r *http.Request) {
		n := f.inFlight.Add(1)
		defer f.inFlight.Add(-1)
		for {
			p := f.peak.Load()
			if n <= p || f.peak.CompareAndSwap(p, n) {
				break
			}
		}

		id := r.PathValue("id")
		f.mu.Lock()
		l, ok := f.listings[id]
		f.mu.Unlock()

		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer e2e-tok-") {
			http.Error(w, `{"errors":[]}`, http.StatusUnauthorized)
			return
		}
		time.Sleep(l.delay)
		if !ok {
			http.Error(w, `{"errors":[{"errorId":11001}]}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"itemId":%q,"title":%q,"price":{"value":%q,"currency":"USD"},
			"itemWebUrl":"https://www.ebay.com/itm/%s",
			"estimatedAvailabilities":[{"estimatedAvailabilityStatus":"IN_STOCK"}]}`,
			id, l.title, l.price, id)
	})

	f.ts = httptest.NewServer(mux)
	t.Cleanup(f.ts.Close)
	return f
}

func (f *fakeEbay) put(id string, l fakeListing) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listings[id] = l
}

func (f *fakeEbay) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.listings, id)
}

// stack is the API server wired to a real eBay client talking to fakeEbay.
type stack struct {
	ts        *httptest.Server
	ebay      *fakeEbay
	refresher *refresh.Refresher
}

func newStack(t *testing.T) *stack {
	t.Helper()
	f := newFakeEbay(t)

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	client := ebay.NewClient(ebay.Config{
		BaseURL:        f.ts.URL,
		TokenURL:       f.ts.URL + "/identity/v1/oauth2/token",
		ClientID:       "e2e-client",
		ClientSecret:   "e2e-secret",
		MaxConcurrency: 4,
	}, logger)

	reg := source.NewRegistry()
	reg.Register(ebay.SourceName, client)

	ref := refresh.NewRefresher(s, reg, logger, refresh.Options{})
	srv := api.NewServer(":0", s, reg, ref, logger)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		ref.Wait()
	})

	return &stack{ts: ts, ebay: f, refresher: ref}
}

func (s *stack) do(t *testing.T, method, path, body string, wantStatus int, out any) {
	t.Helper()
	req, err := http.NewRequest(method, s.ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status = %d, want %d\nbody: %s", method, path, resp.StatusCode, wantStatus, b)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
}
