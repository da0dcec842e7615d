package model

import "time"

// Refresh run status constants.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Refresh trigger constants.
const (
	TriggerManual    = "manual"
	TriggerAsync     = "async"
	TriggerScheduled = "scheduled"
)

// Refresh mode constants. ModeCollect records per-item failures and keeps
// going; ModeFailFast aborts the run on the first failure.
const (
	ModeCollect  = "collect"
	ModeFailFast = "failfast"
)

// validTransitions maps each run status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	RunPending: {
		RunRunning: true,
		RunFailed:  true,
	},
	RunRunning: {
		RunCompleted: true,
		RunFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one run status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// ValidMode reports whether m is a known refresh mode.
func ValidMode(m string) bool {
	return m == ModeCollect || m == ModeFailFast
}

// WatchItem is a marketplace listing a user is tracking.
type WatchItem struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Source          string     `json:"source"`
	ListingID       string     `json:"listing_id"`
	Title           string     `json:"title,omitempty"`
	PriceCents      *int64     `json:"price_cents,omitempty"`
	Currency        string     `json:"currency,omitempty"`
	ImageURL        string     `json:"image_url,omitempty"`
	ItemURL         string     `json:"item_url,omitempty"`
	Available       bool       `json:"available"`
	LastError       string     `json:"last_error,omitempty"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Listing is the current state of a listing as reported by its source.
type Listing struct {
	ListingID  string `json:"listing_id"`
	Title      string `json:"title"`
	PriceCents int64  `json:"price_cents"`
	Currency   string `json:"currency"`
	ImageURL   string `json:"image_url,omitempty"`
	ItemURL    string `json:"item_url,omitempty"`
	Available  bool   `json:"available"`
}

// RefreshRun records one batch refresh of watch items.
type RefreshRun struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id,omitempty"`
	Trigger     string     `json:"trigger"`
	Mode        string     `json:"mode"`
	Status      string     `json:"status"`
	Concurrency int        `json:"concurrency"`
	Total       int        `json:"total"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	Error       string     `json:"error,omitempty"`
	DurationMS  *int       `json:"duration_ms,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the run has finished.
func (r *RefreshRun) Terminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}

// ItemOutcome is the per-item result of a refresh, published as progress.
type ItemOutcome struct {
	Index     int    `json:"index"`
	ItemID    string `json:"item_id"`
	ListingID string `json:"listing_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}
