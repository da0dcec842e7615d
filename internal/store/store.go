package store

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/calcops/internal/model"
)

var (
	// ErrNotFound is returned when a watch item or refresh run does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a user already watches the same listing.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidTransition is returned when a refresh run status transition is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Stats holds aggregate watchlist and refresh statistics.
type Stats struct {
	WatchItems       int            `json:"watch_items"`
	ItemsBySource    map[string]int `json:"items_by_source"`
	ItemsWithError   int            `json:"items_with_error"`
	Runs             int            `json:"runs"`
	RunsByStatus     map[string]int `json:"runs_by_status"`
	AvgRunDurationMS float64        `json:"avg_run_duration_ms"`
}

// Store defines the persistence operations for watch items and refresh runs.
type Store interface {
	CreateWatchItem(ctx context.Context, w *model.WatchItem) error
	GetWatchItem(ctx context.Context, id string) (*model.WatchItem, error)
	ListWatchItems(ctx context.Context, userID string, limit, offset int) ([]*model.WatchItem, int, error)
	RefreshableItems(ctx context.Context, userID string) ([]*model.WatchItem, error)
	DeleteWatchItem(ctx context.Context, id string) error
	ApplyListing(ctx context.Context, id string, l model.Listing, at time.Time) error
	RecordRefreshError(ctx context.Context, id, msg string, at time.Time) error

	CreateRun(ctx context.Context, r *model.RefreshRun) error
	GetRun(ctx context.Context, id string) (*model.RefreshRun, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*model.RefreshRun, int, error)
	UpdateRunStatus(ctx context.Context, id, status string) error
	FinishRun(ctx context.Context, r *model.RefreshRun) error

	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}
