package source

import (
	"context"
	"errors"

	"github.com/seantiz/calcops/internal/model"
)

// ErrListingNotFound is returned by a Source when the remote API reports that
// the listing does not exist (ended, removed or never existed).
var ErrListingNotFound = errors.New("listing not found")

// Source looks up the current state of marketplace listings.
type Source interface {
	// Lookup fetches one listing. The context carries the per-item deadline.
	Lookup(ctx context.Context, listingID string) (model.Listing, error)

	// Capabilities describes the source for the sources endpoint.
	Capabilities() Capabilities
}

// Capabilities describes a source.
type Capabilities struct {
	Name string `json:"name"`
	// MaxConcurrency is the largest number of parallel lookups the remote
	// API tolerates. Zero means no source-specific limit.
	MaxConcurrency int `json:"max_concurrency"`
}
