package ebay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/seantiz/calcops/internal/model"
	"github.com/seantiz/calcops/internal/source"
)

const (
	// SourceName is the name used when registering with the source registry.
	SourceName = "ebay"

	itemPath         = "/buy/browse/v1/item/"
	marketplaceHdr   = "X-EBAY-C-MARKETPLACE-ID"
	maxResponseBytes = 1 << 20
	maxErrorExcerpt  = 256
)

// Compile-time interface satisfaction check.
var _ source.Source = (*Client)(nil)

// APIError is returned for non-2xx responses other than 404.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ebay api: status %d: %s", e.StatusCode, e.Body)
}

// Client looks up listings through the eBay Browse API using an application
// token obtained with the client credentials grant.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     *TokenCache
	logger     *slog.Logger
}

// NewClient creates a Browse API client. Empty fields in cfg fall back to
// DefaultConfig values.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = def.TokenURL
	}
	if cfg.Scope == "" {
		cfg.Scope = def.Scope
	}
	if cfg.MarketplaceID == "" {
		cfg.MarketplaceID = def.MarketplaceID
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = def.HTTPTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		logger:     logger,
	}
	c.tokens = NewTokenCache(c.fetchToken)
	return c
}

// Tokens exposes the client's token cache.
func (c *Client) Tokens() *TokenCache {
	return c.tokens
}

// Capabilities implements source.Source.
func (c *Client) Capabilities() source.Capabilities {
	return source.Capabilities{
		Name:           SourceName,
		MaxConcurrency: c.cfg.MaxConcurrency,
	}
}

// Lookup fetches a single listing. A 401 response invalidates the cached
// token and the request is retried once with a fresh one.
func (c *Client) Lookup(ctx context.Context, listingID string) (model.Listing, error) {
	start := time.Now()
	l, err := c.lookup(ctx, listingID, true)

	outcome := outcomeOK
	switch {
	case errors.Is(err, source.ErrListingNotFound):
		outcome = outcomeNotFound
	case err != nil:
		outcome = outcomeError
	}
	lookupDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	return l, err
}

func (c *Client) lookup(ctx context.Context, listingID string, retryAuth bool) (model.Listing, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return model.Listing{}, fmt.Errorf("get token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+itemPath+url.PathEscape(listingID), nil)
	if err != nil {
		return model.Listing{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(marketplaceHdr, c.cfg.MarketplaceID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.Listing{}, fmt.Errorf("get item %s: %w", listingID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized && retryAuth:
		c.logger.Warn("ebay token rejected, refreshing", "listing_id", listingID)
		c.tokens.Invalidate()
		return c.lookup(ctx, listingID, false)
	case resp.StatusCode == http.StatusNotFound:
		return model.Listing{}, fmt.Errorf("item %s: %w", listingID, source.ErrListingNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return model.Listing{}, newAPIError(resp)
	}

	var item browseItem
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&item); err != nil {
		return model.Listing{}, fmt.Errorf("decode item %s: %w", listingID, err)
	}

	return item.toListing(listingID)
}

// fetchToken performs the OAuth client credentials grant.
func (c *Client) fetchToken(ctx context.Context) (Token, error) {
	form := url.Values{
		"grant_type": {"client_credentials"},
		"scope":      {c.cfg.Scope},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	requested := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("token request: %w", newAPIError(resp))
	}

	var body tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return Token{}, fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return Token{}, errors.New("token response has no access_token")
	}

	c.logger.Debug("fetched ebay application token", "expires_in_s", body.ExpiresIn)
	return Token{
		AccessToken: body.AccessToken,
		ExpiresAt:   requested.Add(time.Duration(body.ExpiresIn) * time.Second),
	}, nil
}

func newAPIError(resp *http.Response) *APIError {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorExcerpt))
	return &APIError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(excerpt)),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type browseItem struct {
	ItemID string `json:"itemId"`
	Title  string `json:"title"`
	Price  *struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"price"`
	Image *struct {
		ImageURL string `json:"imageUrl"`
	} `json:"image"`
	ItemWebURL              string `json:"itemWebUrl"`
	EstimatedAvailabilities []struct {
		Status string `json:"estimatedAvailabilityStatus"`
	} `json:"estimatedAvailabilities"`
}

func (b browseItem) toListing(requestedID string) (model.Listing, error) {
	l := model.Listing{
		ListingID: b.ItemID,
		Title:     b.Title,
		ItemURL:   b.ItemWebURL,
		Available: true,
	}
	if l.ListingID == "" {
		l.ListingID = requestedID
	}
	if b.Image != nil {
		l.ImageURL = b.Image.ImageURL
	}
	if b.Price == nil {
		return model.Listing{}, fmt.Errorf("item %s has no price", requestedID)
	}
	cents, err := parsePriceCents(b.Price.Value)
	if err != nil {
		return model.Listing{}, fmt.Errorf("item %s: %w", requestedID, err)
	}
	l.PriceCents = cents
	l.Currency = b.Price.Currency

	if len(b.EstimatedAvailabilities) > 0 {
		l.Available = false
		for _, a := range b.EstimatedAvailabilities {
			if a.Status != "OUT_OF_STOCK" {
				l.Available = true
				break
			}
		}
	}
	return l, nil
}

// parsePriceCents converts a decimal amount such as "12.5" to cents (1250).
func parsePriceCents(s string) (int64, error) {
	whole, frac, hasFrac := strings.Cut(strings.TrimSpace(s), ".")
	if whole == "" || (hasFrac && (frac == "" || len(frac) > 2)) {
		return 0, fmt.Errorf("invalid price %q", s)
	}

	units, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", s, err)
	}
	if units > math.MaxInt64/100 {
		return 0, fmt.Errorf("price %q out of range", s)
	}

	var cents uint64
	if hasFrac {
		if len(frac) == 1 {
			frac += "0"
		}
		cents, err = strconv.ParseUint(frac, 10, 8)
		if err != nil {
			return 0, fmt.Errorf("invalid price %q: %w", s, err)
		}
	}

	total := units*100 + cents
	if total > math.MaxInt64 {
		return 0, fmt.Errorf("price %q out of range", s)
	}
	return int64(total), nil
}
