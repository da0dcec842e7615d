package ebay

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// expirySkew treats a token as stale slightly before it really expires so a
// request started just before expiry does not reach the API with a dead token.
const expirySkew = 60 * time.Second

// fetchTimeout bounds a shared token fetch, which runs detached from the
// callers waiting on it.
const fetchTimeout = 30 * time.Second

// Token is an OAuth access token and its expiry time.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether the token can still be used at now.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && now.Add(expirySkew).Before(t.ExpiresAt)
}

// TokenFetcher obtains a fresh token from the authorization server.
type TokenFetcher func(ctx context.Context) (Token, error)

// TokenCache holds the current application token and fetches a new one when
// it goes stale. Concurrent callers that find the token stale share a single
// fetch. It is safe for concurrent use.
type TokenCache struct {
	fetch TokenFetcher
	now   func() time.Time

	mu  sync.Mutex
	tok Token

	group singleflight.Group
}

// NewTokenCache creates an empty cache that uses fetch to obtain tokens.
func NewTokenCache(fetch TokenFetcher) *TokenCache {
	return &TokenCache{
		fetch: fetch,
		now:   time.Now,
	}
}

// Current returns the cached token, which may be empty or stale.
func (c *TokenCache) Current() Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tok
}

// Token returns a valid access token, fetching a new one if the cached token
// is missing or stale.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if tok := c.Current(); tok.Valid(c.now()) {
		return tok.AccessToken, nil
	}
	return c.refresh(ctx, false)
}

// Refresh unconditionally fetches a new token and stores it.
func (c *TokenCache) Refresh(ctx context.Context) (string, error) {
	return c.refresh(ctx, true)
}

// refresh shares one fetch between concurrent callers. The fetch does not
// inherit any single caller's cancellation; each caller stops waiting when
// its own ctx is done.
func (c *TokenCache) refresh(ctx context.Context, force bool) (string, error) {
	key := "stale"
	if force {
		key = "force"
	}
	ch := c.group.DoChan(key, func() (any, error) {
		// Another caller may have stored a fresh token between our
		// staleness check and this fetch.
		if tok := c.Current(); !force && tok.Valid(c.now()) {
			return tok.AccessToken, nil
		}

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		tok, err := c.fetch(fctx)
		if err != nil {
			tokenRefreshes.WithLabelValues(outcomeError).Inc()
			return nil, err
		}
		tokenRefreshes.WithLabelValues(outcomeOK).Inc()

		c.mu.Lock()
		c.tok = tok
		c.mu.Unlock()
		return tok.AccessToken, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Invalidate drops the cached token so the next Token call fetches a new one.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tok = Token{}
}
