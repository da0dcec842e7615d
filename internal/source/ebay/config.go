package ebay

import "time"

// Defaults for the eBay Browse API.
const (
	DefaultBaseURL       = "https://api.ebay.com"
	DefaultTokenURL      = "https://api.ebay.com/identity/v1/oauth2/token"
	DefaultScope         = "https://api.ebay.com/oauth/api_scope"
	DefaultMarketplaceID = "EBAY_US"

	// DefaultMaxConcurrency keeps parallel Browse calls under the
	// application rate limit.
	DefaultMaxConcurrency = 8

	DefaultHTTPTimeout = 15 * time.Second
)

// Config holds the credentials and endpoints for the eBay client.
type Config struct {
	BaseURL       string `yaml:"base_url"`
	TokenURL      string `yaml:"token_url"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	Scope         string `yaml:"scope"`
	MarketplaceID string `yaml:"marketplace_id"`

	// MaxConcurrency is reported through Capabilities and caps refresh fan-out.
	MaxConcurrency int `yaml:"max_concurrency"`

	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// DefaultConfig returns a Config pointing at the production API with no
// credentials set.
func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		TokenURL:       DefaultTokenURL,
		Scope:          DefaultScope,
		MarketplaceID:  DefaultMarketplaceID,
		MaxConcurrency: DefaultMaxConcurrency,
		HTTPTimeout:    DefaultHTTPTimeout,
	}
}

// Enabled reports whether credentials are configured.
func (c Config) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}
