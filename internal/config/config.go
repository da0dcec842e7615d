package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/calcops/internal/refresh"
	"github.com/seantiz/calcops/internal/source/ebay"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "calcops.db"
	defaultLogLevel   = "info"

	envConfigFile         = "CALCOPS_CONFIG"
	envListenAddr         = "CALCOPS_LISTEN_ADDR"
	envDBPath             = "CALCOPS_DB_PATH"
	envLogLevel           = "CALCOPS_LOG_LEVEL"
	envRefreshConcurrency = "CALCOPS_REFRESH_CONCURRENCY"
	envItemTimeout        = "CALCOPS_ITEM_TIMEOUT"
	envSnapshotInterval   = "CALCOPS_SNAPSHOT_INTERVAL"

	envEbayBaseURL        = "CALCOPS_EBAY_BASE_URL"
	envEbayTokenURL       = "CALCOPS_EBAY_TOKEN_URL"
	envEbayClientID       = "CALCOPS_EBAY_CLIENT_ID"
	envEbayClientSecret   = "CALCOPS_EBAY_CLIENT_SECRET"
	envEbayMarketplaceID  = "CALCOPS_EBAY_MARKETPLACE_ID"
	envEbayMaxConcurrency = "CALCOPS_EBAY_MAX_CONCURRENCY"
)

// Config holds application configuration. Values come from defaults, then an
// optional YAML file named by CALCOPS_CONFIG, then environment variables.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
	LogLevel   string `yaml:"log_level"`

	// RefreshConcurrency is the default number of parallel lookups per run.
	RefreshConcurrency int           `yaml:"refresh_concurrency"`
	ItemTimeout        time.Duration `yaml:"item_timeout"`

	// SnapshotInterval is the period of the scheduled full refresh. Zero
	// disables the scheduler.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`

	Ebay ebay.Config `yaml:"ebay"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		ListenAddr:         defaultListenAddr,
		DBPath:             defaultDBPath,
		LogLevel:           defaultLogLevel,
		RefreshConcurrency: refresh.DefaultConcurrency,
		ItemTimeout:        refresh.DefaultItemTimeout,
		Ebay:               ebay.DefaultConfig(),
	}
}

// Load builds the configuration from defaults, the optional config file and
// the environment.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv(envConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config file %s does not exist", path)
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.ListenAddr, envListenAddr)
	setString(&c.DBPath, envDBPath)
	setString(&c.LogLevel, envLogLevel)

	setString(&c.Ebay.BaseURL, envEbayBaseURL)
	setString(&c.Ebay.TokenURL, envEbayTokenURL)
	setString(&c.Ebay.ClientID, envEbayClientID)
	setString(&c.Ebay.ClientSecret, envEbayClientSecret)
	setString(&c.Ebay.MarketplaceID, envEbayMarketplaceID)

	return errors.Join(
		setInt(&c.RefreshConcurrency, envRefreshConcurrency),
		setInt(&c.Ebay.MaxConcurrency, envEbayMaxConcurrency),
		setDuration(&c.ItemTimeout, envItemTimeout),
		setDuration(&c.SnapshotInterval, envSnapshotInterval),
	)
}

// Validate rejects values the refresh path cannot work with.
func (c Config) Validate() error {
	var errs []error
	if c.RefreshConcurrency < 1 {
		errs = append(errs, fmt.Errorf("refresh_concurrency must be at least 1, got %d", c.RefreshConcurrency))
	}
	if c.ItemTimeout <= 0 {
		errs = append(errs, fmt.Errorf("item_timeout must be positive, got %s", c.ItemTimeout))
	}
	if c.SnapshotInterval < 0 {
		errs = append(errs, fmt.Errorf("snapshot_interval must not be negative, got %s", c.SnapshotInterval))
	}
	if c.Ebay.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("ebay.max_concurrency must not be negative, got %d", c.Ebay.MaxConcurrency))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
