// Package config defines agent configuration structures and loading hooks.
//
// Conventions:
// - Keys are flat so every field can be set from a single XFER_ variable.
// - Provide New() to build a Config with defaults.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/okian/xferkarma/internal/domain/scoring"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP ops listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DatabaseURL names the ledger database: sqlite://path or postgres://...
	DatabaseURL string `koanf:"database_url"`

	// Reddit script-app credentials.
	ClientID     string `koanf:"reddit_client_id"`
	ClientSecret string `koanf:"reddit_client_secret"`
	Username     string `koanf:"reddit_username"`
	Password     string `koanf:"reddit_password"`
	UserAgent    string `koanf:"user_agent"`

	// SourceSubreddit is where karma is read from; DestinationSubreddit is
	// the community whose comment feed is watched and whose flair is written.
	SourceSubreddit      string `koanf:"source_subreddit"`
	DestinationSubreddit string `koanf:"destination_subreddit"`

	// RequestsPerSecond and RequestBurst bound the upstream API budget.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	RequestBurst      int     `koanf:"request_burst"`

	// PollMinDelay and PollMaxDelay bound the comment feed polling interval.
	PollMinDelay time.Duration `koanf:"poll_min_delay"`
	PollMaxDelay time.Duration `koanf:"poll_max_delay"`

	// BackoffBase is multiplied by the consecutive failure count to get the
	// reconnect delay; BackoffMax caps it. Zero BackoffMax means no cap.
	BackoffBase time.Duration `koanf:"backoff_base"`
	BackoffMax  time.Duration `koanf:"backoff_max"`

	// DedupeSize sets the size of the re-delivery cache.
	DedupeSize int `koanf:"dedupe_size"`

	// Tiers and PrivilegedTier describe the flair tier policy.
	Tiers          []scoring.Tier `koanf:"tiers"`
	PrivilegedTier scoring.Tier   `koanf:"privileged_tier"`

	// RoleCacheTTL bounds how stale moderator and courier lists may get.
	RoleCacheTTL time.Duration `koanf:"role_cache_ttl"`

	// CourierPage is the wiki page holding the courier list.
	CourierPage string `koanf:"courier_page"`

	// InfoURL is linked from successful transfer replies when set.
	InfoURL string `koanf:"info_url"`

	// AlertWebhook is a Discord webhook URL. Faults are only logged when empty.
	AlertWebhook  string `koanf:"alert_webhook"`
	AlertUsername string `koanf:"alert_username"`

	// AlertQueueSize bounds faults waiting to be alerted.
	AlertQueueSize int `koanf:"alert_queue_size"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// New creates a Config with defaults.
func New() *Config {
	policy := scoring.MustPolicy()
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 ":9080",
		DatabaseURL:          "sqlite://data/xferkarma.db",
		UserAgent:            "xferkarma/1.0",
		SourceSubreddit:      "Market76",
		DestinationSubreddit: "Fallout76Marketplace",
		RequestsPerSecond:    1,
		RequestBurst:         5,
		PollMinDelay:         time.Second,
		PollMaxDelay:         16 * time.Second,
		BackoffBase:          5 * time.Minute,
		BackoffMax:           time.Hour,
		DedupeSize:           50_000,
		Tiers:                policy.Bands(),
		PrivilegedTier:       policy.Assign(0, true),
		RoleCacheTTL:         10 * time.Minute,
		CourierPage:          "custom_bot_config/courier_list",
		AlertUsername:        "xferkarma",
		AlertQueueSize:       64,
		ShutdownTimeout:      30 * time.Second,
	}
}

// Policy builds the tier policy described by the config.
func (c *Config) Policy() (*scoring.Policy, error) {
	p, err := scoring.NewPolicy(
		scoring.WithBands(c.Tiers...),
		scoring.WithPrivilegedTier(c.PrivilegedTier),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return p, nil
}

// Validate checks everything the agent needs before touching any backend.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.DatabaseURL == "":
		return fmt.Errorf("%w: database_url must not be empty", ErrInvalidConfig)
	case c.SourceSubreddit == "" || c.DestinationSubreddit == "":
		return fmt.Errorf("%w: source and destination subreddits are required", ErrInvalidConfig)
	case strings.EqualFold(c.SourceSubreddit, c.DestinationSubreddit):
		return fmt.Errorf("%w: source and destination subreddits must differ", ErrInvalidConfig)
	case c.BackoffBase <= 0:
		return fmt.Errorf("%w: backoff_base must be positive", ErrInvalidConfig)
	case c.BackoffMax != 0 && c.BackoffMax < c.BackoffBase:
		return fmt.Errorf("%w: backoff_max must not be below backoff_base", ErrInvalidConfig)
	case c.RequestsPerSecond <= 0:
		return fmt.Errorf("%w: requests_per_second must be positive", ErrInvalidConfig)
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	return nil
}

// ValidateCredentials checks the upstream credentials needed to run.
func (c *Config) ValidateCredentials() error {
	var missing []string
	for key, val := range map[string]string{
		"reddit_client_id":     c.ClientID,
		"reddit_client_secret": c.ClientSecret,
		"reddit_username":      c.Username,
		"reddit_password":      c.Password,
	} {
		if val == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}
