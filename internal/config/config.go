// Package config loads the runtime configuration from the environment and
// validates it before any remote call is made.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Daily creation strategies.
const (
	StrategyReplicate = "replicate"
	StrategyDuplicate = "duplicate"
)

// Archive selection policies.
const (
	PolicyLastWeek         = "last-week"
	PolicyBeforeLastFriday = "before-last-friday"
)

// DefaultArchivePageID is the long-term archive page used when none is
// configured.
const DefaultArchivePageID = "1cb5aae782eb807c81cef3bd6e2345ee"

// Config represents the application configuration.
type Config struct {
	Notion  NotionConfig
	Daily   DailyConfig
	Archive ArchiveConfig
	Ledger  LedgerConfig
}

// Validate validates the configuration shared by every command. Command
// specific sections are validated by the commands that use them.
func (c *Config) Validate() error {
	if err := c.Notion.Validate(); err != nil {
		return err
	}
	if err := c.Archive.Validate(); err != nil {
		return err
	}
	return c.Daily.validateStrategy()
}

// NotionConfig holds the API credentials and the target database.
type NotionConfig struct {
	APIKey       string
	DataSourceID string
	MinInterval  time.Duration
}

// Validate validates the API configuration.
func (c *NotionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.APIKey, validation.Required),
		validation.Field(&c.DataSourceID, validation.Required),
	)
}

// DailyConfig holds the daily log creation settings.
type DailyConfig struct {
	TemplatePageID string
	Strategy       string
}

// Validate validates the daily configuration, including the fields only
// the daily command needs.
func (c *DailyConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.TemplatePageID, validation.Required),
	); err != nil {
		return err
	}
	return c.validateStrategy()
}

func (c *DailyConfig) validateStrategy() error {
	if c.Strategy == "" {
		c.Strategy = StrategyReplicate
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Strategy, validation.In(StrategyReplicate, StrategyDuplicate)),
	)
}

// ArchiveConfig holds the archive run settings.
type ArchiveConfig struct {
	PageID   string
	Policy   string
	Parallel bool
	Workers  int
}

// Validate validates the archive configuration.
func (c *ArchiveConfig) Validate() error {
	if c.Policy == "" {
		c.Policy = PolicyBeforeLastFriday
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.PageID, validation.Required),
		validation.Field(&c.Policy, validation.In(PolicyLastWeek, PolicyBeforeLastFriday)),
		validation.Field(&c.Workers, validation.Required, validation.Min(1), validation.Max(16)),
	)
}

// LedgerConfig selects the run ledger backend. An empty DSN disables it.
type LedgerConfig struct {
	DSN string
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		Daily: DailyConfig{
			Strategy: StrategyReplicate,
		},
		Archive: ArchiveConfig{
			PageID:  DefaultArchivePageID,
			Policy:  PolicyBeforeLastFriday,
			Workers: 3,
		},
	}
}

// FromEnv builds a Config from environment variables, falling back to the
// defaults for everything unset.
func FromEnv() (*Config, error) {
	cfg := NewDefaultConfig()
	cfg.Notion.APIKey = envString("NOTION_API_KEY", "")
	cfg.Notion.DataSourceID = envString("DATA_SOURCE_ID", "")
	cfg.Daily.TemplatePageID = envString("TEMPLATE_PAGE_ID", "")
	cfg.Daily.Strategy = envString("DAILY_STRATEGY", cfg.Daily.Strategy)
	cfg.Archive.PageID = envString("ARCHIVE_PAGE_ID", cfg.Archive.PageID)
	cfg.Archive.Policy = envString("ARCHIVE_POLICY", cfg.Archive.Policy)
	cfg.Ledger.DSN = envString("LEDGER_DSN", "")

	parallel, err := envBool("ARCHIVE_PARALLEL", false)
	if err != nil {
		return nil, err
	}
	cfg.Archive.Parallel = parallel

	workers, err := envInt("ARCHIVE_WORKERS", cfg.Archive.Workers)
	if err != nil {
		return nil, err
	}
	cfg.Archive.Workers = workers

	minInterval, err := envDuration("RATE_MIN_INTERVAL", 0)
	if err != nil {
		return nil, err
	}
	cfg.Notion.MinInterval = minInterval

	return cfg, nil
}

func envString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envBool(key string, fallback bool) (bool, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func envInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}
