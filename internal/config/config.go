// Package config loads runtime settings from .env, ledgersync.yaml and
// LEDGERSYNC_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
)

const (
	EnvPrefix = "LEDGERSYNC"

	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Store        string   `mapstructure:"store"`
	DatabaseURL  string   `mapstructure:"database_url"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	// KafkaGroupID is the consumer group reading reconciliation events.
	KafkaGroupID string `mapstructure:"kafka_group_id"`
	RedisAddr    string `mapstructure:"redis_addr"`

	Feed FeedConfig `mapstructure:"feed"`
	Log  LogConfig  `mapstructure:"log"`

	Provider            string          `mapstructure:"provider"`
	RoundingTolerance   string          `mapstructure:"rounding_tolerance"`
	QueueBatchSize      int             `mapstructure:"queue_batch_size"`
	SettlementPageLimit int             `mapstructure:"settlement_page_limit"`
	BalancePageLimit    int             `mapstructure:"balance_page_limit"`
	RecheckLimit        int             `mapstructure:"recheck_limit"`
	Concurrency         int             `mapstructure:"concurrency"`
	HTTPAddr            string          `mapstructure:"http_addr"`
	Accounts            []AccountConfig `mapstructure:"accounts"`
}

type FeedConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AccountConfig is one processor account as written in the config file.
// The API key is read from the variable named by APIKeyEnv when APIKey is empty.
type AccountConfig struct {
	ID              string `mapstructure:"id"`
	Name            string `mapstructure:"name"`
	APIKey          string `mapstructure:"api_key"`
	APIKeyEnv       string `mapstructure:"api_key_env"`
	BalanceID       string `mapstructure:"balance_id"`
	Currency        string `mapstructure:"currency"`
	StartingBalance string `mapstructure:"starting_balance"`
	SyncFrom        string `mapstructure:"sync_from"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store", StoreMemory)
	v.SetDefault("database_url", "")
	v.SetDefault("kafka_brokers", []string{})
	v.SetDefault("kafka_group_id", "ledgersync")
	v.SetDefault("redis_addr", "")
	v.SetDefault("feed.base_url", "https://api.mollie.com/v2")
	v.SetDefault("feed.timeout", 20*time.Second)
	v.SetDefault("feed.breaker_failures", 5)
	v.SetDefault("feed.breaker_cooldown", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("provider", "mollie")
	v.SetDefault("rounding_tolerance", "0.05")
	v.SetDefault("queue_batch_size", 100)
	v.SetDefault("settlement_page_limit", 250)
	v.SetDefault("balance_page_limit", 250)
	v.SetDefault("recheck_limit", 5)
	v.SetDefault("concurrency", 4)
	v.SetDefault("http_addr", ":8080")
}

// Load reads configuration. An empty path looks for ledgersync.yaml in the
// working directory; a missing file is not an error then.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("ledgersync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: database_url is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	if _, err := c.Tolerance(); err != nil {
		return err
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be at least 1, got %d", c.Concurrency)
	}

	seen := make(map[string]struct{}, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.ID == "" {
			return errors.New("config: account without id")
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("config: duplicate account %q", a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return nil
}

// Tolerance is the largest discrepancy absorbed by a rounding line.
func (c *Config) Tolerance() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.RoundingTolerance)
	if err != nil || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("config: invalid rounding_tolerance %q", c.RoundingTolerance)
	}
	return d, nil
}

// ModelAccounts converts the configured accounts.
func (c *Config) ModelAccounts() ([]models.Account, error) {
	out := make([]models.Account, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		acc, err := a.Model()
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, nil
}

// Account returns the configured account with id.
func (c *Config) Account(id string) (models.Account, error) {
	for _, a := range c.Accounts {
		if a.ID == id {
			return a.Model()
		}
	}
	return models.Account{}, fmt.Errorf("account %q: %w", id, models.ErrNotFound)
}

func (a AccountConfig) Model() (models.Account, error) {
	acc := models.Account{
		ID:        a.ID,
		Name:      a.Name,
		APIKey:    a.APIKey,
		BalanceID: a.BalanceID,
		Currency:  a.Currency,
	}
	if acc.APIKey == "" && a.APIKeyEnv != "" {
		acc.APIKey = os.Getenv(a.APIKeyEnv)
	}
	if a.StartingBalance != "" {
		d, err := decimal.NewFromString(a.StartingBalance)
		if err != nil {
			return models.Account{}, fmt.Errorf("account %s: invalid starting_balance %q", a.ID, a.StartingBalance)
		}
		acc.StartingBalance = d
	}
	if a.SyncFrom != "" {
		t, err := parseDate(a.SyncFrom)
		if err != nil {
			return models.Account{}, fmt.Errorf("account %s: invalid sync_from %q", a.ID, a.SyncFrom)
		}
		acc.SyncFrom = t
	}
	return acc, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
