// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/casalead/ingestion/internal/models"
	"github.com/casalead/ingestion/internal/parser"
)

// SourceConfig declares one email source. Sources listed here are upserted
// into the database at startup; their sync state lives only in the database.
type SourceConfig struct {
	ID                string   `yaml:"id"`
	TenantID          string   `yaml:"tenant_id"`
	Provider          string   `yaml:"provider"`
	Senders           []string `yaml:"senders"`
	DefaultAssigneeID string   `yaml:"default_assignee_id"`
	DefaultCategory   string   `yaml:"default_category"`
	DefaultLeadSource string   `yaml:"default_lead_source"`
	Active            *bool    `yaml:"active"`
}

// EmailSource converts the declaration to the stored model.
func (s SourceConfig) EmailSource() models.EmailSource {
	src := models.EmailSource{
		ID:                s.ID,
		TenantID:          s.TenantID,
		Provider:          s.Provider,
		DefaultCategory:   s.DefaultCategory,
		DefaultLeadSource: s.DefaultLeadSource,
		Active:            s.Active == nil || *s.Active,
	}
	for _, addr := range s.Senders {
		if addr = strings.TrimSpace(addr); addr != "" {
			src.SenderAddresses = append(src.SenderAddresses, addr)
		}
	}
	if s.DefaultAssigneeID != "" {
		assignee := s.DefaultAssigneeID
		src.DefaultAssigneeID = &assignee
	}
	return src
}

// MailConfig tunes the mail API client.
type MailConfig struct {
	BaseURL       string
	PageSize      int
	MaxPages      int
	CallTimeout   time.Duration
	MaxRetries    int
	Backoff       time.Duration
	RatePerSecond float64
	Burst         int
}

// ConnectorConfig locates the credential connector.
type ConnectorConfig struct {
	Hostname      string
	Name          string
	IdentityToken string
	RenewalToken  string
}

// Config holds all configuration for the ingestion service.
type Config struct {
	Sources []SourceConfig

	// Postgres
	DatabaseURL string

	// Redis
	RedisURL        string
	LeadEventsQueue string

	// Worker
	WorkerInterval     time.Duration
	InitialDelay       time.Duration
	Lookback           time.Duration
	LeadValidityMonths int
	DistributedLock    bool
	LockTTL            time.Duration

	Mail      MailConfig
	Connector ConnectorConfig

	// Server (admin endpoints)
	Port     int
	LogLevel string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Sources  []SourceConfig `yaml:"sources"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			LeadEvents string `yaml:"lead_events"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Connector struct {
		Hostname string `yaml:"hostname"`
		Name     string `yaml:"name"`
	} `yaml:"connector"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. A missing file is not an
// error: sources may already be registered in the database.
func Load() (*Config, error) {
	return LoadFile(envOrDefault("CONFIG_PATH", "/app/config/config.yaml"))
}

// LoadFile is Load with an explicit config path.
func LoadFile(configPath string) (*Config, error) {
	var raw rawConfig

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// env-only configuration
	case err != nil:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	default:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	cfg := &Config{
		DatabaseURL:     firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:        firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		LeadEventsQueue: firstNonEmpty(raw.Redis.Queues.LeadEvents, envOrDefault("LEAD_EVENTS_QUEUE", "lead_events")),

		WorkerInterval:     envOrDefaultDuration("WORKER_INTERVAL", 30*time.Minute),
		InitialDelay:       envOrDefaultDuration("INITIAL_DELAY", 30*time.Second),
		Lookback:           envOrDefaultDuration("LOOKBACK", time.Hour),
		LeadValidityMonths: envOrDefaultInt("LEAD_VALIDITY_MONTHS", 3),
		DistributedLock:    envOrDefaultBool("DISTRIBUTED_LOCK", false),
		LockTTL:            envOrDefaultDuration("LOCK_TTL", 45*time.Minute),

		Mail: MailConfig{
			BaseURL:       os.Getenv("MAIL_API_BASE_URL"),
			PageSize:      envOrDefaultInt("PAGE_SIZE", 50),
			MaxPages:      envOrDefaultInt("MAX_PAGES", 5),
			CallTimeout:   envOrDefaultDuration("MAIL_CALL_TIMEOUT", 30*time.Second),
			MaxRetries:    envOrDefaultInt("MAIL_MAX_RETRIES", 3),
			Backoff:       envOrDefaultDuration("MAIL_BACKOFF", time.Second),
			RatePerSecond: envOrDefaultFloat("MAIL_RATE", 5),
			Burst:         envOrDefaultInt("MAIL_BURST", 5),
		},
		Connector: ConnectorConfig{
			Hostname:      firstNonEmpty(raw.Connector.Hostname, os.Getenv("CONNECTOR_HOSTNAME")),
			Name:          firstNonEmpty(raw.Connector.Name, envOrDefault("CONNECTOR_NAME", "google-mail")),
			IdentityToken: os.Getenv("CONNECTOR_IDENTITY_TOKEN"),
			RenewalToken:  os.Getenv("CONNECTOR_RENEWAL_TOKEN"),
		},

		Port:     envOrDefaultInt("PORT", 8080),
		LogLevel: envOrDefault("LOG_LEVEL", "info"),
	}

	for _, s := range raw.Sources {
		s.ID = strings.TrimSpace(s.ID)
		s.TenantID = strings.TrimSpace(s.TenantID)

		// Skip sources with empty identifiers (commented out in YAML)
		if s.ID == "" || s.TenantID == "" {
			continue
		}

		s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
		if s.Provider == "" {
			s.Provider = parser.ProviderGeneric
		}

		cfg.Sources = append(cfg.Sources, s)
	}

	return cfg, nil
}

// Validate rejects settings the worker cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("database URL is required (database.url or DATABASE_URL)"))
	}
	if c.WorkerInterval <= 0 {
		errs = append(errs, fmt.Errorf("worker interval must be positive, got %s", c.WorkerInterval))
	}
	if c.Lookback <= 0 {
		errs = append(errs, fmt.Errorf("lookback must be positive, got %s", c.Lookback))
	}
	if c.Mail.PageSize <= 0 || c.Mail.PageSize > 500 {
		errs = append(errs, fmt.Errorf("page size must be between 1 and 500, got %d", c.Mail.PageSize))
	}
	if c.Mail.MaxPages <= 0 {
		errs = append(errs, fmt.Errorf("max pages must be positive, got %d", c.Mail.MaxPages))
	}
	if c.LeadValidityMonths <= 0 {
		errs = append(errs, fmt.Errorf("lead validity months must be positive, got %d", c.LeadValidityMonths))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("duplicate source id %q", s.ID))
		}
		seen[s.ID] = true
	}
	return errors.Join(errs...)
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
