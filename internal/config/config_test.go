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

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
database:
  url: ${TEST_DB_URL}
redis:
  url: redis://cache:6379/2
  queues:
    lead_events: crm_leads
connector:
  hostname: connectors.internal
sources:
  - id: src-easybroker
    tenant_id: tenant-1
    provider: EasyBroker
    senders:
      - notificaciones@easybroker.com
      - "  "
    default_assignee_id: agent-7
    default_category: venta
    default_lead_source: EasyBroker
  - id: src-generic
    tenant_id: tenant-2
    senders: [leads@example.com]
    active: false
  - id: ""
    tenant_id: tenant-3
`

// clearEnv blanks every variable Load reads so the host environment
// cannot leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_PATH", "DATABASE_URL", "REDIS_URL", "LEAD_EVENTS_QUEUE",
		"WORKER_INTERVAL", "INITIAL_DELAY", "LOOKBACK", "LEAD_VALIDITY_MONTHS",
		"DISTRIBUTED_LOCK", "LOCK_TTL", "MAIL_API_BASE_URL", "PAGE_SIZE",
		"MAX_PAGES", "MAIL_CALL_TIMEOUT", "MAIL_MAX_RETRIES", "MAIL_BACKOFF",
		"MAIL_RATE", "MAIL_BURST", "CONNECTOR_HOSTNAME", "CONNECTOR_NAME",
		"CONNECTOR_IDENTITY_TOKEN", "CONNECTOR_RENEWAL_TOKEN", "PORT", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoadFile_YAML verifies YAML parsing, env expansion and source defaults.
func TestLoadFile_YAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_DB_URL", "postgres://crm@db/crm")

	cfg, err := LoadFile(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.DatabaseURL != "postgres://crm@db/crm" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.RedisURL != "redis://cache:6379/2" || cfg.LeadEventsQueue != "crm_leads" {
		t.Errorf("redis = %q / %q", cfg.RedisURL, cfg.LeadEventsQueue)
	}
	if cfg.Connector.Hostname != "connectors.internal" || cfg.Connector.Name != "google-mail" {
		t.Errorf("connector = %+v", cfg.Connector)
	}

	if len(cfg.Sources) != 2 {
		t.Fatalf("sources = %d, want 2 (blank id skipped)", len(cfg.Sources))
	}

	eb := cfg.Sources[0].EmailSource()
	if eb.Provider != "easybroker" {
		t.Errorf("provider = %q, want lowercased", eb.Provider)
	}
	if len(eb.SenderAddresses) != 1 || eb.SenderAddresses[0] != "notificaciones@easybroker.com" {
		t.Errorf("senders = %v", eb.SenderAddresses)
	}
	if eb.DefaultAssigneeID == nil || *eb.DefaultAssigneeID != "agent-7" {
		t.Errorf("assignee = %v", eb.DefaultAssigneeID)
	}
	if !eb.Active {
		t.Error("source should default to active")
	}

	gen := cfg.Sources[1].EmailSource()
	if gen.Provider != "generic" {
		t.Errorf("provider = %q, want generic", gen.Provider)
	}
	if gen.Active {
		t.Error("active: false not honoured")
	}
	if gen.DefaultAssigneeID != nil {
		t.Error("empty assignee should be nil")
	}
}

// TestLoadFile_Defaults verifies env-only loading when the file is absent.
func TestLoadFile_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.WorkerInterval != 30*time.Minute {
		t.Errorf("WorkerInterval = %s", cfg.WorkerInterval)
	}
	if cfg.InitialDelay != 30*time.Second {
		t.Errorf("InitialDelay = %s", cfg.InitialDelay)
	}
	if cfg.Lookback != time.Hour {
		t.Errorf("Lookback = %s", cfg.Lookback)
	}
	if cfg.Mail.PageSize != 50 || cfg.Mail.MaxPages != 5 {
		t.Errorf("paging = %d/%d", cfg.Mail.PageSize, cfg.Mail.MaxPages)
	}
	if cfg.Mail.CallTimeout != 30*time.Second || cfg.Mail.MaxRetries != 3 {
		t.Errorf("mail = %+v", cfg.Mail)
	}
	if cfg.LeadValidityMonths != 3 {
		t.Errorf("LeadValidityMonths = %d", cfg.LeadValidityMonths)
	}
	if cfg.DistributedLock {
		t.Error("distributed lock should default off")
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if len(cfg.Sources) != 0 {
		t.Errorf("sources = %v", cfg.Sources)
	}
}

// TestLoadFile_EnvOverrides verifies environment settings.
func TestLoadFile_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("WORKER_INTERVAL", "5m")
	t.Setenv("PAGE_SIZE", "100")
	t.Setenv("MAIL_RATE", "2.5")
	t.Setenv("DISTRIBUTED_LOCK", "true")
	t.Setenv("PORT", "not-a-number")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.DatabaseURL != "postgres://env/db" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.WorkerInterval != 5*time.Minute {
		t.Errorf("WorkerInterval = %s", cfg.WorkerInterval)
	}
	if cfg.Mail.PageSize != 100 || cfg.Mail.RatePerSecond != 2.5 {
		t.Errorf("mail = %+v", cfg.Mail)
	}
	if !cfg.DistributedLock {
		t.Error("DISTRIBUTED_LOCK not applied")
	}
	if cfg.Port != 8080 {
		t.Errorf("unparseable PORT should fall back, got %d", cfg.Port)
	}
}

// TestLoadFile_InvalidYAML verifies parse errors are reported.
func TestLoadFile_InvalidYAML(t *testing.T) {
	clearEnv(t)
	if _, err := LoadFile(writeConfig(t, "sources: [unterminated")); err == nil {
		t.Fatal("expected parse error")
	}
}

// TestValidate verifies rejected settings.
func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DatabaseURL:        "postgres://db",
			WorkerInterval:     30 * time.Minute,
			Lookback:           time.Hour,
			LeadValidityMonths: 3,
			Port:               8080,
			Mail:               MailConfig{PageSize: 50, MaxPages: 5},
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing database", func(c *Config) { c.DatabaseURL = "" }, "database URL"},
		{"zero interval", func(c *Config) { c.WorkerInterval = 0 }, "worker interval"},
		{"zero page size", func(c *Config) { c.Mail.PageSize = 0 }, "page size"},
		{"oversized page", func(c *Config) { c.Mail.PageSize = 1000 }, "page size"},
		{"zero max pages", func(c *Config) { c.Mail.MaxPages = 0 }, "max pages"},
		{"bad port", func(c *Config) { c.Port = 70000 }, "invalid port"},
		{"duplicate source", func(c *Config) {
			c.Sources = []SourceConfig{{ID: "a", TenantID: "t"}, {ID: "a", TenantID: "t"}}
		}, "duplicate source id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

// TestSlogLevel verifies log level parsing.
func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := (&Config{LogLevel: in}).SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
