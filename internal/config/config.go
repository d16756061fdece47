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
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OAuthProviderConfig holds the OAuth client credentials for one mail provider.
type OAuthProviderConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// Config holds all configuration for the ingestion service.
type Config struct {
	DatabaseURL string
	RedisURL    string
	Port        int

	// Work queue
	QueueConcurrency int
	QueueMaxAttempts int
	ShutdownGrace    time.Duration

	// Mailbox polling
	PollingEnabled     bool
	PollInterval       time.Duration
	MaxPagesPerCycle   int
	TokenRefreshBuffer time.Duration

	// OAuth clients
	Google    OAuthProviderConfig
	Microsoft OAuthProviderConfig

	// Webhook verification
	WhatsAppVerifyToken string

	// Attachment storage root for the local blob store
	BlobDir string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Queue struct {
		Concurrency int `yaml:"concurrency"`
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"queue"`
	Mailbox struct {
		PollingEnabled *bool  `yaml:"polling_enabled"`
		PollInterval   string `yaml:"poll_interval"`
		MaxPages       int    `yaml:"max_pages"`
	} `yaml:"mailbox"`
	OAuth struct {
		Google    OAuthProviderConfig `yaml:"google"`
		Microsoft OAuthProviderConfig `yaml:"microsoft"`
	} `yaml:"oauth"`
	Webhooks struct {
		WhatsAppVerifyToken string `yaml:"whatsapp_verify_token"`
	} `yaml:"webhooks"`
	Storage struct {
		BlobDir string `yaml:"blob_dir"`
	} `yaml:"storage"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. The YAML file is optional;
// everything has an env override or a default.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "config.yaml")

	var raw rawConfig
	if data, err := os.ReadFile(configPath); err == nil {
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg := &Config{
		DatabaseURL:        firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/crewdesk")),
		RedisURL:           firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		Port:               envOrDefaultInt("PORT", 8080),
		QueueConcurrency:   positiveOr(raw.Queue.Concurrency, envOrDefaultInt("QUEUE_CONCURRENCY", 5)),
		QueueMaxAttempts:   positiveOr(raw.Queue.MaxAttempts, envOrDefaultInt("QUEUE_MAX_ATTEMPTS", 3)),
		ShutdownGrace:      envOrDefaultDuration("SHUTDOWN_GRACE", 30*time.Second),
		PollingEnabled:     envOrDefaultBool("POLLING_ENABLED", true),
		PollInterval:       envOrDefaultDuration("POLL_INTERVAL", 60*time.Second),
		MaxPagesPerCycle:   positiveOr(raw.Mailbox.MaxPages, envOrDefaultInt("MAX_PAGES_PER_CYCLE", 10)),
		TokenRefreshBuffer: envOrDefaultDuration("TOKEN_REFRESH_BUFFER", 5*time.Minute),
		Google:             raw.OAuth.Google,
		Microsoft:          raw.OAuth.Microsoft,
		WhatsAppVerifyToken: firstNonEmpty(
			raw.Webhooks.WhatsAppVerifyToken,
			os.Getenv("WHATSAPP_VERIFY_TOKEN"),
		),
		BlobDir: firstNonEmpty(raw.Storage.BlobDir, envOrDefault("BLOB_DIR", "/var/lib/crewdesk/blobs")),
	}

	if raw.Mailbox.PollingEnabled != nil {
		cfg.PollingEnabled = *raw.Mailbox.PollingEnabled
	}
	if raw.Mailbox.PollInterval != "" {
		if d, err := time.ParseDuration(raw.Mailbox.PollInterval); err == nil {
			cfg.PollInterval = d
		}
	}

	// OAuth env overrides for deployments without a YAML file
	if cfg.Google.ClientID == "" {
		cfg.Google = OAuthProviderConfig{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),
		}
	}
	if cfg.Microsoft.ClientID == "" {
		cfg.Microsoft = OAuthProviderConfig{
			ClientID:     os.Getenv("MICROSOFT_CLIENT_ID"),
			ClientSecret: os.Getenv("MICROSOFT_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("MICROSOFT_REDIRECT_URL"),
		}
	}

	return cfg, nil
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

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
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
