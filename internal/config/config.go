// Package config loads service configuration from defaults, an optional
// TOML file, and RESCUEPC_-prefixed environment variables, in that order of
// precedence (later wins).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the full service configuration.
type Config struct {
	Server struct {
		Port     int    `koanf:"port"`
		LogLevel string `koanf:"log_level"`
		Pretty   bool   `koanf:"pretty_logs"`
	} `koanf:"server"`

	Database struct {
		URL string `koanf:"url"`
	} `koanf:"database"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`

	// Secrets are consumed here, never produced.
	Secrets struct {
		WebhookSigning   string `koanf:"webhook_signing"`
		Keygen           string `koanf:"keygen"`
		Integrity        string `koanf:"integrity"`
		ExportSigning    string `koanf:"export_signing"`
		BackupPassphrase string `koanf:"backup_passphrase"`
	} `koanf:"secrets"`

	RateLimit struct {
		GeneralLimit  int           `koanf:"general_limit"`
		GeneralWindow time.Duration `koanf:"general_window"`
		// The webhook path gets looser bounds; the payment provider is a
		// trusted bulk sender.
		WebhookLimit   int           `koanf:"webhook_limit"`
		WebhookWindow  time.Duration `koanf:"webhook_window"`
		SuspectLimit   int           `koanf:"suspect_limit"`
		BotScoreCutoff float64       `koanf:"bot_score_cutoff"`
	} `koanf:"ratelimit"`

	SMTP struct {
		Host           string  `koanf:"host"`
		Port           int     `koanf:"port"`
		Username       string  `koanf:"username"`
		Password       string  `koanf:"password"`
		From           string  `koanf:"from"`
		SendsPerSecond float64 `koanf:"sends_per_second"`
	} `koanf:"smtp"`
}

// Load reads configuration for the service. configPath may be empty, in
// which case only defaults, default file locations, and environment apply.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	k.Load(confmap.Provider(map[string]interface{}{
		"server.port":                8080,
		"server.log_level":           "info",
		"ratelimit.general_limit":    10,
		"ratelimit.general_window":   "10s",
		"ratelimit.webhook_limit":    100,
		"ratelimit.webhook_window":   "10s",
		"ratelimit.suspect_limit":    3,
		"ratelimit.bot_score_cutoff": 0.6,
		"smtp.port":                  587,
		"smtp.sends_per_second":      2.0,
	}, "."), nil)

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		for _, path := range []string{"./licensed.toml", "$HOME/.licensed.toml"} {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	k.Load(env.Provider("RESCUEPC_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "RESCUEPC_")), "_", ".", -1)
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the settings the pipeline cannot run without are
// present.
func Validate(cfg *Config) error {
	if cfg.Secrets.WebhookSigning == "" {
		return fmt.Errorf("webhook signing secret is required")
	}
	if cfg.Secrets.Keygen == "" {
		return fmt.Errorf("keygen secret is required")
	}
	if cfg.Secrets.Integrity == "" {
		return fmt.Errorf("integrity secret is required")
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}
	if cfg.RateLimit.GeneralLimit < 1 || cfg.RateLimit.WebhookLimit < 1 {
		return fmt.Errorf("rate limits must be at least 1")
	}
	if cfg.RateLimit.GeneralWindow < time.Second || cfg.RateLimit.WebhookWindow < time.Second {
		return fmt.Errorf("rate limit windows must be at least 1s")
	}
	return nil
}
