// Package daemon manages the gateway daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration, loaded from gateway.toml and
// overridden by the environment variables named in the wire contract.
type Config struct {
	API           APIConfig           `toml:"api"`
	Storage       StorageConfig       `toml:"storage"`
	Notifications NotificationsConfig `toml:"notifications"`
	HVAC          HVACConfig          `toml:"hvac"`
	Ingest        IngestConfig        `toml:"ingest"`
	Logging       LoggingConfig       `toml:"logging"`
	Telemetry     TelemetryConfig     `toml:"telemetry"`
	Crops         CropsConfig         `toml:"crops"`
	Harvest       HarvestConfig       `toml:"harvest"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host   string `toml:"host"`
	Port   int    `toml:"port"`
	APIKey string `toml:"api_key"`
}

// StorageConfig controls where the gateway keeps its on-disk state.
type StorageConfig struct {
	Dir       string `toml:"dir"`
	RulesFile string `toml:"rules_file"`
	DBURL     string `toml:"db_url"`
}

// NotificationsConfig controls alert fan-out and cooldown.
type NotificationsConfig struct {
	CooldownSeconds float64      `toml:"cooldown_seconds"`
	HistoryCap      int          `toml:"history_cap"`
	AlertEmailTo    []string     `toml:"alert_email_to"`
	NTFY            NTFYConfig   `toml:"ntfy"`
	Twilio          TwilioConfig `toml:"twilio"`
	SMTP            SMTPConfig   `toml:"smtp"`
}

// NTFYConfig configures the push channel (ntfy.sh or self-hosted).
type NTFYConfig struct {
	URL   string `toml:"url"`
	Topic string `toml:"topic"`
}

// TwilioConfig configures SMS/WhatsApp delivery.
type TwilioConfig struct {
	AccountSID   string `toml:"account_sid"`
	AuthToken    string `toml:"auth_token"`
	FromSMS      string `toml:"from_sms"`
	FromWhatsApp string `toml:"from_whatsapp"`
	To           string `toml:"to"`
}

// SMTPConfig configures the email channel.
type SMTPConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	User string `toml:"user"`
	Pass string `toml:"pass"`
	From string `toml:"from"`
}

// HVACConfig configures the third-party AC vendor credentials ("HON_*"
// per the wire contract).
type HVACConfig struct {
	BaseURL  string `toml:"base_url"`
	Email    string `toml:"email"`
	Password string `toml:"password"`
}

// IngestConfig controls the ingest pipeline's worker pool.
type IngestConfig struct {
	Workers int `toml:"workers"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// TelemetryConfig controls observability.
type TelemetryConfig struct {
	Prometheus     bool `toml:"prometheus"`
	PrometheusPort int  `toml:"prometheus_port"`
}

// CropsConfig controls where the stage overlay loads variety definitions
// from. VarietiesFile, if set, names a JSON file holding a
// map[string]domain.VarietyConfig (the same shape domain.DefaultVarieties
// returns); an empty or missing file falls back to the built-in set so the
// overlay always has something to synthesize rules from.
type CropsConfig struct {
	VarietiesFile string `toml:"varieties_file"`
}

// HarvestConfig names which external-context sources (C13) the daemon
// should schedule. Each entry is a source name understood by
// internal/harvest's source registry; enabling a source with no
// configured vendor client still exercises the harvester's scheduling,
// backoff, and Store.Publish wiring, it just fetches nothing.
type HarvestConfig struct {
	Enabled []string `toml:"enabled"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	home := gatewayHome()
	return Config{
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Dir:       home,
			RulesFile: filepath.Join(home, "rules.json"),
		},
		Notifications: NotificationsConfig{
			CooldownSeconds: 900,
			HistoryCap:      50,
		},
		Ingest: IngestConfig{
			Workers: 8,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(home, "gateway.log"),
		},
		Telemetry: TelemetryConfig{
			Prometheus:     true,
			PrometheusPort: 9090,
		},
	}
}

// LoadConfig reads gateway.toml from the gateway home directory, falling
// back to defaults, then applies environment variable overrides per the
// wire contract's recognized options.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(gatewayHome(), "gateway.toml")

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("stat config: %w", err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// SaveConfig writes the config to the gateway home directory.
func SaveConfig(cfg Config) error {
	path := filepath.Join(gatewayHome(), "gateway.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// applyEnvOverrides layers the recognized environment variables over the
// file/default configuration. A channel is "available" only once its
// complete credential set is non-empty — enforced downstream by each
// channel's IsAvailable, not here.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.API.APIKey = v
	}
	if v := os.Getenv("NOTIFICATION_COOLDOWN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Notifications.CooldownSeconds = f
		}
	}
	if v := os.Getenv("NTFY_URL"); v != "" {
		cfg.Notifications.NTFY.URL = v
	}
	if v := os.Getenv("NTFY_TOPIC"); v != "" {
		cfg.Notifications.NTFY.Topic = v
	}
	if v := os.Getenv("TWILIO_SID"); v != "" {
		cfg.Notifications.Twilio.AccountSID = v
	}
	if v := os.Getenv("TWILIO_TOKEN"); v != "" {
		cfg.Notifications.Twilio.AuthToken = v
	}
	if v := os.Getenv("TWILIO_FROM_SMS"); v != "" {
		cfg.Notifications.Twilio.FromSMS = v
	}
	if v := os.Getenv("TWILIO_FROM_WHATSAPP"); v != "" {
		cfg.Notifications.Twilio.FromWhatsApp = v
	}
	if v := os.Getenv("TWILIO_TO"); v != "" {
		cfg.Notifications.Twilio.To = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Notifications.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Notifications.SMTP.User = v
	}
	if v := os.Getenv("SMTP_PASS"); v != "" {
		cfg.Notifications.SMTP.Pass = v
	}
	if v := os.Getenv("ALERT_EMAIL_TO"); v != "" {
		cfg.Notifications.AlertEmailTo = splitCSV(v)
		cfg.Notifications.SMTP.From = firstNonEmpty(cfg.Notifications.SMTP.From, cfg.Notifications.SMTP.User)
	}
	if v := os.Getenv("HON_EMAIL"); v != "" {
		cfg.HVAC.Email = v
	}
	if v := os.Getenv("HON_PASSWORD"); v != "" {
		cfg.HVAC.Password = v
	}
	if v := os.Getenv("DB_URL"); v != "" {
		cfg.Storage.DBURL = v
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// gatewayHome returns the gateway's data directory.
func gatewayHome() string {
	if env := os.Getenv("GATEWAY_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".hydroloop-gateway")
}

// GatewayHome is exported for use by other packages.
func GatewayHome() string {
	return gatewayHome()
}
