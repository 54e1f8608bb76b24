// Package config loads and hot-reloads the gatewire runtime configuration
// from a JSON5 file, with environment-variable overrides for the fields
// that matter at process start (auth, bind address, storage path).
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
)

// AuthModeName is the wire label for the three supported auth modes.
type AuthModeName string

const (
	AuthNone     AuthModeName = "none"
	AuthToken    AuthModeName = "token"
	AuthPassword AuthModeName = "password"
)

// Config is the full runtime configuration: bind address, auth, storage,
// protocol limits, and the cron feature flag.
type Config struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`

	AuthMode     AuthModeName `json:"authMode"`
	GatewayToken string       `json:"gatewayToken,omitempty"`
	GatewayPass  string       `json:"gatewayPassword,omitempty"`

	MaxPayloadBytes   int `json:"maxPayloadBytes"`
	MaxBufferedBytes  int `json:"maxBufferedBytes"`
	HandshakeTimeoutMs int64 `json:"handshakeTimeoutMs"`
	TickIntervalMs    int64 `json:"tickIntervalMs"`

	CronEnabled     bool  `json:"cronEnabled"`
	CronPollMs      int64 `json:"cronPollMs"`
	CronRunsLimit   int   `json:"cronRunsLimit"`

	DBPath string `json:"dbPath"`

	AuthMaxAttempts uint32 `json:"authMaxAttempts"`
	AuthWindowMs    int64  `json:"authWindowMs"`

	RuntimeVersion string `json:"runtimeVersion"`
	LogFilter      string `json:"logFilter"`
	JSONLogs       bool   `json:"jsonLogs"`

	// Channel notifier credentials, one per platform; empty disables that
	// platform's notifier. Consumed by cron "notify" payloads and device
	// pairing approvals.
	TelegramBotToken string `json:"telegramBotToken,omitempty"`
	SlackBotToken    string `json:"slackBotToken,omitempty"`
	DiscordBotToken  string `json:"discordBotToken,omitempty"`
}

// Default returns the conservative defaults used when no config file and
// no environment overrides are present: no auth, local-only loopback
// would be set by the caller explicitly; here host is left as "0.0.0.0"
// to match the teacher's server default.
func Default() *Config {
	return &Config{
		Host:               "0.0.0.0",
		Port:               8787,
		AuthMode:           AuthNone,
		MaxPayloadBytes:    512 * 1024,
		MaxBufferedBytes:   1024 * 1024,
		HandshakeTimeoutMs: 5_000,
		TickIntervalMs:     30_000,
		CronEnabled:        true,
		CronPollMs:         1_000,
		CronRunsLimit:      200,
		DBPath:             "gatewire.db",
		AuthMaxAttempts:    5,
		AuthWindowMs:       60_000,
		RuntimeVersion:     "dev",
		LogFilter:          "info",
	}
}

// Load reads a JSON5 config file and applies it over Default(). A missing
// file is not an error: the defaults are returned untouched.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers GATEWIRE_* environment variables over a loaded
// config, for the fields operators most often need to flip per-deployment
// without editing the file (auth, bind address, storage path).
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("GATEWIRE_HOST"); ok {
		cfg.Host = v
	}
	if v, ok := os.LookupEnv("GATEWIRE_PORT"); ok {
		if port, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.Port = uint16(port)
		}
	}
	if v, ok := os.LookupEnv("GATEWIRE_AUTH_MODE"); ok {
		cfg.AuthMode = AuthModeName(v)
	}
	if v, ok := os.LookupEnv("GATEWIRE_GATEWAY_TOKEN"); ok {
		cfg.GatewayToken = v
	}
	if v, ok := os.LookupEnv("GATEWIRE_GATEWAY_PASSWORD"); ok {
		cfg.GatewayPass = v
	}
	if v, ok := os.LookupEnv("GATEWIRE_DB_PATH"); ok {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("GATEWIRE_CRON_ENABLED"); ok {
		cfg.CronEnabled = v == "true" || v == "1"
	}
	if v, ok := os.LookupEnv("GATEWIRE_JSON_LOGS"); ok {
		cfg.JSONLogs = v == "true" || v == "1"
	}
	if v, ok := os.LookupEnv("GATEWIRE_LOG_FILTER"); ok {
		cfg.LogFilter = v
	}
	if v, ok := os.LookupEnv("GATEWIRE_TELEGRAM_BOT_TOKEN"); ok {
		cfg.TelegramBotToken = v
	}
	if v, ok := os.LookupEnv("GATEWIRE_SLACK_BOT_TOKEN"); ok {
		cfg.SlackBotToken = v
	}
	if v, ok := os.LookupEnv("GATEWIRE_DISCORD_BOT_TOKEN"); ok {
		cfg.DiscordBotToken = v
	}
}

// Save writes cfg back to path as JSON5 (plain JSON is valid JSON5).
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate rejects configurations the runtime cannot safely start with.
func (c *Config) Validate() error {
	if c.Port == 0 {
		return fmt.Errorf("port must be greater than 0")
	}
	if net.ParseIP(c.Host) == nil && c.Host != "localhost" {
		return fmt.Errorf("invalid host: %s", c.Host)
	}
	if c.MaxPayloadBytes <= 0 {
		return fmt.Errorf("maxPayloadBytes must be greater than 0")
	}
	if c.MaxBufferedBytes <= 0 {
		return fmt.Errorf("maxBufferedBytes must be greater than 0")
	}
	if c.AuthMaxAttempts == 0 {
		return fmt.Errorf("authMaxAttempts must be greater than 0")
	}
	if c.CronRunsLimit <= 0 {
		return fmt.Errorf("cronRunsLimit must be greater than 0")
	}
	token := strings.TrimSpace(c.GatewayToken)
	pass := strings.TrimSpace(c.GatewayPass)
	if token != "" && pass != "" {
		return fmt.Errorf("set either gatewayToken or gatewayPassword, not both")
	}
	return nil
}

// BindAddr formats host:port for net.Listen.
func (c *Config) BindAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// HandshakeTimeout and the other *Duration helpers convert the
// millisecond fields the file format uses into time.Duration.
func (c *Config) HandshakeTimeout() time.Duration { return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond }
func (c *Config) CronPollInterval() time.Duration { return time.Duration(c.CronPollMs) * time.Millisecond }
func (c *Config) AuthWindow() time.Duration        { return time.Duration(c.AuthWindowMs) * time.Millisecond }

// Hash returns a hex sha256 content hash of cfg's JSON encoding.
func (c *Config) Hash() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// MaskedCopy returns a copy of cfg with secrets redacted, safe to include
// in a config.get response or a log line.
func (c *Config) MaskedCopy() *Config {
	masked := *c
	if masked.GatewayToken != "" {
		masked.GatewayToken = "***"
	}
	if masked.GatewayPass != "" {
		masked.GatewayPass = "***"
	}
	if masked.TelegramBotToken != "" {
		masked.TelegramBotToken = "***"
	}
	if masked.SlackBotToken != "" {
		masked.SlackBotToken = "***"
	}
	if masked.DiscordBotToken != "" {
		masked.DiscordBotToken = "***"
	}
	return &masked
}
