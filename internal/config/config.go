// Package config loads server configuration from a TOML file, overlaid
// by environment variables, overlaid by CLI flags, matching
// spec.md §6's "File values are overridden by environment variables"
// plus the teacher's flag-based CLI
// (_examples/rustyguts-bken/server/main.go). Precedence: flag > env >
// file > default.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"

	"chatty/internal/redact"
)

// Server holds the `[server]` TOML section plus CLI/env overlays.
type Server struct {
	Bind           string
	TLSCertPath    string
	TLSKeyPath     string
	AuthToken      redact.String
	AuthHMACSecret redact.String
	MaxFrameBytes  uint32
	LogJSON        bool
}

// Twitch holds the `[twitch]` section, consumed by internal/adapter/twitch.
type Twitch struct {
	ClientID      string
	ClientSecret  redact.String
	EventSubWSURL string
	HelixBaseURL  string
}

// Kick holds the `[kick]` section, consumed by internal/adapter/kick.
type Kick struct {
	PusherWSURL string
	RESTBaseURL string
}

// Persistence holds the `[persistence]` section.
type Persistence struct {
	Durable     bool
	DatabaseURL string
}

// Replay configures internal/replay.Service.
type Replay struct {
	Enabled          bool
	Capacity         int
	RetentionMinutes int
}

// RateLimit configures internal/ratelimit, per spec.md §4.9.
type RateLimit struct {
	PerConnBurst     int
	PerConnPerMinute int
}

// Config is the fully resolved, layered configuration.
type Config struct {
	Server      Server
	Twitch      Twitch
	Kick        Kick
	Persistence Persistence
	Replay      Replay
	RateLimit   RateLimit
	MetricsBind string
	HealthBind  string
}

// Default returns spec.md's documented defaults.
func Default() Config {
	return Config{
		Server: Server{
			Bind:          "127.0.0.1:18203",
			MaxFrameBytes: 1 << 20,
		},
		Twitch: Twitch{
			EventSubWSURL: "wss://eventsub.wss.twitch.tv/ws",
			HelixBaseURL:  "https://api.twitch.tv/helix",
		},
		Kick: Kick{
			RESTBaseURL: "https://kick.com/api/v2",
		},
		Persistence: Persistence{
			Durable: false,
		},
		Replay: Replay{
			Enabled:          true,
			Capacity:         256,
			RetentionMinutes: 60,
		},
		RateLimit: RateLimit{
			PerConnBurst:     20,
			PerConnPerMinute: 60,
		},
		MetricsBind: "127.0.0.1:18204",
		HealthBind:  "127.0.0.1:18205",
	}
}

// tomlDoc mirrors Config's shape with plain strings in place of
// redact.String, since BurntSushi/toml cannot populate unexported fields.
type tomlDoc struct {
	Server struct {
		Bind          string
		TLSCertPath   string `toml:"tls_cert_path"`
		TLSKeyPath    string `toml:"tls_key_path"`
		AuthToken     string `toml:"auth_token"`
		AuthHMACSecret string `toml:"auth_hmac_secret"`
		MaxFrameBytes uint32 `toml:"max_frame_bytes"`
		LogJSON       bool   `toml:"log_json"`
	}
	Twitch struct {
		ClientID      string `toml:"client_id"`
		ClientSecret  string `toml:"client_secret"`
		EventSubWSURL string `toml:"eventsub_ws_url"`
		HelixBaseURL  string `toml:"helix_base_url"`
	}
	Kick struct {
		PusherWSURL string `toml:"pusher_ws_url"`
		RESTBaseURL string `toml:"rest_base_url"`
	}
	Persistence struct {
		Durable     bool   `toml:"durable"`
		DatabaseURL string `toml:"database_url"`
	}
	Replay struct {
		Enabled          bool `toml:"enabled"`
		Capacity         int  `toml:"capacity"`
		RetentionMinutes int  `toml:"retention_minutes"`
	}
	RateLimit struct {
		PerConnBurst     int `toml:"per_conn_burst"`
		PerConnPerMinute int `toml:"per_conn_per_minute"`
	} `toml:"command_rate_limit"`
	MetricsBind string `toml:"metrics_bind"`
	HealthBind  string `toml:"health_bind"`
}

// applyFile overlays a parsed TOML document's non-zero fields onto cfg.
func applyFile(cfg *Config, doc *tomlDoc) {
	if doc.Server.Bind != "" {
		cfg.Server.Bind = doc.Server.Bind
	}
	if doc.Server.TLSCertPath != "" {
		cfg.Server.TLSCertPath = doc.Server.TLSCertPath
	}
	if doc.Server.TLSKeyPath != "" {
		cfg.Server.TLSKeyPath = doc.Server.TLSKeyPath
	}
	if doc.Server.AuthToken != "" {
		cfg.Server.AuthToken = redact.New(doc.Server.AuthToken)
	}
	if doc.Server.AuthHMACSecret != "" {
		cfg.Server.AuthHMACSecret = redact.New(doc.Server.AuthHMACSecret)
	}
	if doc.Server.MaxFrameBytes != 0 {
		cfg.Server.MaxFrameBytes = doc.Server.MaxFrameBytes
	}
	cfg.Server.LogJSON = cfg.Server.LogJSON || doc.Server.LogJSON

	if doc.Twitch.ClientID != "" {
		cfg.Twitch.ClientID = doc.Twitch.ClientID
	}
	if doc.Twitch.ClientSecret != "" {
		cfg.Twitch.ClientSecret = redact.New(doc.Twitch.ClientSecret)
	}
	if doc.Twitch.EventSubWSURL != "" {
		cfg.Twitch.EventSubWSURL = doc.Twitch.EventSubWSURL
	}
	if doc.Twitch.HelixBaseURL != "" {
		cfg.Twitch.HelixBaseURL = doc.Twitch.HelixBaseURL
	}

	if doc.Kick.PusherWSURL != "" {
		cfg.Kick.PusherWSURL = doc.Kick.PusherWSURL
	}
	if doc.Kick.RESTBaseURL != "" {
		cfg.Kick.RESTBaseURL = doc.Kick.RESTBaseURL
	}

	cfg.Persistence.Durable = cfg.Persistence.Durable || doc.Persistence.Durable
	if doc.Persistence.DatabaseURL != "" {
		cfg.Persistence.DatabaseURL = doc.Persistence.DatabaseURL
	}

	if doc.Replay.Capacity != 0 {
		cfg.Replay.Capacity = doc.Replay.Capacity
	}
	if doc.Replay.RetentionMinutes != 0 {
		cfg.Replay.RetentionMinutes = doc.Replay.RetentionMinutes
	}

	if doc.RateLimit.PerConnBurst != 0 {
		cfg.RateLimit.PerConnBurst = doc.RateLimit.PerConnBurst
	}
	if doc.RateLimit.PerConnPerMinute != 0 {
		cfg.RateLimit.PerConnPerMinute = doc.RateLimit.PerConnPerMinute
	}

	if doc.MetricsBind != "" {
		cfg.MetricsBind = doc.MetricsBind
	}
	if doc.HealthBind != "" {
		cfg.HealthBind = doc.HealthBind
	}
}

// applyEnv overlays the CHATTY_* environment variables spec.md §6 names.
func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	secret := func(key string, dst *redact.String) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = redact.New(v)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v == "1" || v == "true"
		}
	}
	intval := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("CHATTY_SERVER_BIND", &cfg.Server.Bind)
	str("CHATTY_SERVER_TLS_CERT", &cfg.Server.TLSCertPath)
	str("CHATTY_SERVER_TLS_KEY", &cfg.Server.TLSKeyPath)
	secret("CHATTY_SERVER_AUTH_TOKEN", &cfg.Server.AuthToken)
	secret("CHATTY_SERVER_AUTH_HMAC_SECRET", &cfg.Server.AuthHMACSecret)

	str("CHATTY_TWITCH_CLIENT_ID", &cfg.Twitch.ClientID)
	secret("CHATTY_TWITCH_CLIENT_SECRET", &cfg.Twitch.ClientSecret)

	str("CHATTY_KICK_PUSHER_WS_URL", &cfg.Kick.PusherWSURL)

	boolean("CHATTY_PERSISTENCE_DURABLE", &cfg.Persistence.Durable)
	str("CHATTY_PERSISTENCE_DATABASE_URL", &cfg.Persistence.DatabaseURL)

	boolean("CHATTY_REPLAY_ENABLED", &cfg.Replay.Enabled)
	intval("CHATTY_REPLAY_CAPACITY", &cfg.Replay.Capacity)
	intval("CHATTY_REPLAY_RETENTION_MINUTES", &cfg.Replay.RetentionMinutes)

	intval("CHATTY_COMMAND_RATE_LIMIT_PER_CONN_BURST", &cfg.RateLimit.PerConnBurst)
	intval("CHATTY_COMMAND_RATE_LIMIT_PER_CONN_PER_MINUTE", &cfg.RateLimit.PerConnPerMinute)

	str("CHATTY_METRICS_BIND", &cfg.MetricsBind)
	str("CHATTY_HEALTH_BIND", &cfg.HealthBind)
}

// Load resolves Config from args (typically os.Args[1:]), applying the
// flag > env > file > default precedence.
func Load(args []string) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("chattyd", flag.ContinueOnError)
	configPath := fs.String("config", "chatty.toml", "path to TOML config file")
	bind := fs.String("bind", "", "QUIC bind address, e.g. quic://127.0.0.1:18203")
	logJSON := fs.Bool("log-json", false, "emit JSON logs instead of text")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if _, err := os.Stat(*configPath); err == nil {
		var doc tomlDoc
		if _, err := toml.DecodeFile(*configPath, &doc); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", *configPath, err)
		}
		applyFile(&cfg, &doc)
	}

	applyEnv(&cfg)

	if *bind != "" {
		cfg.Server.Bind = *bind
	}
	cfg.Server.LogJSON = cfg.Server.LogJSON || *logJSON

	return &cfg, nil
}
