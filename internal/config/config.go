// Package config holds the CLI configuration and its TOML file loader.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Role represents the user's chosen role (host or client).
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// Config stores all parameters gathered from the config file, CLI flags
// and interactive prompts, in that order of precedence (lowest first).
type Config struct {
	Role Role

	Sender         string        // Peer identity; generated when empty
	TargetOrigin   string        // Who may receive our requests
	AllowedOrigins []string      // Origins whose events are trusted; empty trusts all
	RequestTimeout time.Duration // 0 waits forever

	Listen string // Host: WebSocket signaling listen address
	PIN    string // Host: PIN clients must present; generated when empty
	WSURL  string // Client: WebSocket URL to connect to

	Direct      bool     // Run the peer over the WebSocket instead of WebRTC
	Lossy       bool     // Disable DataChannel retransmits
	STUNServers []string // ICE servers; nil uses the transport default, empty disables STUN

	StatsInterval time.Duration
	Debug         bool
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		TargetOrigin:  "*",
		Listen:        ":0",
		StatsInterval: 5 * time.Second,
	}
}

type fileConfig struct {
	Role           string   `toml:"role"`
	Sender         string   `toml:"sender"`
	TargetOrigin   string   `toml:"target_origin"`
	AllowedOrigins []string `toml:"allowed_origins"`
	RequestTimeout string   `toml:"request_timeout"`
	Listen         string   `toml:"listen"`
	PIN            string   `toml:"pin"`
	WSURL          string   `toml:"ws_url"`
	Direct         bool     `toml:"direct"`
	Lossy          bool     `toml:"lossy"`
	STUNServers    []string `toml:"stun_servers"`
	StatsInterval  string   `toml:"stats_interval"`
	Debug          bool     `toml:"debug"`
}

// Load reads a TOML file over the defaults. Keys absent from the file keep
// their default value.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("role") {
		cfg.Role = Role(strings.TrimSpace(raw.Role))
	}
	if meta.IsDefined("sender") {
		cfg.Sender = strings.TrimSpace(raw.Sender)
	}
	if meta.IsDefined("target_origin") {
		cfg.TargetOrigin = strings.TrimSpace(raw.TargetOrigin)
	}
	if meta.IsDefined("allowed_origins") {
		cfg.AllowedOrigins = normalizeList(raw.AllowedOrigins)
	}
	if meta.IsDefined("request_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RequestTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse request_timeout: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("pin") {
		cfg.PIN = strings.TrimSpace(raw.PIN)
	}
	if meta.IsDefined("ws_url") {
		cfg.WSURL = strings.TrimSpace(raw.WSURL)
	}
	if meta.IsDefined("direct") {
		cfg.Direct = raw.Direct
	}
	if meta.IsDefined("lossy") {
		cfg.Lossy = raw.Lossy
	}
	if meta.IsDefined("stun_servers") {
		cfg.STUNServers = normalizeList(raw.STUNServers)
	}
	if meta.IsDefined("stats_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.StatsInterval))
		if err != nil {
			return Config{}, fmt.Errorf("parse stats_interval: %w", err)
		}
		cfg.StatsInterval = d
	}
	if meta.IsDefined("debug") {
		cfg.Debug = raw.Debug
	}

	return cfg, nil
}

// Validate checks the fields the chosen role needs.
func (c Config) Validate() error {
	var errs []error

	switch c.Role {
	case RoleHost:
		if c.Listen == "" {
			errs = append(errs, errors.New("host needs a listen address"))
		}
	case RoleClient:
		if c.WSURL == "" {
			errs = append(errs, errors.New("client needs a WebSocket URL"))
		} else if _, err := NormalizeWSURL(c.WSURL); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("invalid role %q: must be 'host' or 'client'", c.Role))
	}

	if c.Sender != "" && strings.TrimSpace(c.Sender) == "" {
		errs = append(errs, errors.New("sender must not be blank"))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, errors.New("request timeout must not be negative"))
	}
	if c.StatsInterval < 0 {
		errs = append(errs, errors.New("stats interval must not be negative"))
	}

	return errors.Join(errs...)
}

// TrustsOrigin reports whether events from origin should be accepted.
func (c Config) TrustsOrigin(origin string) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// NormalizeWSURL validates and normalizes a raw WebSocket URL string. The
// path is forced to /ws; a pin query parameter is kept.
func NormalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	out := fmt.Sprintf("%s://%s/ws", scheme, u.Host)
	if pin := u.Query().Get("pin"); pin != "" {
		out += "?pin=" + url.QueryEscape(pin)
	}
	return out, nil
}

// WithPIN returns wsURL carrying pin as its query parameter.
func WithPIN(wsURL, pin string) string {
	if pin == "" {
		return wsURL
	}
	u, err := url.Parse(wsURL)
	if err != nil {
		return wsURL
	}
	q := u.Query()
	q.Set("pin", pin)
	u.RawQuery = q.Encode()
	return u.String()
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
