package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Default configuration values
const (
	DefaultDomain      = "localhost:8080"
	DefaultSTUN        = "stun:stun.l.google.com:19302"
	DefaultCodec       = "json"
	DefaultDisplayName = "guest"
	DefaultListenAddr  = ":8080"
	DefaultRedisPrefix = "roomcall"
)

var ErrRelayWithoutTURN = errors.New("cannot force relay mode without TURN server configured")

// Config holds application configuration
type Config struct {
	// Domain is the relay host, optionally with a port
	Domain string

	// RelayURL is the websocket endpoint, derived from Domain unless set
	RelayURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// Codec is the relay wire format, json or msgpack
	Codec string

	DisplayName string
	VideoFile   string
	AudioFile   string
	RecordDir   string

	// Relay server
	ListenAddr  string
	RedisAddr   string
	RedisPrefix string
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain      string
	RelayURL    string
	STUNServer  string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
	Codec       string
	DisplayName string
	VideoFile   string
	AudioFile   string
	RecordDir   string
	ListenAddr  string
	RedisAddr   string
	RedisPrefix string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := &Config{
		Domain:      pick(opts.Domain, "DOMAIN", DefaultDomain),
		STUNServer:  pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer:  pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:    pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:    pick(opts.TURNPass, "TURN_PASSWORD", ""),
		Codec:       strings.ToLower(pick(opts.Codec, "RELAY_CODEC", DefaultCodec)),
		DisplayName: pick(opts.DisplayName, "DISPLAY_NAME", defaultDisplayName()),
		VideoFile:   pick(opts.VideoFile, "VIDEO_FILE", ""),
		AudioFile:   pick(opts.AudioFile, "AUDIO_FILE", ""),
		RecordDir:   pick(opts.RecordDir, "RECORD_DIR", ""),
		ListenAddr:  pick(opts.ListenAddr, "LISTEN_ADDR", DefaultListenAddr),
		RedisAddr:   pick(opts.RedisAddr, "REDIS_ADDR", ""),
		RedisPrefix: pick(opts.RedisPrefix, "REDIS_PREFIX", DefaultRedisPrefix),
	}

	cfg.ForceRelay = opts.ForceRelay
	if !cfg.ForceRelay {
		if raw, ok := os.LookupEnv("FORCE_RELAY"); ok && raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid FORCE_RELAY %q: %w", raw, err)
			}
			cfg.ForceRelay = v
		}
	}
	if cfg.ForceRelay && cfg.TURNServer == "" {
		return nil, ErrRelayWithoutTURN
	}

	switch cfg.Codec {
	case "json", "msgpack":
	default:
		return nil, fmt.Errorf("invalid relay codec %q (want json or msgpack)", cfg.Codec)
	}

	cfg.RelayURL = pick(opts.RelayURL, "RELAY_URL", relayURLFor(cfg.Domain))
	if _, err := url.Parse(cfg.RelayURL); err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}

	return cfg, nil
}

func pick(flag, env, fallback string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return fallback
}

func defaultDisplayName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return DefaultDisplayName
}

func relayURLFor(domain string) string {
	scheme := "wss"
	host := domain
	if h, _, ok := strings.Cut(domain, ":"); ok {
		host = h
	}
	if host == "localhost" || strings.HasPrefix(host, "127.") {
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, domain)
}

// HTTPBaseURL returns the relay's plain HTTP origin, used for /new-room and
// /debug/rooms.
func (c *Config) HTTPBaseURL() string {
	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = strings.TrimSuffix(u.Path, "/ws")
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/")
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turn:"), "turns:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
