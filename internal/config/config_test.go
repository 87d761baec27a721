package config

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"DOMAIN", "RELAY_URL", "STUN_SERVER", "TURN_SERVER", "TURN_USERNAME", "TURN_PASSWORD",
		"FORCE_RELAY", "RELAY_CODEC", "DISPLAY_NAME", "VIDEO_FILE", "AUDIO_FILE", "RECORD_DIR",
		"LISTEN_ADDR", "REDIS_ADDR", "REDIS_PREFIX",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("USER", "ada")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := &Config{
		Domain:      DefaultDomain,
		RelayURL:    "ws://localhost:8080/ws",
		STUNServer:  DefaultSTUN,
		Codec:       "json",
		DisplayName: "ada",
		ListenAddr:  DefaultListenAddr,
		RedisPrefix: DefaultRedisPrefix,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config (-want +got):\n%s", diff)
	}
	if cfg.GetTURNServers() != nil {
		t.Fatal("no TURN servers expected by default")
	}
}

func TestLoadPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOMAIN", "relay.example.com")
	t.Setenv("DISPLAY_NAME", "from-env")
	t.Setenv("RELAY_CODEC", "MSGPACK")

	cfg, err := Load(Options{DisplayName: "from-flag"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DisplayName != "from-flag" {
		t.Errorf("DisplayName = %q, flag must win", cfg.DisplayName)
	}
	if cfg.RelayURL != "wss://relay.example.com/ws" {
		t.Errorf("RelayURL = %q", cfg.RelayURL)
	}
	if cfg.Codec != "msgpack" {
		t.Errorf("Codec = %q", cfg.Codec)
	}
	if got := cfg.HTTPBaseURL(); got != "https://relay.example.com" {
		t.Errorf("HTTPBaseURL = %q", got)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		opts Options
		is   error
	}{
		{name: "force relay without turn", opts: Options{ForceRelay: true}, is: ErrRelayWithoutTURN},
		{name: "force relay env without turn", env: map[string]string{"FORCE_RELAY": "true"}, is: ErrRelayWithoutTURN},
		{name: "bad bool", env: map[string]string{"FORCE_RELAY": "sometimes"}},
		{name: "bad codec", opts: Options{Codec: "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tt.opts)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Fatalf("err = %v, want %v", err, tt.is)
			}
		})
	}
}

func TestTURNServers(t *testing.T) {
	cfg := &Config{TURNServer: "turn:turn.example.com", TURNUser: "u", TURNPass: "p"}
	want := []string{
		"turn:turn.example.com:3478?transport=udp",
		"turn:turn.example.com:3478?transport=tcp",
		"turns:turn.example.com:5349?transport=tcp",
	}
	if diff := cmp.Diff(want, cfg.GetTURNServers()); diff != "" {
		t.Fatalf("turn servers (-want +got):\n%s", diff)
	}
	if u, p := cfg.GetTURNCredentials(); u != "u" || p != "p" {
		t.Fatalf("credentials = %q %q", u, p)
	}
}
