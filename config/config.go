// Package config loads environment variables and the mutable credentials file
// into typed structures used across the relay. It applies sensible defaults so
// the binary can run locally with minimal setup; platforms whose credentials
// are missing stay reachable but report their condition through status frames.
package config

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string

	// Kick
	KickClientID      string
	KickClientSecret  string
	KickRedirectURI   string
	KickPusherKey     string
	KickPusherCluster string
	KickPollEndpoints []string

	// YouTube
	YouTubeAPIKey string

	// Twitch
	TwitchChannel string

	// Mutable credentials file; overrides the env values above when set.
	CredentialsFile string

	// Control plane
	AdminToken string

	// Rate limiting for Kick connection attempts
	KickMinInterval          time.Duration
	KickMaxInterval          time.Duration
	KickMaxAttemptsPerMinute int
}

// Load reads environment variables and applies defaults. It never fails on
// missing credentials: a relay with no keys still serves Twitch chat, which
// needs none.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":3001"
	}

	cfg.KickClientID = os.Getenv("KICK_CLIENT_ID")
	cfg.KickClientSecret = os.Getenv("KICK_CLIENT_SECRET")
	cfg.KickRedirectURI = os.Getenv("KICK_REDIRECT_URI")
	if cfg.KickRedirectURI == "" {
		cfg.KickRedirectURI = "http://localhost:3001/auth/kick/callback"
	}
	cfg.KickPusherKey = os.Getenv("KICK_PUSHER_KEY")
	cfg.KickPusherCluster = os.Getenv("KICK_PUSHER_CLUSTER")
	cfg.KickPollEndpoints = splitList(os.Getenv("KICK_POLL_ENDPOINTS"))

	cfg.YouTubeAPIKey = os.Getenv("YOUTUBE_API_KEY")
	cfg.TwitchChannel = os.Getenv("TWITCH_CHANNEL_NAME")

	cfg.CredentialsFile = os.Getenv("CREDENTIALS_FILE")
	if cfg.CredentialsFile == "" {
		cfg.CredentialsFile = "credentials.json"
	}

	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")

	cfg.KickMinInterval = durationEnv("KICK_MIN_INTERVAL", 2*time.Second)
	cfg.KickMaxInterval = durationEnv("KICK_MAX_INTERVAL", 30*time.Second)
	cfg.KickMaxAttemptsPerMinute = 3

	return cfg, nil
}

// splitList parses a comma-separated env value, dropping empty entries.
func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
