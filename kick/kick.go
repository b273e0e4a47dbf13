// Package kick connects to Kick chat through a cascade of transports: a
// direct Pusher websocket, a secondary websocket with a shorter handshake
// budget, and finally HTTP polling against a list of candidate endpoints.
// Kick publishes no official chat API, so every path is best-effort and the
// connector degrades stage by stage instead of failing outright.
package kick

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrChannelNotFound = errors.New("kick: channel not found")
	ErrAuthRequired    = errors.New("kick: authentication required")
	ErrRateLimited     = errors.New("kick: connection attempts rate limited")
)

const (
	defaultAPIBase       = "https://kick.com"
	defaultPusherKey     = "eb1d5f283081a78b932c"
	defaultPusherCluster = "us2"

	defaultPollInterval     = 2500 * time.Millisecond
	defaultDirectTimeout    = 10 * time.Second
	defaultSecondaryTimeout = 8 * time.Second

	seenCap                  = 1000
	maxConsecutivePollErrors = 5

	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// Candidate polling endpoints, most reliable first. {base}, {channel} and
// {chatroomId} are expanded per connection.
var defaultPollEndpoints = []string{
	"{base}/api/v2/chatrooms/{chatroomId}/messages?page=1&per_page=50",
	"{base}/api/v2/chatrooms/{chatroomId}/messages",
	"{base}/api/v1/chatrooms/{chatroomId}/messages",
	"{base}/api/v2/channels/{channel}/chat-messages",
	"{base}/api/v1/channels/{channel}/chat-messages",
}

// Config carries tunables for Kick connections. Zero values take production
// defaults; tests point APIBase and the socket URLs at local servers.
type Config struct {
	APIBase       string
	PusherKey     string
	PusherCluster string

	// SocketURL and SecondarySocketURL override the derived Pusher URLs.
	SocketURL          string
	SecondarySocketURL string

	// PollEndpoints are URL templates with {base}, {channel} and
	// {chatroomId} placeholders.
	PollEndpoints []string
	PollInterval  time.Duration

	DirectTimeout    time.Duration
	SecondaryTimeout time.Duration

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

func (c Config) withDefaults() Config {
	if c.APIBase == "" {
		c.APIBase = defaultAPIBase
	}
	if c.PusherKey == "" {
		c.PusherKey = defaultPusherKey
	}
	if c.PusherCluster == "" {
		c.PusherCluster = defaultPusherCluster
	}
	if len(c.PollEndpoints) == 0 {
		c.PollEndpoints = defaultPollEndpoints
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.DirectTimeout <= 0 {
		c.DirectTimeout = defaultDirectTimeout
	}
	if c.SecondaryTimeout <= 0 {
		c.SecondaryTimeout = defaultSecondaryTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	return c
}
