package kick

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/onnwee/chat-relay/message"
	"github.com/onnwee/chat-relay/ratelimit"
	"github.com/onnwee/chat-relay/relay"
	"github.com/onnwee/chat-relay/telemetry"
)

// Connector runs one Kick chat link for one panel. It owns the full cascade
// and never reconnects on its own: after any post-handshake failure the next
// attempt happens only on an explicit connect request, which builds a fresh
// connector.
type Connector struct {
	relay.StateVar
	panelID string
	channel string
	cfg     Config
	limiter *ratelimit.Limiter
	gate    *AuthGate
	oauth   *OAuth
	sink    relay.Sink
	seen    *seenSet
	log     *slog.Logger
}

// New builds a connector for the (panel, channel) pair. rawChannel may be any
// form CleanChannel accepts. oauth may be nil.
func New(panelID, rawChannel string, cfg Config, limiter *ratelimit.Limiter, gate *AuthGate, oauth *OAuth, sink relay.Sink) *Connector {
	channel := CleanChannel(rawChannel)
	return &Connector{
		panelID: panelID,
		channel: channel,
		cfg:     cfg.withDefaults(),
		limiter: limiter,
		gate:    gate,
		oauth:   oauth,
		sink:    sink,
		seen:    newSeenSet(seenCap),
		log: slog.With(
			slog.String("platform", "kick"),
			slog.String("channel", channel),
			slog.String("panel", panelID)),
	}
}

// Channel returns the cleaned channel slug.
func (c *Connector) Channel() string { return c.channel }

// Run executes the cascade: rate-limit check, channel metadata lookup, direct
// websocket, secondary websocket, HTTP polling. Blocks until the link ends or
// ctx is cancelled.
func (c *Connector) Run(ctx context.Context) error {
	c.Set(relay.StateConnecting)
	c.sendStatus("connecting", "")

	if c.channel == "" {
		c.Set(relay.StatePermanentError)
		telemetry.CountConnectAttempt("kick", "not_found")
		c.sendStatus("error", "invalid channel name")
		return ErrChannelNotFound
	}

	if c.gate.Blocked(c.channel) {
		c.Set(relay.StatePermanentError)
		telemetry.CountConnectAttempt("kick", "auth_required")
		c.sendStatus("error", "Kick chat requires authentication for this channel")
		return ErrAuthRequired
	}

	limiterKey := "kick:" + c.channel
	if wait := c.limiter.CheckAndReserve(limiterKey); wait > 0 {
		c.log.Info("connection attempt delayed by rate limit", slog.Duration("wait", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		if again := c.limiter.CheckAndReserve(limiterKey); again > 0 {
			c.Set(relay.StateRateLimited)
			telemetry.CountConnectAttempt("kick", "rate_limited")
			secs := int(math.Ceil(again.Seconds()))
			c.sendStatus("error", fmt.Sprintf("too many connection attempts, wait %ds before reconnecting", secs))
			return fmt.Errorf("%w: wait %ds", ErrRateLimited, secs)
		}
	}

	start := time.Now()
	meta, err := c.fetchChannel(ctx)
	if err != nil {
		return c.failLookup(limiterKey, err)
	}
	c.log.Info("resolved chatroom", slog.Int64("chatroom_id", meta.ChatroomID))

	onReady := func() {
		c.Set(relay.StateConnected)
		c.limiter.RecordSuccess(limiterKey)
		telemetry.CountConnectAttempt("kick", "ok")
		telemetry.ObserveConnectDuration("kick", time.Since(start))
		c.sendStatus("connected", "")
	}

	established, err := c.runSocket(ctx, c.primaryURL(meta), meta.ChatroomID, c.cfg.DirectTimeout, onReady)
	if established || ctx.Err() != nil {
		return c.finishSocket(ctx, limiterKey, established, err)
	}
	c.log.Warn("direct websocket failed, trying secondary", slog.Any("err", err))
	c.limiter.RecordFailure(limiterKey)

	established, err = c.runSocket(ctx, c.secondaryURL(), meta.ChatroomID, c.cfg.SecondaryTimeout, onReady)
	if established || ctx.Err() != nil {
		return c.finishSocket(ctx, limiterKey, established, err)
	}
	c.log.Warn("secondary websocket failed, falling back to polling", slog.Any("err", err))
	c.limiter.RecordFailure(limiterKey)

	return c.runPolling(ctx, meta, limiterKey, onReady)
}

// failLookup maps a metadata fetch error onto terminal state and status.
func (c *Connector) failLookup(limiterKey string, err error) error {
	switch {
	case errors.Is(err, ErrChannelNotFound):
		c.Set(relay.StatePermanentError)
		telemetry.CountConnectAttempt("kick", "not_found")
		c.sendStatus("error", fmt.Sprintf("channel %q not found", c.channel))
	case errors.Is(err, ErrAuthRequired):
		c.gate.Block(c.channel)
		c.Set(relay.StatePermanentError)
		telemetry.CountConnectAttempt("kick", "auth_required")
		c.sendStatus("error", "Kick chat requires authentication for this channel")
	default:
		c.limiter.RecordFailure(limiterKey)
		c.Set(relay.StateDegraded)
		telemetry.CountConnectAttempt("kick", "failed")
		c.sendStatus("error", "channel lookup failed")
	}
	return err
}

// finishSocket handles the end of an established socket session. Cancellation
// is clean teardown; anything else leaves the connector degraded until the
// next explicit connect.
func (c *Connector) finishSocket(ctx context.Context, limiterKey string, established bool, err error) error {
	if ctx.Err() != nil {
		c.Set(relay.StateDegraded)
		return nil
	}
	if established {
		c.limiter.RecordFailure(limiterKey)
		c.Set(relay.StateDegraded)
		c.sendStatus("disconnected", "connection closed, reconnect to resume")
		c.log.Warn("websocket session ended", slog.Any("err", err))
	}
	return err
}

type pusherHints struct {
	Key        string `json:"key"`
	AltKey     string `json:"pusher_key"`
	Cluster    string `json:"cluster"`
	AltCluster string `json:"pusher_cluster"`
}

func (h *pusherHints) key() string {
	if h == nil {
		return ""
	}
	if h.Key != "" {
		return h.Key
	}
	return h.AltKey
}

func (h *pusherHints) cluster() string {
	if h == nil {
		return ""
	}
	if h.Cluster != "" {
		return h.Cluster
	}
	return h.AltCluster
}

type channelMeta struct {
	ChatroomID    int64
	PusherKey     string
	PusherCluster string
}

// fetchChannel resolves the channel slug to its chatroom id and optional
// Pusher hints. An HTML body in place of JSON means the auth wall.
func (c *Connector) fetchChannel(ctx context.Context) (channelMeta, error) {
	url := c.cfg.APIBase + "/api/v2/channels/" + c.channel
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return channelMeta{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return channelMeta{}, fmt.Errorf("fetch channel: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return channelMeta{}, ErrChannelNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return channelMeta{}, fmt.Errorf("fetch channel: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return channelMeta{}, fmt.Errorf("read channel response: %w", err)
	}
	if looksLikeHTML(body) {
		return channelMeta{}, ErrAuthRequired
	}

	var data struct {
		Chatroom struct {
			ID           int64        `json:"id"`
			Pusher       *pusherHints `json:"pusher"`
			PusherConfig *pusherHints `json:"pusher_config"`
		} `json:"chatroom"`
		Pusher *pusherHints `json:"pusher"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return channelMeta{}, fmt.Errorf("decode channel response: %w", err)
	}
	if data.Chatroom.ID == 0 {
		return channelMeta{}, fmt.Errorf("channel %q has no active chatroom", c.channel)
	}

	meta := channelMeta{ChatroomID: data.Chatroom.ID}
	for _, h := range []*pusherHints{data.Chatroom.Pusher, data.Chatroom.PusherConfig, data.Pusher} {
		if meta.PusherKey == "" {
			meta.PusherKey = h.key()
		}
		if meta.PusherCluster == "" {
			meta.PusherCluster = h.cluster()
		}
	}
	return meta, nil
}

// primaryURL prefers Pusher hints from the channel metadata over defaults.
func (c *Connector) primaryURL(meta channelMeta) string {
	if c.cfg.SocketURL != "" {
		return c.cfg.SocketURL
	}
	key, cluster := c.cfg.PusherKey, c.cfg.PusherCluster
	if meta.PusherKey != "" {
		key = meta.PusherKey
	}
	if meta.PusherCluster != "" {
		cluster = meta.PusherCluster
	}
	return pusherURL(cluster, key)
}

// secondaryURL ignores metadata hints: when the hinted key failed, the
// well-known defaults are the fallback worth one more handshake.
func (c *Connector) secondaryURL() string {
	if c.cfg.SecondarySocketURL != "" {
		return c.cfg.SecondarySocketURL
	}
	return pusherURL(defaultPusherCluster, defaultPusherKey)
}

func pusherURL(cluster, key string) string {
	return fmt.Sprintf("wss://ws-%s.pusher.com/app/%s?protocol=7&client=js&version=7.4.0&flash=false", cluster, key)
}

func (c *Connector) sendStatus(status, detail string) {
	c.sink.Status(c.panelID, relay.StatusUpdate{
		Platform: message.PlatformKick,
		Channel:  c.channel,
		Status:   status,
		Message:  detail,
	})
}

func looksLikeHTML(body []byte) bool {
	for _, b := range body {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '<':
			return true
		default:
			return false
		}
	}
	return false
}
