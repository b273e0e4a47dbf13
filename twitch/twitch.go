// Package twitch relays Twitch chat over anonymous IRC. Twitch is the only
// upstream with a sanctioned read-only chat interface, so this connector is a
// thin adapter around the IRC client with no fallback cascade.
package twitch

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	irc "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chat-relay/message"
	"github.com/onnwee/chat-relay/relay"
	"github.com/onnwee/chat-relay/telemetry"
)

// Config tunes the connector. Zero values mean production Twitch.
type Config struct {
	// IRCAddress overrides the IRC endpoint and disables TLS (tests).
	IRCAddress string
}

// Connector joins one channel's chat for one panel.
type Connector struct {
	relay.StateVar
	panelID string
	channel string
	sink    relay.Sink
	client  *irc.Client
	log     *slog.Logger
}

func New(panelID, rawChannel string, cfg Config, sink relay.Sink) *Connector {
	channel := CleanChannel(rawChannel)
	c := &Connector{
		panelID: panelID,
		channel: channel,
		sink:    sink,
		log: slog.With(
			slog.String("platform", "twitch"),
			slog.String("channel", channel),
			slog.String("panel", panelID)),
	}

	client := irc.NewAnonymousClient()
	if cfg.IRCAddress != "" {
		client.IrcAddress = cfg.IRCAddress
		client.TLS = false
	}
	client.OnConnect(func() {
		c.Set(relay.StateConnected)
		telemetry.CountConnectAttempt("twitch", "ok")
		c.log.Info("joined channel")
		c.sendStatus("connected", "")
	})
	client.OnPrivateMessage(func(m irc.PrivateMessage) {
		c.sink.Chat(c.panelID, Adapt(m))
	})
	client.Join(channel)
	c.client = client
	return c
}

// Channel returns the cleaned channel name.
func (c *Connector) Channel() string { return c.channel }

// Run connects and blocks until the IRC session ends or ctx is cancelled.
func (c *Connector) Run(ctx context.Context) error {
	c.Set(relay.StateConnecting)
	c.sendStatus("connecting", "")
	start := time.Now()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.client.Disconnect()
		case <-done:
		}
	}()

	wasConnected := false
	err := c.client.Connect()
	if c.State() == relay.StateConnected {
		wasConnected = true
		telemetry.ObserveConnectDuration("twitch", time.Since(start))
	}

	if ctx.Err() != nil {
		c.Set(relay.StateDegraded)
		return nil
	}
	c.Set(relay.StateDegraded)
	if wasConnected {
		c.sendStatus("disconnected", "connection closed, reconnect to resume")
	} else {
		telemetry.CountConnectAttempt("twitch", "failed")
		c.sendStatus("error", "could not reach Twitch chat")
	}
	return err
}

// Adapt converts an IRC message into the normalized shape. Emote positions
// become rune spans keyed by emote name; badge versions are carried as text.
func Adapt(m irc.PrivateMessage) message.Message {
	username := m.User.DisplayName
	if username == "" {
		username = m.User.Name
	}

	badges := make(map[string]string, len(m.User.Badges))
	for name, version := range m.User.Badges {
		badges[name] = strconv.Itoa(version)
	}

	emotes := make(map[string][]message.Span, len(m.Emotes))
	for _, e := range m.Emotes {
		for _, p := range e.Positions {
			emotes[e.Name] = append(emotes[e.Name], message.Span{Start: p.Start, End: p.End})
		}
	}

	return message.Normalize(message.PlatformTwitch, message.Raw{
		Username:  username,
		Text:      m.Message,
		Color:     m.User.Color,
		Badges:    badges,
		Emotes:    emotes,
		Timestamp: m.Time,
	})
}

// CleanChannel reduces user input (bare name, #name, or twitch.tv URL) to the
// lowercase channel login.
func CleanChannel(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	s = strings.TrimPrefix(s, "www.")
	s = strings.TrimPrefix(s, "twitch.tv/")
	s = strings.TrimPrefix(s, "#")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return s
}

func (c *Connector) sendStatus(status, detail string) {
	c.sink.Status(c.panelID, relay.StatusUpdate{
		Platform: message.PlatformTwitch,
		Channel:  c.channel,
		Status:   status,
		Message:  detail,
	})
}
