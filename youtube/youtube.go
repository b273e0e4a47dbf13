// Package youtube relays YouTube Live Chat through the Data API v3. The API
// has no push channel, so the connector polls liveChatMessages with the
// continuation token and the polling interval the API itself dictates.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/chat-relay/message"
	"github.com/onnwee/chat-relay/relay"
	"github.com/onnwee/chat-relay/telemetry"
)

var (
	ErrMissingAPIKey = errors.New("youtube: API key not configured")
	ErrVideoNotFound = errors.New("youtube: video not found")
	ErrNoActiveChat  = errors.New("youtube: video is not live or has no active chat")
)

const (
	defaultMinInterval   = time.Second
	defaultErrorRetry    = 5 * time.Second
	fallbackPollInterval = 5 * time.Second
	maxResults           = 200
)

// Role colors for authors who carry a badge instead of a chosen color.
const (
	colorOwnerSponsor = "#FFD700"
	colorModerator    = "#00D4AA"
	colorVerified     = "#1DA1F2"
)

// Config tunes the connector. APIKeyFunc is consulted per connection so a
// credentials update applies without a restart.
type Config struct {
	APIKeyFunc func() string

	// Endpoint overrides the API base URL (tests).
	Endpoint string

	// MinInterval clamps the API-dictated polling interval from below.
	MinInterval time.Duration

	// ErrorRetry is the pause before resuming after a failed poll. The
	// continuation token survives the pause, so no messages are skipped.
	ErrorRetry time.Duration
}

func (c Config) withDefaults() Config {
	if c.APIKeyFunc == nil {
		c.APIKeyFunc = func() string { return "" }
	}
	if c.MinInterval <= 0 {
		c.MinInterval = defaultMinInterval
	}
	if c.ErrorRetry <= 0 {
		c.ErrorRetry = defaultErrorRetry
	}
	return c
}

// Connector polls one live video's chat for one panel.
type Connector struct {
	relay.StateVar
	panelID string
	videoID string
	cfg     Config
	sink    relay.Sink
	log     *slog.Logger
}

func New(panelID, videoID string, cfg Config, sink relay.Sink) *Connector {
	return &Connector{
		panelID: panelID,
		videoID: videoID,
		cfg:     cfg.withDefaults(),
		sink:    sink,
		log: slog.With(
			slog.String("platform", "youtube"),
			slog.String("video", videoID),
			slog.String("panel", panelID)),
	}
}

// Channel returns the video id this connector watches.
func (c *Connector) Channel() string { return c.videoID }

// Run resolves the video to its active live chat and polls it until the
// stream ends, an unrecoverable error occurs, or ctx is cancelled.
func (c *Connector) Run(ctx context.Context) error {
	c.Set(relay.StateConnecting)
	c.sendStatus("connecting", "")

	apiKey := c.cfg.APIKeyFunc()
	if apiKey == "" {
		c.Set(relay.StatePermanentError)
		telemetry.CountConnectAttempt("youtube", "failed")
		c.sendStatus("error", "YouTube API key not configured")
		return ErrMissingAPIKey
	}

	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if c.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.cfg.Endpoint))
	}
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		c.Set(relay.StateDegraded)
		telemetry.CountConnectAttempt("youtube", "failed")
		c.sendStatus("error", "YouTube client initialization failed")
		return fmt.Errorf("youtube service: %w", err)
	}

	start := time.Now()
	liveChatID, channelTitle, err := c.resolveLiveChat(ctx, svc)
	if err != nil {
		switch {
		case errors.Is(err, ErrVideoNotFound), errors.Is(err, ErrNoActiveChat):
			c.Set(relay.StatePermanentError)
			telemetry.CountConnectAttempt("youtube", "not_found")
		default:
			c.Set(relay.StateDegraded)
			telemetry.CountConnectAttempt("youtube", "failed")
		}
		c.sendStatus("error", err.Error())
		return err
	}
	c.log.Info("resolved live chat",
		slog.String("live_chat_id", liveChatID), slog.String("channel_title", channelTitle))

	c.Set(relay.StateConnected)
	telemetry.CountConnectAttempt("youtube", "ok")
	telemetry.ObserveConnectDuration("youtube", time.Since(start))
	c.sendStatus("connected", channelTitle)

	return c.poll(ctx, svc, liveChatID)
}

// resolveLiveChat maps the video id to its active live chat id.
func (c *Connector) resolveLiveChat(ctx context.Context, svc *yt.Service) (liveChatID, channelTitle string, err error) {
	resp, err := svc.Videos.List([]string{"liveStreamingDetails", "snippet"}).
		Id(c.videoID).Context(ctx).Do()
	if err != nil {
		return "", "", fmt.Errorf("video lookup: %w", err)
	}
	if len(resp.Items) == 0 {
		return "", "", ErrVideoNotFound
	}
	item := resp.Items[0]
	if item.LiveStreamingDetails == nil || item.LiveStreamingDetails.ActiveLiveChatId == "" {
		return "", "", ErrNoActiveChat
	}
	if item.Snippet != nil {
		channelTitle = item.Snippet.ChannelTitle
	}
	return item.LiveStreamingDetails.ActiveLiveChatId, channelTitle, nil
}

// poll fetches message pages forever. A failed request pauses for ErrorRetry
// and resumes with the same continuation token.
func (c *Connector) poll(ctx context.Context, svc *yt.Service, liveChatID string) error {
	var pageToken string
	for {
		call := svc.LiveChatMessages.List(liveChatID, []string{"snippet", "authorDetails"}).
			MaxResults(maxResults).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			if ctx.Err() != nil {
				c.Set(relay.StateDegraded)
				return nil
			}
			c.log.Warn("poll failed, retrying with same page token", slog.Any("err", err))
			select {
			case <-ctx.Done():
				c.Set(relay.StateDegraded)
				return nil
			case <-time.After(c.cfg.ErrorRetry):
			}
			continue
		}

		pageToken = resp.NextPageToken
		for _, item := range resp.Items {
			c.emit(item)
		}

		interval := time.Duration(resp.PollingIntervalMillis) * time.Millisecond
		if interval <= 0 {
			interval = fallbackPollInterval
		}
		if interval < c.cfg.MinInterval {
			interval = c.cfg.MinInterval
		}
		select {
		case <-ctx.Done():
			c.Set(relay.StateDegraded)
			return nil
		case <-time.After(interval):
		}
	}
}

// emit forwards user-visible events; membership milestones, deletions and
// other system events are dropped.
func (c *Connector) emit(item *yt.LiveChatMessage) {
	if item == nil || item.Snippet == nil {
		return
	}
	sn := item.Snippet
	if sn.Type != "textMessageEvent" && sn.Type != "superChatEvent" {
		return
	}

	text := sn.DisplayMessage
	if sn.TextMessageDetails != nil && sn.TextMessageDetails.MessageText != "" {
		text = sn.TextMessageDetails.MessageText
	}
	if text == "" {
		return
	}

	var username, color string
	badges := map[string]string{}
	if a := item.AuthorDetails; a != nil {
		username = a.DisplayName
		if username == "" {
			username = a.ChannelId
		}
		color = roleColor(a)
		if a.IsChatOwner {
			badges["owner"] = "Owner"
		}
		if a.IsChatModerator {
			badges["moderator"] = "Moderator"
		}
		if a.IsChatSponsor {
			badges["sponsor"] = "Member"
		}
		if a.IsVerified {
			badges["verified"] = "Verified"
		}
	}
	if sn.Type == "superChatEvent" {
		badges["superchat"] = "Super Chat"
	}

	ts, _ := time.Parse(time.RFC3339Nano, sn.PublishedAt)
	c.sink.Chat(c.panelID, message.Normalize(message.PlatformYouTube, message.Raw{
		Username:  username,
		Text:      text,
		Color:     color,
		Badges:    badges,
		Timestamp: ts,
	}))
}

// roleColor picks a fixed color for badged authors; everyone else falls
// through to the deterministic username hash in the normalizer.
func roleColor(a *yt.LiveChatMessageAuthorDetails) string {
	switch {
	case a.IsChatOwner || a.IsChatSponsor:
		return colorOwnerSponsor
	case a.IsChatModerator:
		return colorModerator
	case a.IsVerified:
		return colorVerified
	default:
		return ""
	}
}

func (c *Connector) sendStatus(status, detail string) {
	c.sink.Status(c.panelID, relay.StatusUpdate{
		Platform: message.PlatformYouTube,
		Channel:  c.videoID,
		Status:   status,
		Message:  detail,
	})
}
