package kick

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/chat-relay/message"
	"github.com/onnwee/chat-relay/relay"
	"github.com/onnwee/chat-relay/telemetry"
)

var (
	errHTMLBody  = errors.New("kick: endpoint returned HTML")
	errNotFound  = errors.New("kick: endpoint returned 404")
	errMalformed = errors.New("kick: unexpected response shape")
)

type pollAuthor struct {
	Username string `json:"username"`
}

type pollMessage struct {
	ID        flexID      `json:"id"`
	Content   string      `json:"content"`
	CreatedAt string      `json:"created_at"`
	User      *pollAuthor `json:"user"`
	Sender    *pollAuthor `json:"sender"`
	Username  string      `json:"username"`
}

func (m pollMessage) username() string {
	switch {
	case m.User != nil && m.User.Username != "":
		return m.User.Username
	case m.Sender != nil && m.Sender.Username != "":
		return m.Sender.Username
	default:
		return m.Username
	}
}

// runPolling is the last cascade stage: probe the endpoint list until one
// serves JSON, then poll it on a fixed interval. Any endpoint that 404s,
// errors, or serves something other than a JSON batch is skipped for the next
// candidate; HTML or garbage at the end of the list means the auth wall and
// ends the connection permanently.
func (c *Connector) runPolling(ctx context.Context, meta channelMeta, limiterKey string, onReady func()) error {
	endpoints := expandEndpoints(c.cfg.PollEndpoints, c.cfg.APIBase, c.channel, meta.ChatroomID)
	idx := 0
	connected := false
	consecutive := 0

	c.log.Info("starting http polling",
		slog.Int("endpoints", len(endpoints)), slog.Duration("interval", c.cfg.PollInterval))

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		batch, err := c.pollOnce(ctx, endpoints[idx])
		switch {
		case err == nil:
			consecutive = 0
			if !connected {
				connected = true
				onReady()
			}
			c.emitBatch(batch)

		case ctx.Err() != nil:
			c.Set(relay.StateDegraded)
			return nil

		case errors.Is(err, errHTMLBody), errors.Is(err, errMalformed):
			if idx < len(endpoints)-1 {
				idx++
				consecutive = 0
				c.log.Warn("endpoint unusable, advancing", slog.Any("err", err), slog.String("next", endpoints[idx]))
				break
			}
			// Every endpoint serves HTML or garbage: the auth wall.
			c.gate.Block(c.channel)
			c.Set(relay.StatePermanentError)
			telemetry.CountConnectAttempt("kick", "auth_required")
			c.sendStatus("error", "Kick chat requires authentication: all endpoints returned HTML")
			return ErrAuthRequired

		case errors.Is(err, errNotFound) && idx < len(endpoints)-1:
			idx++
			c.log.Warn("endpoint missing, advancing", slog.String("next", endpoints[idx]))

		default:
			// Non-2xx and transport failures also burn the endpoint while
			// candidates remain; only the last one gets retried.
			if idx < len(endpoints)-1 {
				idx++
				consecutive = 0
				c.log.Warn("endpoint failed, advancing", slog.Any("err", err), slog.String("next", endpoints[idx]))
				break
			}
			consecutive++
			c.log.Warn("poll failed", slog.Any("err", err),
				slog.Int("consecutive", consecutive), slog.String("endpoint", endpoints[idx]))
			if consecutive >= maxConsecutivePollErrors {
				c.limiter.RecordFailure(limiterKey)
				c.Set(relay.StateDegraded)
				telemetry.CountConnectAttempt("kick", "failed")
				c.sendStatus("error", fmt.Sprintf("polling failed %d times in a row, reconnect to resume", consecutive))
				return fmt.Errorf("polling gave up: %w", err)
			}
		}

		select {
		case <-ctx.Done():
			c.Set(relay.StateDegraded)
			return nil
		case <-ticker.C:
		}
	}
}

// pollOnce fetches one batch from the endpoint.
func (c *Connector) pollOnce(ctx context.Context, url string) ([]pollMessage, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Referer", "https://kick.com/"+c.channel)
	req.Header.Set("Origin", "https://kick.com")
	if tok, ok := c.oauth.Token(); ok {
		tok.SetAuthHeader(req)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	return extractMessages(body)
}

// extractMessages tolerates the response shapes Kick has been seen to use:
// {"data":[...]}, a bare array, {"messages":[...]}, {"chat":[...]}.
func extractMessages(body []byte) ([]pollMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errMalformed
	}
	if trimmed[0] == '<' {
		return nil, errHTMLBody
	}
	if trimmed[0] == '[' {
		var msgs []pollMessage
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, errMalformed
		}
		return msgs, nil
	}

	var envelope struct {
		Data     json.RawMessage `json:"data"`
		Messages []pollMessage   `json:"messages"`
		Chat     []pollMessage   `json:"chat"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, errMalformed
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) > 0 && data[0] == '[' {
		var msgs []pollMessage
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, errMalformed
		}
		return msgs, nil
	}
	if envelope.Messages != nil {
		return envelope.Messages, nil
	}
	if envelope.Chat != nil {
		return envelope.Chat, nil
	}
	return nil, errMalformed
}

// emitBatch relays unseen messages in chronological order. Kick returns
// batches newest-first.
func (c *Connector) emitBatch(batch []pollMessage) {
	for i := len(batch) - 1; i >= 0; i-- {
		m := batch[i]
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.ID != "" && !c.seen.Add(string(m.ID)) {
			continue
		}
		c.sink.Chat(c.panelID, message.Normalize(message.PlatformKick, message.Raw{
			Username:  m.username(),
			Text:      m.Content,
			Timestamp: parseKickTime(m.CreatedAt),
		}))
	}
}

// expandEndpoints fills {base}, {channel} and {chatroomId} placeholders.
func expandEndpoints(templates []string, base, channel string, chatroomID int64) []string {
	r := strings.NewReplacer(
		"{base}", base,
		"{channel}", channel,
		"{chatroomId}", strconv.FormatInt(chatroomID, 10),
	)
	out := make([]string, len(templates))
	for i, t := range templates {
		out[i] = r.Replace(t)
	}
	return out
}
