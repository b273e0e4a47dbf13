package kick

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/chat-relay/message"
)

// Pusher protocol 7 frame. Data is a JSON string for server events and an
// object for subscribe requests.
type pusherFrame struct {
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
	Channel string          `json:"channel,omitempty"`
}

type subscribePayload struct {
	Channel string `json:"channel"`
}

// flexID tolerates Kick sending message ids as either strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	*f = flexID(bytes.Trim(bytes.TrimSpace(b), `"`))
	return nil
}

type socketChatEvent struct {
	ID        flexID `json:"id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
	Sender    struct {
		Username string `json:"username"`
		Color    string `json:"color"`
		Identity struct {
			Color  string `json:"color"`
			Badges []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"badges"`
		} `json:"identity"`
	} `json:"sender"`
}

// runSocket dials a Pusher websocket, subscribes to the chatroom channel and
// relays chat events until the socket closes or ctx is cancelled. established
// reports whether the subscription ack arrived within ackTimeout; onReady
// fires exactly once, on the ack.
func (c *Connector) runSocket(ctx context.Context, wsURL string, chatroomID int64, ackTimeout time.Duration, onReady func()) (established bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	conn, resp, err := c.cfg.Dialer.DialContext(dialCtx, wsURL, nil)
	cancel()
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return false, fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	// The handshake must complete within ackTimeout; afterwards the socket
	// may sit idle between messages indefinitely.
	if err := conn.SetReadDeadline(time.Now().Add(ackTimeout)); err != nil {
		return false, err
	}

	chatroom := fmt.Sprintf("chatrooms.%d", chatroomID)
	for {
		var frame pusherFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return established, ctx.Err()
			}
			if !established {
				return false, fmt.Errorf("websocket handshake: %w", err)
			}
			return true, err
		}

		switch frame.Event {
		case "pusher:connection_established":
			payload, _ := json.Marshal(subscribePayload{Channel: chatroom})
			sub := pusherFrame{Event: "pusher:subscribe", Data: payload}
			if err := conn.WriteJSON(sub); err != nil {
				return established, fmt.Errorf("subscribe: %w", err)
			}

		case "pusher_internal:subscription_succeeded":
			if !established {
				established = true
				conn.SetReadDeadline(time.Time{})
				c.log.Info("subscribed to chatroom", slog.String("pusher_channel", chatroom))
				onReady()
			}

		case "pusher:ping":
			if err := conn.WriteJSON(pusherFrame{Event: "pusher:pong", Data: json.RawMessage(`{}`)}); err != nil {
				return established, fmt.Errorf("pong: %w", err)
			}

		case `App\Events\ChatMessageEvent`, "ChatMessageEvent":
			c.emitSocketEvent(frame.Data)
		}
	}
}

// emitSocketEvent parses one chat event and hands it to the sink. Event data
// arrives double-encoded: a JSON string whose content is the event JSON.
func (c *Connector) emitSocketEvent(data json.RawMessage) {
	raw := []byte(data)
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			c.log.Warn("undecodable chat event wrapper", slog.Any("err", err))
			return
		}
		raw = []byte(inner)
	}

	var ev socketChatEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.log.Warn("undecodable chat event", slog.Any("err", err))
		return
	}
	if ev.Content == "" {
		return
	}
	if ev.ID != "" && !c.seen.Add(string(ev.ID)) {
		return
	}

	color := ev.Sender.Color
	if color == "" {
		color = ev.Sender.Identity.Color
	}
	badges := make(map[string]string, len(ev.Sender.Identity.Badges))
	for _, b := range ev.Sender.Identity.Badges {
		badges[b.Type] = b.Text
	}

	c.sink.Chat(c.panelID, message.Normalize(message.PlatformKick, message.Raw{
		Username:  ev.Sender.Username,
		Text:      ev.Content,
		Color:     color,
		Badges:    badges,
		Timestamp: parseKickTime(ev.CreatedAt),
	}))
}

func parseKickTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
