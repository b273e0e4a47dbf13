package relay

import (
	"time"

	"github.com/onnwee/chat-relay/message"
)

// Wire frames for the viewer protocol. connectionId carries the panel id the
// client supplied on connect.

type chatFrame struct {
	Type         string                    `json:"type"`
	ConnectionID string                    `json:"connectionId"`
	ID           string                    `json:"id"`
	Platform     message.Platform          `json:"platform"`
	Username     string                    `json:"username"`
	Message      string                    `json:"message"`
	Color        string                    `json:"color"`
	Timestamp    string                    `json:"timestamp"`
	Badges       map[string]string         `json:"badges"`
	Emotes       map[string][]message.Span `json:"emotes"`
}

type statusFrame struct {
	Type         string           `json:"type"`
	ConnectionID string           `json:"connectionId"`
	Platform     message.Platform `json:"platform"`
	Channel      string           `json:"channel"`
	Status       string           `json:"status"`
	Message      string           `json:"message,omitempty"`
}

// ConnectedFrame greets every new viewer socket exactly once.
type ConnectedFrame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	Timestamp    string `json:"timestamp"`
}

// NewConnectedFrame builds the per-socket welcome frame.
func NewConnectedFrame(socketID string) ConnectedFrame {
	return ConnectedFrame{
		Type:         "connected",
		ConnectionID: socketID,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
}

func newChatFrame(panelID string, m message.Message) chatFrame {
	return chatFrame{
		Type:         "chat",
		ConnectionID: panelID,
		ID:           m.ID,
		Platform:     m.Platform,
		Username:     m.Username,
		Message:      m.Text,
		Color:        m.Color,
		Timestamp:    m.Timestamp,
		Badges:       m.Badges,
		Emotes:       m.Emotes,
	}
}

func newStatusFrame(panelID string, u StatusUpdate) statusFrame {
	return statusFrame{
		Type:         "status",
		ConnectionID: panelID,
		Platform:     u.Platform,
		Channel:      u.Channel,
		Status:       u.Status,
		Message:      u.Message,
	}
}
