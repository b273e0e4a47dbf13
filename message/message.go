// Package message defines the normalized chat message record shared by all
// platform connectors and the per-platform normalization rules. Normalization
// never fails: missing or malformed upstream fields fall back to defaults so a
// single odd event cannot drop a feed.
package message

import (
	"math/rand"
	"strconv"
	"time"
)

// Platform identifies the upstream chat source of a message.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformKick    Platform = "kick"
	PlatformYouTube Platform = "youtube"
)

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformTwitch, PlatformKick, PlatformYouTube:
		return true
	}
	return false
}

// Span is a half-open byte-offset range [Start,End] of an emote occurrence
// within the message text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Message is the canonical chat record broadcast to viewers. It is created
// once per upstream event and never mutated afterwards.
type Message struct {
	ID        string            `json:"id"`
	Platform  Platform          `json:"platform"`
	Username  string            `json:"username"`
	Text      string            `json:"message"`
	Color     string            `json:"color"`
	Timestamp string            `json:"timestamp"`
	Badges    map[string]string `json:"badges"`
	Emotes    map[string][]Span `json:"emotes"`
}

// Raw is a platform event reduced to the fields normalization cares about.
// Connectors map their wire formats into Raw; everything platform-specific
// stays on their side of this boundary.
type Raw struct {
	Username  string
	Text      string
	Color     string
	Badges    map[string]string
	Emotes    map[string][]Span
	Timestamp time.Time
}

// Normalize converts a raw platform event into a Message. The color rule is
// identical for every platform: a syntactically valid 6-digit hex color from
// upstream is kept verbatim (including achromatic values), anything else is
// derived deterministically from the username so a user keeps one color per
// session even when panels mix platforms.
func Normalize(platform Platform, raw Raw) Message {
	username := raw.Username
	if username == "" {
		username = "Unknown"
	}
	ts := raw.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	badges := raw.Badges
	if badges == nil {
		badges = map[string]string{}
	}
	emotes := raw.Emotes
	if emotes == nil {
		emotes = map[string][]Span{}
	}
	return Message{
		ID:        NewID(),
		Platform:  platform,
		Username:  username,
		Text:      raw.Text,
		Color:     ResolveColor(raw.Color, username),
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		Badges:    badges,
		Emotes:    emotes,
	}
}

// NewID returns a message id unique within a session: millisecond timestamp in
// base36 plus a random suffix. Upstream ids are deliberately not reused here;
// they feed de-duplication, not identity.
func NewID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + strconv.FormatInt(rand.Int63(), 36)
}
