package server

import (
	"net/http"
	"time"

	"github.com/onnwee/chat-relay/message"
)

// HandleHealthz is the liveness probe.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// HandleStatus reports live connection counts and credential readiness so the
// control panel can show what the relay can reach.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	counts := h.registry.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"twitch":               counts[message.PlatformTwitch],
		"kick":                 counts[message.PlatformKick],
		"youtube":              counts[message.PlatformYouTube],
		"websocket":            h.broadcaster.Panels(),
		"youtubeApiConfigured": h.creds.YouTubeAPIKey() != "",
		"kickOauthConfigured":  h.oauth.Configured(),
	})
}
