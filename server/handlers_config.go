package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/chat-relay/telemetry"
)

const secretMask = "***"

// credentialsUpdate distinguishes absent fields (nil, leave untouched) from
// empty strings (clear the stored value).
type credentialsUpdate struct {
	KickClientID      *string `json:"kickClientId"`
	KickClientSecret  *string `json:"kickClientSecret"`
	YouTubeAPIKey     *string `json:"youtubeApiKey"`
	TwitchChannelName *string `json:"twitchChannelName"`
}

// HandleCredentials serves GET (current values, secret masked) and POST
// (merge update) for the mutable credentials.
func (h *Handlers) HandleCredentials(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getCredentials(w, r)
	case http.MethodPost:
		h.postCredentials(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) getCredentials(w http.ResponseWriter, r *http.Request) {
	secret := h.creds.KickClientSecret()
	masked := ""
	if secret != "" {
		masked = secretMask
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kickClientId":      h.creds.KickClientID(),
		"kickClientSecret":  masked,
		"youtubeApiKey":     h.creds.YouTubeAPIKey(),
		"twitchChannelName": h.creds.TwitchChannelName(),
		"configured": map[string]bool{
			"kick":    h.creds.KickClientID() != "" && secret != "",
			"youtube": h.creds.YouTubeAPIKey() != "",
			"twitch":  h.creds.TwitchChannelName() != "",
		},
	})
}

func (h *Handlers) postCredentials(w http.ResponseWriter, r *http.Request) {
	var upd credentialsUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if err := h.creds.Update(upd.KickClientID, upd.KickClientSecret, upd.YouTubeAPIKey, upd.TwitchChannelName); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("credentials update failed", slog.Any("err", err))
		http.Error(w, "failed to persist credentials", http.StatusInternalServerError)
		return
	}

	// Fresh Kick credentials may unblock channels that previously required
	// auth, so the block list starts over and the OAuth flow gets new keys.
	h.oauth.SetClient(h.creds.KickClientID(), h.creds.KickClientSecret())
	h.gate.Reset()
	telemetry.LoggerWithCorr(r.Context()).Info("credentials updated")
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// HandleCredentialsReload forces a re-read of the credentials file.
func (h *Handlers) HandleCredentialsReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.creds.Reload(true); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("credentials reload failed", slog.Any("err", err))
		http.Error(w, "failed to reload credentials", http.StatusInternalServerError)
		return
	}
	h.oauth.SetClient(h.creds.KickClientID(), h.creds.KickClientSecret())
	h.gate.Reset()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
