package server

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/chat-relay/telemetry"
)

// HandleKickOAuthStart redirects the browser to Kick's consent page.
func (h *Handlers) HandleKickOAuthStart(w http.ResponseWriter, r *http.Request) {
	url, err := h.oauth.AuthURL()
	if err != nil {
		http.Error(w, "Kick OAuth not configured: set kickClientId and kickClientSecret first", http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// HandleKickOAuthCallback completes the authorization-code flow. On success
// the Kick auth block list resets so previously blocked channels get retried
// with the new token.
func (h *Handlers) HandleKickOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		http.Error(w, "authorization denied: "+errParam, http.StatusBadRequest)
		return
	}
	state := q.Get("state")
	code := q.Get("code")
	if state == "" || code == "" {
		http.Error(w, "missing state or code", http.StatusBadRequest)
		return
	}

	if err := h.oauth.Exchange(r.Context(), state, code); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("kick oauth exchange failed", slog.Any("err", err))
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return
	}

	h.gate.Reset()
	telemetry.LoggerWithCorr(r.Context()).Info("kick oauth token obtained")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte("<html><body><p>Kick authorization complete. You can close this window.</p></body></html>"))
}

// HandleKickOAuthStatus reports whether the flow is configured and whether a
// usable token is held.
func (h *Handlers) HandleKickOAuthStatus(w http.ResponseWriter, r *http.Request) {
	_, hasToken := h.oauth.Token()
	writeJSON(w, http.StatusOK, map[string]any{
		"configured":    h.oauth.Configured(),
		"authenticated": hasToken,
	})
}
