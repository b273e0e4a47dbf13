package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/chat-relay/config"
	"github.com/onnwee/chat-relay/kick"
	"github.com/onnwee/chat-relay/relay"
)

// Handlers bundles the control-plane and viewer-facing endpoints with their
// dependencies.
type Handlers struct {
	registry    *relay.Registry
	broadcaster *relay.Broadcaster
	creds       *config.Store
	gate        *kick.AuthGate
	oauth       *kick.OAuth
	startedAt   time.Time
}

func NewHandlers(registry *relay.Registry, broadcaster *relay.Broadcaster, creds *config.Store, gate *kick.AuthGate, oauth *kick.OAuth) *Handlers {
	return &Handlers{
		registry:    registry,
		broadcaster: broadcaster,
		creds:       creds,
		gate:        gate,
		oauth:       oauth,
		startedAt:   time.Now(),
	}
}

// writeJSON writes v with the proper content type; encode failures are logged
// and otherwise dropped since the header is already out.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", slog.Any("err", err))
	}
}
