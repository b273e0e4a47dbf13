package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/onnwee/chat-relay/message"
	"github.com/onnwee/chat-relay/relay"
	"github.com/onnwee/chat-relay/telemetry"
)

// The overlay is served from a different origin than this backend, so the
// upgrader accepts any origin. Auth on the viewer socket is a non-goal: the
// relay only ever pushes public chat.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientFrame is what viewer sockets send: connect and disconnect requests
// for (platform, channel) pairs scoped to their panel.
type clientFrame struct {
	Type         string `json:"type"`
	Platform     string `json:"platform"`
	Channel      string `json:"channel"`
	ConnectionID string `json:"connectionId"`
}

// HandleWS upgrades the viewer socket and drives its control loop. Each
// socket belongs to one panel; the panel id comes from the first connect
// frame and defaults to the socket id.
func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.Any("err", err))
		return
	}

	socketID := r.URL.Query().Get("id")
	if socketID == "" {
		socketID = uuid.New().String()
	}

	viewer := relay.NewViewer(socketID, conn)
	log := telemetry.LoggerWithCorr(r.Context()).With(
		slog.String("component", "ws"), slog.String("socket", socketID))

	if err := viewer.Send(relay.NewConnectedFrame(socketID)); err != nil {
		log.Warn("welcome frame failed", slog.Any("err", err))
		_ = viewer.Close()
		return
	}
	log.Info("viewer socket opened", slog.String("remote_addr", r.RemoteAddr))

	defer func() {
		h.broadcaster.Unsubscribe(viewer)
		_ = viewer.Close()
		log.Info("viewer socket closed")
	}()

	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("viewer read error", slog.Any("err", err))
			}
			return
		}
		h.handleClientFrame(log, viewer, socketID, frame)
	}
}

func (h *Handlers) handleClientFrame(log *slog.Logger, viewer *relay.Viewer, socketID string, frame clientFrame) {
	panelID := strings.TrimSpace(frame.ConnectionID)
	if panelID == "" {
		panelID = socketID
	}
	platform := message.Platform(strings.ToLower(strings.TrimSpace(frame.Platform)))

	switch frame.Type {
	case "connect":
		if !platform.Valid() {
			h.sendError(viewer, panelID, frame.Platform, "unsupported platform")
			return
		}
		// Subscribe before connecting upstream so the very first status
		// frames reach this socket.
		h.broadcaster.Subscribe(panelID, viewer)
		if _, err := h.registry.Connect(panelID, platform, frame.Channel); err != nil {
			log.Warn("connect request failed",
				slog.String("panel", panelID), slog.String("platform", string(platform)), slog.Any("err", err))
			h.sendError(viewer, panelID, string(platform), err.Error())
		}

	case "disconnect":
		if !platform.Valid() {
			h.sendError(viewer, panelID, frame.Platform, "unsupported platform")
			return
		}
		h.registry.Disconnect(panelID, platform)

	default:
		log.Debug("unknown frame type ignored", slog.String("type", frame.Type))
	}
}

func (h *Handlers) sendError(viewer *relay.Viewer, panelID, platform, msg string) {
	frame := map[string]any{
		"type":         "status",
		"connectionId": panelID,
		"platform":     platform,
		"status":       "error",
		"message":      msg,
	}
	if err := viewer.Send(frame); err != nil {
		slog.Debug("error frame delivery failed", slog.Any("err", err))
	}
}
