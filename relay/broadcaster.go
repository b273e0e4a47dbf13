package relay

import (
	"log/slog"
	"sync"

	"github.com/onnwee/chat-relay/message"
	"github.com/onnwee/chat-relay/telemetry"
)

// Broadcaster maps panel ids to their live viewer sockets and pushes every
// normalized event to all of them. It owns the panel→viewer relation; the
// registry owns panel→upstream. A socket belongs to at most one panel.
type Broadcaster struct {
	mu       sync.RWMutex
	panels   map[string]map[*Viewer]struct{}
	byViewer map[*Viewer]string
	onEmpty  func(panelID string)
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		panels:   make(map[string]map[*Viewer]struct{}),
		byViewer: make(map[*Viewer]string),
	}
}

// OnPanelEmpty registers the callback invoked after a panel's last viewer
// leaves, so the registry can reclaim the upstream connection. Must be set
// before viewers arrive.
func (b *Broadcaster) OnPanelEmpty(fn func(panelID string)) {
	b.onEmpty = fn
}

// Subscribe registers v under panelID. If the socket was subscribed to a
// different panel it is moved, which may empty the old panel.
func (b *Broadcaster) Subscribe(panelID string, v *Viewer) {
	var emptied string

	b.mu.Lock()
	if prev, ok := b.byViewer[v]; ok && prev != panelID {
		emptied = b.removeLocked(prev, v)
	}
	set, ok := b.panels[panelID]
	if !ok {
		set = make(map[*Viewer]struct{})
		b.panels[panelID] = set
	}
	set[v] = struct{}{}
	b.byViewer[v] = panelID
	viewers := len(b.byViewer)
	b.mu.Unlock()

	telemetry.SetViewerSockets(viewers)
	if emptied != "" && b.onEmpty != nil {
		b.onEmpty(emptied)
	}
}

// Unsubscribe removes the socket from whatever panel it belongs to. Safe to
// call for sockets that were never subscribed.
func (b *Broadcaster) Unsubscribe(v *Viewer) {
	var emptied string

	b.mu.Lock()
	if panelID, ok := b.byViewer[v]; ok {
		emptied = b.removeLocked(panelID, v)
	}
	viewers := len(b.byViewer)
	b.mu.Unlock()

	telemetry.SetViewerSockets(viewers)
	if emptied != "" && b.onEmpty != nil {
		b.onEmpty(emptied)
	}
}

// removeLocked detaches v from panelID and returns the panel id if the panel
// became empty. Callers hold b.mu.
func (b *Broadcaster) removeLocked(panelID string, v *Viewer) string {
	delete(b.byViewer, v)
	set, ok := b.panels[panelID]
	if !ok {
		return ""
	}
	delete(set, v)
	if len(set) == 0 {
		delete(b.panels, panelID)
		return panelID
	}
	return ""
}

// Chat implements Sink.
func (b *Broadcaster) Chat(panelID string, m message.Message) {
	telemetry.CountRelayed(string(m.Platform))
	b.broadcast(panelID, newChatFrame(panelID, m))
}

// Status implements Sink.
func (b *Broadcaster) Status(panelID string, u StatusUpdate) {
	b.broadcast(panelID, newStatusFrame(panelID, u))
}

// broadcast delivers frame to every live viewer of the panel. A panel with no
// viewers is a no-op; a socket that errors on write is skipped, not fatal.
func (b *Broadcaster) broadcast(panelID string, frame any) {
	b.mu.RLock()
	set := b.panels[panelID]
	viewers := make([]*Viewer, 0, len(set))
	for v := range set {
		viewers = append(viewers, v)
	}
	b.mu.RUnlock()

	for _, v := range viewers {
		if err := v.Send(frame); err != nil {
			telemetry.CountBroadcastError()
			slog.Warn("viewer write failed, skipping socket",
				slog.String("panel", panelID), slog.String("viewer", v.ID()), slog.Any("err", err))
		}
	}
}

// Panels returns the number of panels with at least one live viewer.
func (b *Broadcaster) Panels() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.panels)
}

// Viewers returns the number of subscribed sockets for a panel.
func (b *Broadcaster) Viewers(panelID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.panels[panelID])
}
