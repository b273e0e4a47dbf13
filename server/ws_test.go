package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/chat-relay/message"
	"github.com/onnwee/chat-relay/relay"
)

type wsFrame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	Platform     string `json:"platform"`
	Status       string `json:"status"`
	Message      string `json:"message"`
	Username     string `json:"username"`
	Timestamp    string `json:"timestamp"`
}

// announcingConnector emits a connected status through the sink so tests can
// observe the full connect → broadcast path.
type announcingConnector struct {
	relay.StateVar
	panelID string
	channel string
	sink    relay.Sink
}

func (c *announcingConnector) Run(ctx context.Context) error {
	c.Set(relay.StateConnected)
	c.sink.Status(c.panelID, relay.StatusUpdate{
		Platform: message.PlatformTwitch,
		Channel:  c.channel,
		Status:   "connected",
	})
	<-ctx.Done()
	return nil
}

func newWSTestServer(t *testing.T) (*httptest.Server, *relay.Registry, *relay.Broadcaster) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	broadcaster := relay.NewBroadcaster()
	registry := relay.NewRegistry(ctx)
	broadcaster.OnPanelEmpty(registry.DisconnectPanel)
	for _, p := range []message.Platform{message.PlatformTwitch, message.PlatformKick, message.PlatformYouTube} {
		registry.Register(p, func(panelID, channel string) relay.Connector {
			return &announcingConnector{panelID: panelID, channel: channel, sink: broadcaster}
		})
	}

	h, _, _ := newTestHandlers(t)
	h.registry = registry
	h.broadcaster = broadcaster

	srv := httptest.NewServer(NewMux(ctx, h))
	t.Cleanup(srv.Close)
	return srv, registry, broadcaster
}

func dialWS(t *testing.T, srv *httptest.Server, socketID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if socketID != "" {
		url += "?id=" + socketID
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	var f wsFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func waitForCount(t *testing.T, registry *relay.Registry, platform message.Platform, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if registry.Counts()[platform] == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s count never reached %d (got %d)", platform, want, registry.Counts()[platform])
}

func TestWSWelcomeFrame(t *testing.T) {
	srv, _, _ := newWSTestServer(t)
	conn := dialWS(t, srv, "sock-1")

	f := readFrame(t, conn)
	if f.Type != "connected" {
		t.Fatalf("first frame type = %q, want connected", f.Type)
	}
	if f.ConnectionID != "sock-1" {
		t.Errorf("connectionId = %q, want sock-1", f.ConnectionID)
	}
	if f.Timestamp == "" {
		t.Error("timestamp missing")
	}
}

func TestWSWelcomeGeneratesSocketID(t *testing.T) {
	srv, _, _ := newWSTestServer(t)
	conn := dialWS(t, srv, "")

	f := readFrame(t, conn)
	if f.Type != "connected" || f.ConnectionID == "" {
		t.Fatalf("welcome frame = %+v", f)
	}
}

func TestWSConnectEstablishesUpstreamAndStreamsStatus(t *testing.T) {
	srv, registry, _ := newWSTestServer(t)
	conn := dialWS(t, srv, "sock-1")
	readFrame(t, conn) // welcome

	err := conn.WriteJSON(map[string]string{
		"type": "connect", "platform": "twitch", "channel": "somechannel", "connectionId": "panel-a",
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	f := readFrame(t, conn)
	if f.Type != "status" || f.Status != "connected" {
		t.Fatalf("frame = %+v, want connected status", f)
	}
	if f.ConnectionID != "panel-a" {
		t.Errorf("connectionId = %q, want panel-a", f.ConnectionID)
	}
	waitForCount(t, registry, message.PlatformTwitch, 1)
}

func TestWSDisconnectTearsDownUpstream(t *testing.T) {
	srv, registry, _ := newWSTestServer(t)
	conn := dialWS(t, srv, "sock-1")
	readFrame(t, conn)

	conn.WriteJSON(map[string]string{
		"type": "connect", "platform": "kick", "channel": "somechannel", "connectionId": "panel-a",
	})
	waitForCount(t, registry, message.PlatformKick, 1)

	conn.WriteJSON(map[string]string{
		"type": "disconnect", "platform": "kick", "connectionId": "panel-a",
	})
	waitForCount(t, registry, message.PlatformKick, 0)
}

func TestWSUnsupportedPlatform(t *testing.T) {
	srv, _, _ := newWSTestServer(t)
	conn := dialWS(t, srv, "sock-1")
	readFrame(t, conn)

	conn.WriteJSON(map[string]string{
		"type": "connect", "platform": "mixer", "channel": "somechannel", "connectionId": "panel-a",
	})

	f := readFrame(t, conn)
	if f.Type != "status" || f.Status != "error" {
		t.Fatalf("frame = %+v, want error status", f)
	}
	if !strings.Contains(f.Message, "unsupported platform") {
		t.Errorf("message = %q", f.Message)
	}
}

func TestWSCloseReclaimsPanelUpstreams(t *testing.T) {
	srv, registry, broadcaster := newWSTestServer(t)
	conn := dialWS(t, srv, "sock-1")
	readFrame(t, conn)

	conn.WriteJSON(map[string]string{
		"type": "connect", "platform": "twitch", "channel": "somechannel", "connectionId": "panel-a",
	})
	conn.WriteJSON(map[string]string{
		"type": "connect", "platform": "youtube", "channel": "dQw4w9WgXcQ", "connectionId": "panel-a",
	})
	waitForCount(t, registry, message.PlatformTwitch, 1)
	waitForCount(t, registry, message.PlatformYouTube, 1)

	conn.Close()

	waitForCount(t, registry, message.PlatformTwitch, 0)
	waitForCount(t, registry, message.PlatformYouTube, 0)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && broadcaster.Panels() != 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if broadcaster.Panels() != 0 {
		t.Errorf("panels = %d after socket close, want 0", broadcaster.Panels())
	}
}

func TestWSSecondViewerSharesUpstream(t *testing.T) {
	srv, registry, broadcaster := newWSTestServer(t)

	conn1 := dialWS(t, srv, "sock-1")
	readFrame(t, conn1)
	conn1.WriteJSON(map[string]string{
		"type": "connect", "platform": "twitch", "channel": "somechannel", "connectionId": "panel-a",
	})
	readFrame(t, conn1) // connected status
	waitForCount(t, registry, message.PlatformTwitch, 1)

	conn2 := dialWS(t, srv, "sock-2")
	readFrame(t, conn2)
	conn2.WriteJSON(map[string]string{
		"type": "connect", "platform": "twitch", "channel": "somechannel", "connectionId": "panel-a",
	})

	// The second connect reuses the live upstream: still exactly one entry.
	time.Sleep(50 * time.Millisecond)
	if got := registry.Counts()[message.PlatformTwitch]; got != 1 {
		t.Fatalf("twitch count = %d, want 1", got)
	}
	if got := broadcaster.Viewers("panel-a"); got != 2 {
		t.Errorf("viewers = %d, want 2", got)
	}

	// First socket leaving keeps the upstream for the second.
	conn1.Close()
	time.Sleep(50 * time.Millisecond)
	if got := registry.Counts()[message.PlatformTwitch]; got != 1 {
		t.Errorf("twitch count after first close = %d, want 1", got)
	}
}
