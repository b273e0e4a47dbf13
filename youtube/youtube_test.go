package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/chat-relay/message"
	"github.com/onnwee/chat-relay/relay"
)

type recordSink struct {
	mu       sync.Mutex
	chats    []message.Message
	statuses []relay.StatusUpdate
}

func (s *recordSink) Chat(panelID string, m message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = append(s.chats, m)
}

func (s *recordSink) Status(panelID string, u relay.StatusUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, u)
}

func (s *recordSink) chatCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chats)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

const videosResponse = `{"items":[{
	"snippet":{"channelTitle":"Some Channel"},
	"liveStreamingDetails":{"activeLiveChatId":"chat-1"}}]}`

// apiServer simulates the Data API: one page of messages, then a transient
// failure, then a second page. It records the pageToken of every poll.
func apiServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var tokens []string
	polls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/videos"):
			fmt.Fprint(w, videosResponse)

		case strings.Contains(r.URL.Path, "/liveChat/messages"):
			mu.Lock()
			tokens = append(tokens, r.URL.Query().Get("pageToken"))
			polls++
			n := polls
			mu.Unlock()

			switch n {
			case 1:
				fmt.Fprint(w, `{"nextPageToken":"tok-1","pollingIntervalMillis":10,"items":[
					{"snippet":{"type":"textMessageEvent","publishedAt":"2026-01-02T10:00:00Z",
						"textMessageDetails":{"messageText":"first"}},
					 "authorDetails":{"displayName":"alice","isChatModerator":true}},
					{"snippet":{"type":"memberMilestoneChatEvent","publishedAt":"2026-01-02T10:00:01Z",
						"displayMessage":"member for 6 months"},
					 "authorDetails":{"displayName":"bob"}}]}`)
			case 2:
				http.Error(w, "backend error", http.StatusInternalServerError)
			default:
				fmt.Fprint(w, `{"nextPageToken":"tok-2","pollingIntervalMillis":10,"items":[
					{"snippet":{"type":"superChatEvent","publishedAt":"2026-01-02T10:00:05Z",
						"displayMessage":"love the stream"},
					 "authorDetails":{"displayName":"carol"}}]}`)
			}

		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &tokens
}

func testConfig(endpoint string) Config {
	return Config{
		APIKeyFunc:  func() string { return "test-key" },
		Endpoint:    endpoint + "/",
		MinInterval: 10 * time.Millisecond,
		ErrorRetry:  20 * time.Millisecond,
	}
}

func TestPollingPreservesTokenAcrossErrors(t *testing.T) {
	srv, tokens := apiServer(t)
	sink := &recordSink{}
	conn := New("panel-a", "video-1", testConfig(srv.URL), sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)

	waitFor(t, 3*time.Second, func() bool { return sink.chatCount() >= 2 }, "messages not delivered")
	cancel()

	sink.mu.Lock()
	defer sink.mu.Unlock()

	// Poll 1 had two items but only the text event is user-visible.
	if sink.chats[0].Text != "first" || sink.chats[0].Username != "alice" {
		t.Errorf("first chat = %+v", sink.chats[0])
	}
	if sink.chats[0].Color != colorModerator {
		t.Errorf("moderator color = %q, want %q", sink.chats[0].Color, colorModerator)
	}
	if sink.chats[1].Text != "love the stream" || sink.chats[1].Username != "carol" {
		t.Errorf("second chat = %+v", sink.chats[1])
	}
	if sink.chats[1].Badges["superchat"] == "" {
		t.Error("super chat badge missing")
	}

	// Poll 1 has no token, poll 2 fails with tok-1, poll 3 must retry with
	// the same tok-1 rather than dropping the continuation.
	got := *tokens
	if len(got) < 3 {
		t.Fatalf("polls = %d, want at least 3", len(got))
	}
	if got[0] != "" || got[1] != "tok-1" || got[2] != "tok-1" {
		t.Errorf("page tokens = %v, want [\"\" tok-1 tok-1 ...]", got[:3])
	}
}

func TestConnectedStatusCarriesChannelTitle(t *testing.T) {
	srv, _ := apiServer(t)
	sink := &recordSink{}
	conn := New("panel-a", "video-1", testConfig(srv.URL), sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)

	waitFor(t, 3*time.Second, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		for _, u := range sink.statuses {
			if u.Status == "connected" {
				return u.Message == "Some Channel"
			}
		}
		return false
	}, "connected status with channel title not seen")

	if got := conn.State(); got != relay.StateConnected {
		t.Errorf("state = %v, want connected", got)
	}
}

func TestVideoNotLive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[{"snippet":{"channelTitle":"Some Channel"},"liveStreamingDetails":{}}]}`)
	}))
	t.Cleanup(srv.Close)

	sink := &recordSink{}
	conn := New("panel-a", "video-1", testConfig(srv.URL), sink)
	if err := conn.Run(context.Background()); !errors.Is(err, ErrNoActiveChat) {
		t.Fatalf("err = %v, want ErrNoActiveChat", err)
	}
	if got := conn.State(); got != relay.StatePermanentError {
		t.Errorf("state = %v, want permanent error", got)
	}
}

func TestVideoNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[]}`)
	}))
	t.Cleanup(srv.Close)

	sink := &recordSink{}
	conn := New("panel-a", "video-1", testConfig(srv.URL), sink)
	if err := conn.Run(context.Background()); !errors.Is(err, ErrVideoNotFound) {
		t.Fatalf("err = %v, want ErrVideoNotFound", err)
	}
}

func TestMissingAPIKey(t *testing.T) {
	sink := &recordSink{}
	conn := New("panel-a", "video-1", Config{}, sink)
	if err := conn.Run(context.Background()); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
	if got := conn.State(); got != relay.StatePermanentError {
		t.Errorf("state = %v, want permanent error", got)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	last := sink.statuses[len(sink.statuses)-1]
	if last.Status != "error" || !strings.Contains(last.Message, "API key") {
		t.Errorf("last status = %+v, want API key error", last)
	}
}
