package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/onnwee/chat-relay/message"
	"github.com/onnwee/chat-relay/telemetry"
)

// Factory builds a connector for one (panel, channel) pair. Registered once
// per platform at startup.
type Factory func(panelID, channel string) Connector

type connKey struct {
	panelID  string
	platform message.Platform
}

type connEntry struct {
	conn    Connector
	cancel  context.CancelFunc
	channel string
}

// Registry owns every upstream connection: at most one per (panel, platform)
// pair. Connect is idempotent while the existing connection is active;
// Disconnect is deterministic teardown through context cancellation, which
// stops handshake timers, poll loops and backoff waits.
type Registry struct {
	mu        sync.Mutex
	baseCtx   context.Context
	entries   map[connKey]*connEntry
	factories map[message.Platform]Factory
}

func NewRegistry(ctx context.Context) *Registry {
	return &Registry{
		baseCtx:   ctx,
		entries:   make(map[connKey]*connEntry),
		factories: make(map[message.Platform]Factory),
	}
}

// Register installs the connector factory for a platform.
func (r *Registry) Register(platform message.Platform, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[platform] = f
}

// Connect ensures an upstream connection exists for the pair. A live or
// still-connecting entry is returned as-is; a duplicate upstream link would
// double-broadcast every message. Dead entries (degraded, rate limited,
// permanent error) are replaced, since reconnection only ever happens on an
// explicit connect request.
func (r *Registry) Connect(panelID string, platform message.Platform, channel string) (Connector, error) {
	r.mu.Lock()
	factory, ok := r.factories[platform]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("unsupported platform %q", platform)
	}

	key := connKey{panelID: panelID, platform: platform}
	if e, exists := r.entries[key]; exists {
		if e.conn.State().Active() && e.channel == channel {
			r.mu.Unlock()
			slog.Debug("reusing active upstream connection",
				slog.String("panel", panelID), slog.String("platform", string(platform)), slog.String("channel", channel))
			return e.conn, nil
		}
		e.cancel()
		delete(r.entries, key)
	}

	conn := factory(panelID, channel)
	ctx, cancel := context.WithCancel(r.baseCtx)
	r.entries[key] = &connEntry{conn: conn, cancel: cancel, channel: channel}
	count := r.countLocked(platform)
	r.mu.Unlock()

	telemetry.SetActiveUpstreams(string(platform), count)
	go func() {
		if err := conn.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("upstream connection ended",
				slog.String("panel", panelID), slog.String("platform", string(platform)),
				slog.String("channel", channel), slog.Any("err", err))
		}
	}()
	return conn, nil
}

// Disconnect tears down the pair's upstream connection. Safe to call when the
// pair was never connected.
func (r *Registry) Disconnect(panelID string, platform message.Platform) {
	r.mu.Lock()
	key := connKey{panelID: panelID, platform: platform}
	e, ok := r.entries[key]
	if ok {
		e.cancel()
		delete(r.entries, key)
	}
	count := r.countLocked(platform)
	r.mu.Unlock()

	if ok {
		telemetry.SetActiveUpstreams(string(platform), count)
		slog.Info("upstream connection closed",
			slog.String("panel", panelID), slog.String("platform", string(platform)))
	}
}

// DisconnectPanel tears down every platform connection of a panel. Invoked by
// the broadcaster when the panel's last viewer leaves: an upstream connection
// with zero viewers only wastes upstream rate budget.
func (r *Registry) DisconnectPanel(panelID string) {
	r.mu.Lock()
	var dropped []message.Platform
	for key, e := range r.entries {
		if key.panelID == panelID {
			e.cancel()
			delete(r.entries, key)
			dropped = append(dropped, key.platform)
		}
	}
	counts := make(map[message.Platform]int, len(dropped))
	for _, p := range dropped {
		counts[p] = r.countLocked(p)
	}
	r.mu.Unlock()

	for p, n := range counts {
		telemetry.SetActiveUpstreams(string(p), n)
	}
	if len(dropped) > 0 {
		slog.Info("panel empty, upstream connections reclaimed",
			slog.String("panel", panelID), slog.Int("connections", len(dropped)))
	}
}

// Lookup returns the connector for a pair, if any.
func (r *Registry) Lookup(panelID string, platform message.Platform) (Connector, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[connKey{panelID: panelID, platform: platform}]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Counts returns the number of registry entries per platform for /status.
func (r *Registry) Counts() map[message.Platform]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[message.Platform]int)
	for key := range r.entries {
		counts[key.platform]++
	}
	return counts
}

func (r *Registry) countLocked(platform message.Platform) int {
	n := 0
	for key := range r.entries {
		if key.platform == platform {
			n++
		}
	}
	return n
}
