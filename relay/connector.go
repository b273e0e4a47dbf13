// Package relay owns the orchestration core: the registry mapping panels to
// upstream platform connections and the broadcaster fanning normalized events
// out to viewer sockets. Connectors live in their platform packages and talk
// back through the Sink interface only.
package relay

import (
	"context"
	"sync/atomic"

	"github.com/onnwee/chat-relay/message"
)

// State is the lifecycle position of one upstream connection.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDegraded
	StateRateLimited
	StatePermanentError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateRateLimited:
		return "rate_limited"
	case StatePermanentError:
		return "permanent_error"
	default:
		return "unknown"
	}
}

// Active reports whether the connection is live or still being established.
// A fresh connect request for a panel/platform pair in an active state is a
// no-op; anything else may be replaced by a new attempt. Idle counts as
// active: a connector is Idle only in the window between registration and
// its Run goroutine getting scheduled.
func (s State) Active() bool {
	return s == StateIdle || s == StateConnecting || s == StateConnected
}

// Connector is one upstream chat link. Run blocks until the link ends or ctx
// is cancelled; it must never panic across this boundary and reports viewer-
// facing conditions through its Sink, not through its return value.
type Connector interface {
	Run(ctx context.Context) error
	State() State
}

// StateVar is an atomic State holder for connectors to embed.
type StateVar struct {
	v atomic.Int32
}

func (s *StateVar) Set(st State) { s.v.Store(int32(st)) }
func (s *StateVar) State() State { return State(s.v.Load()) }

// StatusUpdate is a connection lifecycle notice destined for viewers.
type StatusUpdate struct {
	Platform message.Platform
	Channel  string
	Status   string // connecting | connected | disconnected | error
	Message  string // optional human-readable context
}

// Sink receives normalized output from connectors. The broadcaster is the
// production implementation; tests substitute recorders.
type Sink interface {
	Chat(panelID string, msg message.Message)
	Status(panelID string, update StatusUpdate)
}
