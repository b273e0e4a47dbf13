package kick

import "sync"

// AuthGate tracks channels that hit Kick's auth wall (every transport in the
// cascade returned HTML instead of JSON). A blocked channel fails fast on
// connect instead of burning rate budget on a doomed cascade. Reset clears
// the gate; the control plane calls it when credentials change, turning the
// condition back into a retryable one.
type AuthGate struct {
	mu      sync.Mutex
	blocked map[string]struct{}
}

func NewAuthGate() *AuthGate {
	return &AuthGate{blocked: make(map[string]struct{})}
}

func (g *AuthGate) Block(channel string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocked[channel] = struct{}{}
}

func (g *AuthGate) Blocked(channel string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.blocked[channel]
	return ok
}

func (g *AuthGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocked = make(map[string]struct{})
}
