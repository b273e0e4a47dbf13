package kick

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const oauthStateTTL = 10 * time.Minute

// OAuth drives Kick's authorization-code flow. The resulting token is only an
// enabler for the polling transport: requests carry it as a bearer when
// present, and chat works without it wherever Kick still serves JSON
// anonymously.
type OAuth struct {
	cfg oauth2.Config

	mu     sync.Mutex
	token  *oauth2.Token
	states map[string]time.Time
}

// NewOAuth builds the flow against Kick's OAuth endpoints. authURL and
// tokenURL override the defaults when non-empty (tests point them at a local
// server).
func NewOAuth(clientID, clientSecret, redirectURI, authURL, tokenURL string) *OAuth {
	if authURL == "" {
		authURL = "https://kick.com/api/v2/oauth/authorize"
	}
	if tokenURL == "" {
		tokenURL = "https://kick.com/api/v2/oauth/token"
	}
	return &OAuth{
		cfg: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       []string{"read_user", "subscribe_to_events"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
			},
		},
		states: make(map[string]time.Time),
	}
}

// SetClient swaps the client credentials, keeping any held token. Called when
// the credentials file changes so the flow picks up new keys without restart.
func (o *OAuth) SetClient(clientID, clientSecret string) {
	o.mu.Lock()
	o.cfg.ClientID = clientID
	o.cfg.ClientSecret = clientSecret
	o.mu.Unlock()
}

func (o *OAuth) config() oauth2.Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// Configured reports whether client credentials are present.
func (o *OAuth) Configured() bool {
	if o == nil {
		return false
	}
	cfg := o.config()
	return cfg.ClientID != "" && cfg.ClientSecret != ""
}

// AuthURL mints a CSRF state and returns the authorization redirect URL.
func (o *OAuth) AuthURL() (string, error) {
	if !o.Configured() {
		return "", errors.New("kick: oauth client credentials not configured")
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	state := hex.EncodeToString(buf)

	o.mu.Lock()
	now := time.Now()
	for s, exp := range o.states {
		if now.After(exp) {
			delete(o.states, s)
		}
	}
	o.states[state] = now.Add(oauthStateTTL)
	cfg := o.cfg
	o.mu.Unlock()

	return cfg.AuthCodeURL(state), nil
}

// Exchange validates the callback state and trades the code for a token.
// States are single-use.
func (o *OAuth) Exchange(ctx context.Context, state, code string) error {
	o.mu.Lock()
	exp, ok := o.states[state]
	delete(o.states, state)
	cfg := o.cfg
	o.mu.Unlock()
	if !ok || time.Now().After(exp) {
		return errors.New("kick: invalid or expired oauth state")
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange oauth code: %w", err)
	}

	o.mu.Lock()
	o.token = tok
	o.mu.Unlock()
	return nil
}

// Token returns the stored token if present and unexpired.
func (o *OAuth) Token() (*oauth2.Token, bool) {
	if o == nil {
		return nil, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.token == nil || !o.token.Valid() {
		return nil, false
	}
	return o.token, true
}

// Clear drops the stored token.
func (o *OAuth) Clear() {
	o.mu.Lock()
	o.token = nil
	o.mu.Unlock()
}
