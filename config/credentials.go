package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/onnwee/chat-relay/crypto"
)

// encPrefix marks field values that are encrypted at rest.
const encPrefix = "enc:"

// Credentials is the mutable part of the configuration, editable at runtime
// through the control plane. File values take priority over environment
// variables.
type Credentials struct {
	KickClientID      string `json:"kickClientId,omitempty"`
	KickClientSecret  string `json:"kickClientSecret,omitempty"`
	YouTubeAPIKey     string `json:"youtubeApiKey,omitempty"`
	TwitchChannelName string `json:"twitchChannelName,omitempty"`
}

// Store reads and writes the credentials file. Loads are mtime-gated: the
// file is only re-parsed when it changed on disk, so getters are cheap enough
// to call per request.
type Store struct {
	path string
	enc  crypto.Encryptor

	mu    sync.Mutex
	creds Credentials
	mtime time.Time
}

// NewStore opens the credentials file at path. When CREDENTIALS_ENC_KEY holds
// a base64 32-byte key, secret fields are encrypted at rest.
func NewStore(path string) *Store {
	s := &Store{path: path}
	if key := os.Getenv("CREDENTIALS_ENC_KEY"); key != "" {
		enc, err := crypto.NewAESEncryptor(key)
		if err != nil {
			slog.Error("credentials encryption disabled: invalid CREDENTIALS_ENC_KEY", slog.Any("err", err))
		} else {
			s.enc = enc
		}
	}
	if err := s.Reload(false); err != nil {
		slog.Warn("credentials file not loaded", slog.String("path", path), slog.Any("err", err))
	}
	return s
}

// Reload re-reads the file. With force=false the read is skipped when the
// file's mtime has not moved. A missing file is not an error; it means empty
// credentials.
func (s *Store) Reload(force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.creds = Credentials{}
		s.mtime = time.Time{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat credentials: %w", err)
	}
	if !force && info.ModTime().Equal(s.mtime) {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("parse credentials: %w", err)
	}
	creds.KickClientSecret = s.decryptField("kickClientSecret", creds.KickClientSecret)
	creds.YouTubeAPIKey = s.decryptField("youtubeApiKey", creds.YouTubeAPIKey)

	s.creds = creds
	s.mtime = info.ModTime()
	slog.Info("credentials loaded", slog.String("path", s.path))
	return nil
}

// Update merges the given fields into the file and reloads. Nil pointers
// leave the stored value untouched; pointers to empty strings clear it.
func (s *Store) Update(kickClientID, kickClientSecret, youtubeAPIKey, twitchChannelName *string) error {
	s.mu.Lock()
	merged := s.creds
	apply := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	apply(&merged.KickClientID, kickClientID)
	apply(&merged.KickClientSecret, kickClientSecret)
	apply(&merged.YouTubeAPIKey, youtubeAPIKey)
	apply(&merged.TwitchChannelName, twitchChannelName)

	stored := merged
	if err := s.encryptFields(&stored); err != nil {
		s.mu.Unlock()
		return err
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("write credentials: %w", err)
	}
	s.mu.Unlock()

	return s.Reload(true)
}

// decryptField resolves a possibly encrypted stored value. Plaintext values
// pass through so files written before encryption was enabled keep working.
func (s *Store) decryptField(name, v string) string {
	if !strings.HasPrefix(v, encPrefix) {
		return v
	}
	if s.enc == nil {
		slog.Warn("encrypted credential present but CREDENTIALS_ENC_KEY not set", slog.String("field", name))
		return ""
	}
	plain, err := crypto.DecryptString(s.enc, strings.TrimPrefix(v, encPrefix))
	if err != nil {
		slog.Warn("credential decryption failed", slog.String("field", name), slog.Any("err", err))
		return ""
	}
	return plain
}

// encryptFields seals the secret fields in place before the file hits disk.
// Non-secret fields stay readable for hand edits.
func (s *Store) encryptFields(c *Credentials) error {
	if s.enc == nil {
		return nil
	}
	seal := func(v *string) error {
		if *v == "" {
			return nil
		}
		sealed, err := crypto.EncryptString(s.enc, *v)
		if err != nil {
			return fmt.Errorf("encrypt credential: %w", err)
		}
		*v = encPrefix + sealed
		return nil
	}
	if err := seal(&c.KickClientSecret); err != nil {
		return err
	}
	return seal(&c.YouTubeAPIKey)
}

func (s *Store) snapshot() Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

// Getters resolve file value first, then environment.

func (s *Store) YouTubeAPIKey() string {
	if v := s.snapshot().YouTubeAPIKey; v != "" {
		return v
	}
	return os.Getenv("YOUTUBE_API_KEY")
}

func (s *Store) KickClientID() string {
	if v := s.snapshot().KickClientID; v != "" {
		return v
	}
	return os.Getenv("KICK_CLIENT_ID")
}

func (s *Store) KickClientSecret() string {
	if v := s.snapshot().KickClientSecret; v != "" {
		return v
	}
	return os.Getenv("KICK_CLIENT_SECRET")
}

func (s *Store) TwitchChannelName() string {
	if v := s.snapshot().TwitchChannelName; v != "" {
		return v
	}
	return os.Getenv("TWITCH_CHANNEL_NAME")
}

// Watch reloads the store whenever the credentials file changes on disk and
// invokes onChange after each successful reload. It watches the parent
// directory because editors and atomic writers replace the file rather than
// modify it in place. Blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(false); err != nil {
				slog.Warn("credentials reload failed", slog.Any("err", err))
				continue
			}
			if onChange != nil {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("credentials watcher error", slog.Any("err", err))
		}
	}
}
