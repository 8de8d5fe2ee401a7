// Package session holds the client-local session and the storage it lives in.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Storage keys. Each is stored under "<namespace>:<key>".
const (
	KeyToken       = "token"
	KeyExpiresAt   = "expired_at"
	KeyUser        = "user"
	KeyApplication = "application"
)

// AllKeys lists every key a session occupies, in storage order.
var AllKeys = []string{KeyToken, KeyExpiresAt, KeyUser, KeyApplication}

// ProfileKeys are the keys rewritten by profile-only commits.
var ProfileKeys = []string{KeyUser, KeyApplication}

// ErrIncomplete is returned by Commit for a session missing token or expiry.
var ErrIncomplete = errors.New("session requires token and expiry")

// ErrNoSession is returned by CommitProfile when the token it belongs to is
// no longer stored.
var ErrNoSession = errors.New("no stored session to update")

// Store persists the session. Implementations must write all fields of a
// Commit atomically and must treat malformed stored data as absent.
type Store interface {
	// Load returns nil when no usable session is stored.
	Load(ctx context.Context) (*Session, error)
	// Commit replaces every session field.
	Commit(ctx context.Context, s Session) error
	// CommitProfile rewrites the cached profile without touching token or
	// expiry. It writes nothing and returns ErrNoSession once the token is gone.
	CommitProfile(ctx context.Context, user *UserProfile, app *AppConfig) error
	// Clear removes every session field. Clearing an empty store succeeds.
	Clear(ctx context.Context) error
}

// Notifier is told which keys a successful write touched.
type Notifier interface {
	StorageChanged(ctx context.Context, keys []string) error
}

// encode renders a session into raw storage values. Nil profile parts map to
// an empty string, meaning "delete the key".
func encode(s Session) (map[string]string, error) {
	if s.Token == "" || s.ExpiresAt.IsZero() {
		return nil, ErrIncomplete
	}
	values := map[string]string{
		KeyToken:     s.Token,
		KeyExpiresAt: s.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
	profile, err := encodeProfile(s.User, s.Application)
	if err != nil {
		return nil, err
	}
	for k, v := range profile {
		values[k] = v
	}
	return values, nil
}

func encodeProfile(user *UserProfile, app *AppConfig) (map[string]string, error) {
	values := map[string]string{KeyUser: "", KeyApplication: ""}
	if user != nil {
		raw, err := json.Marshal(user)
		if err != nil {
			return nil, err
		}
		values[KeyUser] = string(raw)
	}
	if app != nil {
		raw, err := json.Marshal(app)
		if err != nil {
			return nil, err
		}
		values[KeyApplication] = string(raw)
	}
	return values, nil
}

// decode parses raw storage values. ok is false when the data is absent or
// malformed in any field; a half-readable session is never returned.
func decode(values map[string]string) (s *Session, ok bool) {
	token := values[KeyToken]
	rawExpiry := values[KeyExpiresAt]
	if token == "" || rawExpiry == "" {
		return nil, false
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, rawExpiry)
	if err != nil {
		return nil, false
	}

	out := &Session{Token: token, ExpiresAt: expiresAt}
	if raw := values[KeyUser]; raw != "" {
		var user UserProfile
		if err := json.Unmarshal([]byte(raw), &user); err != nil {
			return nil, false
		}
		out.User = &user
	}
	if raw := values[KeyApplication]; raw != "" {
		var app AppConfig
		if err := json.Unmarshal([]byte(raw), &app); err != nil {
			return nil, false
		}
		out.Application = &app
	}
	return out, true
}
