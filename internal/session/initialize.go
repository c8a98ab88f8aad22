package session

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mindgarden-dev/garden/internal/auth"
	"github.com/mindgarden-dev/garden/internal/client"
	"github.com/mindgarden-dev/garden/internal/observability"
)

// Initialize restores the session at startup. Sources are consulted in
// order: a token in the current location, the persisted guest flag, then the
// persisted token. Failures never surface; they reset the credentials and
// leave the session signed out.
func (s *Store) Initialize(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "session.Initialize")
	defer span.End()

	s.setLoading(true)
	defer s.setLoading(false)

	logger := observability.FromContext(ctx).With(slog.String("component", "session"))

	if s.initFromLocation(ctx, logger) {
		span.AddEvent("location token accepted")
		return
	}

	guest, ok, err := s.storage.Get(auth.KeyGuestMode)
	if err != nil {
		s.silentReset(logger, "read guest flag", err)
		return
	}

	if ok && guest == "true" {
		s.mu.Lock()
		s.state.Guest = true
		s.state.User = nil
		s.mu.Unlock()

		return
	}

	token, ok, err := s.storage.Get(auth.KeyToken)
	if err != nil {
		s.silentReset(logger, "read token", err)
		return
	}

	if !ok || token == "" {
		return
	}

	s.mu.Lock()
	s.bearer = token
	s.state.Token = token
	s.mu.Unlock()

	user, err := s.persistedUser()
	if err != nil {
		s.silentReset(logger, "read user", err)
		return
	}

	if user != nil {
		s.adopt(user, token)
		return
	}

	user, err = s.api.Me(ctx, token)
	if err != nil {
		s.silentReset(logger, "fetch user for persisted token", err)
		return
	}

	if err := s.persistUser(user); err != nil {
		s.silentReset(logger, "persist user", err)
		return
	}

	s.adopt(user, token)
}

// initFromLocation handles the token query parameter. It reports whether the
// token was accepted; a rejected token is discarded.
func (s *Store) initFromLocation(ctx context.Context, logger *slog.Logger) bool {
	if s.nav == nil {
		return false
	}

	loc := s.nav.Location()
	if loc == nil {
		return false
	}

	token := loc.Query().Get(auth.KeyToken)
	if token == "" {
		return false
	}

	if err := s.storage.Set(auth.KeyToken, token); err != nil {
		s.silentReset(logger, "persist location token", err)
		return false
	}

	s.mu.Lock()
	s.bearer = token
	s.mu.Unlock()

	user, err := s.api.Me(ctx, token)
	if err != nil {
		logger.Debug("Location token rejected", slog.String("error", err.Error()))

		_ = s.storage.Delete(auth.KeyToken)

		s.mu.Lock()
		s.bearer = ""
		s.mu.Unlock()

		return false
	}

	if err := s.persistUser(user); err != nil {
		s.silentReset(logger, "persist user", err)
		return false
	}

	_ = s.storage.Delete(auth.KeyGuestMode)

	s.adopt(user, token)

	stripped := *loc
	q := stripped.Query()
	q.Del(auth.KeyToken)
	stripped.RawQuery = q.Encode()
	s.nav.Replace(&stripped)

	return true
}

// persistedUser loads the stored user record. Missing, malformed or id-less
// records yield nil without error.
func (s *Store) persistedUser() (*client.User, error) {
	raw, ok, err := s.storage.Get(auth.KeyUser)
	if err != nil {
		return nil, err
	}

	if !ok || raw == "" {
		return nil, nil
	}

	var user client.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, nil //nolint:nilerr // malformed records are treated as absent
	}

	if !user.Valid() {
		return nil, nil
	}

	return &user, nil
}

func (s *Store) persistUser(user *client.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}

	return s.storage.Set(auth.KeyUser, string(data))
}

// silentReset clears token and user both in memory and in storage.
func (s *Store) silentReset(logger *slog.Logger, step string, err error) {
	logger.Debug("Session restore failed; clearing credentials",
		slog.String("step", step),
		slog.String("error", err.Error()),
	)

	_ = s.storage.Delete(auth.KeyToken)
	_ = s.storage.Delete(auth.KeyUser)

	s.clearCredentials()
}
