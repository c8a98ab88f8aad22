package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mindgarden-dev/garden/internal/auth"
	"github.com/mindgarden-dev/garden/internal/client"
	"github.com/mindgarden-dev/garden/internal/observability"
)

// Login signs in with email and password. On failure the user-visible
// message is stored in State().Error and returned as *Error; the previous
// user and token are left alone.
func (s *Store) Login(ctx context.Context, email, password string) (err error) {
	ctx, span := s.tracer.Start(ctx, "session.Login")
	defer func() { observability.EndSpan(span, err) }()

	return s.credentialLogin(ctx, "login", DefaultLoginError, func(ctx context.Context) (*client.AuthResponse, error) {
		return s.api.Login(ctx, email, password)
	})
}

// LoginWithGoogle exchanges a Google-issued token for a session.
func (s *Store) LoginWithGoogle(ctx context.Context, googleToken string) (err error) {
	ctx, span := s.tracer.Start(ctx, "session.LoginWithGoogle")
	defer func() { observability.EndSpan(span, err) }()

	return s.credentialLogin(ctx, "google login", DefaultGoogleError, func(ctx context.Context) (*client.AuthResponse, error) {
		return s.api.VerifyGoogleToken(ctx, googleToken)
	})
}

func (s *Store) credentialLogin(
	ctx context.Context,
	op, fallback string,
	call func(context.Context) (*client.AuthResponse, error),
) error {
	s.mu.Lock()
	s.state.Error = ""
	s.state.Loading = true
	s.mu.Unlock()

	defer s.setLoading(false)

	logger := observability.FromContext(ctx).With(slog.String("component", "session"))

	resp, err := call(ctx)
	if err == nil && !resp.User.Valid() {
		err = fmt.Errorf("%s: response has no user id", op)
	}

	if err != nil {
		message := client.Detail(err)
		if message == "" {
			message = fallback
		}

		s.mu.Lock()
		s.state.Error = message
		s.mu.Unlock()

		logger.Debug("Login failed", slog.String("op", op), slog.String("error", err.Error()))

		return &Error{Op: op, Message: message, Err: err}
	}

	user := resp.User
	persistErr := s.persistLogin(resp.AccessToken, &user)

	s.adopt(&user, resp.AccessToken)

	logger.Info("Signed in", slog.String("op", op), slog.String("user_id", user.ID))

	if persistErr != nil {
		return fmt.Errorf("save session: %w", persistErr)
	}

	return nil
}

func (s *Store) persistLogin(token string, user *client.User) error {
	return errors.Join(
		s.storage.Set(auth.KeyToken, token),
		s.persistUser(user),
		s.storage.Delete(auth.KeyGuestMode),
	)
}

// InitiateGoogleLogin hands the user to the server-side Google flow. Local
// state does not change; the session is picked up by Initialize when the
// flow returns with a token.
func (s *Store) InitiateGoogleLogin(ctx context.Context) (err error) {
	_, span := s.tracer.Start(ctx, "session.InitiateGoogleLogin")
	defer func() { observability.EndSpan(span, err) }()

	if s.nav == nil {
		return errors.New("no navigator configured")
	}

	return s.nav.Redirect(s.api.GoogleAuthURL())
}

// ContinueAsGuest drops any credentials and enters guest mode. The
// in-memory transition always happens; storage failures are returned.
func (s *Store) ContinueAsGuest(ctx context.Context) (err error) {
	_, span := s.tracer.Start(ctx, "session.ContinueAsGuest")
	defer func() { observability.EndSpan(span, err) }()

	deleteErr := errors.Join(
		s.storage.Delete(auth.KeyToken),
		s.storage.Delete(auth.KeyUser),
	)

	s.mu.Lock()
	s.bearer = ""
	s.state.Token = ""
	s.state.User = nil
	s.state.Guest = true
	s.state.Loading = false
	s.mu.Unlock()

	return errors.Join(deleteErr, s.storage.Set(auth.KeyGuestMode, "true"))
}

// Logout clears user, token and guest flag. The last error message is kept.
func (s *Store) Logout(ctx context.Context) (err error) {
	_, span := s.tracer.Start(ctx, "session.Logout")
	defer func() { observability.EndSpan(span, err) }()

	deleteErr := errors.Join(
		s.storage.Delete(auth.KeyToken),
		s.storage.Delete(auth.KeyUser),
		s.storage.Delete(auth.KeyGuestMode),
	)

	s.mu.Lock()
	s.bearer = ""
	s.state.Token = ""
	s.state.User = nil
	s.state.Guest = false
	s.mu.Unlock()

	return deleteErr
}
