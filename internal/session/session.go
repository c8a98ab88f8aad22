// Package session owns the signed-in identity for the lifetime of the
// process: who the user is, whether they chose guest mode, and which bearer
// token outbound requests carry.
//
// A Store is built once at startup and shared. It persists its credentials
// through an auth.Storage and is itself the client.CredentialProvider for
// every API client, so the bearer token is set and cleared in exactly one
// place.
package session

import (
	"context"
	"net/url"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/mindgarden-dev/garden/internal/auth"
	"github.com/mindgarden-dev/garden/internal/client"
	"github.com/mindgarden-dev/garden/internal/observability"
)

const tracerName = "github.com/mindgarden-dev/garden/internal/session"

// User-visible messages used when the server gives no detail.
const (
	DefaultLoginError  = "Login failed. Please try again."
	DefaultGoogleError = "Google login failed. Please try again."
)

// IdentityAPI is the subset of the backend the session needs.
type IdentityAPI interface {
	Login(ctx context.Context, email, password string) (*client.AuthResponse, error)
	VerifyGoogleToken(ctx context.Context, token string) (*client.AuthResponse, error)
	Me(ctx context.Context, token string) (*client.User, error)
	GoogleAuthURL() string
}

// Navigator exposes the location the process was started with and lets the
// session rewrite it or hand off to a browser.
type Navigator interface {
	// Location returns the current location, or nil when there is none.
	Location() *url.URL
	// Replace swaps the current location without keeping the old one.
	Replace(u *url.URL)
	// Redirect sends the user to target.
	Redirect(target string) error
}

// State is a snapshot of the session.
type State struct {
	User    *client.User `json:"user,omitempty"`
	Token   string       `json:"-"`
	Guest   bool         `json:"guest"`
	Loading bool         `json:"loading"`
	Error   string       `json:"error,omitempty"`
}

// Authenticated reports whether a user is present.
func (s State) Authenticated() bool {
	return s.User != nil
}

// Error is returned by Login and LoginWithGoogle. Message is the text shown
// to the user; Err is the underlying failure.
type Error struct {
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Store is the goroutine-safe session holder.
type Store struct {
	api     IdentityAPI
	storage auth.Storage
	nav     Navigator
	tracer  trace.Tracer

	mu     sync.Mutex
	state  State
	bearer string
}

// Option configures a Store.
type Option func(*Store)

// WithTracer overrides the tracer used for operation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Store) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// New returns a Store that is loading until Initialize completes.
func New(api IdentityAPI, storage auth.Storage, nav Navigator, opts ...Option) *Store {
	s := &Store{
		api:     api,
		storage: storage,
		nav:     nav,
		tracer:  observability.Tracer(tracerName),
		state:   State{Loading: true},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// State returns a copy of the current session.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	if st.User != nil {
		u := *st.User
		st.User = &u
	}

	return st
}

// Authenticated reports whether a user is signed in.
func (s *Store) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.User != nil
}

// BearerToken implements client.CredentialProvider.
func (s *Store) BearerToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.bearer
}

func (s *Store) setLoading(loading bool) {
	s.mu.Lock()
	s.state.Loading = loading
	s.mu.Unlock()
}

// adopt makes user the signed-in identity. Callers persist first.
func (s *Store) adopt(user *client.User, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.User = user
	s.state.Token = token
	s.state.Guest = false
	s.bearer = token
}

// clearCredentials drops the in-memory user and token.
func (s *Store) clearCredentials() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.User = nil
	s.state.Token = ""
	s.bearer = ""
}
