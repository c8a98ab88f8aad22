package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/mindgarden-dev/garden/internal/auth"
	"github.com/mindgarden-dev/garden/internal/client"
	clierrors "github.com/mindgarden-dev/garden/internal/errors"
	"github.com/mindgarden-dev/garden/internal/session"
)

var identityUsers = map[string]client.User{
	"tok-password": {ID: "u-1", Email: "ada@example.com", Name: "Ada"},
	"tok-google":   {ID: "u-2", Email: "grace@example.com"},
	"tok-redirect": {ID: "u-3", Email: "alan@example.com", Name: "Alan"},
}

// newIdentityAPI serves the sign-in endpoints and points GARDEN_API_URL at
// them. Session storage goes to a fresh in-memory keyring.
func newIdentityAPI(t *testing.T) *httptest.Server {
	t.Helper()

	isolateConfig(t)
	keyring.MockInit()

	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}

		_ = json.NewDecoder(r.Body).Decode(&body)

		if body.Email != "ada@example.com" || body.Password != "hunter2" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect email or password"})
			return
		}

		writeJSON(w, http.StatusOK, client.AuthResponse{AccessToken: "tok-password", User: identityUsers["tok-password"]})
	})

	mux.HandleFunc("POST /auth/verify-google-token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string

		_ = json.NewDecoder(r.Body).Decode(&body)

		for _, v := range body {
			if v == "google-id-token" {
				writeJSON(w, http.StatusOK, client.AuthResponse{AccessToken: "tok-google", User: identityUsers["tok-google"]})
				return
			}
		}

		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid Google token"})
	})

	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		user, ok := identityUsers[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
			return
		}

		writeJSON(w, http.StatusOK, user)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	t.Setenv("GARDEN_API_URL", srv.URL)

	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// stubBrowser replaces openBrowser for the duration of the test.
func stubBrowser(t *testing.T, open func(target string) error) {
	t.Helper()

	prev := openBrowser
	openBrowser = open

	t.Cleanup(func() { openBrowser = prev })
}

func storedValue(t *testing.T, apiURL, key string) (string, auth.Source) {
	t.Helper()

	storage, err := auth.ForOrigin(apiURL)
	if err != nil {
		t.Fatalf("ForOrigin(%q): %v", apiURL, err)
	}

	value, _, err := storage.Get(key)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}

	return value, storage.Source(key)
}

func TestAuthLogin_PersistsToken(t *testing.T) {
	api := newIdentityAPI(t)

	out, buf := testWriter()
	cmd := newAuthLoginCmd()
	cmd.SetIn(strings.NewReader("hunter2\n"))

	if err := execute(t, out, cmd, "--email", "ada@example.com", "--password-stdin"); err != nil {
		t.Fatalf("login: %v", err)
	}

	if got := buf.String(); !strings.Contains(got, "Signed in as Ada") {
		t.Errorf("output = %q, want signed-in confirmation", got)
	}

	token, source := storedValue(t, api.URL, auth.KeyToken)
	if token != "tok-password" {
		t.Errorf("stored token = %q, want tok-password", token)
	}

	if source != auth.SourceKeyring {
		t.Errorf("token source = %q, want %q", source, auth.SourceKeyring)
	}
}

func TestAuthLogin_Failures(t *testing.T) {
	tests := []struct {
		name     string
		password string
		offline  bool
		wantCode int
		wantMsg  string
	}{
		{name: "wrong password", password: "nope", wantCode: clierrors.ExitAuth, wantMsg: "Incorrect email or password"},
		{name: "api unreachable", password: "hunter2", offline: true, wantCode: clierrors.ExitNetwork, wantMsg: "Failed to sign in"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			api := newIdentityAPI(t)
			if tc.offline {
				api.Close()
			}

			out, _ := testWriter()
			cmd := newAuthLoginCmd()
			cmd.SetIn(strings.NewReader(tc.password))

			err := execute(t, out, cmd, "--email", "ada@example.com", "--password-stdin")

			wantExitCode(t, err, tc.wantCode)

			var cliErr *clierrors.CLIError
			if clierrors.As(err, &cliErr) && cliErr.Message != tc.wantMsg {
				t.Errorf("message = %q, want %q", cliErr.Message, tc.wantMsg)
			}

			if token, _ := storedValue(t, api.URL, auth.KeyToken); token != "" {
				t.Errorf("stored token = %q after a failed sign-in", token)
			}
		})
	}
}

// fixedIdentity answers every sign-in with the same user.
type fixedIdentity struct{}

func (fixedIdentity) Login(context.Context, string, string) (*client.AuthResponse, error) {
	return &client.AuthResponse{AccessToken: "tok", User: client.User{ID: "u-1"}}, nil
}

func (fixedIdentity) VerifyGoogleToken(context.Context, string) (*client.AuthResponse, error) {
	return nil, errors.New("not used")
}

func (fixedIdentity) Me(context.Context, string) (*client.User, error) {
	return nil, errors.New("not used")
}

func (fixedIdentity) GoogleAuthURL() string { return "" }

// readOnlyStorage refuses every write.
type readOnlyStorage struct{}

func (readOnlyStorage) Get(string) (string, bool, error) { return "", false, nil }
func (readOnlyStorage) Set(string, string) error         { return errors.New("read-only file system") }
func (readOnlyStorage) Delete(string) error              { return nil }

func TestLoginError(t *testing.T) {
	signedOut := session.New(fixedIdentity{}, readOnlyStorage{}, nil)

	signedIn := session.New(fixedIdentity{}, readOnlyStorage{}, nil)
	persistErr := signedIn.Login(context.Background(), "ada@example.com", "hunter2")

	if persistErr == nil || !signedIn.Authenticated() {
		t.Fatalf("Login() = %v, authenticated %v; want a save error while signed in", persistErr, signedIn.Authenticated())
	}

	apiErr := &client.APIError{Operation: "login", StatusCode: http.StatusUnauthorized, Detail: "Incorrect email or password"}

	tests := []struct {
		name     string
		store    *session.Store
		err      error
		wantCode int
		wantMsg  string
	}{
		{
			name:     "rejected by the API",
			store:    signedOut,
			err:      &session.Error{Op: "login", Message: apiErr.Detail, Err: apiErr},
			wantCode: clierrors.ExitAuth,
			wantMsg:  "Incorrect email or password",
		},
		{
			name:     "transport failure",
			store:    signedOut,
			err:      &session.Error{Op: "login", Message: session.DefaultLoginError, Err: errors.New("dial tcp: connection refused")},
			wantCode: clierrors.ExitNetwork,
			wantMsg:  "Failed to sign in",
		},
		{
			name:     "signed in but not saved",
			store:    signedIn,
			err:      persistErr,
			wantCode: clierrors.ExitConfig,
			wantMsg:  "Failed to save session",
		},
		{
			name:     "other failure while signed out",
			store:    signedOut,
			err:      errors.New("unexpected"),
			wantCode: clierrors.ExitNetwork,
			wantMsg:  "Failed to sign in",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := loginError("sign in", tc.store, tc.err)

			wantExitCode(t, err, tc.wantCode)

			var cliErr *clierrors.CLIError
			if clierrors.As(err, &cliErr) && cliErr.Message != tc.wantMsg {
				t.Errorf("message = %q, want %q", cliErr.Message, tc.wantMsg)
			}
		})
	}
}

func TestAuthGoogle_RedirectFlow(t *testing.T) {
	api := newIdentityAPI(t)

	var opened string

	stubBrowser(t, func(target string) error {
		opened = target

		u, err := url.Parse(target)
		if err != nil {
			return err
		}

		callback := u.Query().Get("redirect_uri")
		if callback == "" {
			t.Errorf("browser target %q carries no redirect_uri", target)
			return nil
		}

		resp, err := http.Get(callback + "?token=tok-redirect") //nolint:gosec,noctx // loopback callback under test
		if err != nil {
			t.Errorf("hit callback: %v", err)
			return nil
		}

		_ = resp.Body.Close()

		return nil
	})

	out, buf := testWriter()
	if err := execute(t, out, newAuthGoogleCmd(), "--timeout", "5s"); err != nil {
		t.Fatalf("google: %v", err)
	}

	if !strings.HasPrefix(opened, api.URL+"/auth/google?") {
		t.Errorf("opened %q, want the Google sign-in page on %s", opened, api.URL)
	}

	if got := buf.String(); !strings.Contains(got, "Signed in as Alan") {
		t.Errorf("output = %q, want signed-in confirmation", got)
	}

	if token, _ := storedValue(t, api.URL, auth.KeyToken); token != "tok-redirect" {
		t.Errorf("stored token = %q, want tok-redirect", token)
	}
}

func TestAuthGoogle_BrowserFailsThenTimesOut(t *testing.T) {
	newIdentityAPI(t)
	stubBrowser(t, func(string) error { return errors.New("no browser found") })

	out, buf := testWriter()
	err := execute(t, out, newAuthGoogleCmd(), "--timeout", "50ms")

	wantExitCode(t, err, clierrors.ExitTimeout)

	got := buf.String()
	for _, want := range []string{"Could not open a browser", "Open this URL manually:", "redirect_uri="} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q\n\ngot:\n%s", want, got)
		}
	}
}

func TestAuthGoogle_IDToken(t *testing.T) {
	api := newIdentityAPI(t)
	stubBrowser(t, func(string) error {
		t.Error("browser opened for an ID token exchange")
		return nil
	})

	out, _ := testWriter()
	if err := execute(t, out, newAuthGoogleCmd(), "--id-token", "google-id-token"); err != nil {
		t.Fatalf("google --id-token: %v", err)
	}

	if token, _ := storedValue(t, api.URL, auth.KeyToken); token != "tok-google" {
		t.Errorf("stored token = %q, want tok-google", token)
	}

	out, _ = testWriter()
	err := execute(t, out, newAuthGoogleCmd(), "--id-token", "forged")

	wantExitCode(t, err, clierrors.ExitAuth)
}

func TestAuthStatus(t *testing.T) {
	t.Run("signed out", func(t *testing.T) {
		newIdentityAPI(t)

		out, _ := testWriter()
		err := execute(t, out, newAuthStatusCmd())

		wantExitCode(t, err, clierrors.ExitAuth)
	})

	t.Run("guest", func(t *testing.T) {
		api := newIdentityAPI(t)

		out, _ := testWriter()
		if err := execute(t, out, newAuthGuestCmd()); err != nil {
			t.Fatalf("guest: %v", err)
		}

		out, buf := testWriter()
		if err := execute(t, out, newAuthStatusCmd()); err != nil {
			t.Fatalf("status: %v", err)
		}

		got := buf.String()
		for _, want := range []string{"Browsing as a guest", "API:          " + api.URL} {
			if !strings.Contains(got, want) {
				t.Errorf("output missing %q\n\ngot:\n%s", want, got)
			}
		}
	})

	t.Run("signed in as json", func(t *testing.T) {
		api := newIdentityAPI(t)

		out, _ := testWriter()
		cmd := newAuthLoginCmd()
		cmd.SetIn(strings.NewReader("hunter2"))

		if err := execute(t, out, cmd, "--email", "ada@example.com", "--password-stdin"); err != nil {
			t.Fatalf("login: %v", err)
		}

		out, buf := testWriter()
		out.JSON = true

		if err := execute(t, out, newAuthStatusCmd()); err != nil {
			t.Fatalf("status: %v", err)
		}

		var status AuthStatus
		if err := json.Unmarshal(buf.Bytes(), &status); err != nil {
			t.Fatalf("unmarshal %q: %v", buf.String(), err)
		}

		if !status.Authenticated || status.User != "Ada" || status.APIURL != api.URL {
			t.Errorf("status = %+v, want Ada signed in on %s", status, api.URL)
		}
	})
}

func TestAuthLogout(t *testing.T) {
	t.Run("nothing stored", func(t *testing.T) {
		newIdentityAPI(t)

		out, buf := testWriter()
		if err := execute(t, out, newAuthLogoutCmd()); err != nil {
			t.Fatalf("logout: %v", err)
		}

		if got := buf.String(); !strings.Contains(got, "No stored session found") {
			t.Errorf("output = %q, want no-session notice", got)
		}
	})

	t.Run("clears the token", func(t *testing.T) {
		api := newIdentityAPI(t)

		out, _ := testWriter()
		cmd := newAuthLoginCmd()
		cmd.SetIn(strings.NewReader("hunter2"))

		if err := execute(t, out, cmd, "--email", "ada@example.com", "--password-stdin"); err != nil {
			t.Fatalf("login: %v", err)
		}

		out, buf := testWriter()
		if err := execute(t, out, newAuthLogoutCmd()); err != nil {
			t.Fatalf("logout: %v", err)
		}

		if got := buf.String(); !strings.Contains(got, "Signed out") {
			t.Errorf("output = %q, want sign-out confirmation", got)
		}

		if token, _ := storedValue(t, api.URL, auth.KeyToken); token != "" {
			t.Errorf("stored token = %q after logout", token)
		}
	})
}
