package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"testing"

	"github.com/mindgarden-dev/garden/internal/auth"
	"github.com/mindgarden-dev/garden/internal/client"
)

type fakeAPI struct {
	mu sync.Mutex

	users     map[string]*client.User
	loginResp *client.AuthResponse
	loginErr  error
	meCalls   []string
	authURL   string
}

func (f *fakeAPI) Login(context.Context, string, string) (*client.AuthResponse, error) {
	return f.loginResp, f.loginErr
}

func (f *fakeAPI) VerifyGoogleToken(context.Context, string) (*client.AuthResponse, error) {
	return f.loginResp, f.loginErr
}

func (f *fakeAPI) Me(_ context.Context, token string) (*client.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.meCalls = append(f.meCalls, token)

	if u, ok := f.users[token]; ok {
		copied := *u
		return &copied, nil
	}

	return nil, &client.APIError{Operation: "fetch current user", StatusCode: 401, Detail: "Invalid token"}
}

func (f *fakeAPI) GoogleAuthURL() string { return f.authURL }

type fakeNav struct {
	location   *url.URL
	replaced   []*url.URL
	redirects  []string
	redirectEr error
}

func (n *fakeNav) Location() *url.URL { return n.location }

func (n *fakeNav) Replace(u *url.URL) {
	n.location = u
	n.replaced = append(n.replaced, u)
}

func (n *fakeNav) Redirect(target string) error {
	n.redirects = append(n.redirects, target)
	return n.redirectEr
}

// brokenStorage fails every call.
type brokenStorage struct{}

func (brokenStorage) Get(string) (string, bool, error) { return "", false, errors.New("disk gone") }
func (brokenStorage) Set(string, string) error         { return errors.New("disk gone") }
func (brokenStorage) Delete(string) error              { return errors.New("disk gone") }

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q) error = %v", raw, err)
	}

	return u
}

func userJSON(t *testing.T, u *client.User) string {
	t.Helper()

	data, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal user: %v", err)
	}

	return string(data)
}

func get(t *testing.T, s auth.Storage, key string) (string, bool) {
	t.Helper()

	v, ok, err := s.Get(key)
	if err != nil {
		t.Fatalf("storage.Get(%q) error = %v", key, err)
	}

	return v, ok
}

var (
	ada = &client.User{ID: "u1", Email: "ada@example.com", Name: "Ada"}
	bob = &client.User{ID: "u2", Email: "bob@example.com"}
)

func TestNew_StartsLoading(t *testing.T) {
	s := New(&fakeAPI{}, auth.NewMemoryStorage(), &fakeNav{})

	st := s.State()
	if !st.Loading || st.Authenticated() || st.Guest {
		t.Errorf("New().State() = %+v, want loading and signed out", st)
	}
}

func TestInitialize_Precedence(t *testing.T) {
	tests := []struct {
		name      string
		location  string
		guestFlag bool
		persisted bool
		wantUser  string
		wantGuest bool
	}{
		{name: "nothing", location: "garden://app/", wantUser: ""},
		{name: "persisted token only", location: "garden://app/", persisted: true, wantUser: "u2"},
		{name: "guest beats persisted token", location: "garden://app/", guestFlag: true, persisted: true, wantGuest: true},
		{name: "url token beats guest flag", location: "garden://app/monitor?token=url-tok", guestFlag: true, persisted: true, wantUser: "u1"},
		{name: "rejected url token falls to guest", location: "garden://app/?token=bad", guestFlag: true, persisted: true, wantGuest: true},
		{name: "rejected url token with no fallbacks", location: "garden://app/?token=bad", wantUser: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := auth.NewMemoryStorage()
			if tt.guestFlag {
				_ = storage.Set(auth.KeyGuestMode, "true")
			}

			if tt.persisted {
				_ = storage.Set(auth.KeyToken, "stored-tok")
				_ = storage.Set(auth.KeyUser, userJSON(t, bob))
			}

			api := &fakeAPI{users: map[string]*client.User{"url-tok": ada, "stored-tok": bob}}
			s := New(api, storage, &fakeNav{location: mustParse(t, tt.location)})

			s.Initialize(context.Background())

			st := s.State()
			if st.Loading {
				t.Error("Loading should be false after Initialize")
			}

			gotUser := ""
			if st.User != nil {
				gotUser = st.User.ID
			}

			if gotUser != tt.wantUser {
				t.Errorf("user = %q, want %q", gotUser, tt.wantUser)
			}

			if st.Guest != tt.wantGuest {
				t.Errorf("guest = %v, want %v", st.Guest, tt.wantGuest)
			}

			if st.Error != "" {
				t.Errorf("Initialize set a user-visible error: %q", st.Error)
			}

			if st.Guest && st.User != nil {
				t.Error("guest and user both set")
			}
		})
	}
}

func TestInitialize_AcceptedLocationToken(t *testing.T) {
	storage := auth.NewMemoryStorage()
	_ = storage.Set(auth.KeyGuestMode, "true")

	nav := &fakeNav{location: mustParse(t, "garden://app/monitor?tab=live&token=url-tok")}
	api := &fakeAPI{users: map[string]*client.User{"url-tok": ada}}
	s := New(api, storage, nav)

	s.Initialize(context.Background())

	if !s.Authenticated() || s.State().User.ID != "u1" {
		t.Fatalf("user not adopted: %+v", s.State())
	}

	if got := s.BearerToken(); got != "url-tok" {
		t.Errorf("BearerToken() = %q, want url-tok", got)
	}

	if tok, _ := get(t, storage, auth.KeyToken); tok != "url-tok" {
		t.Errorf("persisted token = %q, want url-tok", tok)
	}

	if raw, ok := get(t, storage, auth.KeyUser); !ok || raw == "" {
		t.Error("user record not persisted")
	}

	if _, ok := get(t, storage, auth.KeyGuestMode); ok {
		t.Error("guest flag should be cleared by a credentialed sign-in")
	}

	if len(nav.replaced) != 1 {
		t.Fatalf("Replace called %d times, want 1", len(nav.replaced))
	}

	stripped := nav.replaced[0]
	if stripped.Query().Has("token") {
		t.Errorf("token param still present: %s", stripped)
	}

	if stripped.Query().Get("tab") != "live" || stripped.Path != "/monitor" {
		t.Errorf("other location parts lost: %s", stripped)
	}
}

func TestInitialize_RejectedLocationToken(t *testing.T) {
	storage := auth.NewMemoryStorage()
	nav := &fakeNav{location: mustParse(t, "garden://app/?token=bad")}
	s := New(&fakeAPI{}, storage, nav)

	s.Initialize(context.Background())

	if _, ok := get(t, storage, auth.KeyToken); ok {
		t.Error("rejected token was left in storage")
	}

	if s.BearerToken() != "" {
		t.Error("rejected token left as bearer")
	}

	if len(nav.replaced) != 0 {
		t.Error("location replaced for a rejected token")
	}

	if s.Authenticated() {
		t.Error("authenticated with a rejected token")
	}
}

func TestInitialize_PersistedToken(t *testing.T) {
	tests := []struct {
		name       string
		storedUser string
		meKnows    bool
		wantUser   bool
		wantMe     bool
		wantKeys   bool
	}{
		{name: "valid stored user", storedUser: `{"id":"u2","email":"bob@example.com"}`, wantUser: true, wantKeys: true},
		{name: "missing user refetched", storedUser: "", meKnows: true, wantUser: true, wantMe: true, wantKeys: true},
		{name: "malformed user refetched", storedUser: "{oops", meKnows: true, wantUser: true, wantMe: true, wantKeys: true},
		{name: "id-less user refetched", storedUser: `{}`, meKnows: true, wantUser: true, wantMe: true, wantKeys: true},
		{name: "refetch fails clears all", storedUser: `{}`, meKnows: false, wantUser: false, wantMe: true, wantKeys: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := auth.NewMemoryStorage()
			_ = storage.Set(auth.KeyToken, "stored-tok")

			if tt.storedUser != "" {
				_ = storage.Set(auth.KeyUser, tt.storedUser)
			}

			api := &fakeAPI{users: map[string]*client.User{}}
			if tt.meKnows {
				api.users["stored-tok"] = bob
			}

			s := New(api, storage, &fakeNav{})
			s.Initialize(context.Background())

			if s.Authenticated() != tt.wantUser {
				t.Errorf("Authenticated() = %v, want %v", s.Authenticated(), tt.wantUser)
			}

			if (len(api.meCalls) > 0) != tt.wantMe {
				t.Errorf("Me calls = %v, wantMe %v", api.meCalls, tt.wantMe)
			}

			_, hasToken := get(t, storage, auth.KeyToken)
			_, hasUser := get(t, storage, auth.KeyUser)

			if hasToken != tt.wantKeys || hasUser != tt.wantKeys {
				t.Errorf("token stored %v, user stored %v, want %v", hasToken, hasUser, tt.wantKeys)
			}

			wantBearer := ""
			if tt.wantUser {
				wantBearer = "stored-tok"
			}

			if got := s.BearerToken(); got != wantBearer {
				t.Errorf("BearerToken() = %q, want %q", got, wantBearer)
			}
		})
	}
}

func TestInitialize_StorageFailureIsSilent(t *testing.T) {
	s := New(&fakeAPI{}, brokenStorage{}, &fakeNav{})

	s.Initialize(context.Background())

	st := s.State()
	if st.Loading || st.Authenticated() || st.Error != "" || s.BearerToken() != "" {
		t.Errorf("State() = %+v, want quiet signed-out state", st)
	}
}

func TestLogin(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		storage := auth.NewMemoryStorage()
		_ = storage.Set(auth.KeyGuestMode, "true")

		api := &fakeAPI{loginResp: &client.AuthResponse{AccessToken: "tok", User: *ada}}
		s := New(api, storage, &fakeNav{})

		if err := s.Login(context.Background(), "ada@example.com", "pw"); err != nil {
			t.Fatalf("Login() error = %v", err)
		}

		st := s.State()
		if !st.Authenticated() || st.Guest || st.Loading || st.Error != "" {
			t.Errorf("State() = %+v", st)
		}

		if s.BearerToken() != "tok" {
			t.Errorf("BearerToken() = %q, want tok", s.BearerToken())
		}

		if tok, _ := get(t, storage, auth.KeyToken); tok != "tok" {
			t.Errorf("persisted token = %q", tok)
		}

		if _, ok := get(t, storage, auth.KeyGuestMode); ok {
			t.Error("guest flag survived login")
		}
	})

	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "server detail",
			err:     &client.APIError{Operation: "login", StatusCode: 401, Detail: "Invalid credentials"},
			wantMsg: "Invalid credentials",
		},
		{name: "network failure", err: errors.New("connection refused"), wantMsg: DefaultLoginError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := auth.NewMemoryStorage()
			_ = storage.Set(auth.KeyToken, "old")
			_ = storage.Set(auth.KeyUser, userJSON(t, bob))

			api := &fakeAPI{loginErr: tt.err}
			s := New(api, storage, &fakeNav{})
			s.Initialize(context.Background())

			err := s.Login(context.Background(), "x", "y")

			var sessErr *Error
			if !errors.As(err, &sessErr) {
				t.Fatalf("Login() error = %v, want *session.Error", err)
			}

			if sessErr.Message != tt.wantMsg || s.State().Error != tt.wantMsg {
				t.Errorf("message = %q / state %q, want %q", sessErr.Message, s.State().Error, tt.wantMsg)
			}

			if !errors.Is(err, tt.err) {
				t.Error("cause not wrapped")
			}

			st := s.State()
			if st.Loading {
				t.Error("Loading left true after failure")
			}

			if st.User == nil || st.User.ID != "u2" || s.BearerToken() != "old" {
				t.Errorf("previous session changed: %+v bearer=%q", st, s.BearerToken())
			}
		})
	}
}

func TestLogin_ClearsPreviousError(t *testing.T) {
	api := &fakeAPI{loginErr: errors.New("down")}
	s := New(api, auth.NewMemoryStorage(), &fakeNav{})

	_ = s.Login(context.Background(), "a", "b")
	if s.State().Error == "" {
		t.Fatal("expected an error message")
	}

	api.loginErr = nil
	api.loginResp = &client.AuthResponse{AccessToken: "t", User: *ada}

	if err := s.Login(context.Background(), "a", "b"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if s.State().Error != "" {
		t.Errorf("Error = %q, want cleared", s.State().Error)
	}
}

func TestLoginWithGoogle_DefaultMessage(t *testing.T) {
	s := New(&fakeAPI{loginErr: errors.New("boom")}, auth.NewMemoryStorage(), &fakeNav{})

	err := s.LoginWithGoogle(context.Background(), "g")
	if err == nil || err.Error() != DefaultGoogleError {
		t.Errorf("LoginWithGoogle() error = %v, want %q", err, DefaultGoogleError)
	}
}

func TestLogin_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(&fakeAPI{loginErr: context.Canceled}, auth.NewMemoryStorage(), &fakeNav{})

	err := s.Login(ctx, "a", "b")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Login() error = %v, want context.Canceled", err)
	}

	if s.State().Loading {
		t.Error("Loading left true after cancellation")
	}
}

func TestInitiateGoogleLogin(t *testing.T) {
	nav := &fakeNav{}
	s := New(&fakeAPI{authURL: "http://api/auth/google"}, auth.NewMemoryStorage(), nav)
	before := s.State()

	if err := s.InitiateGoogleLogin(context.Background()); err != nil {
		t.Fatalf("InitiateGoogleLogin() error = %v", err)
	}

	if len(nav.redirects) != 1 || nav.redirects[0] != "http://api/auth/google" {
		t.Errorf("redirects = %v", nav.redirects)
	}

	if after := s.State(); after != before {
		t.Errorf("state changed: %+v -> %+v", before, after)
	}
}

func TestContinueAsGuest_AfterSignIn(t *testing.T) {
	storage := auth.NewMemoryStorage()
	api := &fakeAPI{loginResp: &client.AuthResponse{AccessToken: "tok", User: *ada}}
	s := New(api, storage, &fakeNav{})

	if err := s.Login(context.Background(), "a", "b"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if err := s.ContinueAsGuest(context.Background()); err != nil {
		t.Fatalf("ContinueAsGuest() error = %v", err)
	}

	st := s.State()
	if st.User != nil || st.Token != "" || !st.Guest || st.Loading {
		t.Errorf("State() = %+v", st)
	}

	if s.BearerToken() != "" {
		t.Error("bearer survived guest mode")
	}

	if _, ok := get(t, storage, auth.KeyToken); ok {
		t.Error("token survived in storage")
	}

	if _, ok := get(t, storage, auth.KeyUser); ok {
		t.Error("user survived in storage")
	}

	if flag, _ := get(t, storage, auth.KeyGuestMode); flag != "true" {
		t.Errorf("guest flag = %q, want true", flag)
	}
}

func TestContinueAsGuest_StorageFailureStillTransitions(t *testing.T) {
	s := New(&fakeAPI{}, brokenStorage{}, &fakeNav{})

	if err := s.ContinueAsGuest(context.Background()); err == nil {
		t.Error("expected storage error")
	}

	if !s.State().Guest {
		t.Error("guest mode not entered in memory")
	}
}

func TestLogout(t *testing.T) {
	t.Run("from signed in", func(t *testing.T) {
		storage := auth.NewMemoryStorage()
		api := &fakeAPI{loginResp: &client.AuthResponse{AccessToken: "tok", User: *ada}}
		s := New(api, storage, &fakeNav{})

		_ = s.Login(context.Background(), "a", "b")

		if err := s.Logout(context.Background()); err != nil {
			t.Fatalf("Logout() error = %v", err)
		}

		assertSignedOut(t, s, storage)
	})

	t.Run("from guest", func(t *testing.T) {
		storage := auth.NewMemoryStorage()
		s := New(&fakeAPI{}, storage, &fakeNav{})

		_ = s.ContinueAsGuest(context.Background())

		if err := s.Logout(context.Background()); err != nil {
			t.Fatalf("Logout() error = %v", err)
		}

		assertSignedOut(t, s, storage)
	})

	t.Run("keeps error", func(t *testing.T) {
		s := New(&fakeAPI{loginErr: errors.New("x")}, auth.NewMemoryStorage(), &fakeNav{})
		_ = s.Login(context.Background(), "a", "b")
		_ = s.Logout(context.Background())

		if s.State().Error != DefaultLoginError {
			t.Errorf("Error = %q, want it kept", s.State().Error)
		}
	})
}

func assertSignedOut(t *testing.T, s *Store, storage auth.Storage) {
	t.Helper()

	st := s.State()
	if st.Authenticated() || st.Guest || st.Token != "" || s.BearerToken() != "" {
		t.Errorf("State() = %+v, bearer %q", st, s.BearerToken())
	}

	for _, key := range []string{auth.KeyToken, auth.KeyUser, auth.KeyGuestMode} {
		if _, ok := get(t, storage, key); ok {
			t.Errorf("%s still persisted", key)
		}
	}
}

func TestStore_IsCredentialProvider(t *testing.T) {
	var _ client.CredentialProvider = (*Store)(nil)
}
