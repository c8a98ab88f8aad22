package browser

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestNavigator_LocationAndReplace(t *testing.T) {
	start, _ := url.Parse("garden://app/monitor?token=abc")
	n := NewNavigator(start)

	loc := n.Location()
	if loc.Query().Get("token") != "abc" {
		t.Fatalf("Location() = %s", loc)
	}

	loc.RawQuery = ""
	if n.Location().RawQuery == "" {
		t.Error("Location() returned a shared URL")
	}

	stripped, _ := url.Parse("garden://app/monitor")
	n.Replace(stripped)

	if got := n.Location().String(); got != "garden://app/monitor" {
		t.Errorf("after Replace Location() = %q", got)
	}

	if NewNavigator(nil).Location() != nil {
		t.Error("nil start should give nil Location")
	}
}

func TestNavigator_Redirect(t *testing.T) {
	tests := []struct {
		name     string
		redirect string
		target   string
		want     string
	}{
		{
			name:   "plain",
			target: "http://localhost:8080/auth/google",
			want:   "http://localhost:8080/auth/google",
		},
		{
			name:     "with loopback",
			redirect: "http://127.0.0.1:5000/callback",
			target:   "http://localhost:8080/auth/google",
			want:     "http://localhost:8080/auth/google?redirect_uri=http%3A%2F%2F127.0.0.1%3A5000%2Fcallback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opened []string

			n := NewNavigator(nil,
				WithRedirectURI(tt.redirect),
				WithOpener(func(u string) error {
					opened = append(opened, u)
					return nil
				}),
			)

			if err := n.Redirect(tt.target); err != nil {
				t.Fatalf("Redirect() error = %v", err)
			}

			if len(opened) != 1 || opened[0] != tt.want {
				t.Errorf("opened %v, want [%s]", opened, tt.want)
			}
		})
	}
}

func TestNavigator_RedirectOpenerFails(t *testing.T) {
	boom := errors.New("no display")
	n := NewNavigator(nil, WithOpener(func(string) error { return boom }))

	if err := n.Redirect("http://x/auth/google"); !errors.Is(err, boom) {
		t.Errorf("Redirect() error = %v, want wrapped %v", err, boom)
	}
}

func TestCallback_DeliversToken(t *testing.T) {
	cb, err := ListenCallback()
	if err != nil {
		t.Fatalf("ListenCallback() error = %v", err)
	}
	defer cb.Close()

	if !strings.HasPrefix(cb.URL(), "http://127.0.0.1:") || !strings.HasSuffix(cb.URL(), CallbackPath) {
		t.Fatalf("URL() = %q", cb.URL())
	}

	resp, err := http.Get(cb.URL() + "?token=tok-123&state=x")
	if err != nil {
		t.Fatalf("GET callback: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	loc, err := cb.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if loc.Query().Get("token") != "tok-123" || loc.Query().Get("state") != "x" {
		t.Errorf("location = %s", loc)
	}

	again, err := http.Get(cb.URL() + "?token=second")
	if err != nil {
		t.Fatalf("second GET: %v", err)
	}
	again.Body.Close()

	if again.StatusCode != http.StatusConflict {
		t.Errorf("second status = %d, want 409", again.StatusCode)
	}
}

func TestCallback_ErrorParam(t *testing.T) {
	cb, err := ListenCallback()
	if err != nil {
		t.Fatalf("ListenCallback() error = %v", err)
	}
	defer cb.Close()

	resp, err := http.Get(cb.URL() + "?error=access_denied")
	if err != nil {
		t.Fatalf("GET callback: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := cb.Wait(ctx); err == nil || !strings.Contains(err.Error(), "access_denied") {
		t.Errorf("Wait() error = %v, want access_denied", err)
	}
}

func TestCallback_WaitTimesOut(t *testing.T) {
	cb, err := ListenCallback()
	if err != nil {
		t.Fatalf("ListenCallback() error = %v", err)
	}
	defer cb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := cb.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
}
