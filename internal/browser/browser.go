// Package browser connects the terminal to browser-based sign-in: it opens
// URLs in the user's browser, tracks the location the session was started
// from, and receives OAuth redirects on a loopback listener.
package browser

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"sync"
)

// Open launches the system browser on target without waiting for it.
func Open(target string) error {
	var (
		name string
		args []string
	)

	switch runtime.GOOS {
	case "darwin":
		name, args = "open", []string{target}
	case "linux", "freebsd", "openbsd", "netbsd":
		found := ""

		for _, candidate := range []string{"xdg-open", "sensible-browser", "google-chrome", "firefox"} {
			if _, err := exec.LookPath(candidate); err == nil {
				found = candidate
				break
			}
		}

		if found == "" {
			return fmt.Errorf("no browser found")
		}

		name, args = found, []string{target}
	case "windows":
		name, args = "rundll32", []string{"url.dll,FileProtocolHandler", target}
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	cmd := exec.Command(name, args...) //nolint:gosec // G204: fixed launcher, URL is an argument
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	go func() {
		_ = cmd.Wait()
	}()

	return nil
}

// Navigator holds the current location of a terminal session and sends
// redirects to the browser.
type Navigator struct {
	open        func(string) error
	redirectURI string

	mu       sync.Mutex
	location *url.URL
}

// NavOption configures a Navigator.
type NavOption func(*Navigator)

// WithOpener replaces the function used to open redirect targets.
func WithOpener(open func(string) error) NavOption {
	return func(n *Navigator) {
		if open != nil {
			n.open = open
		}
	}
}

// WithRedirectURI makes every redirect carry redirect_uri=uri, so the
// server returns to a local listener.
func WithRedirectURI(uri string) NavOption {
	return func(n *Navigator) {
		n.redirectURI = uri
	}
}

// NewNavigator returns a Navigator positioned at start, which may be nil.
func NewNavigator(start *url.URL, opts ...NavOption) *Navigator {
	n := &Navigator{open: Open}
	n.setLocation(start)

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// Location returns a copy of the current location, or nil.
func (n *Navigator) Location() *url.URL {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.location == nil {
		return nil
	}

	u := *n.location

	return &u
}

// Replace swaps the current location. No history is kept.
func (n *Navigator) Replace(u *url.URL) {
	n.setLocation(u)
}

// SetLocation positions the navigator, typically at an inbound redirect.
func (n *Navigator) SetLocation(u *url.URL) {
	n.setLocation(u)
}

func (n *Navigator) setLocation(u *url.URL) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if u == nil {
		n.location = nil
		return
	}

	copied := *u
	n.location = &copied
}

// Redirect opens target in the browser.
func (n *Navigator) Redirect(target string) error {
	dest, err := withRedirectURI(target, n.redirectURI)
	if err != nil {
		return err
	}

	if err := n.open(dest); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}

	return nil
}

func withRedirectURI(target, redirect string) (string, error) {
	if redirect == "" {
		return target, nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse redirect target: %w", err)
	}

	q := u.Query()
	q.Set("redirect_uri", redirect)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
