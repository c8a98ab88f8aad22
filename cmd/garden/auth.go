package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindgarden-dev/garden/internal/auth"
	"github.com/mindgarden-dev/garden/internal/browser"
	"github.com/mindgarden-dev/garden/internal/client"
	clierrors "github.com/mindgarden-dev/garden/internal/errors"
	"github.com/mindgarden-dev/garden/internal/output"
	"github.com/mindgarden-dev/garden/internal/prompt"
	"github.com/mindgarden-dev/garden/internal/session"
)

const defaultGoogleTimeout = 2 * time.Minute

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage your MindGarden session",
		Long: `Sign in with email and password or Google, continue as a guest, and
inspect or clear the stored session.`,
	}

	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthGoogleCmd())
	cmd.AddCommand(newAuthGuestCmd())
	cmd.AddCommand(newAuthStatusCmd())
	cmd.AddCommand(newAuthLogoutCmd())

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var (
		email         string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Long: `Sign in to MindGarden with your email and password.

The session token is stored in your system keyring (macOS Keychain,
Windows Credential Manager, or Linux Secret Service) and falls back to a
private file in the garden state directory when no keyring is available.`,
		Example: `  garden auth login
  garden auth login --email ada@example.com
  printf '%s' "$PASSWORD" | garden auth login --email ada@example.com --password-stdin`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			prompter := prompt.NewWithInput(out, cmd.InOrStdin())

			email = strings.TrimSpace(email)
			if email == "" {
				if !prompter.CanPrompt() {
					return clierrors.CannotPrompt("--email")
				}

				var err error
				if email, err = prompter.Text("Email"); err != nil {
					return fmt.Errorf("read email prompt: %w", err)
				}
			}

			if email == "" {
				return clierrors.EmailEmpty()
			}

			password, err := readPassword(cmd.InOrStdin(), prompter, passwordStdin)
			if err != nil {
				return err
			}

			svc, err := newServices(cmd.Context())
			if err != nil {
				return err
			}

			spin := out.Spinner("Signing in")
			spin.Start()

			if err := svc.session.Login(cmd.Context(), email, password); err != nil {
				spin.Stop()
				return loginError("sign in", svc.session, err)
			}

			spin.Stop()

			return reportSignedIn(out, svc)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email address")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")

	return cmd
}

func readPassword(stdin io.Reader, prompter *prompt.Prompter, fromStdin bool) (string, error) {
	if fromStdin {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read password from stdin: %w", err)
		}

		return strings.TrimRight(string(data), "\r\n"), nil
	}

	if !prompter.CanPrompt() {
		return "", clierrors.CannotPrompt("--password-stdin")
	}

	password, err := prompter.Password("Password")
	if err != nil {
		return "", fmt.Errorf("read password prompt: %w", err)
	}

	return password, nil
}

// loginError maps a failed sign-in to a CLI error. A *session.Error carries
// the message the user should see; anything else means the user is signed
// in but the session could not be saved.
func loginError(operation string, store *session.Store, err error) error {
	var sessionErr *session.Error
	if !errors.As(err, &sessionErr) {
		if store.Authenticated() {
			return clierrors.ConfigFailed("save session", err)
		}

		return clierrors.RequestFailed(operation, err)
	}

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return clierrors.AuthFailed(sessionErr.Message, err)
	}

	return clierrors.RequestFailed(operation, sessionErr.Err)
}

func newAuthGoogleCmd() *cobra.Command {
	var (
		idToken string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "google",
		Short: "Sign in with Google",
		Long: `Sign in to MindGarden with your Google account.

By default this opens the MindGarden Google sign-in page in your browser and
waits for it to redirect back to a temporary listener on 127.0.0.1. With
--id-token, a Google ID token you already hold is exchanged directly.`,
		Example: `  garden auth google
  garden auth google --timeout 5m
  garden auth google --id-token "$GOOGLE_ID_TOKEN"`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			if idToken != "" {
				svc, err := newServices(cmd.Context())
				if err != nil {
					return err
				}

				if err := svc.session.LoginWithGoogle(cmd.Context(), idToken); err != nil {
					return loginError("sign in with Google", svc.session, err)
				}

				return reportSignedIn(out, svc)
			}

			return googleRedirectLogin(cmd.Context(), out, timeout)
		},
	}

	cmd.Flags().StringVar(&idToken, "id-token", "", "Exchange a Google ID token instead of opening a browser")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultGoogleTimeout, "How long to wait for the browser sign-in")

	return cmd
}

func googleRedirectLogin(ctx context.Context, out *output.Writer, timeout time.Duration) error {
	callback, err := browser.ListenCallback()
	if err != nil {
		return clierrors.ConfigFailed("start sign-in listener", err)
	}

	defer func() { _ = callback.Close() }()

	svc, err := newServices(ctx, browser.WithRedirectURI(callback.URL()))
	if err != nil {
		return err
	}

	if err := svc.session.InitiateGoogleLogin(ctx); err != nil {
		manual := svc.api.GoogleAuthURL() + "?redirect_uri=" + url.QueryEscape(callback.URL())
		notice := clierrors.BrowserFailed(manual, err)

		out.Warning("%s", notice.Message)
		out.Muted("%s", notice.Hint)
	}

	spin := out.Spinner("Waiting for Google sign-in in your browser")
	spin.Start()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	location, err := callback.Wait(waitCtx)
	spin.Stop()

	if errors.Is(err, context.DeadlineExceeded) {
		return clierrors.CallbackTimeout(timeout.String())
	}

	if err != nil {
		return clierrors.AuthFailed(session.DefaultGoogleError, err)
	}

	svc.nav.SetLocation(location)
	svc.session.Initialize(ctx)

	if !svc.session.Authenticated() {
		return clierrors.AuthFailed(session.DefaultGoogleError, nil)
	}

	return reportSignedIn(out, svc)
}

func reportSignedIn(out *output.Writer, svc *services) error {
	status := buildAuthStatus(svc)

	if out.JSON {
		return out.PrintJSON(status)
	}

	out.Success("Signed in as %s", status.User)
	out.Muted("Session stored in %s", status.Source)

	return nil
}

func newAuthGuestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "guest",
		Short: "Continue without an account",
		Long: `Enter guest mode. Any signed-in session on this API is cleared. Guest
mode is remembered until you sign in or sign out.`,
		Example: `  garden auth guest`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			svc, err := newServices(cmd.Context())
			if err != nil {
				return err
			}

			if err := svc.session.ContinueAsGuest(cmd.Context()); err != nil {
				return clierrors.ConfigFailed("save guest mode", err)
			}

			if out.JSON {
				return out.PrintJSON(buildAuthStatus(svc))
			}

			out.Success("Continuing as a guest")
			out.Muted("Run 'garden auth login' any time to sign in")

			return nil
		},
	}
}

// AuthStatus represents the session for JSON output.
type AuthStatus struct {
	Authenticated bool         `json:"authenticated"`
	Guest         bool         `json:"guest"`
	User          string       `json:"user,omitempty"`
	Profile       *client.User `json:"profile,omitempty"`
	Source        auth.Source  `json:"source,omitempty"`
	APIURL        string       `json:"api_url"`
}

func buildAuthStatus(svc *services) AuthStatus {
	state := svc.session.State()

	status := AuthStatus{
		Authenticated: state.Authenticated(),
		Guest:         state.Guest,
		APIURL:        svc.api.BaseURL(),
	}

	if state.User != nil {
		status.User = state.User.DisplayName()
		status.Profile = state.User
		status.Source = svc.storage.Source(auth.KeyToken)
	}

	return status
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show who you are signed in as",
		Long: `Restore the stored session, verify it with the API, and show whether you
are signed in, browsing as a guest, or signed out.`,
		Example: `  garden auth status
  garden auth status --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			svc, err := newServices(cmd.Context())
			if err != nil {
				return err
			}

			status := buildAuthStatus(svc)

			if out.JSON {
				return out.PrintJSON(status)
			}

			switch {
			case status.Authenticated:
				out.Print("Signed in as: %s\n", status.User)

				if status.Profile.Email != "" && status.Profile.Email != status.User {
					out.Print("Email:        %s\n", status.Profile.Email)
				}

				out.Print("Stored in:    %s\n", status.Source)
				out.Print("API:          %s\n", status.APIURL)
			case status.Guest:
				out.Print("Browsing as a guest\n")
				out.Print("API:          %s\n", status.APIURL)
				out.Println()
				out.Info("Sign in with 'garden auth login' or 'garden auth google'")
			default:
				return clierrors.NotAuthenticated()
			}

			return nil
		},
	}
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the stored session",
		Long: `Sign out of MindGarden. The token, profile and guest flag stored for the
current API are removed.`,
		Example: `  garden auth logout`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			svc, err := newServices(cmd.Context())
			if err != nil {
				return err
			}

			wasActive := svc.session.Authenticated() || svc.session.State().Guest

			if err := svc.session.Logout(cmd.Context()); err != nil {
				return clierrors.ConfigFailed("clear session", err)
			}

			if !wasActive {
				out.Muted("No stored session found")
				return nil
			}

			out.Success("Signed out")

			return nil
		},
	}
}
