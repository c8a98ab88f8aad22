// Package client provides the identity API client for the MindGarden backend.
//
// The client covers the authentication surface only:
//   - Email/password login
//   - Google token verification and the Google redirect entry point
//   - Fetching the user behind a bearer token
//
// Outbound requests take their bearer token from an injected
// CredentialProvider, so whoever owns the session decides what every
// request carries.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mindgarden-dev/garden/internal/buildinfo"
)

const (
	// DefaultBaseURL is the default API endpoint.
	DefaultBaseURL = "http://localhost:8080"
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second
)

// CredentialProvider supplies the bearer token attached to outbound requests.
// An empty token means no Authorization header.
type CredentialProvider interface {
	BearerToken() string
}

// StaticToken is a CredentialProvider with a fixed token.
type StaticToken string

// BearerToken implements CredentialProvider.
func (s StaticToken) BearerToken() string { return string(s) }

// User is the identity record returned by the backend.
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
}

// Valid reports whether u identifies a user. Records without an id are
// treated as absent.
func (u *User) Valid() bool {
	return u != nil && u.ID != ""
}

// DisplayName returns the name, falling back to the email address.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}

	if u.Name != "" {
		return u.Name
	}

	return u.Email
}

// AuthResponse is the payload of a successful login.
type AuthResponse struct {
	AccessToken string `json:"access_token"`
	User        User   `json:"user"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleTokenRequest struct {
	Token string `json:"token"`
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Operation  string
	StatusCode int
	// Detail is the server-provided human readable message, if any.
	Detail string
	Body   string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s failed with status %d: %s", e.Operation, e.StatusCode, e.Detail)
	}

	return fmt.Sprintf("%s failed with status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Detail extracts the server-provided message from err, if there is one.
func Detail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}

	return ""
}

// Client is the MindGarden identity API client.
type Client struct {
	baseURL     string
	credentials CredentialProvider
	httpClient  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a new API client. A nil provider sends no credentials.
func New(baseURL string, credentials CredentialProvider, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if credentials == nil {
		credentials = StaticToken("")
	}

	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: credentials,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Login exchanges email and password for a token and user.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	return c.authenticate(ctx, "login", "/auth/login", loginRequest{Email: email, Password: password})
}

// VerifyGoogleToken exchanges a Google-issued token for a session token and user.
func (c *Client) VerifyGoogleToken(ctx context.Context, token string) (*AuthResponse, error) {
	return c.authenticate(ctx, "verify google token", "/auth/verify-google-token", googleTokenRequest{Token: token})
}

// Me returns the user behind token. An empty token falls back to the
// credential provider.
func (c *Client) Me(ctx context.Context, token string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/me", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setRequestHeaders(req)

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch current user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus("fetch current user", resp.StatusCode, resp.Body)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to parse user: %w", err)
	}

	if !user.Valid() {
		return nil, fmt.Errorf("fetch current user: response has no user id")
	}

	return &user, nil
}

// Ping issues an unauthenticated GET /auth/me and returns the status code.
// Any HTTP response means the API is reachable.
func (c *Client) Ping(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/me", http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to API: %w", err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

// GoogleAuthURL returns the browser entry point for the Google flow.
func (c *Client) GoogleAuthURL() string {
	return c.baseURL + "/auth/google"
}

func (c *Client) authenticate(ctx context.Context, operation, path string, body any) (*AuthResponse, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setRequestHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus(operation, resp.StatusCode, resp.Body)
	}

	var result AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if result.AccessToken == "" {
		return nil, fmt.Errorf("%s: response has no access token", operation)
	}

	return &result, nil
}

func (c *Client) setRequestHeaders(req *http.Request) {
	if token := c.credentials.BearerToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	req.Header.Set("X-Request-ID", uuid.NewString())
}

// unexpectedStatus builds an APIError, lifting a string "detail" field out of
// the body when present.
func unexpectedStatus(operation string, statusCode int, body io.Reader) error {
	respBody, readErr := io.ReadAll(io.LimitReader(body, 64<<10))
	if readErr != nil {
		return fmt.Errorf("%s failed with status %d (failed to read body: %w)", operation, statusCode, readErr)
	}

	apiErr := &APIError{
		Operation:  operation,
		StatusCode: statusCode,
		Body:       strings.TrimSpace(string(respBody)),
	}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(respBody, &payload); err == nil && len(payload.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(payload.Detail, &detail); err == nil {
			apiErr.Detail = detail
		}
	}

	return apiErr
}
