package main

import (
	"context"

	"github.com/mindgarden-dev/garden/internal/auth"
	"github.com/mindgarden-dev/garden/internal/browser"
	"github.com/mindgarden-dev/garden/internal/client"
	"github.com/mindgarden-dev/garden/internal/config"
	"github.com/mindgarden-dev/garden/internal/directory"
	clierrors "github.com/mindgarden-dev/garden/internal/errors"
	"github.com/mindgarden-dev/garden/internal/livestatus"
	"github.com/mindgarden-dev/garden/internal/observability"
	"github.com/mindgarden-dev/garden/internal/paths"
	"github.com/mindgarden-dev/garden/internal/session"
)

// openBrowser launches redirect targets. Tests replace it.
var openBrowser = browser.Open

// services are built once per command and shared by everything it runs.
type services struct {
	cfg     *config.Config
	storage *auth.OriginStorage
	api     *client.Client
	nav     *browser.Navigator
	session *session.Store
}

// storeCredentials lets the API client ask the session for its bearer token
// even though the session is constructed after the client.
type storeCredentials struct {
	store *session.Store
}

func (c *storeCredentials) BearerToken() string {
	if c.store == nil {
		return ""
	}

	return c.store.BearerToken()
}

// newServices wires config, per-origin storage, the API client and the
// session store, then restores the session.
//
// This consolidates the repeated pattern of:
//
//	cfg := config.Load()
//	storage, _ := auth.ForOrigin(cfg.APIURL())
//	store := session.New(client.New(...), storage, nav)
//	store.Initialize(ctx)
func newServices(ctx context.Context, navOpts ...browser.NavOption) (*services, error) {
	cfg := config.Load()

	storage, err := auth.ForOrigin(cfg.APIURL())
	if err != nil {
		return nil, clierrors.ConfigFailed("open session storage", err)
	}

	creds := &storeCredentials{}
	api := client.New(cfg.APIURL(), creds, client.WithTimeout(cfg.RequestTimeout()))

	opts := append([]browser.NavOption{browser.WithOpener(openBrowser)}, navOpts...)
	nav := browser.NewNavigator(nil, opts...)

	store := session.New(api, storage, nav)
	creds.store = store

	store.Initialize(ctx)

	return &services{
		cfg:     cfg,
		storage: storage,
		api:     api,
		nav:     nav,
		session: store,
	}, nil
}

// liveChannel builds the live status channel, authenticated as the session.
func (s *services) liveChannel(ctx context.Context, opts ...livestatus.Option) *livestatus.Channel {
	opts = append([]livestatus.Option{livestatus.WithLogger(observability.FromContext(ctx))}, opts...)

	return livestatus.New(livestatus.Config{
		URL:            s.cfg.LiveURL(),
		ConnectTimeout: s.cfg.ConnectTimeout(),
		MaxUpdates:     s.cfg.MaxUpdates(),
		Credentials:    s.session,
	}, opts...)
}

// loadDirectory returns the catalog, honoring a user override file.
func loadDirectory() (*directory.Catalog, error) {
	path, err := paths.CatalogFile()
	if err != nil {
		return directory.Default(), nil
	}

	catalog, err := directory.Load(path)
	if err != nil {
		return nil, clierrors.ConfigFailed("load directory catalog", err)
	}

	return catalog, nil
}
