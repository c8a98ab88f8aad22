package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// CallbackPath is the path the loopback listener serves.
const CallbackPath = "/callback"

const callbackPage = `<!doctype html>
<html><head><meta charset="utf-8"><title>MindGarden</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em">
<h2>%s</h2><p>You can close this tab and return to the terminal.</p>
</body></html>
`

// Callback is a one-shot HTTP listener on 127.0.0.1 that captures the URL
// the browser is sent back to.
type Callback struct {
	listener net.Listener
	server   *http.Server

	once   sync.Once
	result chan callbackResult
}

type callbackResult struct {
	location *url.URL
	err      error
}

// ListenCallback starts the loopback listener on an ephemeral port.
func ListenCallback() (*Callback, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen on loopback: %w", err)
	}

	cb := &Callback{
		listener: listener,
		result:   make(chan callbackResult, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, cb.handle)

	cb.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		_ = cb.server.Serve(listener)
	}()

	return cb, nil
}

// URL is the address to hand to the server as redirect_uri.
func (c *Callback) URL() string {
	return "http://" + c.listener.Addr().String() + CallbackPath
}

// Wait blocks until the browser hits the callback or ctx ends. The returned
// URL carries the callback's query parameters.
func (c *Callback) Wait(ctx context.Context) (*url.URL, error) {
	select {
	case res := <-c.result:
		return res.location, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the listener.
func (c *Callback) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown callback listener: %w", err)
	}

	return nil
}

func (c *Callback) handle(w http.ResponseWriter, r *http.Request) {
	location := &url.URL{
		Scheme:   "http",
		Host:     r.Host,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}

	q := r.URL.Query()

	var res callbackResult

	switch {
	case q.Get("token") != "":
		res.location = location
	case q.Get("error") != "":
		res.err = fmt.Errorf("sign-in was not completed: %s", q.Get("error"))
	default:
		res.err = errors.New("sign-in callback carried no token")
	}

	delivered := false

	c.once.Do(func() {
		c.result <- res
		delivered = true
	})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	switch {
	case !delivered:
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintf(w, callbackPage, "This sign-in link was already used")
	case res.err != nil:
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, callbackPage, "Sign-in failed")
	default:
		fmt.Fprintf(w, callbackPage, "Signed in to MindGarden")
	}
}
