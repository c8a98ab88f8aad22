// Package livestatus maintains the push connection to the process monitor:
// agent statuses, a bounded log of process updates, and crisis alerts that
// are handed to whoever registered for them.
//
// Frames are JSON envelopes of the form {"event": "<name>", "data": <json>}.
// The channel never reconnects on its own; callers decide when to Connect.
package livestatus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mindgarden-dev/garden/internal/buildinfo"
	"github.com/mindgarden-dev/garden/internal/client"
	"github.com/mindgarden-dev/garden/internal/observability"
)

const tracerName = "github.com/mindgarden-dev/garden/internal/livestatus"

// Defaults applied when Config leaves a field zero.
const (
	DefaultURL            = "ws://localhost:8000/ws/process-monitor"
	DefaultConnectTimeout = 5 * time.Second
	DefaultMaxUpdates     = 500
)

const readLimit = 1 << 20

// Event names carried in the envelope.
const (
	EventConnect       = "connect"
	EventDisconnect    = "disconnect"
	EventAgentStatus   = "agent_status"
	EventProcessUpdate = "process_update"
	EventCrisisAlert   = "crisis_alert"
	EventMessage       = "message"
)

// Envelope is a single frame on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ConnState is the lifecycle state of the channel.
type ConnState int

// Connection states.
const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Snapshot is a copy of the channel's view of the world.
type Snapshot struct {
	State       ConnState         `json:"-"`
	Connected   bool              `json:"connected"`
	AgentStatus map[string]string `json:"agent_status"`
	Updates     []json.RawMessage `json:"process_updates"`
	LastUpdate  time.Time         `json:"last_update,omitzero"`
}

// AlertHandler receives crisis_alert payloads.
type AlertHandler func(payload json.RawMessage)

// Config describes where and how to connect.
type Config struct {
	URL            string
	ConnectTimeout time.Duration
	MaxUpdates     int
	// Credentials, when set, supplies a bearer token for the handshake.
	Credentials client.CredentialProvider
	HTTPClient  *http.Client
}

// Channel is the goroutine-safe live status connection.
type Channel struct {
	cfg      Config
	tracer   trace.Tracer
	logger   *slog.Logger
	onChange func(Snapshot)
	onAlert  AlertHandler
	onEvent  func(Envelope)
	now      func() time.Time

	mu          sync.Mutex
	conn        *websocket.Conn
	cancelRead  context.CancelFunc
	gen         uint64
	state       ConnState
	agentStatus map[string]string
	updates     *updateRing
	lastUpdate  time.Time
}

// Option configures a Channel.
type Option func(*Channel)

// OnChange registers fn to receive a snapshot after every state change. fn
// runs outside the channel lock, on whichever goroutine made the change.
func OnChange(fn func(Snapshot)) Option {
	return func(c *Channel) {
		c.onChange = fn
	}
}

// OnCrisisAlert registers the crisis_alert handler.
func OnCrisisAlert(fn AlertHandler) Option {
	return func(c *Channel) {
		c.onAlert = fn
	}
}

// OnEvent registers fn to receive every frame the channel accepted, as it
// arrived. It runs on the read loop before crisis handlers and OnChange.
func OnEvent(fn func(Envelope)) Option {
	return func(c *Channel) {
		c.onEvent = fn
	}
}

// WithLogger sets the logger used by the read loop.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source used for LastUpdate.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) {
		if now != nil {
			c.now = now
		}
	}
}

// New returns a disconnected Channel.
func New(cfg Config, opts ...Option) *Channel {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	if cfg.MaxUpdates <= 0 {
		cfg.MaxUpdates = DefaultMaxUpdates
	}

	c := &Channel{
		cfg:         cfg,
		tracer:      observability.Tracer(tracerName),
		logger:      observability.Discard(),
		now:         time.Now,
		agentStatus: map[string]string{},
		updates:     newUpdateRing(cfg.MaxUpdates),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With(slog.String("component", "livestatus"))

	return c
}

// URL returns the endpoint the channel dials.
func (c *Channel) URL() string {
	return c.cfg.URL
}

// Connect closes any existing connection and dials a new one. A failed dial
// leaves the channel disconnected and is not retried.
func (c *Channel) Connect(ctx context.Context) (err error) {
	ctx, span := c.tracer.Start(ctx, "livestatus.Connect", trace.WithAttributes(
		attribute.String("live.url", c.cfg.URL),
	))
	defer func() { observability.EndSpan(span, err) }()

	c.Disconnect()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.state = Connecting
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, c.cfg.URL, c.dialOptions())
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.state = Disconnected
		}
		snap = c.snapshotLocked()
		c.mu.Unlock()

		c.notify(snap)

		return fmt.Errorf("connect to %s: %w", c.cfg.URL, err)
	}

	conn.SetReadLimit(readLimit)

	c.mu.Lock()
	if c.gen != gen {
		// Disconnect or another Connect ran while dialing.
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "superseded")

		return errors.New("connect superseded")
	}

	readCtx, cancelRead := context.WithCancel(context.Background())
	c.conn = conn
	c.cancelRead = cancelRead
	c.state = Connected
	snap = c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("Live channel connected", slog.String("url", c.cfg.URL))
	c.notify(snap)

	go c.readLoop(readCtx, conn, gen)

	return nil
}

// Disconnect closes the connection, if any, and clears the snapshot. It is
// safe to call at any time and any number of times.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.gen++
	conn := c.conn
	cancelRead := c.cancelRead
	wasIdle := conn == nil && c.state == Disconnected && c.updates.len() == 0 && len(c.agentStatus) == 0
	c.conn = nil
	c.cancelRead = nil
	c.state = Disconnected
	c.agentStatus = map[string]string{}
	c.updates.reset()
	c.lastUpdate = time.Time{}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if cancelRead != nil {
		cancelRead()
	}

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		c.logger.Info("Live channel disconnected")
	}

	if !wasIdle {
		c.notify(snap)
	}
}

// Run connects, calls fn, and always disconnects afterwards.
func (c *Channel) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Disconnect()

	return fn(ctx)
}

// SendMessage emits a message event when connected. Otherwise, and on write
// failure, it does nothing.
func (c *Channel) SendMessage(ctx context.Context, text string) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return
	}

	data, err := json.Marshal(text)
	if err != nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	if err := wsjson.Write(writeCtx, conn, Envelope{Event: EventMessage, Data: data}); err != nil {
		c.logger.Warn("Send message failed", slog.String("error", err.Error()))
	}
}

// Snapshot returns a copy of the current state.
func (c *Channel) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshotLocked()
}

// Connected reports whether the channel is currently connected.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state == Connected
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.dropped(conn, gen, err)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.logger.Debug("Dropping malformed frame", slog.Int("bytes", len(data)))
			continue
		}

		c.fold(gen, env)
	}
}

// dropped handles read-loop termination for connection gen.
func (c *Channel) dropped(conn *websocket.Conn, gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}

	cancelRead := c.cancelRead
	c.conn = nil
	c.cancelRead = nil
	c.state = Disconnected
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if cancelRead != nil {
		cancelRead()
	}

	_ = conn.CloseNow()

	if websocket.CloseStatus(err) != -1 {
		c.logger.Info("Live channel closed by server", slog.Int("status", int(websocket.CloseStatus(err))))
	} else {
		c.logger.Warn("Live channel read error", slog.String("error", err.Error()))
	}

	c.notify(snap)
}

// fold applies one inbound event to the snapshot, if gen is still current.
func (c *Channel) fold(gen uint64, env Envelope) {
	var alert json.RawMessage

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}

	switch env.Event {
	case EventConnect:
		c.state = Connected
	case EventDisconnect:
		c.state = Disconnected
	case EventAgentStatus:
		status, ok := decodeAgentStatus(env.Data)
		if !ok {
			c.mu.Unlock()
			c.logger.Debug("Dropping malformed agent_status")

			return
		}

		c.agentStatus = status
		c.lastUpdate = c.now()
	case EventProcessUpdate:
		payload := env.Data
		if len(payload) == 0 {
			payload = json.RawMessage("null")
		}

		c.updates.push(payload)
		c.lastUpdate = c.now()
	case EventCrisisAlert:
		alert = env.Data
		if alert == nil {
			alert = json.RawMessage("null")
		}
	default:
		c.mu.Unlock()
		c.logger.Debug("Ignoring unknown event", slog.String("event", env.Event))

		return
	}

	snap := c.snapshotLocked()
	onAlert := c.onAlert
	onEvent := c.onEvent
	c.mu.Unlock()

	if onEvent != nil {
		onEvent(env)
	}

	if alert != nil {
		c.logger.Warn("Crisis alert received")

		if onAlert != nil {
			onAlert(alert)
		}
	}

	c.notify(snap)
}

func decodeAgentStatus(data json.RawMessage) (map[string]string, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}

	status := map[string]string{}
	if err := json.Unmarshal(trimmed, &status); err != nil {
		return nil, false
	}

	return status, true
}

func (c *Channel) snapshotLocked() Snapshot {
	return Snapshot{
		State:       c.state,
		Connected:   c.state == Connected,
		AgentStatus: maps.Clone(c.agentStatus),
		Updates:     c.updates.items(),
		LastUpdate:  c.lastUpdate,
	}
}

func (c *Channel) notify(snap Snapshot) {
	if c.onChange != nil {
		c.onChange(snap)
	}
}

func (c *Channel) dialOptions() *websocket.DialOptions {
	header := http.Header{}
	header.Set("User-Agent", buildinfo.UserAgent())

	if c.cfg.Credentials != nil {
		if token := c.cfg.Credentials.BearerToken(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	return &websocket.DialOptions{
		HTTPClient: c.cfg.HTTPClient,
		HTTPHeader: header,
	}
}
