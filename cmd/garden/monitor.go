package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mindgarden-dev/garden/internal/config"
	"github.com/mindgarden-dev/garden/internal/crisis"
	clierrors "github.com/mindgarden-dev/garden/internal/errors"
	"github.com/mindgarden-dev/garden/internal/livestatus"
	"github.com/mindgarden-dev/garden/internal/monitor"
	"github.com/mindgarden-dev/garden/internal/observability"
	"github.com/mindgarden-dev/garden/internal/output"
	"github.com/mindgarden-dev/garden/internal/paths"
	"github.com/mindgarden-dev/garden/internal/recording"
)

func newMonitorCmd() *cobra.Command {
	var (
		plain  bool
		record bool
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch the support agents live",
		Long: `Connect to the MindGarden live status channel and show agent states,
process updates and crisis alerts as they arrive.

In a terminal this opens a full-screen view where you can message the
support agents and press r to reconnect after a drop. With --plain, or when
output is not a terminal, events are printed one per line until the channel
closes or you press Ctrl+C.

--record saves the session so it can be replayed with 'garden history'.`,
		Example: `  garden monitor
  garden monitor --plain
  garden monitor --plain --json
  garden monitor --record`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := newServices(ctx)
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("record") {
				record = svc.cfg.RecordingEnabled()
			}

			var rec *recording.Recorder
			if record {
				rec, err = startRecording(svc.cfg)
				if err != nil {
					return err
				}

				defer func() {
					if closeErr := rec.Close(); closeErr != nil {
						observability.FromContext(ctx).Warn("Closing recording failed", slog.String("error", closeErr.Error()))
					}
				}()
			}

			if plain || out.JSON || !out.Terminal().InteractiveEnabled() {
				if rec != nil && !out.JSON {
					out.Muted("Recording to %s", rec.ID())
				}

				return runPlainMonitor(ctx, out, svc, rec)
			}

			if err := runMonitorTUI(ctx, svc, rec); err != nil {
				return err
			}

			if rec != nil {
				out.Muted("Saved recording %s", rec.ID())
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Print events line by line instead of the full-screen view")
	cmd.Flags().BoolVar(&record, "record", false, "Save this session for 'garden history'")

	return cmd
}

func startRecording(cfg *config.Config) (*recording.Recorder, error) {
	dir, err := paths.RecordingsDir()
	if err != nil {
		return nil, clierrors.ConfigFailed("resolve recordings dir", err)
	}

	rec, err := recording.NewRecorder(recording.Options{Dir: dir, URL: cfg.LiveURL()})
	if err != nil {
		return nil, clierrors.ConfigFailed("start recording", err)
	}

	return rec, nil
}

func runMonitorTUI(ctx context.Context, svc *services, rec *recording.Recorder) error {
	var program *tea.Program

	send := func(msg tea.Msg) {
		if program != nil {
			program.Send(msg)
		}
	}

	watcher := newLiveWatcher(nil, rec, observability.FromContext(ctx))

	signal := crisis.New(crisis.OnChange(func(st crisis.State) {
		send(monitor.CrisisMsg{State: st})
	}))

	channel := svc.liveChannel(ctx,
		livestatus.OnEvent(watcher.frame),
		livestatus.OnChange(func(snap livestatus.Snapshot) {
			watcher.observe(snap)
			send(monitor.SnapshotMsg{Snapshot: snap})
		}),
		livestatus.OnCrisisAlert(watcher.alertHandler(signal)),
	)
	defer channel.Disconnect()

	program = tea.NewProgram(
		monitor.New(ctx, watcher.wrap(channel), signal.State()),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run monitor: %w", err)
	}

	return nil
}

func runPlainMonitor(ctx context.Context, out *output.Writer, svc *services, rec *recording.Recorder) error {
	watcher := newLiveWatcher(out, rec, observability.FromContext(ctx))
	closed := make(chan struct{})

	var closeOnce sync.Once

	channel := svc.liveChannel(ctx,
		livestatus.OnEvent(watcher.frame),
		livestatus.OnChange(func(snap livestatus.Snapshot) {
			if watcher.observe(snap) {
				closeOnce.Do(func() { close(closed) })
			}
		}),
		livestatus.OnCrisisAlert(watcher.alertHandler(crisis.New())),
	)

	err := channel.Run(ctx, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
		case <-closed:
		}

		return nil
	})
	if err != nil {
		return clierrors.LiveUnavailable(channel.URL(), err)
	}

	return nil
}

// liveEvent is one monitor event. Kind uses the recording event kinds; it
// is also the "event" field of --plain --json output.
type liveEvent struct {
	Kind string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// stateChange reports the connect or disconnect implied by moving from prev
// to cur. closed reports a drop of a connection that had been up.
func stateChange(prev, cur livestatus.ConnState) (ev liveEvent, ok, closed bool) {
	if cur == prev {
		return liveEvent{}, false, false
	}

	switch cur {
	case livestatus.Connected:
		return liveEvent{Kind: recording.KindConnect}, true, false
	case livestatus.Disconnected:
		if prev == livestatus.Connected {
			return liveEvent{Kind: recording.KindDisconnect}, true, true
		}
	}

	return liveEvent{}, false, false
}

// liveWatcher prints and records what happens on the live channel. Frames
// are taken as they arrive, connection changes come from snapshots and the
// crisis state is reported once per alert.
type liveWatcher struct {
	out    *output.Writer
	rec    *recording.Recorder
	logger *slog.Logger

	mu    sync.Mutex
	state livestatus.ConnState
}

func newLiveWatcher(out *output.Writer, rec *recording.Recorder, logger *slog.Logger) *liveWatcher {
	return &liveWatcher{out: out, rec: rec, logger: logger}
}

// frame handles one inbound frame. Connection frames are left to observe so
// a connect is reported once however it was signalled.
func (w *liveWatcher) frame(env livestatus.Envelope) {
	switch env.Event {
	case livestatus.EventAgentStatus, livestatus.EventProcessUpdate, livestatus.EventCrisisAlert:
	default:
		return
	}

	ev := liveEvent{Kind: env.Event}
	if len(env.Data) > 0 {
		ev.Data = env.Data
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.emit(ev)
}

func (w *liveWatcher) observe(snap livestatus.Snapshot) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	ev, ok, closed := stateChange(w.state, snap.State)
	w.state = snap.State

	if ok {
		w.emit(ev)
	}

	return closed
}

// alertHandler folds each alert into signal, then reports the resulting
// state once.
func (w *liveWatcher) alertHandler(signal *crisis.Signal) livestatus.AlertHandler {
	return func(payload json.RawMessage) {
		signal.HandleCrisisAlert(payload)
		w.crisis(signal.State())
	}
}

func (w *liveWatcher) crisis(st crisis.State) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.emit(liveEvent{Kind: recording.KindCrisisState, Data: st})
}

// emit must be called with mu held.
func (w *liveWatcher) emit(ev liveEvent) {
	if w.rec != nil {
		if err := w.rec.Append(ev.Kind, ev.Data); err != nil {
			w.logger.Warn("Recording event failed", slog.String("event", ev.Kind), slog.String("error", err.Error()))
		}
	}

	if w.out != nil {
		printEvent(w.out, ev)
	}
}

func printEvent(out *output.Writer, ev liveEvent) {
	if out.JSON {
		line, err := json.Marshal(ev)
		if err == nil {
			out.Print("%s\n", line)
		}

		return
	}

	switch ev.Kind {
	case recording.KindConnect:
		out.Success("Connected")
	case recording.KindDisconnect:
		out.Warning("Live status channel closed")
	case recording.KindAgentStatus:
		raw, _ := ev.Data.(json.RawMessage)

		var status map[string]string
		if err := json.Unmarshal(raw, &status); err != nil {
			return
		}

		for _, name := range slices.Sorted(maps.Keys(status)) {
			out.Info("%s: %s", name, status[name])
		}
	case recording.KindProcessUpdate:
		raw, _ := ev.Data.(json.RawMessage)
		if raw == nil {
			raw = json.RawMessage("null")
		}

		out.Print("%s\n", monitor.FormatUpdate(raw, out.Terminal().Width))
	case recording.KindCrisisState:
		st := ev.Data.(crisis.State)
		if st.InCrisis {
			out.Alert("Crisis alert: call %s now", joinContacts(st.EmergencyContacts))
			return
		}

		out.Warning("Crisis signal updated (risk %.1f)", st.RiskScore)
	}
}

// wrap records messages the user sends over ch.
func (w *liveWatcher) wrap(ch *livestatus.Channel) monitor.Channel {
	if w.rec == nil {
		return ch
	}

	return &recordingChannel{Channel: ch, watcher: w}
}

type recordingChannel struct {
	*livestatus.Channel
	watcher *liveWatcher
}

func (c *recordingChannel) SendMessage(ctx context.Context, text string) {
	delivered := c.Connected()
	c.Channel.SendMessage(ctx, text)

	if !delivered {
		return
	}

	c.watcher.mu.Lock()
	defer c.watcher.mu.Unlock()

	c.watcher.emit(liveEvent{Kind: recording.KindMessage, Data: map[string]string{"text": text}})
}
