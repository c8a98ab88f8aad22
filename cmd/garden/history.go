package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"

	"github.com/mindgarden-dev/garden/internal/config"
	clierrors "github.com/mindgarden-dev/garden/internal/errors"
	"github.com/mindgarden-dev/garden/internal/monitor"
	"github.com/mindgarden-dev/garden/internal/output"
	"github.com/mindgarden-dev/garden/internal/paths"
	"github.com/mindgarden-dev/garden/internal/recording"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Replay recorded monitor sessions",
		Long: `List, replay and prune live sessions saved with 'garden monitor --record'
(or with recording.enabled set in the config).`,
	}

	cmd.AddCommand(newHistoryListCmd())
	cmd.AddCommand(newHistoryShowCmd())
	cmd.AddCommand(newHistoryPruneCmd())

	return cmd
}

func recordingsDir() (string, error) {
	dir, err := paths.RecordingsDir()
	if err != nil {
		return "", clierrors.ConfigFailed("resolve recordings dir", err)
	}

	return dir, nil
}

func newHistoryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded sessions",
		Long:  `List recorded monitor sessions, newest first, with their start time and length.`,
		Example: `  garden history list
  garden history list --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			dir, err := recordingsDir()
			if err != nil {
				return err
			}

			summaries, err := recording.List(dir)
			if err != nil {
				return clierrors.ConfigFailed("list recordings", err)
			}

			if out.JSON {
				if summaries == nil {
					summaries = []recording.Summary{}
				}

				return out.PrintJSON(summaries)
			}

			if len(summaries) == 0 {
				out.Muted("No recordings yet. Run 'garden monitor --record' to make one.")
				return nil
			}

			rows := make([][]string, 0, len(summaries))
			for _, s := range summaries {
				duration := "open"
				if s.Closed() {
					duration = s.ClosedAt.Sub(s.StartedAt).Round(time.Second).String()
				}

				rows = append(rows, []string{s.ID, s.StartedAt.Local().Format(time.DateTime), duration})
			}

			out.Table([]string{"ID", "STARTED", "DURATION"}, rows)

			return nil
		},
	}
}

func newHistoryShowCmd() *cobra.Command {
	var (
		search string
		kind   string
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Replay the events of a recorded session",
		Long: `Print the events of one recording in the order they arrived. Filter by
event kind or payload text, or follow a session that is still recording.`,
		Example: `  garden history show 20261018-142501-9f3a1c2e
  garden history show 20261018-142501-9f3a1c2e --kind process_update --search error
  garden history show 20261018-142501-9f3a1c2e --follow`,
		Args: cobra.ExactArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			dir, err := paths.RecordingsDir()
			if err != nil {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}

			summaries, _ := recording.List(dir)

			ids := make([]string, 0, len(summaries))
			for _, s := range summaries {
				ids = append(ids, s.ID)
			}

			return ids, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			out := output.FromContext(cmd.Context())

			if err := recording.ValidateID(id); err != nil {
				return clierrors.New(clierrors.ExitUsage, err.Error()).
					WithHint("Run 'garden history list' to see recording ids")
			}

			dir, err := recordingsDir()
			if err != nil {
				return err
			}

			match := func(ev recording.Event) bool {
				if kind != "" && ev.Kind != kind {
					return false
				}

				return search == "" || strings.Contains(strings.ToLower(string(ev.Data)), strings.ToLower(search))
			}

			show := func(events []recording.Event) {
				for _, ev := range events {
					if match(ev) {
						printRecordedEvent(out, ev)
					}
				}
			}

			if !follow {
				events, err := recording.Read(dir, id)
				if err != nil {
					return clierrors.ConfigFailed("read recording", err)
				}

				show(events)

				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var offset int64

			for {
				events, next, err := recording.ReadLiveFrom(dir, id, offset)
				if err != nil {
					return clierrors.ConfigFailed("read recording", err)
				}

				show(events)
				offset = next

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(time.Second):
				}
			}
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "Only show events whose payload contains this text")
	cmd.Flags().StringVar(&kind, "kind", "", "Only show one event kind (agent_status, process_update, crisis_alert, crisis_state, message)")
	cmd.Flags().BoolVar(&follow, "follow", false, "Keep printing events as a running session records them")

	return cmd
}

func printRecordedEvent(out *output.Writer, ev recording.Event) {
	if out.JSON {
		line, err := json.Marshal(ev)
		if err == nil {
			out.Print("%s\n", line)
		}

		return
	}

	stamp := ev.TS.Local().Format(time.TimeOnly)
	body := ""

	if len(ev.Data) > 0 {
		body = monitor.FormatUpdate(ev.Data, max(out.Terminal().Width-len(stamp)-len(ev.Kind)-2, 20))
	}

	out.Print("%s %s %s\n", out.Dim(stamp), ev.Kind, ansi.Strip(body))
}

func newHistoryPruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old recordings",
		Long: `Delete recordings that finished longer ago than the retention window
(recording.retention, 720h by default).`,
		Example: `  garden history prune
  garden history prune --older-than 168h`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			window := config.Load().RecordingRetention()
			if cmd.Flags().Changed("older-than") {
				if olderThan <= 0 {
					return clierrors.New(clierrors.ExitUsage, "--older-than must be positive").
						WithHint("Pass a duration such as --older-than 168h")
				}

				window = olderThan
			}

			dir, err := recordingsDir()
			if err != nil {
				return err
			}

			removed, err := recording.Prune(dir, time.Now().Add(-window))
			if err != nil {
				return clierrors.ConfigFailed("prune recordings", err)
			}

			if out.JSON {
				return out.PrintJSON(map[string]int{"removed": removed})
			}

			out.Success("Removed %d recording(s)", removed)

			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, fmt.Sprintf("Override the retention window (default %s)", config.DefaultRecordingRetention))

	return cmd
}
