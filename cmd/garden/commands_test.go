package main

import (
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindgarden-dev/garden/internal/directory"
	clierrors "github.com/mindgarden-dev/garden/internal/errors"
	"github.com/mindgarden-dev/garden/internal/output"
	"github.com/mindgarden-dev/garden/internal/paths"
	"github.com/mindgarden-dev/garden/internal/recording"
)

func execute(t *testing.T, out *output.Writer, cmd *cobra.Command, args ...string) error {
	t.Helper()

	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetContext(out.WithContext(t.Context()))

	return cmd.Execute()
}

func wantExitCode(t *testing.T, err error, code int) {
	t.Helper()

	var cliErr *clierrors.CLIError
	if !clierrors.As(err, &cliErr) {
		t.Fatalf("error = %v (%T), want CLIError", err, err)
	}

	if cliErr.Code != code {
		t.Fatalf("exit code = %d, want %d", cliErr.Code, code)
	}
}

func TestEmergency_JSON(t *testing.T) {
	isolateConfig(t)

	out, buf := testWriter()
	out.JSON = true

	if err := execute(t, out, newEmergencyCmd(), "--risk-score", "8", "--crisis-type", "panic"); err != nil {
		t.Fatalf("emergency: %v", err)
	}

	var info EmergencyInfo
	if err := json.Unmarshal(buf.Bytes(), &info); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, buf.String())
	}

	if !info.Crisis.InCrisis || info.Crisis.RiskScore != 8 || info.Crisis.CrisisType != "panic" {
		t.Errorf("crisis = %+v, want in crisis at 8 (panic)", info.Crisis)
	}

	if len(info.Hotlines) == 0 {
		t.Error("no hotlines in output")
	}
}

func TestEmergency_PlainShowsHotlines(t *testing.T) {
	isolateConfig(t)

	out, buf := testWriter()

	if err := execute(t, out, newEmergencyCmd()); err != nil {
		t.Fatalf("emergency: %v", err)
	}

	got := buf.String()
	if strings.Contains(got, "You are not alone") {
		t.Error("alert shown without a crisis")
	}

	for _, want := range []string{"Crisis hotlines\n", "988", "Emergency contacts: 988 or 911\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q\n\ngot:\n%s", want, got)
		}
	}
}

func TestEmergency_RejectsRiskScoreOutOfRange(t *testing.T) {
	for _, score := range []string{"11", "-0.5", "NaN", "+Inf"} {
		t.Run(score, func(t *testing.T) {
			isolateConfig(t)

			out, buf := testWriter()
			out.JSON = true

			err := execute(t, out, newEmergencyCmd(), "--risk-score", score)

			wantExitCode(t, err, clierrors.ExitUsage)

			if buf.Len() != 0 {
				t.Errorf("printed %q for a rejected score", buf.String())
			}
		})
	}
}

func TestResourcesList_FiltersByType(t *testing.T) {
	isolateConfig(t)

	out, buf := testWriter()
	out.JSON = true

	if err := execute(t, out, newResourcesListCmd(), "--type", "therapist"); err != nil {
		t.Fatalf("resources list: %v", err)
	}

	var resources []directory.Resource
	if err := json.Unmarshal(buf.Bytes(), &resources); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(resources) == 0 {
		t.Fatal("no therapists in the built-in catalog")
	}

	for _, r := range resources {
		if r.Type != directory.TypeTherapist {
			t.Errorf("resource %q has type %q", r.Name, r.Type)
		}
	}
}

func TestResourcesList_UnknownType(t *testing.T) {
	isolateConfig(t)

	out, _ := testWriter()
	err := execute(t, out, newResourcesListCmd(), "--type", "wizard")

	wantExitCode(t, err, clierrors.ExitUsage)
}

func seedRecording(t *testing.T) string {
	t.Helper()

	dir, err := paths.RecordingsDir()
	if err != nil {
		t.Fatalf("RecordingsDir: %v", err)
	}

	rec, err := recording.NewRecorder(recording.Options{Dir: dir, URL: "ws://live.test"})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	for _, ev := range []struct {
		kind string
		data any
	}{
		{recording.KindConnect, nil},
		{recording.KindAgentStatus, map[string]string{"guide": "thinking"}},
		{recording.KindProcessUpdate, map[string]string{"step": "grounding exercise"}},
	} {
		if err := rec.Append(ev.kind, ev.data); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	return rec.ID()
}

func TestHistoryList_EmptyJSON(t *testing.T) {
	isolateConfig(t)

	out, buf := testWriter()
	out.JSON = true

	if err := execute(t, out, newHistoryListCmd()); err != nil {
		t.Fatalf("history list: %v", err)
	}

	if got := strings.TrimSpace(buf.String()); got != "[]" {
		t.Errorf("output = %q, want []", got)
	}
}

func TestHistoryList_ShowsRecording(t *testing.T) {
	isolateConfig(t)

	id := seedRecording(t)
	out, buf := testWriter()

	if err := execute(t, out, newHistoryListCmd()); err != nil {
		t.Fatalf("history list: %v", err)
	}

	if !strings.Contains(buf.String(), id) {
		t.Errorf("output does not list %s:\n%s", id, buf.String())
	}
}

func TestHistoryShow_FiltersEvents(t *testing.T) {
	isolateConfig(t)

	id := seedRecording(t)
	out, buf := testWriter()

	if err := execute(t, out, newHistoryShowCmd(), id, "--search", "GROUNDING"); err != nil {
		t.Fatalf("history show: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1:\n%s", len(lines), buf.String())
	}

	if !strings.Contains(lines[0], recording.KindProcessUpdate) {
		t.Errorf("line = %q, want a process_update", lines[0])
	}
}

func TestHistoryShow_InvalidID(t *testing.T) {
	isolateConfig(t)

	out, _ := testWriter()
	err := execute(t, out, newHistoryShowCmd(), "../etc")

	wantExitCode(t, err, clierrors.ExitUsage)
}

func TestHistoryPrune_KeepsRecentRecordings(t *testing.T) {
	isolateConfig(t)

	seedRecording(t)

	out, buf := testWriter()
	out.JSON = true

	if err := execute(t, out, newHistoryPruneCmd(), "--older-than", time.Hour.String()); err != nil {
		t.Fatalf("history prune: %v", err)
	}

	var got struct {
		Removed int `json:"removed"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.Removed != 0 {
		t.Errorf("removed = %d, want 0", got.Removed)
	}
}
