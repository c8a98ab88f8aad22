package main

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindgarden-dev/garden/internal/buildinfo"
	"github.com/mindgarden-dev/garden/internal/output"
	"github.com/mindgarden-dev/garden/internal/terminal"
	"github.com/mindgarden-dev/garden/internal/update"
)

func runUpdateCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	out := output.NewWriter(&stdout, &stderr, &terminal.Info{})

	cmd := newUpdateCmd()
	cmd.SetArgs(args)
	cmd.SetContext(out.WithContext(t.Context()))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()

	return stdout.String() + stderr.String(), err
}

func TestUpdateCmd_DisabledByEnv(t *testing.T) {
	t.Setenv("GARDEN_UPDATE_DISABLED", "1")

	got, err := runUpdateCmd(t)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !strings.Contains(got, "disabled") {
		t.Errorf("output = %q, want mention of disabled", got)
	}
}

func TestUpdateCmd_DevBuild(t *testing.T) {
	t.Setenv("GARDEN_UPDATE_DISABLED", "")

	old := buildinfo.Version
	buildinfo.Version = "dev"

	t.Cleanup(func() { buildinfo.Version = old })

	got, err := runUpdateCmd(t)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !strings.Contains(got, "Development build") || !strings.Contains(got, update.ReleasesURL) {
		t.Errorf("output = %q", got)
	}
}

func TestWantsUpdateCheck(t *testing.T) {
	t.Setenv("GARDEN_UPDATE_DISABLED", "")

	named := func(name string) *cobra.Command { return &cobra.Command{Use: name} }

	tests := []struct {
		name    string
		cmd     *cobra.Command
		version string
		quiet   bool
		json    bool
		want    bool
	}{
		{name: "release build", cmd: named("status"), version: "1.0.0", want: true},
		{name: "dev build", cmd: named("status"), version: "dev"},
		{name: "quiet", cmd: named("status"), version: "1.0.0", quiet: true},
		{name: "json", cmd: named("status"), version: "1.0.0", json: true},
		{name: "update itself", cmd: named("update"), version: "1.0.0"},
		{name: "monitor", cmd: named("monitor"), version: "1.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := output.NewWriter(io.Discard, io.Discard, nil)
			out.Quiet = tt.quiet
			out.JSON = tt.json

			if got := wantsUpdateCheck(tt.cmd, tt.version, out); got != tt.want {
				t.Errorf("wantsUpdateCheck() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShowUpdateNotice(t *testing.T) {
	state := t.TempDir()
	t.Setenv("XDG_STATE_HOME", state)

	if err := update.SaveState(filepath.Join(state, "garden", "update-check.json"), &update.State{
		LastCheckedAt: time.Now(),
		LatestVersion: "1.5.0",
	}); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer

	out := output.NewWriter(&stdout, &stderr, nil)

	showUpdateNotice(out, "1.4.0")

	if stdout.Len() != 0 {
		t.Errorf("notice went to stdout: %q", stdout.String())
	}

	if !strings.Contains(stderr.String(), "v1.4.0 → v1.5.0") {
		t.Errorf("stderr = %q", stderr.String())
	}

	stderr.Reset()
	showUpdateNotice(out, "1.5.0")

	if stderr.Len() != 0 {
		t.Errorf("up-to-date build printed %q", stderr.String())
	}
}
