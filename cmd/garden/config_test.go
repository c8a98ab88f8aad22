package main

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/mindgarden-dev/garden/internal/config"
	"github.com/mindgarden-dev/garden/internal/output"
	"github.com/mindgarden-dev/garden/internal/terminal"
	"github.com/mindgarden-dev/garden/internal/testutil"
)

func testWriter() (*output.Writer, *bytes.Buffer) {
	var buf bytes.Buffer

	term := &terminal.Info{IsTTY: false, NoColor: true, Width: 80, Height: 24}

	return output.NewWriter(&buf, &buf, term), &buf
}

// isolateConfig points config and state at temp dirs and clears GARDEN_*
// overrides inherited from the environment.
func isolateConfig(t *testing.T) {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	for _, kv := range os.Environ() {
		if key, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(key, "GARDEN_") {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

func runConfigCmd(t *testing.T, build func() *cobra.Command, args ...string) (string, error) {
	t.Helper()

	out, buf := testWriter()
	err := execute(t, out, build(), args...)

	return buf.String(), err
}

func TestConfigGet_Set_Golden(t *testing.T) {
	isolateConfig(t)
	t.Setenv("GARDEN_API_URL", "https://api.mindgarden.example")

	got, err := runConfigCmd(t, newConfigGetCmd, "api.url")
	if err != nil {
		t.Fatalf("config get: %v", err)
	}

	testutil.AssertGolden(t, got, "config_get_set.golden")
}

func TestConfigGet_Unset_Golden(t *testing.T) {
	isolateConfig(t)

	got, err := runConfigCmd(t, newConfigGetCmd, "custom.key")
	if err != nil {
		t.Fatalf("config get for unset key: %v", err)
	}

	testutil.AssertGolden(t, got, "config_get_unset.golden")
}

func TestConfigList_ShowsDefaults(t *testing.T) {
	isolateConfig(t)

	got, err := runConfigCmd(t, newConfigListCmd)
	if err != nil {
		t.Fatalf("config list: %v", err)
	}

	for _, want := range []string{
		"api.url = " + config.DefaultAPIURL + "\n",
		"live.url = " + config.DefaultLiveURL + "\n",
		"live.connect_timeout = 5s\n",
		"live.max_updates = 500\n",
		"recording.enabled = false\n",
		"Built-in settings:\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("config list output missing %q\n\ngot:\n%s", want, got)
		}
	}

	if strings.Index(got, "api.url =") > strings.Index(got, "live.url =") {
		t.Error("config list keys are not sorted")
	}
}

func TestConfigSet_PersistsAndValidatesAPIURL(t *testing.T) {
	isolateConfig(t)

	if _, err := runConfigCmd(t, newConfigSetCmd, "api.url", "ftp://nope"); err == nil {
		t.Fatal("config set accepted a non-http API URL")
	}

	got, err := runConfigCmd(t, newConfigSetCmd, "api.url", "https://api.mindgarden.example/")
	if err != nil {
		t.Fatalf("config set: %v", err)
	}

	if !strings.Contains(got, "Set api.url = https://api.mindgarden.example") {
		t.Errorf("output = %q", got)
	}

	if url := config.Load().APIURL(); url != "https://api.mindgarden.example" {
		t.Errorf("persisted api.url = %q", url)
	}
}
