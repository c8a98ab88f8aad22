package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	selfupdate "github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"

	"github.com/mindgarden-dev/garden/internal/buildinfo"
	clierrors "github.com/mindgarden-dev/garden/internal/errors"
	"github.com/mindgarden-dev/garden/internal/output"
	"github.com/mindgarden-dev/garden/internal/update"
)

func newUpdateCmd() *cobra.Command {
	var (
		targetVersion string
		force         bool
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update garden to the latest version",
		Long: `Update garden from GitHub Releases.

The new binary is checksum-verified before it replaces the current one. If
the install directory is not writable, sudo is requested.

Set GARDEN_UPDATE_DISABLED=1 to turn off update checks.`,
		Example: `  garden update
  garden update --version 1.2.0
  garden update --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			if update.Disabled() {
				out.Warning("Updates are disabled (GARDEN_UPDATE_DISABLED is set)")
				return nil
			}

			current := buildinfo.Version
			if current == "dev" && targetVersion == "" {
				out.Warning("Development build, current version unknown")
				out.Info("Install a release build: %s", update.ReleasesURL)

				return nil
			}

			updater, err := update.New(os.Getenv("GITHUB_TOKEN"))
			if err != nil {
				return clierrors.RequestFailed("initialize updater", err)
			}

			if targetVersion != "" {
				return installVersion(cmd.Context(), out, updater, strings.TrimPrefix(targetVersion, "v"))
			}

			return installLatest(cmd.Context(), out, updater, current, force)
		},
	}

	cmd.Flags().StringVar(&targetVersion, "version", "", "Install a specific version (e.g. 1.2.3)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Reinstall even when already up to date")

	return cmd
}

func installLatest(ctx context.Context, out *output.Writer, updater *update.Updater, current string, force bool) error {
	spin := out.Spinner("Checking for updates")
	spin.Start()

	info, err := updater.Check(ctx, current)
	if err != nil {
		spin.StopWithFailure("Update check failed")

		cliErr := clierrors.RequestFailed("check for updates", err)
		if strings.Contains(err.Error(), "403") {
			cliErr = cliErr.WithHint("Set GITHUB_TOKEN to avoid GitHub rate limits")
		}

		return cliErr
	}

	if out.JSON {
		spin.Stop()
		return out.PrintJSON(info)
	}

	saveUpdateState(current, info)

	if !info.UpdateAvailable && !force {
		spin.StopWithSuccess(fmt.Sprintf("Already up to date (v%s)", current))
		return nil
	}

	if info.Release == nil {
		spin.StopWithFailure("No release found for this platform")
		return clierrors.New(clierrors.ExitGeneral, "No release found for this platform").
			WithHint("See " + update.ReleasesURL)
	}

	if info.UpdateAvailable {
		spin.StopWithSuccess(fmt.Sprintf("Update available: v%s → v%s", current, info.LatestVersion))
	} else {
		spin.StopWithSuccess(fmt.Sprintf("Reinstalling v%s", info.LatestVersion))
	}

	if elevated, err := elevateIfNeeded(); elevated || err != nil {
		return err
	}

	spin = out.Spinner(fmt.Sprintf("Downloading v%s", info.LatestVersion))
	spin.Start()

	if err := updater.Install(ctx, info.Release); err != nil {
		spin.StopWithFailure("Update failed")
		return clierrors.RequestFailed("install update", err)
	}

	spin.StopWithSuccess(fmt.Sprintf("Updated to v%s", info.LatestVersion))

	if info.ReleaseURL != "" {
		out.Muted("Release notes: %s", info.ReleaseURL)
	}

	return nil
}

func installVersion(ctx context.Context, out *output.Writer, updater *update.Updater, version string) error {
	if elevated, err := elevateIfNeeded(); elevated || err != nil {
		return err
	}

	spin := out.Spinner(fmt.Sprintf("Installing v%s", version))
	spin.Start()

	release, err := updater.InstallVersion(ctx, version)
	if err != nil {
		spin.StopWithFailure(fmt.Sprintf("Failed to install v%s", version))

		cliErr := clierrors.RequestFailed("install v"+version, err)
		if strings.Contains(err.Error(), "not found") {
			cliErr = cliErr.WithHint("Check available versions at " + update.ReleasesURL)
		}

		return cliErr
	}

	spin.StopWithSuccess(fmt.Sprintf("Installed v%s", release.Version()))

	return nil
}

// elevateIfNeeded re-runs the command under sudo when the binary is not
// writable. elevated is true only if the process was handed off.
func elevateIfNeeded() (elevated bool, err error) {
	execPath, err := selfupdate.ExecutablePath()
	if err != nil || !update.NeedsElevation(execPath) {
		return false, nil
	}

	if err := update.ReExecWithSudo(); err != nil {
		return false, clierrors.Wrap(clierrors.ExitGeneral, "Cannot write to the install directory", err).
			WithHint("Rerun with elevated permissions")
	}

	return true, nil
}

func saveUpdateState(current string, info *update.Info) {
	path, err := update.StatePath()
	if err != nil {
		return
	}

	_ = update.SaveState(path, &update.State{
		LastCheckedAt:  time.Now(),
		LatestVersion:  info.LatestVersion,
		CurrentVersion: current,
		ReleaseURL:     info.ReleaseURL,
	})
}

// Background checks run alongside a command and are awaited after it so
// the notice reads fresh state.
var updateWg sync.WaitGroup

// skipUpdateCommands never check for updates or print the notice.
var skipUpdateCommands = map[string]bool{
	"update":     true,
	"version":    true,
	"completion": true,
	"doctor":     true,
	"monitor":    true,
}

func wantsUpdateCheck(cmd *cobra.Command, ver string, out *output.Writer) bool {
	if ver == "dev" || out.Quiet || out.JSON || update.Disabled() {
		return false
	}

	return !skipUpdateCommands[cmd.Name()]
}

func backgroundUpdateCheck(current string) {
	path, err := update.StatePath()
	if err != nil {
		return
	}

	state, err := update.LoadState(path)
	if err != nil || !state.Due(time.Now()) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	updater, err := update.New(os.Getenv("GITHUB_TOKEN"))
	if err != nil {
		return
	}

	info, err := updater.Check(ctx, current)
	if err != nil {
		return
	}

	saveUpdateState(current, info)
}

func showUpdateNotice(out *output.Writer, current string) {
	path, err := update.StatePath()
	if err != nil {
		return
	}

	state, err := update.LoadState(path)
	if err != nil || !state.HasUpdate(current) {
		return
	}

	out.Errorln()
	out.Error("A new version of garden is available: v%s → v%s\n", current, state.LatestVersion)
	out.Error("  Run 'garden update' to update\n")
}
