// Package update checks GitHub Releases for newer garden builds and
// replaces the running binary with a checksum-verified download.
package update

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
	selfupdate "github.com/creativeprojects/go-selfupdate"
)

// Repo is the GitHub repository releases are published to.
const Repo = "mindgarden-dev/garden"

// ReleasesURL is where users can browse published versions.
const ReleasesURL = "https://github.com/" + Repo + "/releases"

// Disabled reports whether GARDEN_UPDATE_DISABLED turns update checks off.
func Disabled() bool {
	v := strings.TrimSpace(os.Getenv("GARDEN_UPDATE_DISABLED"))
	return v == "1" || strings.EqualFold(v, "true")
}

// Info is the outcome of a release check.
type Info struct {
	CurrentVersion  string `json:"currentVersion"`
	LatestVersion   string `json:"latestVersion"`
	UpdateAvailable bool   `json:"updateAvailable"`
	ReleaseURL      string `json:"releaseURL,omitempty"`

	// Release is nil when no release matches this platform.
	Release *selfupdate.Release `json:"-"`
}

// Updater finds and installs releases.
type Updater struct {
	updater *selfupdate.Updater
	repo    selfupdate.RepositorySlug
}

// New returns an Updater for the garden GitHub repository. token may be
// empty; GitHub then applies anonymous rate limits.
func New(token string) (*Updater, error) {
	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{APIToken: token})
	if err != nil {
		return nil, fmt.Errorf("create github source: %w", err)
	}

	updater, err := selfupdate.NewUpdater(selfupdate.Config{
		Source:    source,
		Validator: &selfupdate.ChecksumValidator{UniqueFilename: "checksums.txt"},
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	})
	if err != nil {
		return nil, fmt.Errorf("create updater: %w", err)
	}

	return &Updater{updater: updater, repo: selfupdate.ParseSlug(Repo)}, nil
}

// Check looks up the latest release. A current version that is not semver,
// such as "dev", always reports an update.
func (u *Updater) Check(ctx context.Context, current string) (*Info, error) {
	latest, found, err := u.updater.DetectLatest(ctx, u.repo)
	if err != nil {
		return nil, fmt.Errorf("detect latest release: %w", err)
	}

	info := &Info{CurrentVersion: current, LatestVersion: current}
	if !found {
		return info, nil
	}

	info.LatestVersion = latest.Version()
	info.ReleaseURL = latest.URL
	info.Release = latest

	if _, err := semver.NewVersion(current); err != nil {
		info.UpdateAvailable = true
		return info, nil
	}

	info.UpdateAvailable = Newer(current, info.LatestVersion)

	return info, nil
}

// Install replaces the running executable with release.
func (u *Updater) Install(ctx context.Context, release *selfupdate.Release) error {
	execPath, err := selfupdate.ExecutablePath()
	if err != nil {
		return fmt.Errorf("find executable path: %w", err)
	}

	if err := u.updater.UpdateTo(ctx, release, execPath); err != nil {
		return fmt.Errorf("apply update: %w", err)
	}

	return nil
}

// InstallVersion finds version and installs it.
func (u *Updater) InstallVersion(ctx context.Context, version string) (*selfupdate.Release, error) {
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")

	release, found, err := u.updater.DetectVersion(ctx, u.repo, version)
	if err != nil {
		return nil, fmt.Errorf("detect version %s: %w", version, err)
	}

	if !found {
		return nil, fmt.Errorf("version %s not found", version)
	}

	if err := u.Install(ctx, release); err != nil {
		return nil, err
	}

	return release, nil
}

// Newer reports whether latest is a higher semantic version than current.
// Unparseable versions never compare as newer.
func Newer(current, latest string) bool {
	if current == "" || latest == "" {
		return false
	}

	cur, err := semver.NewVersion(current)
	if err != nil {
		return false
	}

	next, err := semver.NewVersion(latest)
	if err != nil {
		return false
	}

	return next.GreaterThan(cur)
}
