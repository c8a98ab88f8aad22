// Package doctor provides diagnostic checks for the garden client.
//
// The default checks validate:
//   - API connectivity and response time
//   - Session state and where the credentials are stored
//   - Live status channel reachability
//   - Config file presence
//   - Build version
package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mindgarden-dev/garden/internal/buildinfo"
)

// Status represents the result of a diagnostic check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical failure.
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Result holds the outcome of a single check.
type Result struct {
	Name    string `json:"name"`
	Status  Status `json:"-"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"` // Optional additional detail
}

// Check is a diagnostic check function.
type Check func(ctx context.Context) Result

// Runner executes diagnostic checks.
type Runner struct {
	checks []namedCheck
}

type namedCheck struct {
	name  string
	check Check
}

// Pinger reaches the API without credentials.
type Pinger interface {
	BaseURL() string
	Ping(ctx context.Context) (int, error)
}

// SessionInfo describes the restored session.
type SessionInfo struct {
	Authenticated bool
	Guest         bool
	Who           string
	// Source names where the token is stored, if any.
	Source string
}

// Prober dials the live channel.
type Prober interface {
	URL() string
	Connect(ctx context.Context) error
	Disconnect()
}

// Deps are the collaborators the default checks inspect. Nil members skip
// their check.
type Deps struct {
	API        Pinger
	Session    func() SessionInfo
	Live       Prober
	ConfigFile string
}

// New creates a runner with the default checks for deps.
func New(deps Deps) *Runner {
	r := &Runner{}

	if deps.API != nil {
		r.AddCheck("API Connectivity", checkAPIConnectivity(deps.API))
	}

	if deps.Session != nil {
		r.AddCheck("Session", checkSession(deps.Session))
	}

	if deps.Live != nil {
		r.AddCheck("Live Channel", checkLiveChannel(deps.Live))
	}

	if deps.ConfigFile != "" {
		r.AddCheck("Config File", checkConfigFile(deps.ConfigFile))
	}

	r.AddCheck("CLI Version", checkCLIVersion)

	return r
}

// AddCheck registers a diagnostic check.
func (r *Runner) AddCheck(name string, check Check) {
	r.checks = append(r.checks, namedCheck{name: name, check: check})
}

// Run executes all registered checks and returns the results.
func (r *Runner) Run(ctx context.Context) []Result {
	results := make([]Result, 0, len(r.checks))

	for _, nc := range r.checks {
		result := nc.check(ctx)
		result.Name = nc.name
		results = append(results, result)
	}

	return results
}

// Summary returns counts of passed, failed, and warning checks.
func Summary(results []Result) (passed, failed, warnings int) {
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			passed++
		case StatusFail:
			failed++
		case StatusWarn:
			warnings++
		}
	}

	return passed, failed, warnings
}

// Printf is the shape of the writer callbacks RenderResults reports through.
type Printf func(format string, args ...any)

// RenderResults writes one aligned line per result, choosing the callback by
// status, and writes any detail through muted.
func RenderResults(results []Result, plain, pass, warn, fail, muted Printf) {
	width := 0
	for _, r := range results {
		width = max(width, len(r.Name))
	}

	for _, r := range results {
		line := fmt.Sprintf("%-*s%s", width+4, r.Name, r.Message)

		switch r.Status {
		case StatusPass:
			pass("%s", line)
		case StatusWarn:
			warn("%s", line)
		case StatusFail:
			fail("%s", line)
		default:
			plain("%s %s\n", r.Status.Symbol(), line)
		}

		if r.Detail != "" {
			muted("    %s", r.Detail)
		}
	}
}

// checkAPIConnectivity treats any HTTP response as reachable.
func checkAPIConnectivity(api Pinger) Check {
	return func(ctx context.Context) Result {
		start := time.Now()
		status, err := api.Ping(ctx)
		elapsed := time.Since(start)

		if err != nil {
			return Result{
				Status:  StatusFail,
				Message: api.BaseURL(),
				Detail:  err.Error(),
			}
		}

		if status >= 500 {
			return Result{
				Status:  StatusWarn,
				Message: fmt.Sprintf("%s (%dms)", api.BaseURL(), elapsed.Milliseconds()),
				Detail:  fmt.Sprintf("Server responded with status %d", status),
			}
		}

		return Result{
			Status:  StatusPass,
			Message: fmt.Sprintf("%s (%dms)", api.BaseURL(), elapsed.Milliseconds()),
		}
	}
}

func checkSession(info func() SessionInfo) Check {
	return func(context.Context) Result {
		s := info()

		switch {
		case s.Authenticated && s.Source != "":
			return Result{Status: StatusPass, Message: fmt.Sprintf("Signed in as %s (via %s)", s.Who, s.Source)}
		case s.Authenticated:
			return Result{Status: StatusPass, Message: "Signed in as " + s.Who}
		case s.Guest:
			return Result{
				Status:  StatusWarn,
				Message: "Guest mode",
				Detail:  "Run 'garden auth login' to sign in",
			}
		default:
			return Result{
				Status:  StatusWarn,
				Message: "Not signed in",
				Detail:  "Run 'garden auth login' or 'garden auth guest'",
			}
		}
	}
}

func checkLiveChannel(live Prober) Check {
	return func(ctx context.Context) Result {
		start := time.Now()
		err := live.Connect(ctx)
		elapsed := time.Since(start)

		live.Disconnect()

		if err != nil {
			return Result{
				Status:  StatusFail,
				Message: live.URL(),
				Detail:  err.Error(),
			}
		}

		return Result{
			Status:  StatusPass,
			Message: fmt.Sprintf("%s (%dms)", live.URL(), elapsed.Milliseconds()),
		}
	}
}

func checkConfigFile(path string) Check {
	return func(context.Context) Result {
		info, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			return Result{Status: StatusPass, Message: "Using defaults (no " + path + ")"}
		}

		if err != nil {
			return Result{Status: StatusWarn, Message: path, Detail: err.Error()}
		}

		if info.IsDir() {
			return Result{Status: StatusFail, Message: path, Detail: "Expected a file, found a directory"}
		}

		return Result{Status: StatusPass, Message: path}
	}
}

func checkCLIVersion(context.Context) Result {
	if buildinfo.Version == "dev" {
		return Result{
			Status:  StatusWarn,
			Message: "Development build",
		}
	}

	return Result{
		Status:  StatusPass,
		Message: fmt.Sprintf("v%s (%s)", buildinfo.Version, buildinfo.Commit),
	}
}

// Symbol returns the status symbol for display.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return checkMark
	case StatusWarn:
		return warningMark
	case StatusFail:
		return xMark
	default:
		return "?"
	}
}

const (
	checkMark   = "✓" // ✓
	xMark       = "✗" // ✗
	warningMark = "⚠" // ⚠
)
