package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mindgarden-dev/garden/internal/auth"
	"github.com/mindgarden-dev/garden/internal/config"
	"github.com/mindgarden-dev/garden/internal/output"
	"github.com/mindgarden-dev/garden/internal/paths"
)

// PathsInfo holds all resolved paths for JSON output.
type PathsInfo struct {
	ConfigRoot  string `json:"config_root"`
	StateRoot   string `json:"state_root"`
	ConfigFile  string `json:"config_file"`
	CatalogFile string `json:"catalog_file"`
	SessionsDir string `json:"sessions_dir"`
	SessionFile string `json:"session_file"`
	Recordings  string `json:"recordings_dir"`
	LogFile     string `json:"log_file"`
	APIURL      string `json:"api_url"`
	LiveURL     string `json:"live_url"`
	TokenSource string `json:"token_source"`
}

func newPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Show where garden stores files",
		Long: `Display all file and directory paths used by garden.

Useful for debugging and scripting. The session file is per API origin, so
it changes with --api-url.`,
		Example: `  garden paths
  garden paths --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			info := resolvePathsInfo(config.Load())

			if out.JSON {
				return out.PrintJSON(info)
			}

			out.Table(nil, [][]string{
				{"Config root:", info.ConfigRoot},
				{"State root:", info.StateRoot},
				{"", ""},
				{"Config file:", info.ConfigFile},
				{"Catalog file:", info.CatalogFile},
				{"Sessions dir:", info.SessionsDir},
				{"Session file:", info.SessionFile},
				{"Recordings:", info.Recordings},
				{"Log file:", info.LogFile},
				{"", ""},
				{"API URL:", info.APIURL},
				{"Live URL:", info.LiveURL},
				{"Token source:", info.TokenSource},
			})

			return nil
		},
	}
}

func resolvePathsInfo(cfg *config.Config) PathsInfo {
	info := PathsInfo{
		ConfigRoot:  resolveOrError(paths.ConfigRoot),
		StateRoot:   resolveOrError(paths.StateRoot),
		ConfigFile:  resolveOrError(paths.ConfigFile),
		CatalogFile: resolveOrError(paths.CatalogFile),
		SessionsDir: resolveOrError(paths.SessionsDir),
		Recordings:  resolveOrError(paths.RecordingsDir),
		LogFile:     resolveOrError(paths.DefaultLogFile),
		APIURL:      cfg.APIURL(),
		LiveURL:     cfg.LiveURL(),
		TokenSource: "none",
	}

	storage, err := auth.ForOrigin(info.APIURL)
	if err != nil {
		info.SessionFile = fmt.Sprintf("<error: %v>", err)
		return info
	}

	info.SessionFile = filepath.Clean(storage.Path())

	if source := storage.Source(auth.KeyToken); source != auth.SourceNone {
		info.TokenSource = string(source)
	}

	return info
}

func resolveOrError(fn func() (string, error)) string {
	val, err := fn()
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}

	return val
}
