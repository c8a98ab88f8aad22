package main

import (
	"github.com/spf13/cobra"

	"github.com/mindgarden-dev/garden/internal/config"
	clierrors "github.com/mindgarden-dev/garden/internal/errors"
	"github.com/mindgarden-dev/garden/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `View and modify garden configuration settings.

Values come from GARDEN_* environment variables, a .env file in the working
directory, the config file, and built-in defaults, in that order.`,
	}

	cmd.AddCommand(newConfigListCmd())
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())

	return cmd
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		Long:  `Display every configuration key and its effective value, defaults included.`,
		Example: `  garden config list
  garden config list --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			cfg := config.Load()

			if out.JSON {
				return out.PrintJSON(cfg.All())
			}

			for _, key := range cfg.Keys() {
				out.Print("%s = %v\n", key, cfg.Get(key))
			}

			out.Println()
			out.Muted("Built-in settings:")

			rows := make([][]string, 0, len(config.Settings()))
			for _, s := range config.Settings() {
				rows = append(rows, []string{"  " + s.Key, s.Description})
			}

			out.Table(nil, rows)

			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "get <key>",
		Short:   "Get a configuration value",
		Long:    `Retrieve and display the current value of a single configuration key.`,
		Example: `  garden config get live.url`,
		Args:    cobra.ExactArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return settingKeys(), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			key := args[0]
			value := config.Load().Get(key)

			if out.JSON {
				return out.PrintJSON(map[string]any{"key": key, "value": value})
			}

			if value == nil {
				out.Muted("%s is not set", key)
				return nil
			}

			out.Print("%s = %v\n", key, value)

			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Set a configuration value",
		Long:    `Set a configuration key to the given value. The value is persisted to the config file.`,
		Example: `  garden config set api.url https://api.mindgarden.example`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			key, value := args[0], args[1]

			if key == "api.url" {
				normalized, err := validateAPIURL(value)
				if err != nil {
					return err
				}

				value = normalized
			}

			if err := config.Load().Set(key, value); err != nil {
				return clierrors.ConfigFailed("set config", err)
			}

			out.Success("Set %s = %s", key, value)

			return nil
		},
	}
}

func settingKeys() []string {
	keys := make([]string, 0, len(config.Settings()))
	for _, s := range config.Settings() {
		keys = append(keys, s.Key)
	}

	return keys
}
