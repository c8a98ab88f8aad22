package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	clierrors "github.com/mindgarden-dev/garden/internal/errors"
	"github.com/mindgarden-dev/garden/internal/directory"
	"github.com/mindgarden-dev/garden/internal/output"
)

func newResourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "Browse mental health resources",
		Long: `Browse therapists, crisis centers, support groups and hotlines from the
resource catalog. The built-in catalog can be replaced by a catalog.yaml in
the config directory (see 'garden paths').`,
	}

	cmd.AddCommand(newResourcesListCmd())

	return cmd
}

func newResourcesListCmd() *cobra.Command {
	var (
		typeName string
		search   string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List resources",
		Long: `List resources from the catalog, optionally narrowed to one type or to
entries whose name, description or specialties match a search term.`,
		Example: `  garden resources list
  garden resources list --type therapist
  garden resources list --search anxiety --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			kind, err := directory.ParseResourceType(typeName)
			if err != nil {
				return clierrors.InvalidResourceType(typeName, resourceTypeNames())
			}

			catalog, err := loadDirectory()
			if err != nil {
				return err
			}

			resources, err := catalog.Resources(cmd.Context(), directory.ResourceFilter{Type: kind, Search: search})
			if err != nil {
				return clierrors.RequestFailed("list resources", err)
			}

			if out.JSON {
				return out.PrintJSON(resources)
			}

			if len(resources) == 0 {
				out.Info("No resources match")
				return nil
			}

			rows := make([][]string, 0, len(resources))
			for _, r := range resources {
				rows = append(rows, []string{
					r.Name,
					string(r.Type),
					r.Phone,
					strconv.FormatFloat(r.Rating, 'f', 1, 64),
					output.Truncate(r.Description, 48),
				})
			}

			out.Table([]string{"NAME", "TYPE", "PHONE", "RATING", "ABOUT"}, rows)

			return nil
		},
	}

	cmd.Flags().StringVar(&typeName, "type", "", "Only show one type: "+strings.Join(resourceTypeNames(), ", "))
	cmd.Flags().StringVar(&search, "search", "", "Match name, description or specialty")

	_ = cmd.RegisterFlagCompletionFunc("type", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return resourceTypeNames(), cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func resourceTypeNames() []string {
	types := directory.ResourceTypes()

	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}

	return names
}


func newPeersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Find peer supporters and support groups",
	}

	cmd.AddCommand(newPeersListCmd(), newPeerGroupsCmd())

	return cmd
}

func newPeersListCmd() *cobra.Command {
	var onlineOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List peer supporters",
		Long:  `List peer supporters with their match score, availability and specialties.`,
		Example: `  garden peers list
  garden peers list --online --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			catalog, err := loadDirectory()
			if err != nil {
				return err
			}

			peers, err := catalog.Peers(cmd.Context())
			if err != nil {
				return clierrors.RequestFailed("list peers", err)
			}

			if onlineOnly {
				online := peers[:0:0]
				for _, p := range peers {
					if p.Online {
						online = append(online, p)
					}
				}
				peers = online
			}

			if out.JSON {
				return out.PrintJSON(peers)
			}

			if len(peers) == 0 {
				out.Info("No peer supporters available")
				return nil
			}

			rows := make([][]string, 0, len(peers))
			for _, p := range peers {
				presence := "offline"
				if p.Online {
					presence = "online"
				}

				rows = append(rows, []string{
					p.Name,
					presence,
					fmt.Sprintf("%d%%", p.Compatibility),
					strings.Join(p.Specialties, ", "),
				})
			}

			out.Table([]string{"NAME", "STATUS", "MATCH", "SPECIALTIES"}, rows)

			return nil
		},
	}

	cmd.Flags().BoolVar(&onlineOnly, "online", false, "Only show supporters who are online now")

	return cmd
}

func newPeerGroupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List peer support groups",
		Long:  `List recurring peer support groups and when each one meets next.`,
		Example: `  garden peers groups
  garden peers groups --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			catalog, err := loadDirectory()
			if err != nil {
				return err
			}

			groups, err := catalog.PeerGroups(cmd.Context())
			if err != nil {
				return clierrors.RequestFailed("list peer groups", err)
			}

			if out.JSON {
				return out.PrintJSON(groups)
			}

			if len(groups) == 0 {
				out.Info("No support groups available")
				return nil
			}

			rows := make([][]string, 0, len(groups))
			for _, g := range groups {
				next := g.NextMeeting
				if !g.Active {
					next = "paused"
				}

				rows = append(rows, []string{g.Name, strconv.Itoa(g.Members), next})
			}

			out.Table([]string{"NAME", "MEMBERS", "NEXT MEETING"}, rows)

			return nil
		},
	}
}

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Describe the support agents",
		Long: `Describe the backend agents that take part in a conversation. Use
'garden monitor' to watch their live status.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the support agents",
		Long:  `List the backend agents and the role each plays in a conversation.`,
		Example: `  garden agents list
  garden agents list --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			catalog, err := loadDirectory()
			if err != nil {
				return err
			}

			agents, err := catalog.Agents(cmd.Context())
			if err != nil {
				return clierrors.RequestFailed("list agents", err)
			}

			if out.JSON {
				return out.PrintJSON(agents)
			}

			rows := make([][]string, 0, len(agents))
			for _, a := range agents {
				rows = append(rows, []string{a.ID, a.Name, a.Description})
			}

			out.Table([]string{"ID", "NAME", "ROLE"}, rows)

			return nil
		},
	})

	return cmd
}
