package main

import (
	"math"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mindgarden-dev/garden/internal/crisis"
	clierrors "github.com/mindgarden-dev/garden/internal/errors"
	"github.com/mindgarden-dev/garden/internal/directory"
	"github.com/mindgarden-dev/garden/internal/output"
)

// EmergencyInfo is the JSON shape of `garden emergency`.
type EmergencyInfo struct {
	Crisis   crisis.State        `json:"crisis"`
	Hotlines []directory.Hotline `json:"hotlines"`
}

func newEmergencyCmd() *cobra.Command {
	var (
		riskScore  float64
		crisisType string
	)

	cmd := &cobra.Command{
		Use:     "emergency",
		Aliases: []string{"sos"},
		Short:   "Show crisis hotlines and emergency contacts",
		Long: `Print the crisis hotlines and emergency contacts.

If you are in immediate danger, call 911. For a mental health crisis, call
or text 988 to reach the Suicide & Crisis Lifeline.

--risk-score records an assessment score (0-10); scores above 6 are treated
as a crisis and the contacts are shown as an alert.`,
		Example: `  garden emergency
  garden emergency --risk-score 8 --crisis-type panic
  garden emergency --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			if math.IsNaN(riskScore) || riskScore < 0 || riskScore > 10 {
				return clierrors.New(clierrors.ExitUsage, "Risk score must be between 0 and 10").
					WithHint("Pass a value such as --risk-score 7")
			}

			catalog, err := loadDirectory()
			if err != nil {
				return err
			}

			hotlines, err := catalog.Hotlines(cmd.Context())
			if err != nil {
				return clierrors.RequestFailed("load hotlines", err)
			}

			signal := crisis.New()
			if cmd.Flags().Changed("risk-score") {
				signal.SetRiskScore(riskScore)
			}

			if crisisType != "" {
				signal.SetCrisisType(crisisType)
			}

			state := signal.State()

			if out.JSON {
				return out.PrintJSON(EmergencyInfo{Crisis: state, Hotlines: hotlines})
			}

			if state.InCrisis {
				out.Alert("You are not alone. Call %s now", joinContacts(state.EmergencyContacts))
				out.Println()
			}

			out.Heading("Crisis hotlines")

			rows := make([][]string, 0, len(hotlines))
			for _, h := range hotlines {
				contact := h.Number
				if h.Text != "" {
					contact += " (text " + h.Text + ")"
				}

				rows = append(rows, []string{h.Name, contact, h.Description})
			}

			out.Table([]string{"NAME", "CONTACT", "ABOUT"}, rows)
			out.Println()
			out.Muted("Emergency contacts: %s", joinContacts(state.EmergencyContacts))

			return nil
		},
	}

	cmd.Flags().Float64Var(&riskScore, "risk-score", 0, "Assessment risk score between 0 and 10")
	cmd.Flags().StringVar(&crisisType, "crisis-type", "", "Kind of crisis being reported")

	return cmd
}

func joinContacts(contacts []string) string {
	switch len(contacts) {
	case 0:
		return "988"
	case 1:
		return contacts[0]
	}

	return strings.Join(contacts[:len(contacts)-1], ", ") + " or " + contacts[len(contacts)-1]
}
