package main

import (
	"github.com/spf13/cobra"

	"github.com/mindgarden-dev/garden/internal/auth"
	"github.com/mindgarden-dev/garden/internal/doctor"
	"github.com/mindgarden-dev/garden/internal/output"
	"github.com/mindgarden-dev/garden/internal/paths"
)

// DoctorReport is the JSON shape of `garden doctor`.
type DoctorReport struct {
	Results  []DoctorResult `json:"results"`
	Passed   int            `json:"passed"`
	Failed   int            `json:"failed"`
	Warnings int            `json:"warnings"`
}

// DoctorResult is one check in a DoctorReport.
type DoctorResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose common issues",
		Long: `Run diagnostic checks to identify configuration and connectivity issues.

Checks performed:
  - API connectivity and response time
  - Session status and where it is stored
  - Live status channel handshake
  - Config file readability`,
		Example: `  garden doctor
  garden doctor --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			svc, err := newServices(cmd.Context())
			if err != nil {
				return err
			}

			configFile, _ := paths.ConfigFile()

			runner := doctor.New(doctor.Deps{
				API:        svc.api,
				Session:    svc.sessionInfo,
				Live:       svc.liveChannel(cmd.Context()),
				ConfigFile: configFile,
			})

			spinner := out.Spinner("Running checks")
			spinner.Start()
			results := runner.Run(cmd.Context())
			spinner.StopWithSuccess("")

			passed, failed, warnings := doctor.Summary(results)

			if out.JSON {
				report := DoctorReport{Passed: passed, Failed: failed, Warnings: warnings}
				for _, r := range results {
					report.Results = append(report.Results, DoctorResult{
						Name:    r.Name,
						Status:  r.Status.String(),
						Message: r.Message,
						Detail:  r.Detail,
					})
				}

				return out.PrintJSON(report)
			}

			renderDoctor(out, results)

			return nil
		},
	}
}

func renderDoctor(out *output.Writer, results []doctor.Result) {
	out.Heading("MindGarden Doctor")

	doctor.RenderResults(results, out.Print, out.Success, out.Warning, out.Failure, out.Muted)

	passed, failed, warnings := doctor.Summary(results)

	out.Println()
	out.Print("%d passed", passed)

	if failed > 0 {
		out.Print(", %d failed", failed)
	}

	if warnings > 0 {
		out.Print(", %d warning(s)", warnings)
	}

	out.Println()
}

func (s *services) sessionInfo() doctor.SessionInfo {
	st := s.session.State()

	info := doctor.SessionInfo{
		Authenticated: s.session.Authenticated(),
		Guest:         st.Guest,
	}

	if st.User != nil {
		info.Who = st.User.DisplayName()
	}

	if source := s.storage.Source(auth.KeyToken); source != auth.SourceNone {
		info.Source = string(source)
	}

	return info
}
