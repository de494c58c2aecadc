// Command probe runs research sessions from the terminal against the same
// configuration and stores as the server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/probeai/orchestrator/internal/app"
	"github.com/probeai/orchestrator/internal/config"
	"github.com/probeai/orchestrator/internal/formatting"
	"github.com/probeai/orchestrator/internal/orchestrator"
	"github.com/probeai/orchestrator/internal/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cliState struct {
	configPath string
	app        *app.App
}

func newRootCmd() *cobra.Command {
	st := &cliState{}
	root := &cobra.Command{
		Use:           "probe",
		Short:         "Plan, run and review research sessions",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return st.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if st.app == nil {
				return nil
			}
			defer func() { _ = st.app.Logger.Sync() }()
			return st.app.Close(context.Background())
		},
	}
	root.PersistentFlags().StringVarP(&st.configPath, "config", "c", config.Path(), "Path to config.yaml")

	root.AddCommand(
		newResearchCmd(st),
		newListCmd(st),
		newShowCmd(st),
		newServeCmd(st),
	)
	return root
}

func (st *cliState) open(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mgr, logger, level, err := app.Bootstrap(st.configPath)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, mgr, logger, level)
	if err != nil {
		_ = logger.Sync()
		return err
	}
	st.app = a
	return nil
}

func newResearchCmd(st *cliState) *cobra.Command {
	var (
		mode      string
		autoPilot bool
		approve   bool
	)
	cmd := &cobra.Command{
		Use:   "research <query>",
		Short: "Start a research session and print the report",
		Long: `Start a research session for query.

Sessions that stop for plan review print the plan and their id. Pass
--approve to execute the plan right away, or --auto-pilot to skip review.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := orchestrator.CreateOptions{}
			if cmd.Flags().Changed("mode") {
				m, err := session.ParseMode(mode)
				if err != nil {
					return err
				}
				opts.Mode = &m
			}
			if cmd.Flags().Changed("auto-pilot") {
				opts.AutoPilot = &autoPilot
			}

			ctx := cmd.Context()
			svc := st.app.Service
			s, err := svc.Create(ctx, args[0], opts)
			if err != nil {
				return err
			}
			if s.Status == session.StatusReviewPending && approve {
				if s, err = svc.Approve(ctx, s.ID); err != nil {
					return err
				}
			}
			return printSession(cmd.OutOrStdout(), s)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "Research mode: quick_scan or deep_probe (default: analyzed)")
	cmd.Flags().BoolVar(&autoPilot, "auto-pilot", false, "Execute without plan review")
	cmd.Flags().BoolVar(&approve, "approve", false, "Approve the generated plan immediately")
	return cmd
}

func newListCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := st.app.Service.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tMODE\tUPDATED\tQUERY")
			for _, s := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Status, s.Mode, s.UpdatedAt.Format("2006-01-02 15:04"), s.Query)
			}
			return tw.Flush()
		},
	}
}

func newShowCmd(st *cliState) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a session report, or its plan when there is no report yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := st.app.Service.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}
			return printSession(cmd.OutOrStdout(), s)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw session JSON")
	return cmd
}

func newServeCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := st.app.Serve(ctx); err != nil {
				st.app.Logger.Error("HTTP server failed", zap.Error(err))
				return err
			}
			return nil
		},
	}
}

// printSession writes the report as markdown, falling back to the plan and
// the session state.
func printSession(w io.Writer, s *session.ResearchSession) error {
	if s.HasReport() {
		md := formatting.ReportToMarkdown(s.Report)
		if viz := formatting.VisualizationsToMarkdown(s.Visualizations); viz != "" {
			md += "\n" + viz
		}
		_, err := fmt.Fprint(w, md)
		return err
	}

	fmt.Fprintf(w, "Session %s is %s (%s)\n", s.ID, s.Status, s.Mode)
	if s.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", s.Error)
	}
	if s.HasPlan() {
		fmt.Fprintf(w, "\nPlan: %s\n", s.Plan.Rationale)
		for _, step := range s.Plan.Steps {
			fmt.Fprintf(w, "  %s. [%s] %s\n", step.ID, step.Kind(), step.Description)
			for _, q := range step.SearchQueries() {
				fmt.Fprintf(w, "       - %s\n", q)
			}
		}
	}
	if s.Status == session.StatusReviewPending {
		fmt.Fprintf(w, "\nApprove with the API: POST /api/research/%s/approve\n", s.ID)
	}
	return nil
}
