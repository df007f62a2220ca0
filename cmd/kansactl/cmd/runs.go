package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/raysh454/kansa/internal/engine"
	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/progress"
	"github.com/raysh454/kansa/internal/report"
	"github.com/raysh454/kansa/internal/server"
)

func newRunsCmd(v *viper.Viper) *cobra.Command {
	runs := &cobra.Command{
		Use:   "runs",
		Short: "Start, inspect and cancel assessment or inventory runs",
	}
	runs.PersistentFlags().StringP("kind", "k", string(model.KindAssessment), "run kind: assessment|inventory")
	runs.AddCommand(
		newRunStartCmd(v),
		newRunListCmd(v),
		newRunGetCmd(v),
		newRunProgressCmd(v),
		newRunCancelCmd(v),
		newRunReportCmd(v),
		newRunWatchCmd(v),
	)
	return runs
}

func kindFlag(cmd *cobra.Command) (model.RunKind, error) {
	s, _ := cmd.Flags().GetString("kind")
	k := model.RunKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown run kind %q", s)
	}
	return k, nil
}

func newRunStartCmd(v *viper.Viper) *cobra.Command {
	var (
		req   server.StartRunRequest
		watch bool
	)
	c := &cobra.Command{
		Use:   "start [tenant_id]",
		Short: "Queue a run for a tenant",
		Long:  `Queue a run over the given domains, or every domain of the kind when none is given.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := kindFlag(cmd)
			if err != nil {
				return err
			}
			client := clientFrom(v)
			d, err := client.StartRun(cmd.Context(), kind, args[0], req)
			if err != nil {
				return err
			}
			if wantJSON(v) && !watch {
				return printJSON(cmd, d)
			}
			cmd.Printf("Queued %s run %s (%d domains)\n", kind, d.Run.ID, len(d.Units))
			if !watch {
				return nil
			}
			return client.Watch(cmd.Context(), d.Run.ID, func(ev progress.Event) { printProgress(cmd, ev.Progress) })
		},
	}
	c.Flags().StringSliceVarP(&req.Domains, "domain", "d", nil, "domain to include (repeatable)")
	c.Flags().StringVar(&req.InitiatedBy, "initiated-by", "", "who started the run")
	c.Flags().BoolVarP(&watch, "watch", "w", false, "follow progress until the run finishes")
	return c
}

func newRunListCmd(v *viper.Viper) *cobra.Command {
	var (
		limit int
		all   bool
	)
	c := &cobra.Command{
		Use:   "list [tenant_id]",
		Short: "List a tenant's runs, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var kind model.RunKind
			if !all {
				k, err := kindFlag(cmd)
				if err != nil {
					return err
				}
				kind = k
			}
			runs, err := clientFrom(v).ListRuns(cmd.Context(), args[0], kind, limit)
			if err != nil {
				return err
			}
			if wantJSON(v) {
				return printJSON(cmd, runs)
			}
			printRuns(cmd, runs)
			return nil
		},
	}
	c.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list")
	c.Flags().BoolVar(&all, "all", false, "list runs of every kind")
	return c
}

func newRunGetCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "get [run_id]",
		Short: "Show a run and its domain units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := kindFlag(cmd)
			if err != nil {
				return err
			}
			d, err := clientFrom(v).GetRun(cmd.Context(), kind, args[0])
			if err != nil {
				return err
			}
			if wantJSON(v) {
				return printJSON(cmd, d)
			}
			printRunDetail(cmd, d)
			return nil
		},
	}
}

func newRunProgressCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "progress [run_id]",
		Short: "Show live progress of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := kindFlag(cmd)
			if err != nil {
				return err
			}
			p, err := clientFrom(v).GetProgress(cmd.Context(), kind, args[0])
			if err != nil {
				return err
			}
			if wantJSON(v) {
				return printJSON(cmd, p)
			}
			printProgress(cmd, *p)
			return nil
		},
	}
}

func newRunCancelCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [run_id]",
		Short: "Request cancellation of an executing run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := kindFlag(cmd)
			if err != nil {
				return err
			}
			res, err := clientFrom(v).CancelRun(cmd.Context(), kind, args[0])
			if err != nil {
				return err
			}
			if wantJSON(v) {
				return printJSON(cmd, res)
			}
			if res.Cancelled {
				cmd.Printf("Cancellation requested for %s\n", res.RunID)
			} else {
				cmd.Printf("Run %s is not executing (status %s)\n", res.RunID, res.Status)
			}
			return nil
		},
	}
}

func newRunReportCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "report [run_id]",
		Short: "Show the report of a finished run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := kindFlag(cmd)
			if err != nil {
				return err
			}
			r, err := clientFrom(v).GetReport(cmd.Context(), kind, args[0])
			if err != nil {
				return err
			}
			if wantJSON(v) {
				return printJSON(cmd, r)
			}
			printReport(cmd, r)
			return nil
		},
	}
}

func newRunWatchCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [run_id]",
		Short: "Follow progress events of a run until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientFrom(v).Watch(cmd.Context(), args[0], func(ev progress.Event) {
				if wantJSON(v) {
					_ = printJSON(cmd, ev)
					return
				}
				printProgress(cmd, ev.Progress)
			})
		},
	}
}

// ─── Output ────────────────────────────────────────────────────────────

func printRuns(cmd *cobra.Command, runs []model.Run) {
	if len(runs) == 0 {
		cmd.Println("No runs.")
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSTATUS\tSCORE\tITEMS\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", r.ID, r.Kind, r.Status, score(r.OverallScore), r.TotalItems, r.StartedAt.Format("2006-01-02 15:04:05"))
	}
	_ = w.Flush()
}

func printRunDetail(cmd *cobra.Command, d *engine.RunDetail) {
	r := d.Run
	cmd.Printf("Run:       %s\n", r.ID)
	cmd.Printf("Kind:      %s\n", r.Kind)
	cmd.Printf("Tenant:    %s\n", r.TenantID)
	cmd.Printf("Status:    %s\n", r.Status)
	if r.OverallScore != nil {
		cmd.Printf("Score:     %d\n", *r.OverallScore)
	}
	if r.ErrorMessage != "" {
		cmd.Printf("Error:     %s\n", r.ErrorMessage)
	}
	cmd.Printf("Started:   %s\n", r.StartedAt.Format(time.RFC3339))
	if r.CompletedAt != nil {
		cmd.Printf("Finished:  %s (%s)\n", r.CompletedAt.Format(time.RFC3339), r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	cmd.Println()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tSTATUS\tITEMS\tDURATION\tERROR")
	for _, u := range d.Units {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", u.Domain, u.Status, u.ItemCount, u.Duration.Round(time.Millisecond), u.ErrorMessage)
	}
	_ = w.Flush()
}

func printProgress(cmd *cobra.Command, p model.Progress) {
	line := fmt.Sprintf("[%3d%%] %s", p.Percentage, p.Status)
	if len(p.ActiveDomains) > 0 {
		line += " active=" + joinDomains(p.ActiveDomains)
	}
	if len(p.Failed) > 0 {
		line += " failed=" + joinDomains(p.Failed)
	}
	cmd.Println(line)
}

func printReport(cmd *cobra.Command, r *report.Report) {
	cmd.Printf("Run %s (%s) %s\n", r.Run.ID, r.Kind, r.Run.Status)
	if r.OverallScore != nil {
		cmd.Printf("Overall score: %d (%s)\n", *r.OverallScore, r.Grade)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tSTATUS\tSCORE\tFAILED CHECKS\tITEMS")
	for _, s := range r.Domains {
		sc, failed := "-", "-"
		if s.Score != nil {
			sc = fmt.Sprintf("%d %s", s.Score.Score, s.Score.Grade)
			failed = fmt.Sprint(s.Score.FailedChecks)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", s.Unit.Domain, s.Unit.Status, sc, failed, s.Unit.ItemCount)
	}
	_ = w.Flush()
}

func score(s *int) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprint(*s)
}

func joinDomains(ds []model.Domain) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = string(d)
	}
	return strings.Join(parts, ",")
}
