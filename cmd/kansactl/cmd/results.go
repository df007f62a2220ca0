package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/raysh454/kansa/internal/drift"
)

func newFindingsCmd(v *viper.Viper) *cobra.Command {
	var q FindingQuery
	c := &cobra.Command{
		Use:   "findings [assessment_run_id]",
		Short: "List findings of an assessment run, most severe first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := clientFrom(v).GetFindings(cmd.Context(), args[0], q)
			if err != nil {
				return err
			}
			if wantJSON(v) {
				return printJSON(cmd, fs)
			}
			if len(fs) == 0 {
				cmd.Println("No findings.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEVERITY\tDOMAIN\tCHECK\tCOMPLIANT\tTITLE")
			for _, f := range fs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", f.Severity, f.Domain, f.CheckID, f.IsCompliant, f.Title)
			}
			return w.Flush()
		},
	}
	c.Flags().StringVar(&q.Domain, "domain", "", "only this domain")
	c.Flags().StringVar(&q.Severity, "severity", "", "only this severity")
	c.Flags().BoolVar(&q.NonCompliant, "noncompliant", false, "only non-compliant findings")
	return c
}

func newDriftCmd(v *viper.Viper) *cobra.Command {
	var base, domain string
	c := &cobra.Command{
		Use:   "drift [inventory_run_id]",
		Short: "Compare an inventory run with an earlier one",
		Long:  `Compare an inventory run with --base, or with the tenant's previous finished inventory run when --base is empty.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := clientFrom(v).Drift(cmd.Context(), args[0], base, domain)
			if err != nil {
				return err
			}
			if wantJSON(v) {
				return printJSON(cmd, rep)
			}
			printDrift(cmd, rep)
			return nil
		},
	}
	c.Flags().StringVar(&base, "base", "", "run to compare against")
	c.Flags().StringVar(&domain, "domain", "", "only this domain")
	return c
}

func printDrift(cmd *cobra.Command, rep *drift.Report) {
	cmd.Printf("Drift %s -> %s: %d added, %d removed, %d changed, %d unchanged\n",
		rep.BaseRunID, rep.HeadRunID, len(rep.Added), len(rep.Removed), len(rep.Changed), rep.Unchanged)
	for _, e := range rep.Added {
		cmd.Printf("  + %s %s %s\n", e.Domain, e.ExternalID, e.DisplayName)
	}
	for _, e := range rep.Removed {
		cmd.Printf("  - %s %s %s\n", e.Domain, e.ExternalID, e.DisplayName)
	}
	for _, c := range rep.Changed {
		cmd.Printf("  ~ %s %s %s (%d chunks)\n", c.Domain, c.ExternalID, c.DisplayName, len(c.Chunks))
	}
}
