package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/clocksim/datarecording"
)

func newReportCmd() *cobra.Command {
	var db string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Print the results recorded by a run.",
		Long: "`report -d results.sqlite3` reads back the run properties, " +
			"frequency changes and clockable profiles recorded by `run`.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := datarecording.OpenReader(db)
			if err != nil {
				return err
			}
			defer r.Close()

			return printRecorded(cmd.Context(), cmd.OutOrStdout(), r)
		},
	}

	reportCmd.Flags().StringVarP(&db, "db", "d", "", "recorded database")
	_ = reportCmd.MarkFlagRequired("db")

	return reportCmd
}

func printRecorded(
	ctx context.Context,
	out io.Writer,
	r *datarecording.Reader,
) error {
	if ctx == nil {
		ctx = context.Background()
	}

	info, err := r.ExecInfo(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Run:")
	for _, e := range info {
		fmt.Fprintf(out, "  %s: %s\n", e.Property, e.Value)
	}

	changes, err := r.FreqChanges(ctx)
	if err != nil {
		return err
	}

	if len(changes) > 0 {
		fmt.Fprintln(out, "\nFrequency changes:")
		for _, c := range changes {
			fmt.Fprintf(out, "  %s: %g GHz -> %g GHz at base cycle %d\n",
				c.Domain, c.OldGHz, c.NewGHz, c.EffectiveBase)
		}
	}

	profiles, err := r.Profiles(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "\nProfile:")

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  Clockable\tDomain\tThread\tGHz\tInvocations\tCycles\tAvg")

	for _, p := range profiles {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%g\t%d\t%d\t%.1f\n",
			p.Clockable, p.Domain, p.Thread, p.FreqGHz,
			p.Invocations, p.Cycles, p.AvgCycles)
	}

	return w.Flush()
}
