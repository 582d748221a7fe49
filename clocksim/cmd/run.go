package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/clocksim/config"
	"github.com/sarchlab/clocksim/sim/clocking"
	"github.com/sarchlab/clocksim/sim/examples/pipe"
	"github.com/sarchlab/clocksim/sim/simulation"
)

type runOptions struct {
	topology   string
	envFile    string
	baseCycles uint64
	output     string
	monitor    bool
	browser    bool
	trace      bool
	traceTicks bool
	profile    bool
}

func newRunCmd() *cobra.Command {
	o := &runOptions{}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Build a topology and run it.",
		Long: "`run -c topology.yaml` builds the topology, runs it for the " +
			"configured number of base cycles and prints a report. Results " +
			"are recorded into a SQLite database.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd.OutOrStdout())
		},
	}

	f := runCmd.Flags()
	f.StringVarP(&o.topology, "config", "c", "", "topology file")
	f.StringVar(&o.envFile, "env", ".env", "file with environment settings")
	f.Uint64VarP(&o.baseCycles, "base-cycles", "n", 0,
		"base cycles of the run domain, overriding the topology")
	f.StringVarP(&o.output, "output", "o", "",
		"recording path without the .sqlite3 suffix")
	f.BoolVar(&o.monitor, "monitor", false, "serve the monitoring web page")
	f.BoolVar(&o.browser, "browser", false, "open the monitoring web page")
	f.BoolVar(&o.trace, "trace", false, "record emitted events")
	f.BoolVar(&o.traceTicks, "trace-ticks", false,
		"record every tick too, implies --trace")
	f.BoolVar(&o.profile, "profile", false,
		"measure the wall-clock time of every callback")

	_ = runCmd.MarkFlagRequired("config")

	return runCmd
}

func (o *runOptions) builder(env config.Env) simulation.Builder {
	b := simulation.MakeBuilder()

	if o.monitor || o.browser {
		if env.MonitorPort > 0 {
			b = b.WithMonitorPort(env.MonitorPort)
		}

		if o.browser {
			b = b.WithBrowser()
		}
	} else {
		b = b.WithoutMonitoring()
	}

	output := o.output
	if output == "" {
		output = env.RecordPath
	}

	if output != "" {
		b = b.WithOutputFileName(output)
	}

	if env.ParallelIDs {
		b = b.WithParallelIDs()
	}

	if o.trace || o.traceTicks {
		b = b.WithTracing(o.traceTicks)
	}

	if o.profile {
		b = b.WithProfiler(clocking.NewWallClockCounter(), 64)
	}

	return b
}

func (o *runOptions) run(out io.Writer) error {
	env, err := config.LoadEnv(o.envFile)
	if err != nil {
		return err
	}

	t, err := config.Load(o.topology)
	if err != nil {
		return err
	}

	if o.baseCycles > 0 {
		t.Run.BaseCycles = o.baseCycles

		err = t.Validate()
		if err != nil {
			return errors.Wrap(err, "--base-cycles")
		}
	}

	sim := o.builder(env).Build()
	atexit.Register(sim.Terminate)

	sim.AddExecInfo("Topology", o.topology)

	m, err := pipe.MakeBuilder().WithServer(sim.Server()).Build(t)
	if err != nil {
		sim.Terminate()
		return err
	}

	if o.trace || o.traceTicks {
		sim.StartTracing()
	}

	m.Run(t, sim, nil)

	printReport(out, sim.Server(), m)

	sim.Terminate()

	return nil
}

func printReport(out io.Writer, s *clocking.Server, m *pipe.Model) {
	fmt.Fprintf(out, "Simulated %.3f ns\n\n", s.Now().InSec()*1e9)

	fmt.Fprintln(out, "Domains:")
	for _, line := range s.Describe() {
		fmt.Fprintf(out, "  %s\n", line)
	}

	fmt.Fprintln(out, "\nClockables:")
	for _, line := range m.Report() {
		fmt.Fprintf(out, "  %s\n", line)
	}

	if len(m.Links) > 0 {
		fmt.Fprintln(out, "\nIn flight:")
		for _, line := range m.LinkLevels() {
			fmt.Fprintf(out, "  %s\n", line)
		}
	}

	fmt.Fprintln(out, "\nProfile:")

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  Clockable\tInvocations\tCycles\tMin\tMax\tAvg")

	for _, c := range s.Clockables() {
		p := c.Clocking().Profile()
		fmt.Fprintf(w, "  %s\t%d\t%d\t%d\t%d\t%.1f\n",
			p.Name, p.Invocations, p.Cycles, p.Min, p.Max, p.Avg())
	}

	w.Flush()
}
