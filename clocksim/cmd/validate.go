package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sarchlab/clocksim/config"
	"github.com/sarchlab/clocksim/sim/clocking"
	"github.com/sarchlab/clocksim/sim/examples/pipe"
)

func newValidateCmd() *cobra.Command {
	var topology string

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a topology without running it.",
		Long: "`validate -c topology.yaml` parses the topology, builds it on " +
			"a scratch clock server and prints the resulting domains.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return validate(cmd.OutOrStdout(), topology)
		},
	}

	validateCmd.Flags().StringVarP(&topology, "config", "c", "",
		"topology file")
	_ = validateCmd.MarkFlagRequired("config")

	return validateCmd
}

func validate(out io.Writer, path string) error {
	t, err := config.Load(path)
	if err != nil {
		return err
	}

	s := clocking.NewServer()
	defer s.Teardown()

	m, err := pipe.MakeBuilder().WithServer(s).Build(t)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s is valid: %d threads, %d domains, %d clockables, "+
		"%d rate matchers\n",
		path, len(s.Threads()), len(s.Domains()), len(m.Clockables),
		len(m.Links))

	for _, line := range s.Describe() {
		fmt.Fprintf(out, "  %s\n", line)
	}

	return nil
}
