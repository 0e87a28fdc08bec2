package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcohefti/blackbox-lab/internal/config"
	"github.com/marcohefti/blackbox-lab/internal/state"
)

func newListCmd() *cobra.Command {
	var flags testFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered tests and their cached pass-state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.configPath, "config", config.DefaultConfigPath, "harness config file")
	cmd.Flags().StringVar(&flags.testsDir, "tests", "", "test-definition directory (overrides config)")
	cmd.Flags().StringVar(&flags.statePath, "state", "", "pass-state file (defaults to the user cache dir)")
	return cmd
}

func runList(cmd *cobra.Command, flags testFlags) error {
	cfg, statePath, err := loadHarnessConfig(flags)
	if err != nil {
		return err
	}
	ps := state.Load(statePath)
	reg, err := discoverTests(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tests := reg.Tests()
	for _, t := range tests {
		mark := "changed"
		if ps.LastPassedHashes[t.SourceFile] == t.SourceHash {
			mark = "cached"
		}
		fmt.Fprintf(out, "%-8s %s (%s)\n", mark, t.Name, t.SourceFile)
	}
	fmt.Fprintf(out, "%d tests in %s\n", len(tests), cfg.TestsDir)
	return nil
}
