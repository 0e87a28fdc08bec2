package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marcohefti/blackbox-lab/internal/config"
	"github.com/marcohefti/blackbox-lab/internal/registry"
	"github.com/marcohefti/blackbox-lab/internal/runner"
	"github.com/marcohefti/blackbox-lab/internal/state"
)

type testFlags struct {
	configPath  string
	testsDir    string
	bin         string
	timeoutSecs float64
	onlyChanged bool
	watch       bool
	statePath   string
}

func newTestCmd() *cobra.Command {
	var flags testFlags
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Discover and run the test scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTest(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.configPath, "config", config.DefaultConfigPath, "harness config file")
	cmd.Flags().StringVar(&flags.testsDir, "tests", "", "test-definition directory (overrides config)")
	cmd.Flags().StringVar(&flags.bin, "bin", "", "binary under test (overrides config)")
	cmd.Flags().Float64Var(&flags.timeoutSecs, "timeout", 0, "base timeout in seconds (overrides config)")
	cmd.Flags().BoolVarP(&flags.onlyChanged, "only-changed", "c", false, "skip tests whose file has not changed since it last passed")
	cmd.Flags().BoolVarP(&flags.watch, "watch", "w", false, "re-run when test files change")
	cmd.Flags().StringVar(&flags.statePath, "state", "", "pass-state file (defaults to the user cache dir)")
	return cmd
}

func loadHarnessConfig(flags testFlags) (config.Config, string, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return config.Config{}, "", err
	}
	if flags.testsDir != "" {
		cfg.TestsDir = flags.testsDir
	}
	if flags.bin != "" {
		cfg.Binary = flags.bin
	}
	if flags.timeoutSecs > 0 {
		cfg.TimeoutSeconds = flags.timeoutSecs
	}
	statePath := flags.statePath
	if statePath == "" {
		statePath, err = state.DefaultPath()
		if err != nil {
			return config.Config{}, "", err
		}
	}
	return cfg, statePath, nil
}

func discoverTests(cfg config.Config) (*registry.Registry, error) {
	reg := registry.New()
	if err := reg.DiscoverDir(cfg.TestsDir, reg.ScenarioLoader(cfg)); err != nil {
		return nil, err
	}
	return reg, nil
}

func runTest(cmd *cobra.Command, flags testFlags) error {
	cfg, statePath, err := loadHarnessConfig(flags)
	if err != nil {
		return err
	}
	out := cmd.ErrOrStderr()

	if flags.watch {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		err := runner.Watch(ctx, cfg.TestsDir, statePath, out, flags.onlyChanged, func() (*registry.Registry, error) {
			return discoverTests(cfg)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	reg, err := discoverTests(cfg)
	if err != nil {
		return err
	}
	r := &runner.Runner{Registry: reg, StatePath: statePath, Out: out}
	sum, err := r.Run(flags.onlyChanged)
	if err != nil {
		return err
	}
	if !sum.OK() {
		return &testsFailedError{failed: sum.Failed, ran: sum.Ran}
	}
	return nil
}
