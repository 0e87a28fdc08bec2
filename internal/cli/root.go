// Package cli wires the bbx command tree.
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

type testsFailedError struct {
	failed int
	ran    int
}

func (e *testsFailedError) Error() string {
	return fmt.Sprintf("%d of %d tests failed", e.failed, e.ran)
}

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bbx",
		Short: "Black-box integration-test harness for CLI tools",
		Long: `bbx runs end-to-end tests against a command-line binary: it spawns the
binary in an isolated sandbox, feeds it input, and asserts on its output
streams and exit status. Test files that have not changed since they last
passed can be skipped (--only-changed).`,
		Version: version,
		// Usage on assertion failures is noise; errors are reported already.
		SilenceUsage: true,
		// Execute prints errors itself so a test-failure summary is not
		// duplicated as "Error: ...".
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate(`{{printf "bbx version %s\n" .Version}}`)
	cmd.AddCommand(newTestCmd())
	cmd.AddCommand(newListCmd())
	return cmd
}

// Execute runs the CLI and maps the outcome to a process exit code: 0 when
// everything passed, 1 otherwise.
func Execute(version string) int {
	root := newRootCmd(version)
	err := root.Execute()
	if err == nil {
		return 0
	}
	var tf *testsFailedError
	if errors.As(err, &tf) {
		// The runner already printed the report.
		return 1
	}
	fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
	return 1
}
