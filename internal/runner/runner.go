// Package runner executes registered tests, applies the change-aware skip
// cache, and reports progress.
package runner

import (
	"fmt"
	"io"
	"strings"

	"github.com/marcohefti/blackbox-lab/internal/failure"
	"github.com/marcohefti/blackbox-lab/internal/registry"
	"github.com/marcohefti/blackbox-lab/internal/state"
)

const outputTailLines = 5

type Runner struct {
	Registry  *registry.Registry
	StatePath string

	// Out receives progress and the report; the CLI points it at stderr.
	Out io.Writer
}

type Summary struct {
	Ran    int
	Failed int
}

func (s Summary) OK() bool { return s.Failed == 0 }

// Run executes the registered tests in order. Only failure Signals are
// recovered per-test; any other error aborts the run. With onlyChanged set,
// tests from files unchanged since their last fully-passing run are skipped.
func (r *Runner) Run(onlyChanged bool) (Summary, error) {
	ps := state.Load(r.StatePath)

	tests := r.Registry.Tests()
	if onlyChanged {
		kept := tests[:0]
		for _, t := range tests {
			if ps.LastPassedHashes[t.SourceFile] != t.SourceHash {
				kept = append(kept, t)
			}
		}
		tests = kept
	}
	if len(tests) == 0 {
		fmt.Fprintln(r.Out, "no tests to run.")
		return Summary{}, nil
	}

	failedFiles := map[string]bool{}
	sum := Summary{Ran: len(tests)}
	for _, t := range tests {
		fmt.Fprintf(r.Out, "%s... ", t.Name)

		// Speculative: assume the file passes; retracted below on failure.
		ps.LastPassedHashes[t.SourceFile] = t.SourceHash

		err := t.Body()
		if err == nil {
			fmt.Fprintln(r.Out, "ok")
			continue
		}
		sig, ok := failure.Of(err)
		if !ok {
			// Unclassified: abort the whole run, leaving state unpersisted.
			fmt.Fprintln(r.Out, "fail!")
			return Summary{}, err
		}

		sum.Failed++
		failedFiles[t.SourceFile] = true
		fmt.Fprintln(r.Out, "fail!")
		fmt.Fprintf(r.Out, "  %s at %s\n", sig.Reason, sig.Origin)
		if sig.Reason == failure.NoMatch {
			for _, line := range lastLines(sig.Detail("output"), outputTailLines) {
				fmt.Fprintf(r.Out, "  | %s\n", line)
			}
		}
	}

	// A single failure retracts the whole file's speculative pass-hash so a
	// later --only-changed run re-executes everything in it.
	for f := range failedFiles {
		delete(ps.LastPassedHashes, f)
	}
	if err := ps.Save(r.StatePath); err != nil {
		return Summary{}, fmt.Errorf("persist pass-state: %w", err)
	}

	if sum.Failed == 0 {
		fmt.Fprintf(r.Out, "all %d tests passed.\n", sum.Ran)
	} else {
		fmt.Fprintf(r.Out, "%d of %d tests failed.\n", sum.Failed, sum.Ran)
	}
	return sum, nil
}

func lastLines(s string, n int) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
