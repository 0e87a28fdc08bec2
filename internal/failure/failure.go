// Package failure defines the structured signal used for expected test
// failures. The runner recovers from Signals and keeps going; every other
// error aborts the whole run.
package failure

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

type Reason string

const (
	MatchTimeout  Reason = "match-timeout"
	NoMatch       Reason = "no-match"
	JunkBefore    Reason = "junk-before"
	JunkAtEnd     Reason = "junk-at-end"
	ExitTimeout   Reason = "exit-timeout"
	SpawnFailure  Reason = "spawn-failure"
	WrongExitCode Reason = "wrong-exit-code"
)

// Signal is an expected assertion failure. Immutable once created; At returns
// a copy rather than mutating.
type Signal struct {
	Reason  Reason
	Details map[string]string
	Origin  string
}

func (s *Signal) Error() string {
	if len(s.Details) == 0 {
		return string(s.Reason)
	}
	keys := make([]string, 0, len(s.Details))
	for k := range s.Details {
		if k == "output" {
			// Full captured output is for the runner's tail print, not Error().
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(string(s.Reason))
	for i, k := range keys {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%q", k, s.Details[k])
	}
	return b.String()
}

// New builds a Signal with the given reason and details, recording the first
// caller outside the harness packages as the origin.
func New(reason Reason, details map[string]string) *Signal {
	d := make(map[string]string, len(details))
	for k, v := range details {
		d[k] = v
	}
	return &Signal{Reason: reason, Details: d, Origin: callerOrigin()}
}

// At returns a copy of s with the origin replaced. Scenario bodies use this to
// point at the yaml step instead of the interpreter.
func At(s *Signal, origin string) *Signal {
	return &Signal{Reason: s.Reason, Details: s.Details, Origin: origin}
}

// Of reports whether err is (or wraps) a Signal.
func Of(err error) (*Signal, bool) {
	var s *Signal
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}

func (s *Signal) Detail(key string) string {
	return s.Details[key]
}

func callerOrigin() string {
	pc := make([]uintptr, 16)
	n := runtime.Callers(2, pc)
	frames := runtime.CallersFrames(pc[:n])
	for {
		f, more := frames.Next()
		if !harnessFile(f.File) {
			return fmt.Sprintf("%s:%d", f.File, f.Line)
		}
		if !more {
			return fmt.Sprintf("%s:%d", f.File, f.Line)
		}
	}
}

// harnessFile reports whether a frame belongs to the harness's own assertion
// machinery, which should never show up as a failure origin. Test files are
// legitimate callers even inside those packages.
func harnessFile(file string) bool {
	if strings.HasSuffix(file, "_test.go") {
		return false
	}
	for _, p := range []string{"/internal/failure/", "/internal/stream/", "/internal/session/"} {
		if strings.Contains(file, p) {
			return true
		}
	}
	return false
}
