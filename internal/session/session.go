// Package session manages one lifecycle of the binary under test: a spawned
// child process with matchers over its stdout/stderr and exit assertions.
package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marcohefti/blackbox-lab/internal/config"
	"github.com/marcohefti/blackbox-lab/internal/failure"
	"github.com/marcohefti/blackbox-lab/internal/stream"
)

type ExitKind int

const (
	ExitUnset ExitKind = iota
	ExitExited
	ExitSpawnFailed
)

// ExitStatus is the terminal state of a session's child process. It is
// written exactly once, before the exited channel closes.
type ExitStatus struct {
	Kind   ExitKind
	Code   int
	Signal string
}

// Session owns a child process and its two stream matchers. Sessions are
// created through a Sandbox; the zero value is unusable.
type Session struct {
	sandbox *Sandbox
	cfg     config.Config

	args     []string
	extraEnv []string
	started  bool

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *stream.Matcher
	stderr *stream.Matcher

	exitOnce sync.Once
	exited   chan struct{}
	exit     ExitStatus

	base  time.Duration
	extra time.Duration
}

func newSession(sb *Sandbox) *Session {
	if sb == nil {
		panic("session: constructed without a sandbox")
	}
	return &Session{
		sandbox: sb,
		cfg:     sb.cfg,
		stdout:  stream.NewMatcher("stdout"),
		stderr:  stream.NewMatcher("stderr"),
		exited:  make(chan struct{}),
		base:    sb.cfg.BaseTimeout(),
	}
}

// SetArgs appends command-line arguments. Bare values are stringified; maps
// are flattened to `--key value` pairs in sorted key order. Calling SetArgs
// after the process has started is a programming error.
func (s *Session) SetArgs(values ...any) *Session {
	if s.started {
		panic("session: SetArgs after process start")
	}
	for _, v := range values {
		switch kv := v.(type) {
		case map[string]any:
			keys := make([]string, 0, len(kv))
			for k := range kv {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				s.args = append(s.args, "--"+k, fmt.Sprint(kv[k]))
			}
		case map[string]string:
			keys := make([]string, 0, len(kv))
			for k := range kv {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				s.args = append(s.args, "--"+k, kv[k])
			}
		default:
			s.args = append(s.args, fmt.Sprint(v))
		}
	}
	return s
}

// AppendEnv adds KEY=VALUE entries to the child environment. Panics after
// the process has started, like SetArgs.
func (s *Session) AppendEnv(kv ...string) *Session {
	if s.started {
		panic("session: AppendEnv after process start")
	}
	s.extraEnv = append(s.extraEnv, kv...)
	return s
}

// start spawns the child lazily. A spawn error is not returned: it becomes
// the terminal FailedToSpawn state and ends both matchers, so the next
// assertion reports it.
func (s *Session) start() {
	if s.started {
		return
	}
	s.started = true

	bin, err := s.cfg.ResolveBinary()
	if err != nil {
		s.finishExit(ExitStatus{Kind: ExitSpawnFailed})
		return
	}
	cmd := exec.Command(bin, s.args...)
	cmd.Dir = s.sandbox.WorkDir()
	cmd.Env = append(os.Environ(), s.sandbox.Env()...)
	cmd.Env = append(cmd.Env, s.extraEnv...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.finishExit(ExitStatus{Kind: ExitSpawnFailed})
		return
	}
	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		s.finishExit(ExitStatus{Kind: ExitSpawnFailed})
		return
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		s.finishExit(ExitStatus{Kind: ExitSpawnFailed})
		return
	}
	if err := cmd.Start(); err != nil {
		s.finishExit(ExitStatus{Kind: ExitSpawnFailed})
		return
	}
	s.cmd = cmd
	s.stdin = stdin
	go s.supervise(outPipe, errPipe)
}

// supervise drains both pipes, waits for the child, and records the terminal
// state exactly once.
func (s *Session) supervise(outPipe, errPipe io.Reader) {
	g := new(errgroup.Group)
	g.Go(func() error {
		_, err := io.Copy(s.stdout, outPipe)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(s.stderr, errPipe)
		return err
	})
	_ = g.Wait()

	st := ExitStatus{Kind: ExitExited}
	if err := s.cmd.Wait(); err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			st.Code = ee.ExitCode()
			st.Signal = exitSignalName(ee.ProcessState)
		} else {
			st.Kind = ExitSpawnFailed
		}
	}
	s.finishExit(st)
}

// finishExit is the one-shot exit latch: the first caller wins, later
// termination signals observe the recorded state.
func (s *Session) finishExit(st ExitStatus) {
	s.exitOnce.Do(func() {
		s.exit = st
		close(s.exited)
		s.stdout.End()
		s.stderr.End()
	})
}

// takeTimeout returns base plus any accumulated extra budget and resets the
// extra part.
func (s *Session) takeTimeout() time.Duration {
	d := s.base + s.extra
	s.extra = 0
	return d
}

// Wait adds extra budget to the next timing-sensitive call.
func (s *Session) Wait(d time.Duration) {
	s.extra += d
}

// Match waits for pattern on stdout, consuming through the match end.
func (s *Session) Match(pat stream.Pattern) (string, error) {
	return s.matchOn(s.stdout, pat, false)
}

// MatchErr is Match against stderr.
func (s *Session) MatchErr(pat stream.Pattern) (string, error) {
	return s.matchOn(s.stderr, pat, false)
}

// Read is a strict Match: the pattern must start exactly at the current
// consumption point on stdout.
func (s *Session) Read(pat stream.Pattern) (string, error) {
	return s.matchOn(s.stdout, pat, true)
}

// ReadErr is Read against stderr.
func (s *Session) ReadErr(pat stream.Pattern) (string, error) {
	return s.matchOn(s.stderr, pat, true)
}

func (s *Session) matchOn(m *stream.Matcher, pat stream.Pattern, strict bool) (string, error) {
	s.start()
	return m.Match(pat, s.takeTimeout(), strict)
}

// WriteInput writes text to the child's stdin. Writing to a session whose
// process never spawned is a test failure, not an abort.
func (s *Session) WriteInput(text string) error {
	s.start()
	if s.stdin == nil {
		return failure.New(failure.SpawnFailure, map[string]string{
			"binary": s.cfg.Binary,
		})
	}
	if _, err := io.WriteString(s.stdin, text); err != nil {
		return fmt.Errorf("session: write stdin: %w", err)
	}
	return nil
}

// CloseInput closes the child's stdin so line-reading subjects see EOF.
func (s *Session) CloseInput() error {
	if s.stdin == nil {
		return nil
	}
	return s.stdin.Close()
}

// ExpectExit waits (bounded by the effective timeout) for the process to
// terminate. With an expected code it additionally asserts the exit code;
// the termination signal is never compared, only reported.
func (s *Session) ExpectExit(expect ...int) error {
	s.start()
	timeout := s.takeTimeout()
	select {
	case <-s.exited:
	default:
		timer := time.NewTimer(timeout)
		select {
		case <-s.exited:
			timer.Stop()
		case <-timer.C:
			return failure.New(failure.ExitTimeout, map[string]string{
				"timeout": timeout.String(),
			})
		}
	}

	st := s.exit
	if st.Kind == ExitSpawnFailed {
		return failure.New(failure.SpawnFailure, map[string]string{
			"binary": s.cfg.Binary,
		})
	}
	if len(expect) > 0 && expect[0] != st.Code {
		details := map[string]string{
			"expected": fmt.Sprint(expect[0]),
			"actual":   fmt.Sprint(st.Code),
		}
		if st.Signal != "" {
			details["signal"] = st.Signal
		}
		return failure.New(failure.WrongExitCode, details)
	}
	return nil
}

// ExpectEnd asserts the process exited and both streams were fully consumed.
func (s *Session) ExpectEnd() error {
	if err := s.ExpectExit(); err != nil {
		return err
	}
	if err := s.stdout.MatchEmpty(); err != nil {
		return err
	}
	return s.stderr.MatchEmpty()
}

// ExitStatus reports the terminal state without blocking.
func (s *Session) ExitStatus() ExitStatus {
	select {
	case <-s.exited:
		return s.exit
	default:
		return ExitStatus{}
	}
}
