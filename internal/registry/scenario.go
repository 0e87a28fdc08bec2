package registry

import (
	"fmt"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marcohefti/blackbox-lab/internal/config"
	"github.com/marcohefti/blackbox-lab/internal/failure"
	"github.com/marcohefti/blackbox-lab/internal/session"
	"github.com/marcohefti/blackbox-lab/internal/stream"
)

// Scenario files are the yaml test-definition format:
//
//	version: 1
//	tests:
//	  - name: prints version
//	    steps:
//	      - run: [version]
//	      - match: 'v\d+\.\d+'
//	        regex: true
//	      - expect_exit: 0
//
// Each step carries its source line so failures point at the yaml step, not
// the interpreter.

type scenarioDoc struct {
	Version int `yaml:"version"`
	Tests   []struct {
		Name  string      `yaml:"name"`
		Steps []yaml.Node `yaml:"steps"`
	} `yaml:"tests"`
}

type stepSpec struct {
	Run        []any             `yaml:"run"`
	Env        map[string]string `yaml:"env"`
	Match      *string           `yaml:"match"`
	MatchErr   *string           `yaml:"match_err"`
	Read       *string           `yaml:"read"`
	ReadErr    *string           `yaml:"read_err"`
	Regex      bool              `yaml:"regex"`
	Write      *string           `yaml:"write"`
	CloseInput bool              `yaml:"close_input"`
	Wait       *float64          `yaml:"wait"`
	ExpectExit yaml.Node         `yaml:"expect_exit"`
	ExpectEnd  bool              `yaml:"expect_end"`
}

type scenarioState struct {
	sb         *session.Sandbox
	sess       *session.Session
	pendingEnv []string
}

type step struct {
	line  int
	apply func(st *scenarioState) error
}

// ScenarioLoader returns the LoadFunc that parses a scenario file and
// registers one test per scenario.
func (r *Registry) ScenarioLoader(cfg config.Config) LoadFunc {
	return func(l *Load, raw []byte) error {
		var doc scenarioDoc
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("invalid scenario yaml: %w", err)
		}
		if doc.Version == 0 {
			// Allow omission as v1 for early ergonomics.
			doc.Version = 1
		}
		if doc.Version != 1 {
			return fmt.Errorf("unsupported scenario version (expected 1)")
		}
		for _, tc := range doc.Tests {
			steps := make([]step, 0, len(tc.Steps))
			for _, node := range tc.Steps {
				s, err := compileStep(node)
				if err != nil {
					return fmt.Errorf("test %q, line %d: %w", tc.Name, node.Line, err)
				}
				steps = append(steps, s)
			}
			body := scenarioBody(cfg, l.File(), steps)
			if err := r.Define(l, tc.Name, body); err != nil {
				return err
			}
		}
		return nil
	}
}

func scenarioBody(cfg config.Config, file string, steps []step) func() error {
	return func() error {
		sb, err := session.New(cfg)
		if err != nil {
			return err
		}
		st := &scenarioState{sb: sb}
		for _, sp := range steps {
			if err := sp.apply(st); err != nil {
				if sig, ok := failure.Of(err); ok {
					return failure.At(sig, fmt.Sprintf("%s:%d", file, sp.line))
				}
				return err
			}
		}
		return nil
	}
}

func compileStep(node yaml.Node) (step, error) {
	var sp stepSpec
	if err := node.Decode(&sp); err != nil {
		return step{}, err
	}

	actions := 0
	if sp.Run != nil {
		actions++
	}
	if sp.Env != nil {
		actions++
	}
	for _, p := range []*string{sp.Match, sp.MatchErr, sp.Read, sp.ReadErr, sp.Write} {
		if p != nil {
			actions++
		}
	}
	if sp.CloseInput {
		actions++
	}
	if sp.Wait != nil {
		actions++
	}
	if sp.ExpectExit.Kind != 0 {
		actions++
	}
	if sp.ExpectEnd {
		actions++
	}
	if actions != 1 {
		return step{}, fmt.Errorf("step must have exactly one action, got %d", actions)
	}
	if sp.Regex && sp.Match == nil && sp.MatchErr == nil && sp.Read == nil && sp.ReadErr == nil {
		return step{}, fmt.Errorf("regex is only valid on match/read steps")
	}

	s := step{line: node.Line}
	switch {
	case sp.Run != nil:
		args := sp.Run
		s.apply = func(st *scenarioState) error {
			st.sess = st.sb.Run(args...)
			if len(st.pendingEnv) > 0 {
				st.sess.AppendEnv(st.pendingEnv...)
				st.pendingEnv = nil
			}
			return nil
		}
	case sp.Env != nil:
		kvs := make([]string, 0, len(sp.Env))
		for k, v := range sp.Env {
			kvs = append(kvs, k+"="+v)
		}
		s.apply = func(st *scenarioState) error {
			// Applies to the next run step.
			st.pendingEnv = append(st.pendingEnv, kvs...)
			return nil
		}
	case sp.Match != nil:
		return matchStep(node.Line, *sp.Match, sp.Regex, func(st *scenarioState, p stream.Pattern) (string, error) {
			return st.sess.Match(p)
		})
	case sp.MatchErr != nil:
		return matchStep(node.Line, *sp.MatchErr, sp.Regex, func(st *scenarioState, p stream.Pattern) (string, error) {
			return st.sess.MatchErr(p)
		})
	case sp.Read != nil:
		return matchStep(node.Line, *sp.Read, sp.Regex, func(st *scenarioState, p stream.Pattern) (string, error) {
			return st.sess.Read(p)
		})
	case sp.ReadErr != nil:
		return matchStep(node.Line, *sp.ReadErr, sp.Regex, func(st *scenarioState, p stream.Pattern) (string, error) {
			return st.sess.ReadErr(p)
		})
	case sp.Write != nil:
		text := *sp.Write
		s.apply = withSession(func(st *scenarioState) error {
			return st.sess.WriteInput(text)
		})
	case sp.CloseInput:
		s.apply = withSession(func(st *scenarioState) error {
			return st.sess.CloseInput()
		})
	case sp.Wait != nil:
		d := time.Duration(*sp.Wait * float64(time.Second))
		if d < 0 {
			return step{}, fmt.Errorf("wait must be >= 0")
		}
		s.apply = withSession(func(st *scenarioState) error {
			st.sess.Wait(d)
			return nil
		})
	case sp.ExpectExit.Kind != 0:
		code, hasCode, err := decodeExitCode(sp.ExpectExit)
		if err != nil {
			return step{}, err
		}
		s.apply = withSession(func(st *scenarioState) error {
			if hasCode {
				return st.sess.ExpectExit(code)
			}
			return st.sess.ExpectExit()
		})
	case sp.ExpectEnd:
		s.apply = withSession(func(st *scenarioState) error {
			return st.sess.ExpectEnd()
		})
	}
	return s, nil
}

func matchStep(line int, expr string, regex bool, do func(*scenarioState, stream.Pattern) (string, error)) (step, error) {
	var pat stream.Pattern
	if regex {
		re, err := regexp.Compile(expr)
		if err != nil {
			return step{}, fmt.Errorf("invalid pattern: %w", err)
		}
		pat = stream.FromRegexp(re)
	} else {
		pat = stream.Text(expr)
	}
	return step{
		line: line,
		apply: withSession(func(st *scenarioState) error {
			_, err := do(st, pat)
			return err
		}),
	}, nil
}

func withSession(fn func(*scenarioState) error) func(*scenarioState) error {
	return func(st *scenarioState) error {
		if st.sess == nil {
			return fmt.Errorf("scenario: step before any run step")
		}
		return fn(st)
	}
}

// decodeExitCode distinguishes `expect_exit:` (wait only) from
// `expect_exit: N` (assert the code).
func decodeExitCode(node yaml.Node) (int, bool, error) {
	if node.Tag == "!!null" {
		return 0, false, nil
	}
	var code int
	if err := node.Decode(&code); err != nil {
		return 0, false, fmt.Errorf("expect_exit wants an integer or null: %w", err)
	}
	return code, true, nil
}
