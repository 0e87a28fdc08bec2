package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marcohefti/blackbox-lab/internal/config"
	"github.com/marcohefti/blackbox-lab/internal/failure"
)

func shConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Binary = "sh"
	cfg.TimeoutSeconds = 5
	return cfg
}

func loadScenario(t *testing.T, cfg config.Config, content string) []Test {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cases.test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	r := New()
	if err := r.LoadFile(path, r.ScenarioLoader(cfg)); err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	return r.Tests()
}

func TestScenario_EndToEndPass(t *testing.T) {
	tests := loadScenario(t, shConfig(t), `
version: 1
tests:
  - name: echoes input back
    steps:
      - run: ["-c", 'read line; printf "got %s\n" "$line"']
      - write: "ping\n"
      - match: "got ping"
      - expect_exit: 0
  - name: exit only
    steps:
      - run: ["-c", "exit 0"]
      - expect_end: true
`)
	if len(tests) != 2 {
		t.Fatalf("expected 2 tests, got %d", len(tests))
	}
	for _, tc := range tests {
		if err := tc.Body(); err != nil {
			t.Fatalf("%s: %v", tc.Name, err)
		}
	}
}

func TestScenario_RegexAndStderr(t *testing.T) {
	tests := loadScenario(t, shConfig(t), `
version: 1
tests:
  - name: warns on stderr
    steps:
      - run: ["-c", 'printf "warn 42\n" >&2; exit 1']
      - match_err: 'warn \d+'
        regex: true
      - expect_exit: 1
`)
	if err := tests[0].Body(); err != nil {
		t.Fatalf("body: %v", err)
	}
}

func TestScenario_FailureOriginPointsAtStep(t *testing.T) {
	tests := loadScenario(t, shConfig(t), `version: 1
tests:
  - name: wrong code
    steps:
      - run: ["-c", "exit 3"]
      - expect_exit: 0
`)
	err := tests[0].Body()
	sig, ok := failure.Of(err)
	if !ok {
		t.Fatalf("expected failure signal, got %v", err)
	}
	if sig.Reason != failure.WrongExitCode {
		t.Fatalf("unexpected reason: %s", sig.Reason)
	}
	// The expect_exit step sits on line 6 of the file.
	if !strings.HasSuffix(sig.Origin, "cases.test.yaml:6") {
		t.Fatalf("unexpected origin: %s", sig.Origin)
	}
}

func TestScenario_EnvAppliesToNextRun(t *testing.T) {
	tests := loadScenario(t, shConfig(t), `
version: 1
tests:
  - name: env reaches the child
    steps:
      - env: {BBX_SCENARIO_FLAG: "on"}
      - run: ["-c", 'printf "%s" "$BBX_SCENARIO_FLAG"']
      - read: "on"
      - expect_end: true
`)
	if err := tests[0].Body(); err != nil {
		t.Fatalf("body: %v", err)
	}
}

func TestScenario_WaitBuysExtraBudget(t *testing.T) {
	cfg := shConfig(t)
	cfg.TimeoutSeconds = 0.2
	tests := loadScenario(t, cfg, `
version: 1
tests:
  - name: slow output
    steps:
      - run: ["-c", 'sleep 0.5; printf "done\n"; sleep 0.5']
      - wait: 3
      - match: "done"
      - wait: 3
      - expect_exit: 0
`)
	if err := tests[0].Body(); err != nil {
		t.Fatalf("body: %v", err)
	}
}

func TestScenario_ExpectExitForms(t *testing.T) {
	tests := loadScenario(t, shConfig(t), `
version: 1
tests:
  - name: asserted code
    steps:
      - run: ["-c", "exit 0"]
      - expect_exit: 0
  - name: wait only
    steps:
      - run: ["-c", "exit 42"]
      - expect_exit:
`)
	if len(tests) != 2 {
		t.Fatalf("expected 2 tests, got %d", len(tests))
	}
	for _, tc := range tests {
		if err := tc.Body(); err != nil {
			t.Fatalf("%s: %v", tc.Name, err)
		}
	}
}

func TestScenario_CompileErrors(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "two actions in one step",
			content: `version: 1
tests:
  - name: broken
    steps:
      - run: ["-c", "true"]
        match: "x"
`,
			wantErr: "exactly one action",
		},
		{
			name: "invalid regex",
			content: `version: 1
tests:
  - name: broken
    steps:
      - run: ["-c", "true"]
      - match: "("
        regex: true
`,
			wantErr: "invalid pattern",
		},
		{
			name: "regex modifier without match",
			content: `version: 1
tests:
  - name: broken
    steps:
      - run: ["-c", "true"]
      - regex: true
`,
			wantErr: "action",
		},
		{
			name: "unsupported version",
			content: `version: 2
tests: []
`,
			wantErr: "unsupported scenario version",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "bad.test.yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			r := New()
			err := r.LoadFile(path, r.ScenarioLoader(shConfig(t)))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected %q error, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestScenario_StepBeforeRunFails(t *testing.T) {
	tests := loadScenario(t, shConfig(t), `
version: 1
tests:
  - name: missing run
    steps:
      - match: "anything"
`)
	err := tests[0].Body()
	if err == nil || !strings.Contains(err.Error(), "before any run step") {
		t.Fatalf("expected step-before-run error, got %v", err)
	}
	if _, ok := failure.Of(err); ok {
		t.Fatalf("a malformed scenario is not a test failure signal")
	}
}
