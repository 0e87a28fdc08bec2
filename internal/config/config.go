// Package config loads the per-project harness configuration (bbx.yaml).
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ConfigVersionV1   = 1
	DefaultConfigPath = "bbx.yaml"

	defaultTestsDir       = "tests"
	defaultTimeoutSeconds = 10
)

// Config describes the binary under test and how the harness runs it.
type Config struct {
	Version int `yaml:"version"`

	// Binary is the command under test: an absolute/relative path, or a bare
	// name resolved via $PATH.
	Binary string `yaml:"binary"`

	// TestsDir holds the *.test.yaml scenario files.
	TestsDir string `yaml:"testsDir"`

	// TimeoutSeconds is the base budget for each match/exit wait.
	TimeoutSeconds float64 `yaml:"timeoutSeconds"`

	// Env lists extra KEY=VALUE entries added to every session environment.
	Env []string `yaml:"env"`
}

func Default() Config {
	return Config{
		Version:        ConfigVersionV1,
		TestsDir:       defaultTestsDir,
		TimeoutSeconds: defaultTimeoutSeconds,
	}
}

// Load reads path, falling back to defaults when the file is absent.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigPath
	}
	cfg := Default()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config yaml %s: %w", path, err)
	}
	if cfg.Version == 0 {
		cfg.Version = ConfigVersionV1
	}
	if cfg.Version != ConfigVersionV1 {
		return Config{}, fmt.Errorf("unsupported config version (expected %d)", ConfigVersionV1)
	}
	if cfg.TestsDir == "" {
		cfg.TestsDir = defaultTestsDir
	}
	if cfg.TimeoutSeconds <= 0 {
		return Config{}, fmt.Errorf("timeoutSeconds must be > 0")
	}
	for _, kv := range cfg.Env {
		if !strings.Contains(kv, "=") {
			return Config{}, fmt.Errorf("invalid env entry %q (want KEY=VALUE)", kv)
		}
	}
	return cfg, nil
}

// BaseTimeout converts the configured seconds into a duration.
func (c Config) BaseTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// ResolveBinary locates the binary under test. Names with a path separator
// are used as-is; bare names go through $PATH.
func (c Config) ResolveBinary() (string, error) {
	bin := strings.TrimSpace(c.Binary)
	if bin == "" {
		return "", fmt.Errorf("config: missing binary (set `binary:` in %s or pass --bin)", DefaultConfigPath)
	}
	if strings.ContainsRune(bin, os.PathSeparator) {
		abs, err := filepath.Abs(bin)
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", fmt.Errorf("config: binary %q not found: %w", bin, err)
	}
	return path, nil
}
