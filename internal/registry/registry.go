// Package registry discovers test-definition files and records registered
// tests with their origin. Discovery runs once per Registry; file execution
// happens inside an explicit Load context rather than through ambient
// current-file state.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Test is one registered test, immutable after registration.
type Test struct {
	Name       string
	SourceFile string
	SourceHash string
	Body       func() error
}

// Load is the context for executing one test-definition file. Define calls
// are only legal while the Load is active.
type Load struct {
	file   string
	hash   string
	active bool
}

func (l *Load) File() string { return l.file }
func (l *Load) Hash() string { return l.hash }

// LoadFunc executes one definition file's content, registering tests through
// the passed Load.
type LoadFunc func(l *Load, raw []byte) error

type Registry struct {
	discovered bool
	loading    *Load
	tests      []Test
}

func New() *Registry {
	return &Registry{}
}

// Define registers a test under the given active load. Defining outside an
// active load (or under a stale one) is rejected.
func (r *Registry) Define(l *Load, name string, body func() error) error {
	if l == nil || !l.active || r.loading != l {
		return fmt.Errorf("registry: Define(%q) outside an active load", name)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("registry: test in %s has no name", l.file)
	}
	if body == nil {
		return fmt.Errorf("registry: test %q has no body", name)
	}
	r.tests = append(r.tests, Test{
		Name:       name,
		SourceFile: l.file,
		SourceHash: l.hash,
		Body:       body,
	})
	return nil
}

// Tests returns the registered tests in registration order.
func (r *Registry) Tests() []Test {
	out := make([]Test, len(r.tests))
	copy(out, r.tests)
	return out
}

// LoadFile reads and hashes one definition file, then executes it exactly
// once under a fresh Load. Reentrant loads are rejected.
func (r *Registry) LoadFile(path string, exec LoadFunc) error {
	if r.loading != nil {
		return fmt.Errorf("registry: reentrant load of %s (already loading %s)", path, r.loading.file)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	sum := sha256.Sum256(raw)
	l := &Load{file: path, hash: hex.EncodeToString(sum[:]), active: true}
	r.loading = l
	defer func() {
		l.active = false
		r.loading = nil
	}()
	if err := exec(l, raw); err != nil {
		return fmt.Errorf("registry: load %s: %w", path, err)
	}
	return nil
}

const definitionSuffix = ".test.yaml"

// DiscoverDir enumerates *.test.yaml files under dir in path-sorted order and
// loads each through exec. Repeated discovery on the same Registry is a no-op.
func (r *Registry) DiscoverDir(dir string, exec LoadFunc) error {
	if r.discovered {
		return nil
	}
	r.discovered = true

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), definitionSuffix) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("registry: discover %s: %w", dir, err)
	}
	sort.Strings(files)

	for _, f := range files {
		if err := r.LoadFile(f, exec); err != nil {
			return err
		}
	}
	return nil
}
