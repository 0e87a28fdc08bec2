package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/marcohefti/blackbox-lab/internal/config"
	"github.com/marcohefti/blackbox-lab/internal/store"
)

// The binary under test keeps its per-user state (session file, caches)
// wherever BBX_HOME points. Each sandbox gets a private one so tests never
// share mutable external state.
const HomeEnvVar = "BBX_HOME"

type sessionSeedV1 struct {
	SchemaVersion int    `json:"schemaVersion"`
	CreatedAt     string `json:"createdAt"`
}

// Sandbox is an isolated filesystem context and the sole factory for
// Sessions bound to it. Cleanup is caller-managed; the harness never removes
// sandbox directories itself.
type Sandbox struct {
	root string
	cfg  config.Config
}

// New allocates a fresh sandbox root under the system temp directory with a
// private home (holding the seed session file) and work directory.
func New(cfg config.Config) (*Sandbox, error) {
	root := filepath.Join(os.TempDir(), "bbx-"+uuid.NewString())
	for _, dir := range []string{homeDir(root), workDir(root)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sandbox: %w", err)
		}
	}
	seed := sessionSeedV1{
		SchemaVersion: 1,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := store.WriteJSONAtomic(filepath.Join(homeDir(root), "session.json"), seed); err != nil {
		return nil, fmt.Errorf("sandbox: seed session file: %w", err)
	}
	return &Sandbox{root: root, cfg: cfg}, nil
}

func homeDir(root string) string { return filepath.Join(root, "home") }
func workDir(root string) string { return filepath.Join(root, "work") }

func (sb *Sandbox) Root() string    { return sb.root }
func (sb *Sandbox) HomeDir() string { return homeDir(sb.root) }
func (sb *Sandbox) WorkDir() string { return workDir(sb.root) }

// Env returns the isolation variables for sessions of this sandbox, plus any
// extra entries from the harness config.
func (sb *Sandbox) Env() []string {
	env := []string{HomeEnvVar + "=" + sb.HomeDir()}
	return append(env, sb.cfg.Env...)
}

// Run constructs a new Session bound to this sandbox and forwards args to
// SetArgs.
func (sb *Sandbox) Run(args ...any) *Session {
	return newSession(sb).SetArgs(args...)
}
