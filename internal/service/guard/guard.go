package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/debpack/internal/logger"
)

const (
	markerPrefix = "debpack-"
	markerSuffix = ".pid"

	markerFileMode os.FileMode = 0o600
)

var (
	// ErrAlreadyRunning is returned when another run owns the marker for the same artifact.
	ErrAlreadyRunning = errors.New("another debpack run is building this package")
	// ErrPackageManagerBusy is returned when dpkg or apt is running.
	ErrPackageManagerBusy = errors.New("package manager is busy")
)

// packageManagers are process names that lock the dpkg database.
// Linux truncates process names to 15 characters, hence "unattended-upgr".
//
//nolint:gochecknoglobals // Read-only list.
var packageManagers = []string{
	"apt",
	"apt-get",
	"aptitude",
	"dpkg",
	"packagekitd",
	"synaptic",
	"unattended-upgr",
}

// Guard checks for concurrent runs on the host.
type Guard struct {
	dir         string
	processes   func() ([]ps.Process, error)
	findProcess func(pid int) (ps.Process, error)
	pid         int
}

// Option configures a Guard.
type Option func(*Guard)

// WithMarkerDir sets where markers are created, the OS temp dir by default.
func WithMarkerDir(dir string) Option {
	return func(g *Guard) {
		g.dir = dir
	}
}

// WithProcessTable replaces the process table readers.
func WithProcessTable(processes func() ([]ps.Process, error), findProcess func(pid int) (ps.Process, error)) Option {
	return func(g *Guard) {
		g.processes = processes
		g.findProcess = findProcess
	}
}

// New creates a Guard reading the live process table.
func New(opts ...Option) *Guard {
	g := &Guard{
		dir:         os.TempDir(),
		processes:   ps.Processes,
		findProcess: ps.FindProcess,
		pid:         os.Getpid(),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Marker is a held run marker.
type Marker struct {
	path string
}

// Path returns the marker file location.
func (m *Marker) Path() string {
	return m.path
}

// Release removes the marker.
func (m *Marker) Release() error {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove run marker: %w", err)
	}

	return nil
}

// Acquire creates the marker for artifactPath. A marker left by a process
// that no longer exists is removed and taken over.
func (g *Guard) Acquire(ctx context.Context, artifactPath string) (*Marker, error) {
	path := g.markerPath(artifactPath)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, markerFileMode)
		if err == nil {
			_, err = f.WriteString(strconv.Itoa(g.pid))
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}

			if err != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("write run marker: %w", err)
			}

			logger.DebugKV(ctx, "Run marker created", "path", path)

			return &Marker{path: path}, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create run marker: %w", err)
		}

		owner, alive := g.markerOwner(path)
		if alive {
			return nil, fmt.Errorf("pid %d: %w", owner, ErrAlreadyRunning)
		}

		logger.InfoKV(ctx, "The run marker is stale, attempting cleanup", "path", path, "pid", owner)

		if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale run marker: %w", err)
		}
	}

	return nil, ErrAlreadyRunning
}

// CheckPackageManager fails when a process that locks the dpkg database is running.
func (g *Guard) CheckPackageManager(ctx context.Context) error {
	processList, err := g.processes()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	var busy []string

	for _, process := range processList {
		if process.Pid() == g.pid {
			continue
		}

		if slices.Contains(packageManagers, process.Executable()) {
			busy = append(busy, fmt.Sprintf("%s (pid %d)", process.Executable(), process.Pid()))
		}
	}

	if len(busy) > 0 {
		return fmt.Errorf("%s: %w", strings.Join(busy, ", "), ErrPackageManagerBusy)
	}

	logger.Debug(ctx, "No package manager process found")

	return nil
}

// markerOwner reads the pid stored in a marker and reports whether it is alive.
// An unreadable marker is treated as owned, so it is never removed by mistake.
func (g *Guard) markerOwner(path string) (int, bool) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, !errors.Is(err, os.ErrNotExist)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	process, err := g.findProcess(pid)
	if err != nil {
		return pid, true
	}

	return pid, process != nil
}

func (g *Guard) markerPath(artifactPath string) string {
	abs, err := filepath.Abs(artifactPath)
	if err != nil {
		abs = artifactPath
	}

	sum := sha256.Sum256([]byte(abs))

	return filepath.Join(g.dir, markerPrefix+hex.EncodeToString(sum[:8])+markerSuffix)
}
