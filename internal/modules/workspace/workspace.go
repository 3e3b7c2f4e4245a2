// Package workspace owns the per-job scratch directories used while
// rendering.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/nextconvert/compositor/internal/shared/apperr"
	"github.com/nextconvert/compositor/internal/shared/metrics"
	"go.uber.org/zap"
)

const lockName = ".sweep.lock"

// Manager creates and removes working directories under a single root.
type Manager struct {
	root    string
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	active map[string]struct{}

	removeAll func(string) error
	now       func() time.Time
}

// NewManager creates the root directory if needed.
func NewManager(root string, logger *zap.Logger, m *metrics.Metrics) (*Manager, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work root %s: %w", root, err)
	}
	return &Manager{
		root:      root,
		logger:    logger,
		metrics:   m,
		active:    make(map[string]struct{}),
		removeAll: os.RemoveAll,
		now:       time.Now,
	}, nil
}

// Root returns the directory all workspaces live under.
func (m *Manager) Root() string {
	return m.root
}

// Workspace is one job's private directory.
type Workspace struct {
	Dir   string
	JobID string

	mgr  *Manager
	once sync.Once
	err  error
}

// Acquire creates <root>/<jobID>-<suffix>. Two jobs never share a directory.
func (m *Manager) Acquire(jobID string) (*Workspace, error) {
	name := fmt.Sprintf("%s-%s", safeName(jobID), uuid.NewString()[:8])
	dir := filepath.Join(m.root, name)

	if err := os.Mkdir(dir, 0755); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, "workspace.acquire", "failed to create working directory")
	}

	m.mu.Lock()
	m.active[dir] = struct{}{}
	m.mu.Unlock()

	m.logger.Debug("Workspace acquired", zap.String("job_id", jobID), zap.String("dir", dir))
	return &Workspace{Dir: dir, JobID: jobID, mgr: m}, nil
}

// Path joins name onto the workspace directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Release removes the directory. Failures are logged and counted and
// returned as CLEANUP_WARNING; callers must not fail the job on them.
// Release is safe to call more than once.
func (w *Workspace) Release() error {
	w.once.Do(func() {
		m := w.mgr
		m.mu.Lock()
		delete(m.active, w.Dir)
		m.mu.Unlock()

		if err := m.removeAll(w.Dir); err != nil {
			w.err = apperr.CleanupWarning(w.Dir, err)
			m.logger.Warn("Failed to remove working directory",
				zap.String("job_id", w.JobID),
				zap.String("dir", w.Dir),
				zap.Error(err),
			)
			if m.metrics != nil {
				m.metrics.RecordCleanupWarning()
			}
		}
	})
	return w.err
}

// SweepStale removes workspaces older than maxAge left behind by crashed
// processes. Only one sweeper per root runs at a time; a concurrent call
// returns 0 without doing anything.
func (m *Manager) SweepStale(maxAge time.Duration) (int, error) {
	lock := flock.New(filepath.Join(m.root, lockName))
	locked, err := lock.TryLock()
	if err != nil {
		return 0, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !locked {
		m.logger.Debug("Sweep already running", zap.String("root", m.root))
		return 0, nil
	}
	defer lock.Unlock()

	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("read work root: %w", err)
	}

	cutoff := m.now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.root, entry.Name())

		m.mu.Lock()
		_, busy := m.active[dir]
		m.mu.Unlock()
		if busy {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := m.removeAll(dir); err != nil {
			m.logger.Warn("Failed to sweep working directory", zap.String("dir", dir), zap.Error(err))
			if m.metrics != nil {
				m.metrics.RecordCleanupWarning()
			}
			continue
		}
		removed++
	}

	if removed > 0 {
		m.logger.Info("Swept stale workspaces", zap.Int("count", removed), zap.String("root", m.root))
		if m.metrics != nil {
			m.metrics.RecordSwept(removed)
		}
	}
	return removed, nil
}

func safeName(id string) string {
	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
	if id == "" {
		return "job"
	}
	return id
}
