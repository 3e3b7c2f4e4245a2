package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/nextconvert/compositor/internal/shared/apperr"
	"github.com/nextconvert/compositor/internal/shared/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, _ := newManagerWithRegistry(t)
	return m
}

func newManagerWithRegistry(t *testing.T) (*Manager, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := NewManager(filepath.Join(t.TempDir(), "work"), zap.NewNop(), metrics.New(reg))
	require.NoError(t, err)
	return m, reg
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestAcquireRelease(t *testing.T) {
	m := newManager(t)

	a, err := m.Acquire("job-1")
	require.NoError(t, err)
	b, err := m.Acquire("job-1")
	require.NoError(t, err)

	assert.NotEqual(t, a.Dir, b.Dir)
	assert.True(t, strings.HasPrefix(filepath.Base(a.Dir), "job-1-"))
	assert.DirExists(t, a.Dir)

	require.NoError(t, os.WriteFile(a.Path("bg_0.mp4"), []byte("x"), 0644))

	require.NoError(t, a.Release())
	assert.NoDirExists(t, a.Dir)
	assert.NoError(t, a.Release())
	assert.DirExists(t, b.Dir)
}

func TestAcquireSanitizesJobID(t *testing.T) {
	m := newManager(t)

	w, err := m.Acquire("../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, m.Root(), filepath.Dir(w.Dir))
}

func TestReleaseFailureIsWarning(t *testing.T) {
	m, reg := newManagerWithRegistry(t)
	m.removeAll = func(string) error { return errors.New("device busy") }

	w, err := m.Acquire("job-2")
	require.NoError(t, err)

	err = w.Release()
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrCleanupWarning))
	assert.Equal(t, 1.0, counterValue(t, reg, "workspace_cleanup_warnings_total"))
}

func TestSweepStale(t *testing.T) {
	m := newManager(t)
	now := time.Now()
	m.now = func() time.Time { return now }

	old := filepath.Join(m.Root(), "crashed-0000")
	require.NoError(t, os.Mkdir(old, 0755))
	require.NoError(t, os.Chtimes(old, now.Add(-2*time.Hour), now.Add(-2*time.Hour)))

	fresh := filepath.Join(m.Root(), "recent-0000")
	require.NoError(t, os.Mkdir(fresh, 0755))

	busy, err := m.Acquire("running")
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(busy.Dir, now.Add(-2*time.Hour), now.Add(-2*time.Hour)))

	removed, err := m.SweepStale(time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, old)
	assert.DirExists(t, fresh)
	assert.DirExists(t, busy.Dir)
}

func TestSweepSkipsWhenLocked(t *testing.T) {
	m := newManager(t)

	other := flock.New(filepath.Join(m.Root(), lockName))
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Unlock()

	old := filepath.Join(m.Root(), "crashed-0000")
	require.NoError(t, os.Mkdir(old, 0755))
	require.NoError(t, os.Chtimes(old, time.Now().Add(-48*time.Hour), time.Now().Add(-48*time.Hour)))

	removed, err := m.SweepStale(time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.DirExists(t, old)
}
