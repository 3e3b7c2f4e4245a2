package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextconvert/compositor/internal/modules/assets"
	"github.com/nextconvert/compositor/internal/modules/compose"
	"github.com/nextconvert/compositor/internal/modules/composition"
	"github.com/nextconvert/compositor/internal/modules/layer"
	"github.com/nextconvert/compositor/internal/modules/platform"
	"github.com/nextconvert/compositor/internal/modules/render"
	"github.com/nextconvert/compositor/internal/modules/workspace"
	"github.com/nextconvert/compositor/internal/shared/metrics"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type env struct {
	renderer  *render.Renderer
	encoder   *render.MockEncoder
	workspace *workspace.Manager
	srcDir    string
	outDir    string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		encoder: render.NewMockEncoder(),
		srcDir:  filepath.Join(root, "src"),
		outDir:  filepath.Join(root, "out"),
	}
	require.NoError(t, os.MkdirAll(e.srcDir, 0755))

	logger := zap.NewNop()
	m := metrics.NewNop()
	var err error
	e.workspace, err = workspace.NewManager(filepath.Join(root, "work"), logger, m)
	require.NoError(t, err)

	e.renderer, err = render.NewRenderer(render.Config{
		Registry:   platform.DefaultRegistry(),
		Workspaces: e.workspace,
		Resolver:   assets.NewResolver(assets.Config{}, logger, m),
		Builder:    compose.NewBuilder(layer.NewProcessor(nil, layer.DefaultAnimation), logger),
		Encoder:    e.encoder,
		OutputRoot: e.outDir,
	}, logger, m)
	require.NoError(t, err)
	return e
}

func (e *env) source(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(e.srcDir, name)
	require.NoError(t, os.WriteFile(p, []byte("media:"+name), 0644))
	return p
}

// raw returns an undefaulted composition with one scene per background.
func (e *env) raw(t *testing.T, backgrounds ...string) composition.Composition {
	t.Helper()
	c := composition.Composition{Platform: "youtube-shorts"}
	for _, bg := range backgrounds {
		c.Scenes = append(c.Scenes, composition.Scene{BackgroundSource: bg, Duration: 1})
	}
	return c
}

func (e *env) composition(t *testing.T, backgrounds ...string) *composition.Composition {
	t.Helper()
	comp, err := composition.New(e.raw(t, backgrounds...))
	require.NoError(t, err)
	return comp
}

// fakeRunner is a Runner driven by a function.
type fakeRunner struct {
	fn func(ctx context.Context, jobID string) (*render.Result, error)

	inFlight atomic.Int32
	maxSeen  atomic.Int32
	mu       sync.Mutex
	ran      []string
}

func (f *fakeRunner) Render(ctx context.Context, jobID string, comp *composition.Composition, onProgress render.ProgressFunc) (*render.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	f.mu.Lock()
	f.ran = append(f.ran, jobID)
	f.mu.Unlock()

	if onProgress != nil {
		onProgress(render.StageEncode, 50)
	}
	if f.fn != nil {
		return f.fn(ctx, jobID)
	}
	return &render.Result{JobID: jobID, OutputPath: fmt.Sprintf("/out/%s.mp4", jobID)}, nil
}

func sleepRunner(d time.Duration) *fakeRunner {
	return &fakeRunner{fn: func(ctx context.Context, jobID string) (*render.Result, error) {
		time.Sleep(d)
		return &render.Result{JobID: jobID, OutputPath: "/out/" + jobID + ".mp4"}, nil
	}}
}
