package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextconvert/compositor/internal/modules/assets"
	"github.com/nextconvert/compositor/internal/modules/compose"
	"github.com/nextconvert/compositor/internal/modules/composition"
	"github.com/nextconvert/compositor/internal/modules/layer"
	"github.com/nextconvert/compositor/internal/modules/platform"
	"github.com/nextconvert/compositor/internal/modules/workspace"
	"github.com/nextconvert/compositor/internal/shared/apperr"
	"github.com/nextconvert/compositor/internal/shared/metrics"
	"github.com/nextconvert/compositor/internal/shared/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	renderer *Renderer
	encoder  *MockEncoder
	workRoot string
	outRoot  string
	srcDir   string
}

func newFixture(t *testing.T, publisher Publisher) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		encoder:  NewMockEncoder(),
		workRoot: filepath.Join(root, "work"),
		outRoot:  filepath.Join(root, "out"),
		srcDir:   filepath.Join(root, "src"),
	}
	require.NoError(t, os.MkdirAll(f.srcDir, 0755))

	logger := zap.NewNop()
	m := metrics.NewNop()
	workspaces, err := workspace.NewManager(f.workRoot, logger, m)
	require.NoError(t, err)

	f.renderer, err = NewRenderer(Config{
		Registry:   platform.DefaultRegistry(),
		Workspaces: workspaces,
		Resolver:   assets.NewResolver(assets.Config{}, logger, m),
		Builder:    compose.NewBuilder(layer.NewProcessor(nil, layer.DefaultAnimation), logger),
		Encoder:    f.encoder,
		Publisher:  publisher,
		OutputRoot: f.outRoot,
	}, logger, m)
	require.NoError(t, err)
	return f
}

func (f *fixture) source(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(f.srcDir, name)
	require.NoError(t, os.WriteFile(p, []byte("media:"+name), 0644))
	return p
}

func (f *fixture) composition(t *testing.T, platformID string) *composition.Composition {
	t.Helper()
	comp, err := composition.New(composition.Composition{
		Platform: platformID,
		Scenes: []composition.Scene{
			{BackgroundSource: f.source(t, "a.mp4"), VoiceoverSource: f.source(t, "a.mp3"), Duration: 2},
			{BackgroundSource: f.source(t, "b.mp4"), Duration: 1.5},
		},
		MusicTrack: f.source(t, "music.mp3"),
	})
	require.NoError(t, err)
	return comp
}

func entries(t *testing.T, dir string) []string {
	t.Helper()
	list, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range list {
		names = append(names, e.Name())
	}
	return names
}

func TestRenderSuccess(t *testing.T) {
	f := newFixture(t, nil)
	comp := f.composition(t, "tiktok")

	var stages []string
	var last int
	res, err := f.renderer.Render(context.Background(), "job-1", comp, func(stage string, p int) {
		stages = append(stages, stage)
		last = p
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(f.outRoot, "job-1.mp4"), res.OutputPath)
	assert.Equal(t, "tiktok", res.Platform)
	assert.InDelta(t, 3.5, res.Duration, 1e-9)
	assert.Equal(t, int64(len("mock-media")), res.Size)
	assert.FileExists(t, res.OutputPath)
	assert.Equal(t, 100, last)
	assert.Equal(t, []string{StageResolve, StageProbe, StageBuild, StageEncode, StageEncode, "done"}, stages)

	reqs := f.encoder.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 1080, reqs[0].Profile.Width)
	for _, in := range reqs[0].Graph.Inputs {
		assert.True(t, strings.HasPrefix(in.Path, f.workRoot), in.Path)
	}

	assert.Empty(t, entries(t, f.workRoot), "workspace must be released")
}

func TestRenderUnknownPlatformHasNoSideEffects(t *testing.T) {
	f := newFixture(t, nil)
	comp := f.composition(t, "myspace")

	_, err := f.renderer.Render(context.Background(), "job-2", comp, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrUnknownPlatform))
	assert.Empty(t, entries(t, f.workRoot))
	assert.Empty(t, entries(t, f.outRoot))
	assert.Empty(t, f.encoder.Requests())
}

func TestRenderOutputMissing(t *testing.T) {
	f := newFixture(t, nil)
	f.encoder.Output = nil

	_, err := f.renderer.Render(context.Background(), "job-3", f.composition(t, "youtube"), nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrOutputMissing))
	assert.Empty(t, entries(t, f.workRoot))
	assert.Empty(t, entries(t, f.outRoot))
}

func TestRenderEncodeFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.encoder.Fail = func(EncodeRequest) (string, bool) {
		return "Error initializing complex filters", true
	}

	_, err := f.renderer.Render(context.Background(), "job-4", f.composition(t, "tiktok"), nil)

	require.Error(t, err)
	assert.Equal(t, apperr.KindEncodeProcess, apperr.KindOf(err))
	assert.Equal(t, "Error initializing complex filters", apperr.DiagnosticOf(err))
	assert.Empty(t, entries(t, f.workRoot))
}

func TestRenderAssetFailure(t *testing.T) {
	f := newFixture(t, nil)
	comp := f.composition(t, "tiktok")
	comp.Scenes[1].BackgroundSource = filepath.Join(f.srcDir, "missing.mp4")

	_, err := f.renderer.Render(context.Background(), "job-5", comp, nil)

	assert.True(t, errors.Is(err, apperr.ErrAssetDownload))
	assert.Empty(t, f.encoder.Requests())
	assert.Empty(t, entries(t, f.workRoot))
}

func TestRenderPublishes(t *testing.T) {
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	f := newFixture(t, storage.NewServiceWithBackend(backend, "https://cdn.example.com"))

	res, err := f.renderer.Render(context.Background(), "job-6", f.composition(t, "instagram"), nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.OutputURL, "https://cdn.example.com/renders/"), res.OutputURL)
	assert.True(t, strings.HasSuffix(res.OutputURL, "/job-6.mp4"), res.OutputURL)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string) (*storage.Object, error) {
	return nil, errors.New("bucket unavailable")
}

func TestRenderPublishFailure(t *testing.T) {
	f := newFixture(t, failingPublisher{})

	_, err := f.renderer.Render(context.Background(), "job-7", f.composition(t, "tiktok"), nil)

	assert.Equal(t, apperr.KindUploadFailed, apperr.KindOf(err))
}

type fakeThumbnailer struct {
	fail bool
	at   float64
}

func (f *fakeThumbnailer) GenerateThumbnail(ctx context.Context, inputPath, outputPath string, timestamp float64) error {
	f.at = timestamp
	if f.fail {
		return errors.New("no frame")
	}
	return os.WriteFile(outputPath, []byte("jpeg"), 0644)
}

func TestRenderThumbnail(t *testing.T) {
	tests := []struct {
		name string
		fail bool
		want string
	}{
		{"extracted", false, "job-8.jpg"},
		{"failure is not fatal", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			thumbs := &fakeThumbnailer{fail: tt.fail}
			f.renderer.cfg.Thumbnailer = thumbs

			res, err := f.renderer.Render(context.Background(), "job-8", f.composition(t, "tiktok"), nil)
			require.NoError(t, err)

			assert.Equal(t, 1.0, thumbs.at)
			if tt.want == "" {
				assert.Empty(t, res.Thumbnail)
				return
			}
			assert.Equal(t, filepath.Join(f.outRoot, tt.want), res.Thumbnail)
			assert.FileExists(t, res.Thumbnail)
		})
	}
}

func TestThumbnailAt(t *testing.T) {
	assert.Equal(t, 1.0, thumbnailAt(6.5))
	assert.Equal(t, 0.75, thumbnailAt(1.5))
}

func TestPlan(t *testing.T) {
	f := newFixture(t, nil)
	comp := f.composition(t, "4k")

	g, profile, err := f.renderer.Plan(comp)
	require.NoError(t, err)

	assert.Equal(t, "libx265", profile.Codec)
	assert.Equal(t, comp.Scenes[0].BackgroundSource, g.Inputs[0].Path)
	assert.InDelta(t, 3.5, g.Duration, 1e-9)
	assert.Empty(t, entries(t, f.workRoot))
}
