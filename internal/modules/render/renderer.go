// Package render runs one composition through the full pipeline and
// produces a validated output file.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nextconvert/compositor/internal/modules/assets"
	"github.com/nextconvert/compositor/internal/modules/compose"
	"github.com/nextconvert/compositor/internal/modules/composition"
	fg "github.com/nextconvert/compositor/internal/modules/filtergraph"
	"github.com/nextconvert/compositor/internal/modules/layer"
	"github.com/nextconvert/compositor/internal/modules/platform"
	"github.com/nextconvert/compositor/internal/modules/workspace"
	"github.com/nextconvert/compositor/internal/shared/apperr"
	"github.com/nextconvert/compositor/internal/shared/metrics"
	"github.com/nextconvert/compositor/internal/shared/storage"
	"go.uber.org/zap"
)

// Stage names reported in logs and progress.
const (
	StageResolve = "resolve"
	StageProbe   = "probe"
	StageBuild   = "build"
	StageEncode  = "encode"
	StagePublish = "publish"
)

// AssetResolver fetches a composition's sources into dir.
type AssetResolver interface {
	Resolve(ctx context.Context, dir string, comp *composition.Composition, canvasWidth int) (*assets.Resolved, error)
}

// Publisher uploads a finished render.
type Publisher interface {
	Publish(ctx context.Context, localPath string) (*storage.Object, error)
}

// Thumbnailer extracts a still frame from a finished render.
type Thumbnailer interface {
	GenerateThumbnail(ctx context.Context, inputPath, outputPath string, timestamp float64) error
}

// ProgressFunc receives the current stage and an overall 0-100 estimate.
type ProgressFunc func(stage string, percent int)

// Result describes a finished render.
type Result struct {
	JobID      string        `json:"jobId"`
	Platform   string        `json:"platform"`
	OutputPath string        `json:"outputPath"`
	OutputURL  string        `json:"outputUrl,omitempty"`
	Thumbnail  string        `json:"thumbnail,omitempty"`
	Duration   float64       `json:"duration"`
	Size       int64         `json:"size"`
	Media      *MediaInfo    `json:"media,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Config wires a Renderer. Prober, Thumbnailer and Publisher are optional.
type Config struct {
	Registry    *platform.Registry
	Workspaces  *workspace.Manager
	Resolver    AssetResolver
	Prober      Prober
	Builder     *compose.Builder
	Encoder     Encoder
	Thumbnailer Thumbnailer
	Publisher   Publisher
	OutputRoot  string
}

// Renderer executes single render jobs. It is safe for concurrent use.
type Renderer struct {
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewRenderer creates a renderer and its output directory.
func NewRenderer(cfg Config, logger *zap.Logger, m *metrics.Metrics) (*Renderer, error) {
	if cfg.Registry == nil || cfg.Workspaces == nil || cfg.Resolver == nil || cfg.Builder == nil || cfg.Encoder == nil {
		return nil, errors.New("renderer requires registry, workspaces, resolver, builder and encoder")
	}
	if err := os.MkdirAll(cfg.OutputRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output root %s: %w", cfg.OutputRoot, err)
	}
	return &Renderer{cfg: cfg, logger: logger, metrics: m}, nil
}

// Plan builds the filter graph for comp against its raw source locations
// without downloading or probing anything. Source sizes are unknown, so
// every scene uses cover scaling.
func (r *Renderer) Plan(comp *composition.Composition) (*fg.Graph, platform.Profile, error) {
	if err := comp.Validate(); err != nil {
		return nil, platform.Profile{}, err
	}
	profile, err := r.cfg.Registry.ProfileFor(comp.Platform)
	if err != nil {
		return nil, platform.Profile{}, err
	}

	in := compose.Input{
		Scenes:        make([]compose.Scene, len(comp.Scenes)),
		MusicPath:     comp.MusicTrack,
		MusicVolume:   comp.Volume(),
		LogoPath:      comp.Logo,
		GlobalEffects: comp.GlobalEffects,
	}
	for i, scene := range comp.Scenes {
		in.Scenes[i] = compose.Scene{
			Scene:     scene,
			VideoPath: scene.BackgroundSource,
			Still:     assets.IsImage(scene.BackgroundSource),
			AudioPath: scene.VoiceoverSource,
		}
	}

	graph, err := r.cfg.Builder.Build(in, profile)
	if err != nil {
		return nil, platform.Profile{}, err
	}
	return graph, profile, nil
}

// Render runs one job: profile lookup, workspace, asset download, probe,
// graph build, encode, move, optional publish. The workspace is always
// released; a failed release never fails the job.
func (r *Renderer) Render(ctx context.Context, jobID string, comp *composition.Composition, onProgress ProgressFunc) (*Result, error) {
	start := time.Now()
	logger := r.logger.With(zap.String("job_id", jobID), zap.String("platform", comp.Platform))
	report := func(stage string, percent int) {
		if onProgress != nil {
			onProgress(stage, percent)
		}
	}

	// Validation happens before anything is created on disk.
	if err := comp.Validate(); err != nil {
		return nil, err
	}
	profile, err := r.cfg.Registry.ProfileFor(comp.Platform)
	if err != nil {
		return nil, err
	}

	ws, err := r.cfg.Workspaces.Acquire(jobID)
	if err != nil {
		return nil, err
	}
	defer ws.Release()

	report(StageResolve, 0)
	resolved, err := r.cfg.Resolver.Resolve(ctx, ws.Dir, comp, profile.Width)
	if err != nil {
		logger.Error("Asset resolution failed", zap.String("stage", StageResolve), zap.Error(err))
		return nil, err
	}

	report(StageProbe, 10)
	in := compose.Input{
		Scenes:        make([]compose.Scene, len(comp.Scenes)),
		MusicPath:     resolved.Music,
		MusicVolume:   comp.Volume(),
		LogoPath:      resolved.Logo,
		GlobalEffects: comp.GlobalEffects,
	}
	for i, scene := range comp.Scenes {
		rs := resolved.Scenes[i]
		in.Scenes[i] = compose.Scene{
			Scene:     scene,
			VideoPath: rs.Background,
			Still:     rs.Still,
			AudioPath: rs.Voiceover,
			VideoSize: r.probeSize(ctx, logger, rs.Background),
		}
	}

	report(StageBuild, 15)
	graph, err := r.cfg.Builder.Build(in, profile)
	if err != nil {
		logger.Error("Filter graph build failed", zap.String("stage", StageBuild), zap.Error(err))
		return nil, err
	}

	report(StageEncode, 20)
	workOutput := ws.Path("output." + comp.OutputFormat)
	encodeStart := time.Now()
	err = r.cfg.Encoder.Encode(ctx, EncodeRequest{
		Graph:      graph,
		Profile:    profile,
		OutputPath: workOutput,
		OnProgress: func(p int) {
			report(StageEncode, 20+p*70/100)
		},
	})
	if r.metrics != nil {
		r.metrics.RecordFFmpegOperation(StageEncode, err == nil, time.Since(encodeStart))
	}
	if err != nil {
		logger.Error("Encode failed", zap.String("stage", StageEncode), zap.Error(err))
		return nil, err
	}

	finalPath := filepath.Join(r.cfg.OutputRoot, fmt.Sprintf("%s.%s", jobID, comp.OutputFormat))
	if err := moveFile(workOutput, finalPath); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, "render.move", "failed to move output")
	}

	info, err := os.Stat(finalPath)
	if err != nil || info.Size() == 0 {
		return nil, apperr.OutputMissing(finalPath)
	}

	result := &Result{
		JobID:      jobID,
		Platform:   profile.ID,
		OutputPath: finalPath,
		Duration:   graph.Duration,
		Size:       info.Size(),
	}

	if r.cfg.Prober != nil {
		if media, err := r.cfg.Prober.Probe(ctx, finalPath); err == nil {
			result.Media = media
		} else {
			logger.Debug("Output probe failed", zap.Error(err))
		}
	}

	if r.cfg.Thumbnailer != nil {
		thumb := strings.TrimSuffix(finalPath, filepath.Ext(finalPath)) + ".jpg"
		if err := r.cfg.Thumbnailer.GenerateThumbnail(ctx, finalPath, thumb, thumbnailAt(result.Duration)); err != nil {
			logger.Warn("Thumbnail extraction failed", zap.Error(err))
		} else {
			result.Thumbnail = thumb
		}
	}

	if r.cfg.Publisher != nil {
		report(StagePublish, 95)
		obj, err := r.cfg.Publisher.Publish(ctx, finalPath)
		if err != nil {
			logger.Error("Publish failed", zap.String("stage", StagePublish), zap.Error(err))
			return nil, apperr.Wrap(err, apperr.KindUploadFailed, "render.publish", "failed to publish output")
		}
		result.OutputURL = obj.URL
	}

	result.Elapsed = time.Since(start)
	report("done", 100)

	logger.Info("Render completed",
		zap.String("output", finalPath),
		zap.Int64("size", result.Size),
		zap.Float64("duration", result.Duration),
		zap.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

// thumbnailAt picks a frame one second in, or the midpoint of shorter renders.
func thumbnailAt(duration float64) float64 {
	if duration < 2 {
		return duration / 2
	}
	return 1
}

// probeSize returns the displayed size of a source, or zero when unknown.
func (r *Renderer) probeSize(ctx context.Context, logger *zap.Logger, path string) layer.Size {
	if path == "" || r.cfg.Prober == nil {
		return layer.Size{}
	}
	info, err := r.cfg.Prober.Probe(ctx, path)
	if err != nil || !info.HasVideo() {
		logger.Warn("Could not probe source, using cover scaling", zap.String("path", path), zap.Error(err))
		return layer.Size{}
	}
	return layer.Size{Width: info.Width, Height: info.Height}
}

// moveFile renames src to dst, copying when they are on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}
