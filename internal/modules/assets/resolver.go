// Package assets fetches a composition's media sources into a job's working
// directory.
package assets

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/nextconvert/compositor/internal/modules/composition"
	"github.com/nextconvert/compositor/internal/shared/apperr"
	"github.com/nextconvert/compositor/internal/shared/metrics"
	"github.com/nextconvert/compositor/internal/shared/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source schemes.
const (
	SchemeHTTP    = "http"
	SchemeHTTPS   = "https"
	SchemeStorage = "storage"
	SchemeFile    = "file"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// IsImage reports whether path names a still image.
func IsImage(p string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(p))]
}

// Scene holds the local files for one scene. Empty fields had no source.
type Scene struct {
	Background string
	Still      bool
	Voiceover  string
}

// Resolved lists every local file for one job.
type Resolved struct {
	Scenes []Scene
	Music  string
	Logo   string
}

// Config configures a Resolver.
type Config struct {
	HTTPClient *http.Client
	// Storage serves storage:// sources. Nil rejects them.
	Storage *storage.Service
}

// Resolver downloads all of a job's assets concurrently.
type Resolver struct {
	fetchers map[string]Fetcher
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewResolver creates a resolver with the http, storage and local fetchers.
func NewResolver(cfg Config, logger *zap.Logger, m *metrics.Metrics) *Resolver {
	httpFetcher := NewHTTPFetcher(cfg.HTTPClient)
	r := &Resolver{
		fetchers: map[string]Fetcher{
			SchemeHTTP:  httpFetcher,
			SchemeHTTPS: httpFetcher,
			SchemeFile:  LocalFetcher{},
			"":          LocalFetcher{},
		},
		logger:  logger,
		metrics: m,
	}
	if cfg.Storage != nil {
		r.fetchers[SchemeStorage] = NewStorageFetcher(cfg.Storage)
	}
	return r
}

// WithFetcher registers f for scheme, replacing any existing one.
func (r *Resolver) WithFetcher(scheme string, f Fetcher) *Resolver {
	r.fetchers[scheme] = f
	return r
}

type task struct {
	source string
	dest   string
	assign func(string)
}

// Resolve fetches every source of comp into dir. All downloads run at once;
// the first failure cancels the rest and is returned as ASSET_DOWNLOAD.
// canvasWidth sizes the prepared logo.
func (r *Resolver) Resolve(ctx context.Context, dir string, comp *composition.Composition, canvasWidth int) (*Resolved, error) {
	res := &Resolved{Scenes: make([]Scene, len(comp.Scenes))}

	var tasks []task
	for i, scene := range comp.Scenes {
		i := i
		if scene.BackgroundSource != "" {
			tasks = append(tasks, task{
				source: scene.BackgroundSource,
				dest:   filepath.Join(dir, fmt.Sprintf("bg_%d%s", i, extension(scene.BackgroundSource, ".mp4"))),
				assign: func(p string) {
					res.Scenes[i].Background = p
					res.Scenes[i].Still = IsImage(p)
				},
			})
		}
		if scene.VoiceoverSource != "" {
			tasks = append(tasks, task{
				source: scene.VoiceoverSource,
				dest:   filepath.Join(dir, fmt.Sprintf("audio_%d%s", i, extension(scene.VoiceoverSource, ".mp3"))),
				assign: func(p string) { res.Scenes[i].Voiceover = p },
			})
		}
	}
	if comp.MusicTrack != "" {
		tasks = append(tasks, task{
			source: comp.MusicTrack,
			dest:   filepath.Join(dir, "music"+extension(comp.MusicTrack, ".mp3")),
			assign: func(p string) { res.Music = p },
		})
	}
	if comp.Logo != "" {
		tasks = append(tasks, task{
			source: comp.Logo,
			dest:   filepath.Join(dir, "logo_src"+extension(comp.Logo, ".png")),
			assign: func(p string) { res.Logo = p },
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			if err := r.fetch(gctx, t.source, t.dest); err != nil {
				return err
			}
			t.assign(t.dest)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperr.Wrap(ctxErr, apperr.KindCanceled, "assets.resolve", "asset download interrupted")
		}
		return nil, err
	}

	if res.Logo != "" {
		prepared := filepath.Join(dir, "logo.png")
		if err := PrepareLogo(res.Logo, prepared, LogoWidth(canvasWidth)); err != nil {
			return nil, apperr.AssetDownload(comp.Logo, err)
		}
		res.Logo = prepared
	}

	return res, nil
}

func (r *Resolver) fetch(ctx context.Context, source, dest string) error {
	scheme := schemeOf(source)
	fetcher, ok := r.fetchers[scheme]
	if !ok {
		return apperr.AssetDownload(source, fmt.Errorf("unsupported source scheme %q", scheme))
	}

	start := time.Now()
	n, err := fetcher.Fetch(ctx, source, dest)
	if r.metrics != nil {
		r.metrics.RecordAssetDownload(metricScheme(scheme), err == nil, n)
	}
	if err != nil {
		r.logger.Warn("Asset fetch failed", zap.String("source", source), zap.Error(err))
		return apperr.AssetDownload(source, err)
	}

	r.logger.Debug("Asset fetched",
		zap.String("source", source),
		zap.String("dest", dest),
		zap.Int64("bytes", n),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// schemeOf returns the URL scheme, or "" for plain paths.
func schemeOf(source string) string {
	i := strings.Index(source, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(source[:i])
}

func metricScheme(scheme string) string {
	if scheme == "" {
		return SchemeFile
	}
	return scheme
}

// extension returns the lowercase file extension of a source, or def when
// it has none.
func extension(source, def string) string {
	p := source
	if u, err := url.Parse(source); err == nil && u.Scheme != "" {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" || len(ext) > 6 || strings.ContainsAny(ext, `/\`) {
		return def
	}
	return ext
}
