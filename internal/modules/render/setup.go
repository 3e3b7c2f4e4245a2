package render

import (
	"github.com/nextconvert/compositor/internal/modules/assets"
	"github.com/nextconvert/compositor/internal/modules/compose"
	"github.com/nextconvert/compositor/internal/modules/layer"
	"github.com/nextconvert/compositor/internal/modules/platform"
	"github.com/nextconvert/compositor/internal/modules/workspace"
	"github.com/nextconvert/compositor/internal/shared/config"
	"github.com/nextconvert/compositor/internal/shared/metrics"
	"github.com/nextconvert/compositor/internal/shared/storage"
	"go.uber.org/zap"
)

// SetupOptions holds the runtime dependencies of NewFromConfig.
type SetupOptions struct {
	Registry *platform.Registry
	// Storage serves storage:// sources and, when publishing is enabled,
	// receives finished renders. Optional.
	Storage *storage.Service
	// DryRun swaps ffmpeg for MockEncoder and skips probing.
	DryRun  bool
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// NewFromConfig wires a Renderer and its workspace manager from
// configuration.
func NewFromConfig(cfg config.RenderConfig, opts SetupOptions) (*Renderer, *workspace.Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := opts.Registry
	if registry == nil {
		registry = platform.DefaultRegistry()
	}

	workspaces, err := workspace.NewManager(cfg.WorkRoot, logger, opts.Metrics)
	if err != nil {
		return nil, nil, err
	}

	rc := Config{
		Registry:   registry,
		Workspaces: workspaces,
		Resolver:   assets.NewResolver(assets.Config{Storage: opts.Storage}, logger, opts.Metrics),
		Builder:    compose.NewBuilder(layer.NewProcessor(layer.NewFontCatalog(cfg.FontDirs), layer.DefaultAnimation), logger),
		OutputRoot: cfg.OutputRoot,
	}

	if opts.DryRun {
		rc.Encoder = NewMockEncoder()
	} else {
		enc := NewFFmpegEncoder(FFmpegConfig{
			FFmpegPath: cfg.FFmpegPath,
			MaxThreads: cfg.MaxThreads,
			Timeout:    cfg.EncodeTimeout,
			KillGrace:  cfg.KillGrace,
		}, logger)
		rc.Encoder = enc
		rc.Prober = NewFFprobeProber(cfg.FFprobePath, logger)
		if cfg.Thumbnails {
			rc.Thumbnailer = enc
		}
	}

	if cfg.Publish && opts.Storage != nil {
		rc.Publisher = opts.Storage
	}

	renderer, err := NewRenderer(rc, logger, opts.Metrics)
	if err != nil {
		return nil, nil, err
	}
	return renderer, workspaces, nil
}
