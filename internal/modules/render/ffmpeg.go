package render

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nextconvert/compositor/internal/shared/apperr"
	"go.uber.org/zap"
)

// DefaultKillGrace is how long an interrupted ffmpeg may take to exit before
// it is killed.
const DefaultKillGrace = 10 * time.Second

// FFmpegConfig configures the ffmpeg encoder.
type FFmpegConfig struct {
	FFmpegPath string
	MaxThreads int           // 0 = let ffmpeg decide
	Timeout    time.Duration // 0 = no bound
	KillGrace  time.Duration
}

// FFmpegEncoder encodes by running ffmpeg as a subprocess.
type FFmpegEncoder struct {
	ffmpegPath string
	maxThreads int
	timeout    time.Duration
	killGrace  time.Duration
	logger     *zap.Logger
}

// NewFFmpegEncoder creates an encoder with defaults for empty fields.
func NewFFmpegEncoder(cfg FFmpegConfig, logger *zap.Logger) *FFmpegEncoder {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	return &FFmpegEncoder{
		ffmpegPath: cfg.FFmpegPath,
		maxThreads: cfg.MaxThreads,
		timeout:    cfg.Timeout,
		killGrace:  cfg.KillGrace,
		logger:     logger,
	}
}

// Args builds the ffmpeg command line. All encode parameters come from the
// request's profile.
func (e *FFmpegEncoder) Args(req EncodeRequest) []string {
	args := []string{"-y", "-hide_banner", "-nostdin"}

	if e.maxThreads > 0 {
		args = append(args, "-threads", strconv.Itoa(e.maxThreads))
	}

	args = append(args, req.Graph.InputArgs()...)
	args = append(args,
		"-filter_complex", req.Graph.String(),
		"-map", "["+req.Graph.VideoOut+"]",
		"-map", "["+req.Graph.AudioOut+"]",
	)

	p := req.Profile
	args = append(args, "-c:v", p.Codec)
	if p.VideoBitrate != "" {
		args = append(args, "-b:v", p.VideoBitrate)
	}
	if p.Preset != "" {
		args = append(args, "-preset", p.Preset)
	}
	args = append(args,
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(p.FPS),
		"-c:a", "aac",
	)
	if p.AudioBitrate != "" {
		args = append(args, "-b:a", p.AudioBitrate)
	}
	args = append(args, "-ar", "48000")

	switch strings.ToLower(filepath.Ext(req.OutputPath)) {
	case ".mp4", ".mov", ".m4v":
		args = append(args, "-movflags", "+faststart")
	}

	return append(args, req.OutputPath)
}

// Encode runs ffmpeg and validates its output. Cancelling ctx interrupts
// the process and kills it after the grace period.
func (e *FFmpegEncoder) Encode(ctx context.Context, req EncodeRequest) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	args := e.Args(req)

	e.logger.Info("Executing FFmpeg",
		zap.String("output", req.OutputPath),
		zap.Int("inputs", len(req.Graph.Inputs)),
		zap.Float64("duration", req.Graph.Duration),
	)
	e.logger.Debug("FFmpeg arguments", zap.Strings("args", args))

	stderr := newProgressWriter(req.Graph.Duration, req.OnProgress)

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	cmd.Stderr = stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = e.killGrace

	if err := cmd.Start(); err != nil {
		return apperr.EncodeProcess(fmt.Errorf("failed to start FFmpeg: %w", err), "")
	}

	return e.finish(ctx, req, cmd.Wait(), stderr.String())
}

// finish classifies a finished ffmpeg run. A clean exit with valid output
// succeeds even if ctx ended after the process did.
func (e *FFmpegEncoder) finish(ctx context.Context, req EncodeRequest, waitErr error, diagnostic string) error {
	if waitErr == nil {
		err := validateOutput(req.OutputPath)
		if err == nil {
			if req.OnProgress != nil {
				req.OnProgress(100)
			}
			return nil
		}
		if ctx.Err() == nil {
			return err
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		e.logger.Warn("FFmpeg interrupted", zap.String("output", req.OutputPath), zap.Error(ctxErr))
		return apperr.Wrap(ctxErr, apperr.KindCanceled, "render.encode", "encode interrupted")
	}
	return apperr.EncodeProcess(fmt.Errorf("FFmpeg execution failed: %w", waitErr), diagnostic)
}

// GenerateThumbnail extracts a single frame at timestamp seconds.
func (e *FFmpegEncoder) GenerateThumbnail(ctx context.Context, inputPath, outputPath string, timestamp float64) error {
	args := []string{
		"-y",
		"-ss", fmt.Sprintf("%.2f", timestamp),
		"-i", inputPath,
		"-frames:v", "1",
		"-q:v", "2",
		outputPath,
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return apperr.EncodeProcess(fmt.Errorf("thumbnail extraction failed: %w", err), stderr.String())
	}
	return validateOutput(outputPath)
}

var progressRegex = regexp.MustCompile(`time=(\d+):(\d+):(\d+(?:\.\d+)?)`)

// progressWriter keeps the tail of ffmpeg's stderr and reports progress from
// its status lines, which are separated by carriage returns.
type progressWriter struct {
	total      float64
	onProgress func(int)
	last       int
	partial    []byte
	tail       []byte
}

func newProgressWriter(total float64, onProgress func(int)) *progressWriter {
	return &progressWriter{total: total, onProgress: onProgress, last: -1}
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.tail = append(w.tail, p...)
	if len(w.tail) > 2*apperr.MaxDiagnosticBytes {
		w.tail = append([]byte(nil), w.tail[len(w.tail)-apperr.MaxDiagnosticBytes:]...)
	}

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexAny(w.partial, "\r\n")
		if i < 0 {
			break
		}
		w.line(string(w.partial[:i]))
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

func (w *progressWriter) line(s string) {
	if w.onProgress == nil || w.total <= 0 {
		return
	}
	m := progressRegex.FindStringSubmatch(s)
	if m == nil {
		return
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, _ := strconv.ParseFloat(m[3], 64)
	elapsed := float64(hours*3600+minutes*60) + seconds

	percent := int(elapsed / w.total * 100)
	if percent > 99 {
		percent = 99
	}
	if percent > w.last {
		w.last = percent
		w.onProgress(percent)
	}
}

// String returns the retained diagnostic text.
func (w *progressWriter) String() string {
	return apperr.Tail(string(w.tail), apperr.MaxDiagnosticBytes)
}
