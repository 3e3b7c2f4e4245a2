package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	fg "github.com/nextconvert/compositor/internal/modules/filtergraph"
	"github.com/nextconvert/compositor/internal/modules/platform"
	"github.com/nextconvert/compositor/internal/shared/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var youtube = platform.Profile{ID: "youtube", Width: 1920, Height: 1080, FPS: 60, VideoBitrate: "12M", AudioBitrate: "320k", Codec: "libx264", Preset: "slow"}

func simpleGraph() *fg.Graph {
	return &fg.Graph{
		Inputs: []fg.Input{{Path: "bg_0.mp4", Kind: fg.InputSceneVideo}},
		Chains: []fg.Chain{
			{Inputs: []string{"0:v"}, Filters: []fg.Filter{fg.New("trim", fg.KV("duration", 2))}, Outputs: []string{"vout"}},
			{Filters: []fg.Filter{fg.New("anullsrc"), fg.New("atrim", fg.KV("duration", 2))}, Outputs: []string{"aout"}},
		},
		VideoOut: "vout",
		AudioOut: "aout",
		Duration: 2,
	}
}

// fakeFFmpeg writes an executable shell script standing in for ffmpeg.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts required")
	}
	p := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return p
}

func TestArgs(t *testing.T) {
	e := NewFFmpegEncoder(FFmpegConfig{MaxThreads: 4}, zap.NewNop())
	g := simpleGraph()

	args := e.Args(EncodeRequest{Graph: g, Profile: youtube, OutputPath: "/out/job.mp4"})

	expected := []string{
		"-y", "-hide_banner", "-nostdin",
		"-threads", "4",
		"-i", "bg_0.mp4",
		"-filter_complex", g.String(),
		"-map", "[vout]", "-map", "[aout]",
		"-c:v", "libx264", "-b:v", "12M", "-preset", "slow",
		"-pix_fmt", "yuv420p", "-r", "60",
		"-c:a", "aac", "-b:a", "320k", "-ar", "48000",
		"-movflags", "+faststart",
		"/out/job.mp4",
	}
	assert.Equal(t, expected, args)

	mkv := e.Args(EncodeRequest{Graph: g, Profile: youtube, OutputPath: "/out/job.mkv"})
	assert.NotContains(t, mkv, "-movflags")
}

func TestEncodeSuccess(t *testing.T) {
	bin := fakeFFmpeg(t, `for last; do :; done
printf 'frame=1 time=00:00:01.00 bitrate=1\r' >&2
printf 'media' > "$last"`)

	out := filepath.Join(t.TempDir(), "out.mp4")
	var progress []int
	e := NewFFmpegEncoder(FFmpegConfig{FFmpegPath: bin}, zap.NewNop())

	err := e.Encode(context.Background(), EncodeRequest{
		Graph:      simpleGraph(),
		Profile:    youtube,
		OutputPath: out,
		OnProgress: func(p int) { progress = append(progress, p) },
	})
	require.NoError(t, err)
	assert.FileExists(t, out)
	assert.Equal(t, []int{50, 100}, progress)
}

func TestEncodeNonZeroExit(t *testing.T) {
	bin := fakeFFmpeg(t, `echo "[AVFilterGraph] No such filter: 'bogus'" >&2
exit 1`)

	e := NewFFmpegEncoder(FFmpegConfig{FFmpegPath: bin}, zap.NewNop())
	err := e.Encode(context.Background(), EncodeRequest{
		Graph:      simpleGraph(),
		Profile:    youtube,
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrEncodeProcess))
	assert.Contains(t, apperr.DiagnosticOf(err), "No such filter: 'bogus'")
}

func TestEncodeZeroExitWithoutOutput(t *testing.T) {
	bin := fakeFFmpeg(t, "exit 0")

	e := NewFFmpegEncoder(FFmpegConfig{FFmpegPath: bin}, zap.NewNop())
	err := e.Encode(context.Background(), EncodeRequest{
		Graph:      simpleGraph(),
		Profile:    youtube,
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrOutputMissing))
}

func TestEncodeZeroExitWithEmptyOutput(t *testing.T) {
	bin := fakeFFmpeg(t, `for last; do :; done
: > "$last"`)

	e := NewFFmpegEncoder(FFmpegConfig{FFmpegPath: bin}, zap.NewNop())
	err := e.Encode(context.Background(), EncodeRequest{
		Graph:      simpleGraph(),
		Profile:    youtube,
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
	})

	assert.True(t, errors.Is(err, apperr.ErrOutputMissing))
}

func TestEncodeCanceled(t *testing.T) {
	bin := fakeFFmpeg(t, "exec sleep 30")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	e := NewFFmpegEncoder(FFmpegConfig{FFmpegPath: bin, KillGrace: 500 * time.Millisecond}, zap.NewNop())
	start := time.Now()
	err := e.Encode(ctx, EncodeRequest{
		Graph:      simpleGraph(),
		Profile:    youtube,
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
	})

	require.Error(t, err)
	assert.Equal(t, apperr.KindCanceled, apperr.KindOf(err))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestEncodeTimeout(t *testing.T) {
	bin := fakeFFmpeg(t, "exec sleep 30")

	e := NewFFmpegEncoder(FFmpegConfig{FFmpegPath: bin, Timeout: 200 * time.Millisecond, KillGrace: 500 * time.Millisecond}, zap.NewNop())
	err := e.Encode(context.Background(), EncodeRequest{
		Graph:      simpleGraph(),
		Profile:    youtube,
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
	})

	assert.Equal(t, apperr.KindCanceled, apperr.KindOf(err))
}

func TestEncodeFinish(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "valid.mp4")
	require.NoError(t, os.WriteFile(valid, []byte("media"), 0o644))
	missing := filepath.Join(dir, "missing.mp4")
	exitErr := errors.New("exit status 1")

	tests := []struct {
		name     string
		canceled bool
		waitErr  error
		output   string
		wantKind apperr.Kind
		wantDone bool
	}{
		{"clean exit", false, nil, valid, "", true},
		{"clean exit after cancel", true, nil, valid, "", true},
		{"clean exit without output", false, nil, missing, apperr.KindOutputMissing, false},
		{"interrupted without output", true, nil, missing, apperr.KindCanceled, false},
		{"interrupted", true, exitErr, missing, apperr.KindCanceled, false},
		{"failed", false, exitErr, missing, apperr.KindEncodeProcess, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.canceled {
				cancel()
			}

			var progress []int
			e := NewFFmpegEncoder(FFmpegConfig{}, zap.NewNop())
			err := e.finish(ctx, EncodeRequest{
				OutputPath: tt.output,
				OnProgress: func(p int) { progress = append(progress, p) },
			}, tt.waitErr, "stderr tail")

			if tt.wantDone {
				require.NoError(t, err)
				assert.Equal(t, []int{100}, progress)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))
			assert.Empty(t, progress)
		})
	}
}

func TestEncodeMissingBinary(t *testing.T) {
	e := NewFFmpegEncoder(FFmpegConfig{FFmpegPath: filepath.Join(t.TempDir(), "nope")}, zap.NewNop())
	err := e.Encode(context.Background(), EncodeRequest{
		Graph:      simpleGraph(),
		Profile:    youtube,
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
	})

	assert.True(t, errors.Is(err, apperr.ErrEncodeProcess))
}

func TestProgressWriter(t *testing.T) {
	var got []int
	w := newProgressWriter(6, func(p int) { got = append(got, p) })

	w.Write([]byte("Input #0, mov\nframe=   10 time=00:00:01.5"))
	w.Write([]byte("0 bitrate=1\rframe=  20 time=00:00:03.00 bitrate=1\rframe=  20 time=00:00:03.00\r"))
	w.Write([]byte("frame= 99 time=00:00:09.00\n"))

	assert.Equal(t, []int{25, 50, 99}, got)
	assert.True(t, strings.HasPrefix(w.String(), "Input #0"))
}

func TestProgressWriterKeepsTail(t *testing.T) {
	w := newProgressWriter(0, nil)
	chunk := strings.Repeat("x", 1024)
	for i := 0; i < 64; i++ {
		w.Write([]byte(chunk))
	}
	w.Write([]byte("final error line"))

	tail := w.String()
	assert.LessOrEqual(t, len(tail), 16*1024)
	assert.True(t, strings.HasSuffix(tail, "final error line"))
}

func TestGenerateThumbnail(t *testing.T) {
	bin := fakeFFmpeg(t, `for last; do :; done
printf 'jpeg' > "$last"`)

	e := NewFFmpegEncoder(FFmpegConfig{FFmpegPath: bin}, zap.NewNop())
	out := filepath.Join(t.TempDir(), "thumb.jpg")
	require.NoError(t, e.GenerateThumbnail(context.Background(), "in.mp4", out, 1.5))
	assert.FileExists(t, out)
}
