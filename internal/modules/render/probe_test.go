package render

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const probeJSON = `{
  "format": {"format_name": "mov,mp4,m4a", "duration": "12.480000", "bit_rate": "4500000"},
  "streams": [
    {"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080,
     "avg_frame_rate": "30000/1001", "r_frame_rate": "30/1", "bit_rate": "4000000"},
    {"index": 1, "codec_type": "audio", "codec_name": "aac", "channels": 2, "sample_rate": "48000"}
  ]
}`

func TestParseProbeOutput(t *testing.T) {
	info, err := ParseProbeOutput([]byte(probeJSON))
	require.NoError(t, err)

	assert.Equal(t, "mov,mp4,m4a", info.Format)
	assert.InDelta(t, 12.48, info.Duration, 1e-9)
	assert.Equal(t, 4500000, info.BitRate)
	assert.Equal(t, "h264", info.VideoCodec)
	assert.Equal(t, "aac", info.AudioCodec)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
	assert.InDelta(t, 29.97, info.FrameRate, 0.01)
	require.Len(t, info.Streams, 2)
	assert.Equal(t, 48000, info.Streams[1].SampleRate)
	assert.True(t, info.HasVideo())
}

func TestParseProbeOutputRotation(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		w, h   int
	}{
		{"tag", `"tags": {"rotate": "90"}`, 1080, 1920},
		{"side data", `"side_data_list": [{"rotation": -90}]`, 1080, 1920},
		{"upside down", `"tags": {"rotate": "180"}`, 1920, 1080},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := `{"format": {}, "streams": [{"index": 0, "codec_type": "video", "codec_name": "hevc",
				"width": 1920, "height": 1080, "r_frame_rate": "0/0", ` + tt.stream + `}]}`
			info, err := ParseProbeOutput([]byte(data))
			require.NoError(t, err)
			assert.Equal(t, tt.w, info.Width)
			assert.Equal(t, tt.h, info.Height)
			assert.Zero(t, info.FrameRate)
		})
	}
}

func TestParseProbeOutputInvalid(t *testing.T) {
	_, err := ParseProbeOutput([]byte("not json"))
	assert.Error(t, err)
}

func TestFFprobeProber(t *testing.T) {
	bin := fakeFFmpeg(t, "cat <<'JSON'\n"+probeJSON+"\nJSON")

	info, err := NewFFprobeProber(bin, zap.NewNop()).Probe(context.Background(), "clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, 1920, info.Width)

	failing := fakeFFmpeg(t, "exit 1")
	_, err = NewFFprobeProber(failing, zap.NewNop()).Probe(context.Background(), "clip.mp4")
	assert.Error(t, err)
}
