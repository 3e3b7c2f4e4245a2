package render

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// MediaInfo holds probed media metadata.
type MediaInfo struct {
	Format     string       `json:"format"`
	Duration   float64      `json:"duration"`
	BitRate    int          `json:"bitrate,omitempty"`
	VideoCodec string       `json:"videoCodec,omitempty"`
	AudioCodec string       `json:"audioCodec,omitempty"`
	Width      int          `json:"width,omitempty"`
	Height     int          `json:"height,omitempty"`
	FrameRate  float64      `json:"frameRate,omitempty"`
	Streams    []StreamInfo `json:"streams"`
}

// StreamInfo holds per-stream information.
type StreamInfo struct {
	Index      int    `json:"index"`
	Type       string `json:"type"`
	Codec      string `json:"codec"`
	BitRate    int    `json:"bitrate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
}

// HasVideo reports whether a video stream was found.
func (m *MediaInfo) HasVideo() bool {
	return m.VideoCodec != ""
}

// Prober reads media metadata from a local file.
type Prober interface {
	Probe(ctx context.Context, path string) (*MediaInfo, error)
}

// FFprobeProber probes with the ffprobe binary.
type FFprobeProber struct {
	path   string
	logger *zap.Logger
}

// NewFFprobeProber creates a prober. An empty path means "ffprobe" on PATH.
func NewFFprobeProber(path string, logger *zap.Logger) *FFprobeProber {
	if path == "" {
		path = "ffprobe"
	}
	return &FFprobeProber{path: path, logger: logger}
}

// ffprobeOutput represents the JSON output from ffprobe
type ffprobeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		Index        int               `json:"index"`
		CodecType    string            `json:"codec_type"`
		CodecName    string            `json:"codec_name"`
		Width        int               `json:"width,omitempty"`
		Height       int               `json:"height,omitempty"`
		RFrameRate   string            `json:"r_frame_rate,omitempty"`
		AvgFrameRate string            `json:"avg_frame_rate,omitempty"`
		BitRate      string            `json:"bit_rate,omitempty"`
		Channels     int               `json:"channels,omitempty"`
		SampleRate   string            `json:"sample_rate,omitempty"`
		Tags         map[string]string `json:"tags,omitempty"`
		SideDataList []struct {
			Rotation int `json:"rotation"`
		} `json:"side_data_list,omitempty"`
	} `json:"streams"`
}

// Probe runs ffprobe on path.
func (p *FFprobeProber) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	output, err := exec.CommandContext(ctx, p.path, args...).Output()
	if err != nil {
		p.logger.Debug("ffprobe failed", zap.Error(err), zap.String("path", path))
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	info, err := ParseProbeOutput(output)
	if err != nil {
		p.logger.Debug("Failed to parse ffprobe output", zap.Error(err), zap.String("path", path))
		return nil, err
	}
	return info, nil
}

// ParseProbeOutput decodes ffprobe's JSON. Rotated video reports its
// displayed dimensions.
func ParseProbeOutput(output []byte) (*MediaInfo, error) {
	var probeData ffprobeOutput
	if err := json.Unmarshal(output, &probeData); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &MediaInfo{
		Format:  probeData.Format.FormatName,
		Streams: make([]StreamInfo, 0, len(probeData.Streams)),
	}
	if d, err := strconv.ParseFloat(probeData.Format.Duration, 64); err == nil {
		info.Duration = d
	}
	if br, err := strconv.Atoi(probeData.Format.BitRate); err == nil {
		info.BitRate = br
	}

	for _, stream := range probeData.Streams {
		streamInfo := StreamInfo{
			Index: stream.Index,
			Type:  stream.CodecType,
			Codec: stream.CodecName,
		}
		if br, err := strconv.Atoi(stream.BitRate); err == nil {
			streamInfo.BitRate = br
		}

		switch stream.CodecType {
		case "video":
			if info.VideoCodec != "" {
				break
			}
			info.VideoCodec = stream.CodecName
			info.Width = stream.Width
			info.Height = stream.Height

			rotation := 0
			if r, err := strconv.Atoi(stream.Tags["rotate"]); err == nil {
				rotation = r
			}
			for _, sd := range stream.SideDataList {
				if sd.Rotation != 0 {
					rotation = sd.Rotation
				}
			}
			if rotation%180 != 0 {
				info.Width, info.Height = info.Height, info.Width
			}

			// "30000/1001" or "30/1"
			rate := stream.AvgFrameRate
			if rate == "" || rate == "0/0" {
				rate = stream.RFrameRate
			}
			info.FrameRate = parseRate(rate)
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = stream.CodecName
			}
			streamInfo.Channels = stream.Channels
			if sr, err := strconv.Atoi(stream.SampleRate); err == nil {
				streamInfo.SampleRate = sr
			}
		}

		info.Streams = append(info.Streams, streamInfo)
	}

	return info, nil
}

func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return 0
	}
	n, _ := strconv.ParseFloat(num, 64)
	d, _ := strconv.ParseFloat(den, 64)
	if d <= 0 {
		return 0
	}
	return n / d
}
