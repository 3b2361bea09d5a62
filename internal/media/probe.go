package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrEmptyPath     = errors.New("empty media path")
	ErrNoVideoStream = errors.New("no video stream")
	ErrUnreadable    = errors.New("media duration unreadable")
)

// Info is the subset of ffprobe output the pipeline needs.
type Info struct {
	DurationSeconds float64 `json:"duration"`
	Codec           string  `json:"codec"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	BitRate         int64   `json:"bit_rate"`
	SizeBytes       int64   `json:"size_bytes"`
	HasVideo        bool    `json:"has_video"`
	HasAudio        bool    `json:"has_audio"`
}

// Resolution formats width x height, or "" when unknown.
func (i Info) Resolution() string {
	if i.Width <= 0 || i.Height <= 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", i.Width, i.Height)
}

// ValidateInput rejects files the pipeline cannot work on.
func ValidateInput(info Info) error {
	if !info.HasVideo {
		return ErrNoVideoStream
	}
	if math.IsNaN(info.DurationSeconds) || info.DurationSeconds <= 0 {
		return ErrUnreadable
	}
	return nil
}

type probeResult struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	BitRate   string `json:"bit_rate"`
}

type probeFormat struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
	BitRate  string `json:"bit_rate"`
}

// Probe runs ffprobe against path.
func (e *Engine) Probe(ctx context.Context, path string) (Info, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Info{}, fmt.Errorf("ffprobe: %w", ErrEmptyPath)
	}
	out, err := e.run(ctx, "ffprobe", e.ffprobe, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	if err != nil {
		return Info{}, err
	}
	return parseProbe([]byte(out))
}

func parseProbe(raw []byte) (Info, error) {
	var res probeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return Info{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	info := Info{
		DurationSeconds: parseFloat(res.Format.Duration),
		SizeBytes:       parseInt(res.Format.Size),
		BitRate:         parseInt(res.Format.BitRate),
	}
	for _, s := range res.Streams {
		switch strings.ToLower(s.CodecType) {
		case "video":
			if info.HasVideo {
				continue
			}
			info.HasVideo = true
			info.Codec = s.CodecName
			info.Width = s.Width
			info.Height = s.Height
		case "audio":
			info.HasAudio = true
		}
	}
	return info, nil
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return parsed
	}
	return math.NaN()
}

func parseInt(value string) int64 {
	v := parseFloat(value)
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return int64(v)
}
