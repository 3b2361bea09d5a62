// Package media wraps the ffmpeg and ffprobe binaries.
//
// Every invocation runs in its own process group so that cancelling the
// context (job cancel or phase timeout) stops ffmpeg and any children it
// spawned.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"silence-trimmer/internal/config"
	"silence-trimmer/internal/interval"
)

var commandContext = exec.CommandContext

// diagnosticTail bounds how much engine output is carried on errors.
const diagnosticTail = 4096

// ExecError is a failed engine invocation.
type ExecError struct {
	Op     string
	Err    error
	Output string
}

func (e *ExecError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, out)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Diagnostic returns the text the retry classifier inspects.
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// DetectOptions configures silencedetect.
type DetectOptions struct {
	NoiseDB     float64
	MinDuration time.Duration
}

// Filter renders the silencedetect filter expression.
func (o DetectOptions) Filter() string {
	return fmt.Sprintf("silencedetect=noise=%sdB:d=%s",
		strconv.FormatFloat(o.NoiseDB, 'f', -1, 64),
		strconv.FormatFloat(o.MinDuration.Seconds(), 'f', -1, 64))
}

// Profile is the fixed re-encode target.
type Profile struct {
	VideoCodec   string
	VideoPreset  string
	VideoBitrate string
	AudioCodec   string
	AudioBitrate string
}

// Engine runs ffmpeg/ffprobe.
type Engine struct {
	ffmpeg  string
	ffprobe string
	profile Profile
}

// New builds an engine from configuration.
func New(cfg config.Config) *Engine {
	ffmpeg := strings.TrimSpace(cfg.FFmpegBinary)
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	ffprobe := strings.TrimSpace(cfg.FFprobeBinary)
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &Engine{
		ffmpeg:  ffmpeg,
		ffprobe: ffprobe,
		profile: Profile{
			VideoCodec:   cfg.VideoCodec,
			VideoPreset:  cfg.VideoPreset,
			VideoBitrate: cfg.VideoBitrate,
			AudioCodec:   cfg.AudioCodec,
			AudioBitrate: cfg.AudioBitrate,
		},
	}
}

// Detect runs silencedetect over input and returns ffmpeg's diagnostic stream.
func (e *Engine) Detect(ctx context.Context, input string, opts DetectOptions) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", fmt.Errorf("ffmpeg detect: %w", ErrEmptyPath)
	}
	return e.run(ctx, "ffmpeg detect", e.ffmpeg,
		"-hide_banner", "-nostats",
		"-i", input,
		"-vn", "-af", opts.Filter(),
		"-f", "null", "-")
}

// Transform re-encodes the concatenation of keep segments into output.
func (e *Engine) Transform(ctx context.Context, input string, keep []interval.Interval, hasAudio bool, output string) error {
	if strings.TrimSpace(input) == "" || strings.TrimSpace(output) == "" {
		return fmt.Errorf("ffmpeg transform: %w", ErrEmptyPath)
	}
	if len(keep) == 0 {
		return errors.New("ffmpeg transform: no segments to keep")
	}
	_, err := e.run(ctx, "ffmpeg transform", e.ffmpeg, e.transformArgs(input, keep, hasAudio, output)...)
	return err
}

// unsupportedInContainer is ffmpeg's complaint when a stream cannot be muxed
// into the output container as-is (for example PCM audio into MP4).
const unsupportedInContainer = "could not find tag for codec"

// Copy stream-copies input to output unchanged. When the output container
// cannot hold the source audio, the audio is re-encoded with the profile's
// audio codec and the video is still copied. Video the container rejects is
// not converted and fails the copy.
func (e *Engine) Copy(ctx context.Context, input, output string) error {
	if strings.TrimSpace(input) == "" || strings.TrimSpace(output) == "" {
		return fmt.Errorf("ffmpeg copy: %w", ErrEmptyPath)
	}
	_, err := e.run(ctx, "ffmpeg copy", e.ffmpeg, e.copyArgs(input, output, false)...)
	if err == nil || ctx.Err() != nil || !strings.Contains(strings.ToLower(Diagnostic(err)), unsupportedInContainer) {
		return err
	}
	_, err = e.run(ctx, "ffmpeg copy", e.ffmpeg, e.copyArgs(input, output, true)...)
	return err
}

func (e *Engine) copyArgs(input, output string, encodeAudio bool) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", input,
		"-map", "0:v", "-map", "0:a?",
	}
	if !encodeAudio {
		args = append(args, "-c", "copy")
	} else {
		codec := e.profile.AudioCodec
		if codec == "" {
			codec = "aac"
		}
		args = append(args, "-c:v", "copy", "-c:a", codec)
		if e.profile.AudioBitrate != "" {
			args = append(args, "-b:a", e.profile.AudioBitrate)
		}
	}
	return append(args, "-movflags", "+faststart", output)
}

// Frame writes a single PNG frame taken at offset seconds to dest.
func (e *Engine) Frame(ctx context.Context, input string, offset float64, dest string) error {
	if strings.TrimSpace(input) == "" || strings.TrimSpace(dest) == "" {
		return fmt.Errorf("ffmpeg frame: %w", ErrEmptyPath)
	}
	if offset < 0 {
		offset = 0
	}
	_, err := e.run(ctx, "ffmpeg frame", e.ffmpeg,
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", formatSeconds(offset),
		"-i", input,
		"-frames:v", "1",
		dest)
	return err
}

func (e *Engine) transformArgs(input string, keep []interval.Interval, hasAudio bool, output string) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", input,
		"-filter_complex", filterGraph(keep, hasAudio),
		"-map", "[outv]",
	}
	if hasAudio {
		args = append(args, "-map", "[outa]")
	}
	p := e.profile
	if p.VideoCodec != "" {
		args = append(args, "-c:v", p.VideoCodec)
	}
	if p.VideoPreset != "" {
		args = append(args, "-preset", p.VideoPreset)
	}
	if p.VideoBitrate != "" {
		args = append(args, "-b:v", p.VideoBitrate)
	}
	if hasAudio {
		if p.AudioCodec != "" {
			args = append(args, "-c:a", p.AudioCodec)
		}
		if p.AudioBitrate != "" {
			args = append(args, "-b:a", p.AudioBitrate)
		}
	}
	return append(args, "-movflags", "+faststart", output)
}

// filterGraph trims each keep segment from the first input and concatenates
// them in timestamp order.
func filterGraph(keep []interval.Interval, hasAudio bool) string {
	var b strings.Builder
	var concatInputs strings.Builder
	for i, seg := range keep {
		start, end := formatSeconds(seg.Start), formatSeconds(seg.End)
		fmt.Fprintf(&b, "[0:v]trim=start=%s:end=%s,setpts=PTS-STARTPTS[v%d];", start, end, i)
		fmt.Fprintf(&concatInputs, "[v%d]", i)
		if hasAudio {
			fmt.Fprintf(&b, "[0:a]atrim=start=%s:end=%s,asetpts=PTS-STARTPTS[a%d];", start, end, i)
			fmt.Fprintf(&concatInputs, "[a%d]", i)
		}
	}
	b.WriteString(concatInputs.String())
	if hasAudio {
		fmt.Fprintf(&b, "concat=n=%d:v=1:a=1[outv][outa]", len(keep))
	} else {
		fmt.Fprintf(&b, "concat=n=%d:v=1:a=0[outv]", len(keep))
	}
	return b.String()
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// run executes binary and returns its combined output. Failures are *ExecError.
func (e *Engine) run(ctx context.Context, op, binary string, args ...string) (string, error) {
	cmd := commandContext(ctx, binary, args...) //nolint:gosec
	configureProcess(cmd)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	if err == nil {
		return out.String(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w (%w)", err, ctxErr)
	}
	return out.String(), &ExecError{Op: op, Err: err, Output: tail(out.String(), diagnosticTail)}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
