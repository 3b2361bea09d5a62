// Package preview renders JPEG previews of job videos from extracted frames.
package preview

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// MaxFrames bounds how many frames a strip may contain.
const MaxFrames = 6

var ErrNoFrames = errors.New("frame count out of range")

// Framer extracts a single PNG frame at offset seconds into dest.
type Framer interface {
	Frame(ctx context.Context, input string, offset float64, dest string) error
}

// Renderer turns frames into resized JPEG previews.
type Renderer struct {
	framer Framer
	width  int
	tmpDir string
}

// NewRenderer builds a renderer producing frames width pixels wide.
func NewRenderer(framer Framer, width int) *Renderer {
	if width <= 0 {
		width = 320
	}
	return &Renderer{framer: framer, width: width}
}

// Offsets spaces n frame offsets evenly inside (0, duration).
func Offsets(duration float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = duration * float64(i+1) / float64(n+1)
	}
	return out
}

// Render writes a JPEG to w. With frames > 1 the frames are laid out left
// to right as a strip.
func (r *Renderer) Render(ctx context.Context, src string, duration float64, frames int, w io.Writer) error {
	if frames < 1 || frames > MaxFrames {
		return fmt.Errorf("%w: %d", ErrNoFrames, frames)
	}
	dir, err := os.MkdirTemp(r.tmpDir, "preview-")
	if err != nil {
		return fmt.Errorf("create frame dir: %w", err)
	}
	defer os.RemoveAll(dir)

	var tiles []image.Image
	for i, offset := range Offsets(duration, frames) {
		dest := filepath.Join(dir, fmt.Sprintf("frame-%02d.png", i))
		if err := r.framer.Frame(ctx, src, offset, dest); err != nil {
			return fmt.Errorf("extract frame at %.3fs: %w", offset, err)
		}
		img, err := imaging.Open(dest)
		if err != nil {
			return fmt.Errorf("decode frame: %w", err)
		}
		tiles = append(tiles, imaging.Resize(img, r.width, 0, imaging.Lanczos))
	}

	out := tiles[0]
	if len(tiles) > 1 {
		out = compose(tiles)
	}
	if err := imaging.Encode(w, out, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("encode preview: %w", err)
	}
	return nil
}

// compose places tiles side by side on a canvas as tall as the tallest tile.
func compose(tiles []image.Image) image.Image {
	var width, height int
	for _, t := range tiles {
		b := t.Bounds()
		width += b.Dx()
		if b.Dy() > height {
			height = b.Dy()
		}
	}
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	x := 0
	for _, t := range tiles {
		b := t.Bounds()
		draw.Copy(canvas, image.Pt(x, 0), t, b, draw.Src, nil)
		x += b.Dx()
	}
	return canvas
}
