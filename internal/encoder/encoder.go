// Package encoder turns raw RGBA frames into JPEG bytes for upload.
package encoder

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dj-oyu/livecam-uploader/pkg/types"
)

// MaxQuality is the top setting of the JPEG encoder.
const MaxQuality = 100

// Encoder converts frames to JPEG.
type Encoder struct {
	Quality  int            // JPEG quality (1-100)
	Overlay  bool           // Stamp frame number and time in the top-left corner
	Location *time.Location // Overlay time zone (local when nil)
}

// New returns an encoder at maximum quality without overlay.
func New() *Encoder {
	return &Encoder{Quality: MaxQuality}
}

// Encode reads the frame's pixels once and returns freshly allocated JPEG
// bytes. The frame buffer is never written, so the producer may reuse it as
// soon as Encode returns.
func (e *Encoder) Encode(f *types.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}

	var img image.Image = f.Image()
	if e.Overlay {
		img = e.stamp(f)
	}

	quality := e.Quality
	if quality <= 0 || quality > MaxQuality {
		quality = MaxQuality
	}

	var buf bytes.Buffer
	buf.Grow(f.Width * f.Height / 2)
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

// stamp draws the overlay on a private copy of the frame.
func (e *Encoder) stamp(f *types.Frame) *image.RGBA {
	src := f.Image()
	dst := image.NewRGBA(src.Rect)
	draw.Draw(dst, dst.Rect, src, image.Point{}, draw.Src)

	loc := e.Location
	if loc == nil {
		loc = time.Local
	}
	ts := f.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	text := fmt.Sprintf("Frame: %d  Time: %s", f.FrameNum, ts.In(loc).Format("2006/01/02 15:04:05"))

	face := basicfont.Face7x13
	const pad = 2
	width := font.MeasureString(face, text).Ceil() + 2*pad
	height := face.Metrics().Height.Ceil() + 2*pad
	band := image.Rect(10, 10, 10+width, 10+height).Intersect(dst.Rect)
	draw.Draw(dst, band, image.NewUniform(color.Black), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.P(10+pad, 10+pad+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
	return dst
}
