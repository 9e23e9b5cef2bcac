package types

import (
	"fmt"
	"image"
	"time"
)

// BytesPerPixel is the size of one RGBA pixel in Frame.Pix
const BytesPerPixel = 4

// Frame represents one RGBA camera frame with metadata.
// Pix is owned by the producer and may be overwritten once a consumer
// has finished reading it.
type Frame struct {
	Pix       []byte    // RGBA pixels, row-major
	Width     int       // Frame width
	Height    int       // Frame height
	Stride    int       // Bytes per row (0 means Width*4)
	Timestamp time.Time // Capture timestamp (monotonic)
	FrameNum  uint64    // Sequential frame number
}

// NewFrame allocates a zeroed frame of the given size
func NewFrame(width, height int) *Frame {
	return &Frame{
		Pix:    make([]byte, width*height*BytesPerPixel),
		Width:  width,
		Height: height,
		Stride: width * BytesPerPixel,
	}
}

// RowStride returns the effective stride
func (f *Frame) RowStride() int {
	if f.Stride > 0 {
		return f.Stride
	}
	return f.Width * BytesPerPixel
}

// Validate checks dimensions against the buffer length
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("nil frame")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	stride := f.RowStride()
	if stride < f.Width*BytesPerPixel {
		return fmt.Errorf("stride %d too small for width %d", stride, f.Width)
	}
	need := stride*(f.Height-1) + f.Width*BytesPerPixel
	if len(f.Pix) < need {
		return fmt.Errorf("pixel buffer too short: have %d, need %d", len(f.Pix), need)
	}
	return nil
}

// Image views the pixel buffer as an *image.RGBA without copying
func (f *Frame) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: f.RowStride(),
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}
