package source

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/dj-oyu/livecam-uploader/pkg/types"
)

// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
var bars = []color.RGBA{
	{R: 255, G: 255, B: 255, A: 255},
	{R: 255, G: 255, B: 0, A: 255},
	{R: 0, G: 255, B: 255, A: 255},
	{R: 0, G: 255, B: 0, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
	{R: 255, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 255, A: 255},
	{R: 0, G: 0, B: 0, A: 255},
}

// Pattern is a synthetic camera: color bars with a gray marker that moves
// one step per frame so consecutive frames differ.
type Pattern struct {
	frame *types.Frame
	bg    []byte // pre-rendered bars
	pace  pacer
	count uint64
}

// NewPattern creates a width x height pattern source paced at fps.
func NewPattern(width, height, fps int) *Pattern {
	f := types.NewFrame(width, height)
	img := f.Image()

	barWidth := width / len(bars)
	if barWidth == 0 {
		barWidth = 1
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := x / barWidth
			if i >= len(bars) {
				i = len(bars) - 1
			}
			img.SetRGBA(x, y, bars[i])
		}
	}

	return &Pattern{
		frame: f,
		bg:    append([]byte(nil), f.Pix...),
		pace:  newPacer(fps),
	}
}

// Next implements Source.
func (p *Pattern) Next(ctx context.Context) (*types.Frame, error) {
	if err := p.pace.wait(ctx); err != nil {
		return nil, err
	}

	copy(p.frame.Pix, p.bg)
	p.drawMarker()

	p.count++
	p.frame.FrameNum = p.count
	p.frame.Timestamp = time.Now()
	return p.frame, nil
}

func (p *Pattern) drawMarker() {
	size := min(p.frame.Width, p.frame.Height) / 8
	if size == 0 {
		return
	}
	span := p.frame.Width - size
	x := 0
	if span > 0 {
		x = int(p.count*uint64(size/2+1)) % span
	}
	y := (p.frame.Height - size) / 2
	marker := image.Rect(x, y, x+size, y+size)
	draw.Draw(p.frame.Image(), marker, image.NewUniform(color.RGBA{R: 128, G: 128, B: 128, A: 255}), image.Point{}, draw.Src)
}

// Close implements Source.
func (p *Pattern) Close() error {
	p.pace.stop()
	return nil
}
