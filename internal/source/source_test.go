package source

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dj-oyu/livecam-uploader/internal/config"
)

func writePNG(t *testing.T, path string, w, h int, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func TestPatternFramesDiffer(t *testing.T) {
	p := NewPattern(64, 48, 0)
	defer p.Close()
	ctx := context.Background()

	f1, err := p.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if err := f1.Validate(); err != nil {
		t.Fatalf("invalid frame: %v", err)
	}
	first := append([]byte(nil), f1.Pix...)

	f2, err := p.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f2 != f1 {
		t.Fatalf("pattern source should reuse its frame buffer")
	}
	if f2.FrameNum != 2 {
		t.Fatalf("FrameNum = %d, want 2", f2.FrameNum)
	}
	if bytes.Equal(first, f2.Pix) {
		t.Fatalf("consecutive frames are identical")
	}
}

func TestPatternBarsLeftEdge(t *testing.T) {
	p := NewPattern(80, 40, 0)
	f, _ := p.Next(context.Background())
	// Top-left pixel is outside the marker row and belongs to the white bar.
	if got := f.Image().RGBAAt(0, 0); got != bars[0] {
		t.Fatalf("pixel (0,0) = %v, want %v", got, bars[0])
	}
	if got := f.Image().RGBAAt(79, 0); got != bars[len(bars)-1] {
		t.Fatalf("pixel (79,0) = %v, want %v", got, bars[len(bars)-1])
	}
}

func TestPatternHonorsContext(t *testing.T) {
	p := NewPattern(16, 16, 1)
	defer p.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next = %v, want context.Canceled", err)
	}
}

func TestPatternPacing(t *testing.T) {
	p := NewPattern(16, 16, 50)
	defer p.Close()
	start := time.Now()
	for k := 0; k < 3; k++ {
		if _, err := p.Next(context.Background()); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("3 frames at 50fps took %v", elapsed)
	}
}

func TestDirReplaysAndScales(t *testing.T) {
	dir := t.TempDir()
	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	writePNG(t, filepath.Join(dir, "a.png"), 8, 8, red)
	writePNG(t, filepath.Join(dir, "b.png"), 32, 16, blue)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644)

	d, err := NewDir(dir, 16, 12, 0, false)
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	defer d.Close()
	ctx := context.Background()

	for i, want := range []color.RGBA{red, blue} {
		f, err := d.Next(ctx)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if f.Width != 16 || f.Height != 12 {
			t.Fatalf("frame %d size = %dx%d", i, f.Width, f.Height)
		}
		if got := f.Image().RGBAAt(8, 6); got != want {
			t.Fatalf("frame %d center = %v, want %v", i, got, want)
		}
	}
	if _, err := d.Next(ctx); err != io.EOF {
		t.Fatalf("Next after last file = %v, want io.EOF", err)
	}
}

func TestDirLoops(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "only.png"), 4, 4, color.RGBA{G: 255, A: 255})

	d, err := NewDir(dir, 4, 4, 0, true)
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	for i := 0; i < 3; i++ {
		f, err := d.Next(context.Background())
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if f.FrameNum != uint64(i+1) {
			t.Fatalf("FrameNum = %d, want %d", f.FrameNum, i+1)
		}
	}
}

func TestDirSkipsUndecodable(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("not a jpeg"), 0o644)
	writePNG(t, filepath.Join(dir, "b.png"), 4, 4, color.RGBA{R: 255, A: 255})

	d, err := NewDir(dir, 4, 4, 0, false)
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	f, err := d.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.FrameNum != 1 {
		t.Fatalf("FrameNum = %d", f.FrameNum)
	}
}

func TestDirEmpty(t *testing.T) {
	if _, err := NewDir(t.TempDir(), 4, 4, 0, true); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}

func TestNewSelectsKind(t *testing.T) {
	cfg := config.Default().Source
	cfg.FPS = 0
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := s.(*Pattern); !ok {
		t.Fatalf("New(pattern) = %T", s)
	}
	cfg.Kind = "camera"
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestPacerHighRateDoesNotPanic(t *testing.T) {
	p := newPacer(2_000_000_000)
	defer p.stop()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}
