package source

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/image/draw"

	"github.com/dj-oyu/livecam-uploader/internal/logger"
	"github.com/dj-oyu/livecam-uploader/pkg/types"
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Dir replays the images in a directory, in name order, scaled to a fixed
// frame size.
type Dir struct {
	files []string
	next  int
	loop  bool
	frame *types.Frame
	pace  pacer
	count uint64
}

// NewDir lists the images in dir. It fails when there are none.
func NewDir(dir string, width, height, fps int, loop bool) (*Dir, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read source dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .jpg/.jpeg/.png files in %s", dir)
	}
	sort.Strings(files)
	logger.Info("Source", "Replaying %d images from %s (loop=%v)", len(files), dir, loop)

	return &Dir{
		files: files,
		loop:  loop,
		frame: types.NewFrame(width, height),
		pace:  newPacer(fps),
	}, nil
}

// Next implements Source. Unreadable files are skipped with a warning.
func (d *Dir) Next(ctx context.Context) (*types.Frame, error) {
	if err := d.pace.wait(ctx); err != nil {
		return nil, err
	}

	for attempts := 0; attempts < len(d.files); attempts++ {
		if d.next >= len(d.files) {
			if !d.loop {
				return nil, io.EOF
			}
			d.next = 0
		}
		path := d.files[d.next]
		d.next++

		if err := d.load(path); err != nil {
			logger.Warn("Source", "Skipping %s: %v", path, err)
			continue
		}
		d.count++
		d.frame.FrameNum = d.count
		d.frame.Timestamp = time.Now()
		return d.frame, nil
	}
	if !d.loop && d.next >= len(d.files) {
		return nil, io.EOF
	}
	return nil, fmt.Errorf("no decodable images among %d files", len(d.files))
}

func (d *Dir) load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	dst := d.frame.Image()
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return nil
}

// Close implements Source.
func (d *Dir) Close() error {
	d.pace.stop()
	return nil
}
