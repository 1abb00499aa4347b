package commands

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"strings"

	"github.com/jo-hoe/goprint/internal/backend/commandstructure"

	_ "image/gif"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	defaultThumbnailWidth   = 320
	defaultThumbnailQuality = 85
)

// ThumbnailParams represents typed parameters for the thumbnail command
type ThumbnailParams struct {
	MaxWidth  int
	MaxHeight int
	Format    string
	Quality   int
}

// ThumbnailCommand downsizes an image to fit a preview box. Images already
// inside the box keep their size and are only re-encoded.
type ThumbnailCommand struct {
	name   string
	params *ThumbnailParams
}

func NewThumbnailParamsFromMap(params map[string]any) (*ThumbnailParams, error) {
	p := &ThumbnailParams{
		MaxWidth:  commandstructure.GetIntParam(params, "maxWidth", defaultThumbnailWidth),
		MaxHeight: commandstructure.GetIntParam(params, "maxHeight", 0),
		Format:    strings.ToLower(commandstructure.GetStringParam(params, "format", "png")),
		Quality:   commandstructure.GetIntParam(params, "quality", defaultThumbnailQuality),
	}

	if p.MaxWidth <= 0 {
		return nil, fmt.Errorf("maxWidth must be positive, got %d", p.MaxWidth)
	}
	if p.MaxHeight < 0 {
		return nil, fmt.Errorf("maxHeight must not be negative, got %d", p.MaxHeight)
	}
	if p.Format == "jpg" {
		p.Format = "jpeg"
	}
	if p.Format != "png" && p.Format != "jpeg" {
		return nil, fmt.Errorf("unsupported thumbnail format %q", p.Format)
	}
	if p.Quality < 1 || p.Quality > 100 {
		return nil, fmt.Errorf("quality must be between 1 and 100, got %d", p.Quality)
	}
	return p, nil
}

func NewThumbnailCommand(params map[string]any) (commandstructure.Command, error) {
	typedParams, err := NewThumbnailParamsFromMap(params)
	if err != nil {
		return nil, err
	}
	return &ThumbnailCommand{
		name:   "ThumbnailCommand",
		params: typedParams,
	}, nil
}

func (c *ThumbnailCommand) Name() string {
	return c.name
}

func (c *ThumbnailCommand) Execute(imageData []byte) ([]byte, error) {
	src, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	width, height := fitBox(bounds.Dx(), bounds.Dy(), c.params.MaxWidth, c.params.MaxHeight)
	slog.Debug("ThumbnailCommand: scaling",
		"source_format", format,
		"source_width", bounds.Dx(),
		"source_height", bounds.Dy(),
		"target_width", width,
		"target_height", height)

	// white background so transparent areas stay readable once flattened to JPEG
	dst := createTargetCanvas(width, height, color.RGBA{255, 255, 255, 255})
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)

	var buf bytes.Buffer
	switch c.params.Format {
	case "jpeg":
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: c.params.Quality})
	default:
		err = png.Encode(&buf, dst)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// fitBox scales w x h down, keeping the aspect ratio, so it fits maxWidth and,
// when set, maxHeight. Sides never round to zero.
func fitBox(w, h, maxWidth, maxHeight int) (int, int) {
	if w <= 0 || h <= 0 {
		return 1, 1
	}
	scale := 1.0
	if w > maxWidth {
		scale = float64(maxWidth) / float64(w)
	}
	if maxHeight > 0 && float64(h)*scale > float64(maxHeight) {
		scale = float64(maxHeight) / float64(h)
	}
	tw := int(float64(w)*scale + 0.5)
	th := int(float64(h)*scale + 0.5)
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}
	return tw, th
}

func createTargetCanvas(w, h int, bg color.Color) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(dst, dst.Bounds(), &image.Uniform{bg}, image.Point{}, xdraw.Src)
	return dst
}

func init() {
	if err := commandstructure.DefaultRegistry.Register("ThumbnailCommand", NewThumbnailCommand); err != nil {
		panic(fmt.Sprintf("failed to register ThumbnailCommand: %v", err))
	}
}
