// Package imagecheck reads image dimensions from file headers and applies the
// print-box rules uploads are accepted under.
package imagecheck

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"log/slog"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type Policy string

const (
	// Exact requires both sides to be within the tolerance of the box.
	Exact Policy = "exact"
	// Bounded requires both sides to fit inside the box grown by the tolerance.
	Bounded Policy = "bounded"
)

// ErrUnreadable is returned when no decoder recognises the image data.
var ErrUnreadable = errors.New("unreadable image")

type Size struct {
	Width  int
	Height int
	Format string
}

type Rule struct {
	Policy    Policy
	Width     int
	Height    int
	Tolerance int
}

// DimensionError reports an image that does not satisfy a Rule.
type DimensionError struct {
	Rule Rule
	Got  Size
}

func (e *DimensionError) Error() string {
	if e.Rule.Policy == Bounded {
		return fmt.Sprintf("image must not exceed %dx%d px (got %dx%d px)",
			e.Rule.Width, e.Rule.Height, e.Got.Width, e.Got.Height)
	}
	return fmt.Sprintf("image must be %dx%d px ±%d (got %dx%d px)",
		e.Rule.Width, e.Rule.Height, e.Rule.Tolerance, e.Got.Width, e.Got.Height)
}

// Dimensions decodes only the header of data.
func Dimensions(data []byte) (Size, error) {
	if IsSVG(data) {
		w, h, err := SVGSize(data)
		if err != nil {
			return Size{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
		return Size{Width: w, Height: h, Format: "svg"}, nil
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Size{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return Size{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// Check returns nil when size satisfies the rule, otherwise a *DimensionError.
func (r Rule) Check(size Size) error {
	var ok bool
	switch r.Policy {
	case Bounded:
		ok = size.Width <= r.Width+r.Tolerance && size.Height <= r.Height+r.Tolerance
	default:
		ok = abs(size.Width-r.Width) <= r.Tolerance && abs(size.Height-r.Height) <= r.Tolerance
	}
	if !ok {
		return &DimensionError{Rule: r, Got: size}
	}
	return nil
}

// Validate reads the dimensions of data and checks them against the rule.
func (r Rule) Validate(data []byte) (Size, error) {
	size, err := Dimensions(data)
	if err != nil {
		return Size{}, err
	}
	if err := r.Check(size); err != nil {
		slog.Debug("image rejected", "policy", r.Policy, "width", size.Width, "height", size.Height, "format", size.Format)
		return size, err
	}
	return size, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
