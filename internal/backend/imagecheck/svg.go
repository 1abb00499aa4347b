package imagecheck

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// IsSVG performs a lightweight detection of SVG content from raw bytes.
// Only the first 4KB are inspected.
func IsSVG(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	n := len(data)
	if n > 4096 {
		n = 4096
	}
	header := bytes.ToLower(bytes.TrimSpace(data[:n]))
	return bytes.Contains(header, []byte("<svg")) ||
		bytes.Contains(header, []byte("xmlns=\"http://www.w3.org/2000/svg\"")) ||
		bytes.Contains(header, []byte("xmlns='http://www.w3.org/2000/svg'"))
}

// maxSVGSide caps parsed lengths so absurd values never reach int conversion.
const maxSVGSide = 1 << 20

// pixels per unit at the CSS reference resolution of 96 dpi
var svgUnits = map[string]float64{
	"":   1,
	"px": 1,
	"pt": 96.0 / 72,
	"pc": 16,
	"in": 96,
	"cm": 96 / 2.54,
	"mm": 96 / 25.4,
	"em": 16,
	"ex": 8,
}

// SVGSize reads the pixel size of the root svg element. Width and height
// win; a missing side is derived from the viewBox aspect ratio and a missing
// pair falls back to the viewBox size. Percentages are relative to a
// viewport an upload does not have and are rejected.
func SVGSize(data []byte) (int, int, error) {
	root, err := svgRoot(data)
	if err != nil {
		return 0, 0, err
	}

	var width, height, viewBox string
	for _, attr := range root.Attr {
		switch attr.Name.Local {
		case "width":
			width = attr.Value
		case "height":
			height = attr.Value
		case "viewBox":
			viewBox = attr.Value
		}
	}

	w, err := svgLength("width", width)
	if err != nil {
		return 0, 0, err
	}
	h, err := svgLength("height", height)
	if err != nil {
		return 0, 0, err
	}
	if w > 0 && h > 0 {
		return pixels(w), pixels(h), nil
	}

	vw, vh, err := svgViewBox(viewBox)
	if err != nil {
		return 0, 0, err
	}
	switch {
	case w > 0:
		h = w * vh / vw
	case h > 0:
		w = h * vw / vh
	default:
		w, h = vw, vh
	}
	if w > maxSVGSide || h > maxSVGSide {
		return 0, 0, fmt.Errorf("svg size %gx%g is too large", w, h)
	}
	return pixels(w), pixels(h), nil
}

// svgRoot returns the first element of the document, which must be svg.
func svgRoot(data []byte) (xml.StartElement, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	// entity references from editor exports are not resolvable without the DTD
	decoder.Strict = false
	for {
		token, err := decoder.Token()
		if err != nil {
			return xml.StartElement{}, fmt.Errorf("svg root element not found: %w", err)
		}
		if start, ok := token.(xml.StartElement); ok {
			if !strings.EqualFold(start.Name.Local, "svg") {
				return xml.StartElement{}, fmt.Errorf("root element is %s, not svg", start.Name.Local)
			}
			return start, nil
		}
	}
}

// svgLength converts a width or height attribute to pixels. An absent
// attribute yields 0.
func svgLength(attr, value string) (float64, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return 0, nil
	}
	if strings.HasSuffix(value, "%") {
		return 0, fmt.Errorf("svg %s %q is relative; an absolute size is required", attr, value)
	}

	number := strings.TrimRightFunc(value, unicode.IsLetter)
	factor, ok := svgUnits[value[len(number):]]
	if !ok {
		return 0, fmt.Errorf("svg %s %q has an unsupported unit", attr, value)
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(number), 64)
	if err != nil {
		return 0, fmt.Errorf("svg %s %q is not a number", attr, value)
	}
	parsed *= factor
	if math.IsNaN(parsed) || parsed <= 0 || parsed > maxSVGSide {
		return 0, fmt.Errorf("svg %s %q is out of range", attr, value)
	}
	return parsed, nil
}

func svgViewBox(value string) (float64, float64, error) {
	if strings.TrimSpace(value) == "" {
		return 0, 0, fmt.Errorf("svg has neither width and height nor a viewBox")
	}
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(fields) != 4 {
		return 0, 0, fmt.Errorf("svg viewBox %q must have four numbers", value)
	}
	w, errW := strconv.ParseFloat(fields[2], 64)
	h, errH := strconv.ParseFloat(fields[3], 64)
	if errW != nil || errH != nil || math.IsNaN(w) || math.IsNaN(h) || w <= 0 || h <= 0 || w > maxSVGSide || h > maxSVGSide {
		return 0, 0, fmt.Errorf("svg viewBox %q has an invalid size", value)
	}
	return w, h, nil
}

func pixels(length float64) int {
	return max(1, int(math.Round(length)))
}
