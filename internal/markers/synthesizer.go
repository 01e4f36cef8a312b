// Package markers renders map pin icons as PNG data URLs.
package markers

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
)

// DefaultSize is the icon edge length used when none is configured.
const DefaultSize = 48

const (
	dataURLPrefix = "data:image/png;base64,"
	maxIconSize   = 512
)

var (
	// ErrInvalidColor indicates that a CSS color string could not be parsed.
	ErrInvalidColor = errors.New("markers: invalid color")
	// ErrInvalidSize indicates that the requested icon size is out of range.
	ErrInvalidSize = errors.New("markers: invalid size")
)

var namedColors = map[string]string{
	"black":   "#000000",
	"white":   "#ffffff",
	"red":     "#ff0000",
	"lime":    "#00ff00",
	"green":   "#008000",
	"blue":    "#0000ff",
	"yellow":  "#ffff00",
	"orange":  "#ffa500",
	"purple":  "#800080",
	"fuchsia": "#ff00ff",
	"magenta": "#ff00ff",
	"cyan":    "#00ffff",
	"aqua":    "#00ffff",
	"navy":    "#000080",
	"teal":    "#008080",
	"maroon":  "#800000",
	"olive":   "#808000",
	"silver":  "#c0c0c0",
	"gray":    "#808080",
	"grey":    "#808080",
	"pink":    "#ffc0cb",
	"brown":   "#a52a2a",
}

// Synthesizer renders and caches pin icons keyed by color and size.
type Synthesizer struct {
	cache sync.Map
}

// NewSynthesizer constructs an icon synthesizer.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{}
}

// RenderIcon draws a pin glyph filled with the CSS color and returns it as a PNG data URL.
func (s *Synthesizer) RenderIcon(cssColor string, sizePixels int) (string, error) {
	if sizePixels <= 0 || sizePixels > maxIconSize {
		return "", fmt.Errorf("%w: %d", ErrInvalidSize, sizePixels)
	}
	fill, err := ParseColor(cssColor)
	if err != nil {
		return "", err
	}

	cacheKey := fmt.Sprintf("%s@%d", fill.Hex(), sizePixels)
	if cached, ok := s.cache.Load(cacheKey); ok {
		if dataURL, ok := cached.(string); ok {
			return dataURL, nil
		}
	}

	var encoded bytes.Buffer
	if err := png.Encode(&encoded, drawPin(fill, sizePixels)); err != nil {
		return "", err
	}
	dataURL := dataURLPrefix + base64.StdEncoding.EncodeToString(encoded.Bytes())
	s.cache.Store(cacheKey, dataURL)
	return dataURL, nil
}

// ParseColor accepts #rgb, #rrggbb, rgb(r, g, b) and basic CSS color names.
func ParseColor(cssColor string) (colorful.Color, error) {
	value := strings.ToLower(strings.TrimSpace(cssColor))
	if named, ok := namedColors[value]; ok {
		value = named
	}
	if strings.HasPrefix(value, "rgb(") && strings.HasSuffix(value, ")") {
		return parseRGBFunction(value)
	}
	parsed, err := colorful.Hex(value)
	if err != nil {
		return colorful.Color{}, fmt.Errorf("%w: %q", ErrInvalidColor, cssColor)
	}
	return parsed, nil
}

func parseRGBFunction(value string) (colorful.Color, error) {
	inner := strings.TrimSuffix(strings.TrimPrefix(value, "rgb("), ")")
	parts := strings.Split(inner, ",")
	if len(parts) != 3 {
		return colorful.Color{}, fmt.Errorf("%w: %q", ErrInvalidColor, value)
	}
	channels := [3]uint8{}
	for index, part := range parts {
		var channel int
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "%d", &channel); err != nil || channel < 0 || channel > 255 {
			return colorful.Color{}, fmt.Errorf("%w: %q", ErrInvalidColor, value)
		}
		channels[index] = uint8(channel)
	}
	return colorful.Color{
		R: float64(channels[0]) / 255,
		G: float64(channels[1]) / 255,
		B: float64(channels[2]) / 255,
	}, nil
}

type pinShape struct {
	centerX, centerY float64
	radius           float64
	tipY             float64
	shoulderY        float64
	shoulderHalf     float64
}

func newPinShape(size int) pinShape {
	edge := float64(size)
	radius := edge * 0.32
	centerY := edge * 0.38
	return pinShape{
		centerX:      edge / 2,
		centerY:      centerY,
		radius:       radius,
		tipY:         edge * 0.97,
		shoulderY:    centerY + radius*0.6,
		shoulderHalf: radius * 0.8,
	}
}

func (p pinShape) contains(x, y float64) bool {
	if math.Hypot(x-p.centerX, y-p.centerY) <= p.radius {
		return true
	}
	if y < p.shoulderY || y > p.tipY {
		return false
	}
	progress := (y - p.shoulderY) / (p.tipY - p.shoulderY)
	halfWidth := p.shoulderHalf * (1 - progress)
	return math.Abs(x-p.centerX) <= halfWidth
}

func drawPin(fill colorful.Color, size int) *image.NRGBA {
	canvas := image.NewNRGBA(image.Rect(0, 0, size, size))
	shape := newPinShape(size)
	border := math.Max(1, float64(size)/24)
	outline := fill.BlendLab(colorful.Color{}, 0.35).Clamped()
	dot := colorful.Color{R: 1, G: 1, B: 1}

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			px, py := float64(x)+0.5, float64(y)+0.5
			if !shape.contains(px, py) {
				continue
			}
			paint := fill
			switch {
			case !shape.contains(px-border, py) || !shape.contains(px+border, py) ||
				!shape.contains(px, py-border) || !shape.contains(px, py+border):
				paint = outline
			case math.Hypot(px-shape.centerX, py-shape.centerY) <= shape.radius*0.38:
				paint = dot
			}
			r, g, b := paint.RGB255()
			canvas.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 0xff})
		}
	}
	return canvas
}
