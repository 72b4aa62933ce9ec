package imagegen

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
)

// Template errors
var (
	ErrInvalidTemplate   = errors.New("imagegen: invalid template image")
	ErrInvalidDimensions = errors.New("imagegen: invalid dimensions")
	ErrInvalidColor      = errors.New("imagegen: invalid color")
)

// DefaultPlaceholderColor is the fill used when none is given.
const DefaultPlaceholderColor = "#ffffff"

// RenderPlaceholder returns a PNG of width x height filled with hexColor
// (#rgb or #rrggbb, "" means white). A transparent placeholder ignores the color.
func RenderPlaceholder(width, height int, hexColor string, transparent bool) ([]byte, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}

	fill := color.RGBA{}
	if !transparent {
		if hexColor == "" {
			hexColor = DefaultPlaceholderColor
		}
		c, err := ParseHexColor(hexColor)
		if err != nil {
			return nil, err
		}
		fill = c
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: fill}, image.Point{}, draw.Src)
	return encodePNG(img)
}

// ParseHexColor parses #rgb or #rrggbb into an opaque color.
func ParseHexColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// PrepareTemplate resolves the template bytes sent to providers for job.
//
// Template bytes win over TemplatePath. A supplied template whose size differs
// from the requested Width x Height is scaled to fit exactly; one that already
// matches (or a job with no size) is passed through unchanged. With no template
// at all a white placeholder of the requested size is rendered.
func PrepareTemplate(job Job) ([]byte, error) {
	data := job.Template
	if len(data) == 0 && job.TemplatePath != "" {
		b, err := os.ReadFile(job.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("imagegen: failed to read template %s: %w", job.TemplatePath, err)
		}
		data = b
	}

	if len(data) == 0 {
		return RenderPlaceholder(job.Width, job.Height, DefaultPlaceholderColor, false)
	}
	if job.Width < 1 || job.Height < 1 {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	b := img.Bounds()
	if b.Dx() == job.Width && b.Dy() == job.Height {
		return data, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, job.Width, job.Height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return encodePNG(dst)
}

// ImageSize returns the pixel dimensions of an encoded image.
func ImageSize(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	return cfg.Width, cfg.Height, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("imagegen: failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
