// Package render rasterizes certificate templates into fixed-size PNG
// images, replacing the browser canvas with a headless 2D context.
package render

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/fogleman/gg"
	xdraw "golang.org/x/image/draw"

	"github.com/dkarpov/certmail/internal/template"
)

// Output raster size. The design surface keeps a 4:3 aspect ratio and
// the compositor stretches the background to exactly this size.
const (
	OutputWidth  = 800
	OutputHeight = 600
)

var (
	ErrNoBackground  = errors.New("template has no background image")
	ErrBadBackground = errors.New("failed to decode background image")
)

// Compositor renders one certificate image per (template, row) pair.
// Every render draws onto a fresh surface, so concurrent calls are
// safe; output is deterministic for identical inputs.
type Compositor struct {
	fonts  *FontRegistry
	width  int
	height int
}

// NewCompositor creates a compositor drawing at the fixed output size.
func NewCompositor(fonts *FontRegistry) *Compositor {
	return &Compositor{
		fonts:  fonts,
		width:  OutputWidth,
		height: OutputHeight,
	}
}

// Render rasterizes the template for one row mapping and returns the
// result as a base64 PNG data URI.
func (c *Compositor) Render(tmpl template.Template, row map[string]string) (string, error) {
	img, err := c.renderImage(tmpl, row)
	if err != nil {
		return "", err
	}
	return EncodeDataURI(img, "image/png")
}

// RenderPNG rasterizes the template and returns raw PNG bytes, for
// callers that attach the image rather than embed it.
func (c *Compositor) RenderPNG(tmpl template.Template, row map[string]string) ([]byte, error) {
	img, err := c.renderImage(tmpl, row)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Compositor) renderImage(tmpl template.Template, row map[string]string) (image.Image, error) {
	if tmpl.BackgroundImage == "" {
		return nil, ErrNoBackground
	}

	bg, err := DecodeDataURI(tmpl.BackgroundImage)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBackground, err)
	}

	dc := gg.NewContext(c.width, c.height)

	// Stretch the background to fill the output exactly. Aspect ratio is
	// not preserved here; the design surface is always 4:3 so a matching
	// background keeps its proportions.
	dst := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), bg, bg.Bounds(), xdraw.Src, nil)
	dc.DrawImage(dst, 0, 0)

	// Reconcile design-space coordinates with the output raster.
	designW, designH := tmpl.DesignSize()
	scaleX := float64(c.width) / designW
	scaleY := float64(c.height) / designH

	for _, f := range tmpl.Fields {
		if f.Kind != template.FieldText {
			continue
		}

		text := f.DisplayText(row)
		if text == "" {
			continue
		}

		fontSize := f.EffectiveFontSize()
		face, err := c.fonts.Face(f.EffectiveFontFamily(), fontSize*scaleY)
		if err != nil {
			return nil, fmt.Errorf("font for field %s: %w", f.ID, err)
		}
		dc.SetFontFace(face)
		dc.SetHexColor(f.EffectiveColor())

		// DrawString anchors at the baseline while field positions are
		// top-left; shifting down by one font size before scaling
		// compensates.
		x := f.X * scaleX
		y := (f.Y + fontSize) * scaleY
		dc.DrawString(text, x, y)
	}

	return dc.Image(), nil
}

// DecodeDataURI decodes a base64 image data URI (data:image/...;base64,...)
// into an image. PNG, JPEG and GIF payloads are supported.
func DecodeDataURI(uri string) (image.Image, error) {
	payload := uri
	if strings.HasPrefix(uri, "data:") {
		idx := strings.Index(uri, ",")
		if idx < 0 {
			return nil, fmt.Errorf("malformed data URI")
		}
		if !strings.Contains(uri[:idx], "base64") {
			return nil, fmt.Errorf("data URI is not base64 encoded")
		}
		payload = uri[idx+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// EncodeDataURI encodes an image as a PNG or JPEG data URI.
func EncodeDataURI(img image.Image, mime string) (string, error) {
	var buf bytes.Buffer
	switch mime {
	case "image/jpeg":
		if err := jpeg.Encode(&buf, img, nil); err != nil {
			return "", fmt.Errorf("encode jpeg: %w", err)
		}
	default:
		mime = "image/png"
		if err := png.Encode(&buf, img); err != nil {
			return "", fmt.Errorf("encode png: %w", err)
		}
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
