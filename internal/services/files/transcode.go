package files

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"strconv"
	"strings"

	_ "image/gif"

	_ "golang.org/x/image/webp"
)

// PreviewSpec is a parsed "preview=<format>;<quality>" request parameter.
type PreviewSpec struct {
	Format  string
	Quality int
}

// ParsePreviewSpec parses the preview parameter. Formats outside the jpeg/
// png allow-list downgrade to png; a missing or unparsable quality uses the
// default.
func ParsePreviewSpec(raw string) PreviewSpec {
	spec := PreviewSpec{Format: "png", Quality: 90}
	parts := strings.SplitN(raw, ";", 2)
	switch strings.ToLower(strings.TrimSpace(parts[0])) {
	case "jpeg", "jpg":
		spec.Format = "jpeg"
	case "png":
		spec.Format = "png"
	}
	if len(parts) == 2 {
		if q, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil && q > 0 && q <= 100 {
			spec.Quality = q
		}
	}
	return spec
}

// Transcode decodes a managed image file, applies an optional channel
// extraction, and re-encodes per the preview spec. channel is one of
// "rgb", "a", "rgba" (default).
func Transcode(path string, spec PreviewSpec, channel string) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	img := ExtractChannel(src, channel)

	var buf bytes.Buffer
	switch spec.Format {
	case "jpeg":
		// JPEG has no alpha; composite onto the zero value (black).
		if err := jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: spec.Quality}); err != nil {
			return nil, "", fmt.Errorf("failed to encode jpeg: %w", err)
		}
		return buf.Bytes(), "image/jpeg", nil
	default:
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("failed to encode png: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	}
}

// ExtractChannel applies the requested channel view of an image:
//
//	rgb  — color planes with any alpha discarded (forced opaque)
//	a    — black image carrying the source alpha; sources without an
//	       alpha plane get a synthesized fully-opaque one
//	rgba — full image, synthesizing an opaque alpha plane when absent
func ExtractChannel(src image.Image, channel string) image.Image {
	bounds := src.Bounds()
	switch channel {
	case "rgb":
		dst := image.NewRGBA(bounds)
		draw.Draw(dst, bounds, src, bounds.Min, draw.Src)
		px := dst.Pix
		for i := 3; i < len(px); i += 4 {
			px[i] = 255
		}
		return dst
	case "a":
		dst := image.NewRGBA(bounds)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				_, _, _, a := src.At(x, y).RGBA()
				dst.Set(x, y, color.NRGBA{A: uint8(a >> 8)})
			}
		}
		if !hasAlpha(src) {
			for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
				for x := bounds.Min.X; x < bounds.Max.X; x++ {
					dst.Set(x, y, color.NRGBA{A: 255})
				}
			}
		}
		return dst
	default: // rgba
		dst := image.NewRGBA(bounds)
		draw.Draw(dst, bounds, src, bounds.Min, draw.Src)
		if !hasAlpha(src) {
			px := dst.Pix
			for i := 3; i < len(px); i += 4 {
				px[i] = 255
			}
		}
		return dst
	}
}

// hasAlpha reports whether the source color model carries an alpha plane.
func hasAlpha(img image.Image) bool {
	switch img.ColorModel() {
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model, color.AlphaModel, color.Alpha16Model:
		return true
	}
	return false
}

func flatten(img image.Image) image.Image {
	bounds := img.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.Draw(dst, bounds, img, bounds.Min, draw.Over)
	return dst
}
