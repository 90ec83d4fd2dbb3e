package events

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/tuyendl123/ComfyUI/internal/models"
	"golang.org/x/image/draw"
)

// EncodePreview turns a raw image into a preview payload: a 4-byte
// big-endian format header followed by the encoded bytes. maxDim > 0 scales
// the image to fit a maxDim square, preserving aspect ratio. Formats other
// than jpeg encode as png.
func EncodePreview(img image.Image, format string, quality, maxDim int) ([]byte, error) {
	if maxDim > 0 {
		img = scaleToFit(img, maxDim)
	}

	var buf bytes.Buffer
	var header uint32
	switch format {
	case "jpeg", "jpg":
		header = models.PreviewFormatJPEG
		if quality <= 0 || quality > 100 {
			quality = 90
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("failed to encode preview: %w", err)
		}
	default:
		header = models.PreviewFormatPNG
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode preview: %w", err)
		}
	}

	payload := make([]byte, 4+buf.Len())
	binary.BigEndian.PutUint32(payload[:4], header)
	copy(payload[4:], buf.Bytes())
	return payload, nil
}

// PublishPreview encodes and sends a preview image to one session, or to
// all sessions when clientID is empty.
func (b *Broadcaster) PublishPreview(img image.Image, format string, quality, maxDim int, clientID string) error {
	payload, err := EncodePreview(img, format, quality, maxDim)
	if err != nil {
		return err
	}
	b.PublishBinary(models.BinaryPreviewImage, payload, clientID)
	return nil
}

func scaleToFit(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}
	var nw, nh int
	if w >= h {
		nw = maxDim
		nh = h * maxDim / w
	} else {
		nh = maxDim
		nw = w * maxDim / h
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
