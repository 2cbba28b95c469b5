package stream

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// FrameSource turns a raw frame into a transport-ready encoded blob.
type FrameSource interface {
	// Encode scales raw to size (unless size is zero) and encodes it at
	// the given quality.
	Encode(raw image.Image, size image.Point, quality int) ([]byte, error)
}

// JPEG is a [FrameSource] producing baseline JPEGs.
type JPEG struct{}

// Encode satisfies the [FrameSource] interface.
func (JPEG) Encode(raw image.Image, size image.Point, quality int) ([]byte, error) {
	img := raw
	if size != (image.Point{}) && size != raw.Bounds().Size() {
		dst := image.NewRGBA(image.Rectangle{Max: size})
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), raw, raw.Bounds(), draw.Src, nil)
		img = dst
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
