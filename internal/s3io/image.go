package s3io

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	_ "image/png" // registers PNG decoding

	"golang.org/x/image/draw"
)

// ThumbnailWidth and ThumbnailHeight bound the display thumbnail.
const (
	ThumbnailWidth  = 400
	ThumbnailHeight = 240
)

const jpegQuality = 85

// Resize downscales the image at srcKey to fit within maxW x maxH and
// writes the result to dstKey. Images already within bounds are
// re-encoded unchanged in dimensions.
func (s *Store) Resize(ctx context.Context, srcKey, dstKey string, maxW, maxH int) error {
	data, err := s.get(ctx, srcKey)
	if err != nil {
		return err
	}
	scaled, err := downscale(data, maxW, maxH)
	if err != nil {
		return err
	}
	return s.put(ctx, dstKey, scaled, srcKey)
}

// Thumbnail writes a display thumbnail of srcKey to dstKey.
func (s *Store) Thumbnail(ctx context.Context, srcKey, dstKey string) error {
	return s.Resize(ctx, srcKey, dstKey, ThumbnailWidth, ThumbnailHeight)
}

// downscale decodes data, scales it to fit within maxW x maxH
// preserving aspect ratio, and re-encodes as JPEG.
func downscale(data []byte, maxW, maxH int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	b := src.Bounds()
	w, h := fitWithin(b.Dx(), b.Dy(), maxW, maxH)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// fitWithin returns the largest dimensions preserving w:h that fit
// inside maxW x maxH, never upscaling.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	scaleW := float64(maxW) / float64(w)
	scaleH := float64(maxH) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}
