package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/disintegration/imaging"

	"github.com/JuhyeokC/whit/selection"
)

// Panel-side preparation constants: the analysis backend does not need full
// resolution, so images are downscaled and recompressed before sending.
const (
	analysisMaxSide     = 1280
	analysisJPEGQuality = 80
)

// CropRect converts a region to source-pixel coordinates. Rounding is
// applied independently per coordinate, so the cropped size may differ by
// one pixel per axis from the ideal scaled size. That tolerance is accepted
// and documented, not a bug.
func CropRect(r selection.Region) (sx, sy, sw, sh int) {
	dpr := r.DevicePixelRatio
	if dpr <= 0 {
		dpr = 1
	}
	sx = int(math.Round(r.ViewportX * dpr))
	sy = int(math.Round(r.ViewportY * dpr))
	sw = int(math.Round(r.Width * dpr))
	sh = int(math.Round(r.Height * dpr))
	return sx, sy, sw, sh
}

// Crop extracts the region's sub-rectangle from a full-frame PNG and
// re-encodes it as PNG of exactly round(width·dpr) × round(height·dpr)
// pixels. A region that falls outside the frame is a CropError.
func Crop(frame []byte, r selection.Region) ([]byte, error) {
	if !r.Valid() {
		return nil, &CropError{Cause: ErrInvalidRegion}
	}

	src, err := png.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, &CropError{Cause: fmt.Errorf("decode frame: %w", err)}
	}

	sx, sy, sw, sh := CropRect(r)
	rect := image.Rect(sx, sy, sx+sw, sy+sh)
	if !rect.In(src.Bounds()) {
		return nil, &CropError{Cause: fmt.Errorf("region %v outside frame %v", rect, src.Bounds())}
	}

	out := imaging.Crop(src, rect)

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, &CropError{Cause: fmt.Errorf("encode crop: %w", err)}
	}
	return buf.Bytes(), nil
}

// CompressForAnalysis downsizes a captured PNG for the remote backend:
// longest side capped at 1280px, re-encoded as JPEG quality 80. Images
// already small enough keep their dimensions.
func CompressForAnalysis(data []byte) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("capture: decode for compression: %w", err)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > analysisMaxSide || h > analysisMaxSide {
		if w >= h {
			src = imaging.Resize(src, analysisMaxSide, 0, imaging.Lanczos)
		} else {
			src = imaging.Resize(src, 0, analysisMaxSide, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: analysisJPEGQuality}); err != nil {
		return nil, fmt.Errorf("capture: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
