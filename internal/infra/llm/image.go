package llm

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	// Decoders for the formats clients actually upload.
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
)

// maxImageDim is the longest edge Gemini accepts without degrading;
// larger uploads are downscaled before being inlined.
const maxImageDim = 4096

const jpegQuality = 85

// normalizeImage validates that img decodes and downscales it so neither
// dimension exceeds maxImageDim, preserving aspect ratio. Images already
// within bounds are returned unchanged; downscaled images are re-encoded
// as JPEG.
func normalizeImage(img Image) (Image, error) {
	decoded, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return Image{}, fmt.Errorf("decode image %q: %w", img.Filename, err)
	}

	bounds := decoded.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxImageDim && h <= maxImageDim {
		return img, nil
	}

	scale := float64(maxImageDim) / float64(w)
	if h > w {
		scale = float64(maxImageDim) / float64(h)
	}
	dw := int(float64(w) * scale)
	dh := int(float64(h) * scale)

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), decoded, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Image{}, fmt.Errorf("re-encode image %q: %w", img.Filename, err)
	}

	return Image{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Filename:    img.Filename,
	}, nil
}
