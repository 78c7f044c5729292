package compose

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// decodeImage decodes JPEG, PNG or WebP bytes into a pixel buffer.
func decodeImage(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// coverResize scales src uniformly by max(Tw/Sw, Th/Sh) and crops the result
// to exactly width x height around the center. The target is always fully
// filled: no letterboxing, no aspect distortion.
func coverResize(src image.Image, width, height int) *image.NRGBA {
	return imaging.Fill(src, width, height, imaging.Center, imaging.Lanczos)
}

// overlay draws face onto base with source-over alpha blending, the face's
// top-left corner at (x, y). The canvas keeps base's dimensions; a face
// extending past the canvas edge is clipped.
func overlay(base image.Image, face image.Image, x, y int) *image.NRGBA {
	return imaging.Overlay(base, face, image.Pt(x, y), 1.0)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// dataURIPrefix is part of the public contract: consumers feed the payload
// straight into an <img> src attribute.
const dataURIPrefix = "data:image/png;base64,"

func pngDataURI(data []byte) string {
	return dataURIPrefix + base64.StdEncoding.EncodeToString(data)
}
