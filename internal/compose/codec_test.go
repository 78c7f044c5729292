package compose

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"
	"testing"
)

func buildPNG(t *testing.T, width, height int, fill color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(fill), image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	return img
}

// A 2000x1000 source resized to 400x400 must keep only the horizontally
// centered 1000x1000 square: uniform scale, symmetric center crop, target
// fully filled.
func TestCoverResizeCropsSymmetricCenter(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2000, 1000))
	red := color.NRGBA{R: 255, A: 255}
	green := color.NRGBA{G: 255, A: 255}
	blue := color.NRGBA{B: 255, A: 255}
	draw.Draw(src, image.Rect(0, 0, 500, 1000), image.NewUniform(red), image.Point{}, draw.Src)
	draw.Draw(src, image.Rect(500, 0, 1500, 1000), image.NewUniform(green), image.Point{}, draw.Src)
	draw.Draw(src, image.Rect(1500, 0, 2000, 1000), image.NewUniform(blue), image.Point{}, draw.Src)

	out := coverResize(src, 400, 400)

	bounds := out.Bounds()
	if bounds.Dx() != 400 || bounds.Dy() != 400 {
		t.Fatalf("expected 400x400 output, got %dx%d", bounds.Dx(), bounds.Dy())
	}

	// The side bands must be cropped away entirely; only the green center
	// square survives.
	for _, pt := range []image.Point{
		{X: 0, Y: 0},
		{X: 399, Y: 0},
		{X: 200, Y: 200},
		{X: 0, Y: 399},
		{X: 399, Y: 399},
	} {
		r, g, b, _ := out.At(pt.X, pt.Y).RGBA()
		if r != 0 || g != 0xffff || b != 0 {
			t.Fatalf("expected pure green at %v, got r=%d g=%d b=%d", pt, r, g, b)
		}
	}
}

func TestCoverResizeNeverLetterboxes(t *testing.T) {
	// Opaque source: every output pixel must stay fully opaque, whatever
	// the aspect mismatch.
	src := image.NewNRGBA(image.Rect(0, 0, 123, 777))
	draw.Draw(src, src.Bounds(), image.NewUniform(color.NRGBA{R: 9, G: 9, B: 9, A: 255}), image.Point{}, draw.Src)

	out := coverResize(src, 300, 200)
	if out.Bounds().Dx() != 300 || out.Bounds().Dy() != 200 {
		t.Fatalf("expected 300x200, got %v", out.Bounds())
	}
	for _, pt := range []image.Point{{X: 0, Y: 0}, {X: 299, Y: 199}, {X: 150, Y: 100}} {
		_, _, _, a := out.At(pt.X, pt.Y).RGBA()
		if a != 0xffff {
			t.Fatalf("expected opaque pixel at %v, got alpha=%d", pt, a)
		}
	}
}

func TestPNGDataURIPrefix(t *testing.T) {
	uri := pngDataURI([]byte{1, 2, 3})
	if !strings.HasPrefix(uri, "data:image/png;base64,") {
		t.Fatalf("unexpected data uri prefix: %s", uri)
	}
}

func TestDecodeImageRejectsGarbage(t *testing.T) {
	if _, err := decodeImage([]byte("definitely not an image")); err == nil {
		t.Fatal("expected decode error for garbage bytes")
	}
}
