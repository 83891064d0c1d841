package exif_test

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/skryldev/imgbrowser/exif"
)

func plainJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestExtractWithoutEXIFReturnsZeroValue(t *testing.T) {
	data := plainJPEG(t, 32, 32)
	d, err := exif.Extract(data)
	if err != nil {
		t.Fatalf("Extract on EXIF-less JPEG should not error: %v", err)
	}
	if d.Orientation != 0 || d.HasCanonThumbnailValidArea || d.HasSonyPreviewImageSize {
		t.Fatalf("expected zero-value Data, got %+v", d)
	}
}

func TestCropThumbnailPrefersCanonValidArea(t *testing.T) {
	thumb := image.NewRGBA(image.Rect(0, 0, 160, 120))
	d := exif.Data{
		HasCanonThumbnailValidArea: true,
		CanonThumbnailValidArea:    image.Rect(10, 10, 150, 110),
	}
	got := exif.CropThumbnail(thumb, d)
	want := image.Rect(10, 10, 150, 110)
	if got != want {
		t.Fatalf("CropThumbnail = %v, want %v", got, want)
	}
}

func TestCropThumbnailDerivesSonyBlackBars(t *testing.T) {
	thumb := image.NewRGBA(image.Rect(0, 0, 160, 120))
	d := exif.Data{
		HasSonyPreviewImageSize: true,
		SonyPreviewImageSize:    image.Point{X: 160, Y: 100}, // 10px bars top/bottom
	}
	got := exif.CropThumbnail(thumb, d)
	want := image.Rect(0, 10, 160, 110)
	if got != want {
		t.Fatalf("CropThumbnail = %v, want %v", got, want)
	}
}

func TestCropThumbnailFallsBackToFullBounds(t *testing.T) {
	thumb := image.NewRGBA(image.Rect(0, 0, 160, 120))
	got := exif.CropThumbnail(thumb, exif.Data{})
	if got != thumb.Bounds() {
		t.Fatalf("CropThumbnail = %v, want %v", got, thumb.Bounds())
	}
}
