package jpeg_test

import (
	"bytes"
	"context"
	goimage "image"
	"image/color"
	stdjpeg "image/jpeg"
	"testing"

	"github.com/skryldev/imgbrowser/decoder"
	decjpeg "github.com/skryldev/imgbrowser/decoder/jpeg"
)

func makeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := goimage.NewRGBA(goimage.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := stdjpeg.Encode(&buf, img, &stdjpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeHeaderReportsDimensions(t *testing.T) {
	data := makeJPEG(t, 400, 300)
	b := decjpeg.New()
	hdr, err := b.DecodeHeader(context.Background(), data)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if hdr.Width != 400 || hdr.Height != 300 {
		t.Fatalf("got %dx%d, want 400x300", hdr.Width, hdr.Height)
	}
}

func TestDecodingLoopDownscalesToPreview(t *testing.T) {
	data := makeJPEG(t, 800, 600)
	b := decjpeg.New()
	cancel := make(chan struct{})
	var refined []goimage.Rectangle

	result, err := b.DecodingLoop(context.Background(), data, decoder.DecodeParams{
		Target:            decoder.StateFullImage,
		DesiredResolution: goimage.Point{X: 200, Y: 150},
	}, cancel, func(r goimage.Rectangle) {
		refined = append(refined, r)
	})
	if err != nil {
		t.Fatalf("DecodingLoop: %v", err)
	}
	if result.Final != decoder.StatePreviewImage {
		t.Fatalf("want PreviewImage for a downscaled decode, got %v", result.Final)
	}
	if result.Width >= 800 || result.Height >= 600 {
		t.Fatalf("expected downscaled output, got %dx%d", result.Width, result.Height)
	}
	if len(refined) == 0 {
		t.Fatal("expected at least one refinement callback")
	}
}

func TestDecodingLoopFullResolutionReportsFullImage(t *testing.T) {
	data := makeJPEG(t, 64, 64)
	b := decjpeg.New()
	cancel := make(chan struct{})

	result, err := b.DecodingLoop(context.Background(), data, decoder.DecodeParams{
		Target: decoder.StateFullImage,
	}, cancel, func(goimage.Rectangle) {})
	if err != nil {
		t.Fatalf("DecodingLoop: %v", err)
	}
	if result.Final != decoder.StateFullImage {
		t.Fatalf("want FullImage when no scaling requested, got %v", result.Final)
	}
}

func TestDecodingLoopHonorsAlreadyClosedCancel(t *testing.T) {
	data := makeJPEG(t, 64, 64)
	b := decjpeg.New()
	cancel := make(chan struct{})
	close(cancel)

	_, err := b.DecodingLoop(context.Background(), data, decoder.DecodeParams{
		Target: decoder.StateFullImage,
	}, cancel, func(goimage.Rectangle) {})
	if err == nil {
		t.Fatal("expected cancellation error when cancel is already closed")
	}
}
