package png_test

import (
	"bytes"
	"context"
	goimage "image"
	"image/color"
	stdpng "image/png"
	"testing"

	"github.com/skryldev/imgbrowser/decoder"
	decpng "github.com/skryldev/imgbrowser/decoder/png"
)

func makePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := goimage.NewNRGBA(goimage.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := stdpng.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeHeaderReportsDimensions(t *testing.T) {
	data := makePNG(t, 300, 200)
	b := decpng.New()
	hdr, err := b.DecodeHeader(context.Background(), data)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if hdr.Width != 300 || hdr.Height != 200 {
		t.Fatalf("got %dx%d, want 300x200", hdr.Width, hdr.Height)
	}
}

func TestDecodingLoopDownscalesToPreview(t *testing.T) {
	data := makePNG(t, 640, 480)
	b := decpng.New()
	cancel := make(chan struct{})
	var refined []goimage.Rectangle

	result, err := b.DecodingLoop(context.Background(), data, decoder.DecodeParams{
		Target:            decoder.StateFullImage,
		DesiredResolution: goimage.Point{X: 160, Y: 120},
	}, cancel, func(r goimage.Rectangle) {
		refined = append(refined, r)
	})
	if err != nil {
		t.Fatalf("DecodingLoop: %v", err)
	}
	if result.Final != decoder.StatePreviewImage {
		t.Fatalf("want PreviewImage for a downscaled decode, got %v", result.Final)
	}
	if result.Width >= 640 || result.Height >= 480 {
		t.Fatalf("expected downscaled output, got %dx%d", result.Width, result.Height)
	}
	if len(refined) == 0 {
		t.Fatal("expected at least one refinement callback")
	}
}

func TestDecodingLoopFullResolutionReportsFullImage(t *testing.T) {
	data := makePNG(t, 48, 48)
	b := decpng.New()
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
	data := makePNG(t, 32, 32)
	b := decpng.New()
	cancel := make(chan struct{})
	close(cancel)

	_, err := b.DecodingLoop(context.Background(), data, decoder.DecodeParams{
		Target: decoder.StateFullImage,
	}, cancel, func(goimage.Rectangle) {})
	if err == nil {
		t.Fatal("expected cancellation error when cancel is already closed")
	}
}
