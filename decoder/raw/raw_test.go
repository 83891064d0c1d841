package raw

import (
	"bytes"
	"context"
	goimage "image"
	"image/color"
	stdjpeg "image/jpeg"
	"testing"

	"github.com/skryldev/imgbrowser/decoder"
)

// A real CR2/NEF/ARW fixture can't be synthesized without a camera capture
// or a libraw-aware encoder, so these tests exercise the embedded-JPEG
// fallback path directly and the decode loop's up-front cancellation check,
// rather than the golibraw/go-libraw calls themselves.

func embeddedJPEGBlob(t *testing.T, w, h int) []byte {
	t.Helper()
	img := goimage.NewRGBA(goimage.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 10, A: 255})
		}
	}
	var jpegBuf bytes.Buffer
	if err := stdjpeg.Encode(&jpegBuf, img, &stdjpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode embedded jpeg: %v", err)
	}

	// A minimal stand-in RAW container: some header bytes preceding the
	// embedded JPEG stream, mirroring where libraw-unpackable formats keep
	// their preview, plus trailing bytes after it.
	var blob bytes.Buffer
	blob.WriteString("IIRAWSTUB")
	blob.Write(jpegBuf.Bytes())
	blob.WriteString("TRAILER")
	return blob.Bytes()
}

func TestDecodeEmbeddedJPEGExtractsPreview(t *testing.T) {
	data := embeddedJPEGBlob(t, 64, 48)
	img, err := decodeEmbeddedJPEG(data)
	if err != nil {
		t.Fatalf("decodeEmbeddedJPEG: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 64 || bounds.Dy() != 48 {
		t.Fatalf("got %dx%d, want 64x48", bounds.Dx(), bounds.Dy())
	}
}

func TestDecodeEmbeddedJPEGRejectsDataWithoutAJPEGStream(t *testing.T) {
	if _, err := decodeEmbeddedJPEG([]byte("not a raw file at all")); err == nil {
		t.Fatal("expected an error when no JPEG marker is present")
	}
}

func TestDecodingLoopHonorsAlreadyClosedCancel(t *testing.T) {
	b := New()
	cancel := make(chan struct{})
	close(cancel)

	params := decoder.DecodeParams{Target: decoder.StateFullImage}
	_, err := b.DecodingLoop(context.Background(), embeddedJPEGBlob(t, 32, 32), params, cancel, func(goimage.Rectangle) {})
	if err == nil {
		t.Fatal("expected cancellation error when cancel is already closed")
	}
}

func TestCloseIsANoOp(t *testing.T) {
	b := New()
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
