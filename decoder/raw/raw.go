// Package raw implements the RAW format backend: CR2/CR3/NEF/ARW/RW2/RAF/
// DNG/ORF/PEF/SRW header + thumbnail extraction via libraw, with an
// embedded-JPEG fallback when libraw can't unpack a file. Both the header
// parse and the full decode delegate entirely to libraw's own IFD parsing
// rather than reimplementing CR2/NEF offset arithmetic by hand.
package raw

import (
	"bytes"
	"context"
	goimage "image"
	stdjpeg "image/jpeg"
	"os"

	golibraw "github.com/inokone/golibraw"
	goraw "github.com/seppedelanghe/go-libraw"

	"github.com/skryldev/imgbrowser/core"
	"github.com/skryldev/imgbrowser/decoder"
	apperrors "github.com/skryldev/imgbrowser/errors"
)

// Backend decodes RAW files via libraw, falling back to an embedded-JPEG
// preview when libraw cannot unpack a file, and returning a decode error
// when neither yields an image.
type Backend struct{}

// New returns a RAW format Backend.
func New() decoder.Backend { return &Backend{} }

func init() {
	// RAWKind (CR2, NEF, ARW, ...) is reported by decoder.Detect* and kept
	// on the Image; a single Backend serves every dialect since golibraw dispatches on
	// the file's own libraw-recognized signature.
	decoder.Register(core.FormatRAW, New)
}

// withTempFile writes data to a temp file for libraw (a CGO binding that
// operates on paths, not in-memory buffers) and cleans it up afterward.
func withTempFile(data []byte, fn func(path string) error) error {
	f, err := os.CreateTemp("", "imgbrowser-raw-*.bin")
	if err != nil {
		return err
	}
	path := f.Name()
	defer os.Remove(path)
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return fn(path)
}

func (b *Backend) DecodeHeader(ctx context.Context, data []byte) (decoder.Header, error) {
	if err := ctx.Err(); err != nil {
		return decoder.Header{}, err
	}

	var hdr decoder.Header
	err := withTempFile(data, func(path string) error {
		info, err := golibraw.Metadata(path)
		if err != nil {
			return err
		}
		hdr.Width = info.Width
		hdr.Height = info.Height
		hdr.Orientation = info.Orientation
		hdr.ColorSpace = core.ColorSpaceRGB
		return nil
	})
	if err != nil {
		return decoder.Header{}, apperrors.New(apperrors.CategoryHeader, "raw.decodeHeader", err)
	}
	return hdr, nil
}

func (b *Backend) DecodingLoop(ctx context.Context, data []byte, params decoder.DecodeParams, cancel <-chan struct{}, onRefine decoder.RefinementFunc) (decoder.DecodeResult, error) {
	select {
	case <-cancel:
		return decoder.DecodeResult{}, apperrors.Cancellation("raw.decodingLoop")
	default:
	}

	// Only a FullImage target with no desired resolution goes through the
	// slower full demosaic path; any request that names a desired
	// resolution is satisfied by the embedded thumbnail.
	wantsFull := params.Target == decoder.StateFullImage &&
		(params.DesiredResolution == (goimage.Point{}))

	var img goimage.Image
	var err error
	final := decoder.StatePreviewImage

	if wantsFull {
		img, err = decodeFull(data)
		if err == nil {
			final = decoder.StateFullImage
		}
	}

	if img == nil {
		img, err = decodeThumbnail(data)
		if err != nil {
			img, err = decodeEmbeddedJPEG(data)
		}
		final = decoder.StatePreviewImage
	}

	if img == nil {
		return decoder.DecodeResult{}, apperrors.New(apperrors.CategoryDecode, "raw.decodingLoop", err)
	}

	select {
	case <-cancel:
		return decoder.DecodeResult{}, apperrors.Cancellation("raw.decodingLoop")
	default:
	}

	rect := img.Bounds()
	onRefine(rect)

	return decoder.DecodeResult{
		Final:      final,
		Width:      rect.Dx(),
		Height:     rect.Dy(),
		Pixels:     img,
		DecodedROI: rect,
		PageScale:  1,
	}, nil
}

func (b *Backend) Close() error { return nil }

// decodeFull performs the full demosaic via go-libraw's secondary decode
// path, used when a preview pass is insufficient.
func decodeFull(data []byte) (goimage.Image, error) {
	var img goimage.Image
	err := withTempFile(data, func(path string) error {
		out, err := goraw.DecodeFile(path)
		if err != nil {
			return err
		}
		img = out
		return nil
	})
	return img, err
}

// decodeThumbnail extracts libraw's embedded preview/thumbnail.
func decodeThumbnail(data []byte) (goimage.Image, error) {
	var img goimage.Image
	err := withTempFile(data, func(path string) error {
		out, err := golibraw.Thumbnail(path)
		if err != nil {
			return err
		}
		img = out
		return nil
	})
	return img, err
}

// decodeEmbeddedJPEG is the last-resort fallback: scan the raw container
// for an embedded JPEG stream when libraw's own thumbnail extraction
// fails.
func decodeEmbeddedJPEG(data []byte) (goimage.Image, error) {
	start := bytes.Index(data, []byte{0xFF, 0xD8, 0xFF})
	if start < 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, "raw.embeddedJPEG", apperrors.ErrUnsupportedFormat)
	}
	end := bytes.LastIndex(data, []byte{0xFF, 0xD9})
	if end < 0 || end <= start {
		return nil, apperrors.New(apperrors.CategoryDecode, "raw.embeddedJPEG", apperrors.ErrUnsupportedFormat)
	}
	img, err := stdjpeg.Decode(bytes.NewReader(data[start : end+2]))
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryDecode, "raw.embeddedJPEG", err)
	}
	return img, nil
}
