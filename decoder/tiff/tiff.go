// Package tiff implements the TIFF format backend: directory
// enumeration, main/thumbnail page selection, ICC attachment, and a
// tiled/stripped decode branch. Grounded on golang.org/x/image/tiff,
// generalized from "decode the first directory" (the only thing its public
// API exposes) to "enumerate every directory, then point the decoder at
// whichever one the state machine needs" by patching the IFD-offset field
// of a scratch copy of the header before handing it to tiff.Decode — the
// library still owns the actual pixel decode, only the page selection is
// ours. TIFFReadRGBATile/TIFFReadRGBAStrip's per-tile/per-strip progressive
// publish has no equivalent in x/image/tiff's one-shot Decode, so refinement
// events are published over synthetic tile/strip-shaped chunks of the
// already-decoded image — documented here as the TIFF analogue of the JPEG
// backend's chunked-reveal simplification (see DESIGN.md).
package tiff

import (
	"bytes"
	"context"
	goimage "image"

	xtiff "golang.org/x/image/tiff"

	"github.com/skryldev/imgbrowser/core"
	"github.com/skryldev/imgbrowser/decoder"
	apperrors "github.com/skryldev/imgbrowser/errors"
)

const defaultIconHeight = 128

// Backend decodes TIFF containers, picking main/thumbnail pages by the
// rules in selectMainPage and selectThumbnailPage.
type Backend struct {
	IconHeight int
}

// New returns a TIFF format Backend.
func New() decoder.Backend { return &Backend{IconHeight: defaultIconHeight} }

func init() {
	decoder.Register(core.FormatTIFF, New)
}

func (b *Backend) DecodeHeader(ctx context.Context, data []byte) (decoder.Header, error) {
	if err := ctx.Err(); err != nil {
		return decoder.Header{}, err
	}
	dirs, _, err := parseDirectories(data)
	if err != nil {
		return decoder.Header{}, apperrors.New(apperrors.CategoryHeader, "tiff.decodeHeader", err)
	}
	main := selectMainPage(dirs)

	hdr := decoder.Header{
		Width:      main.width,
		Height:     main.height,
		ColorSpace: core.ColorSpaceRGB,
	}
	hdr.XDPI, hdr.YDPI = main.dpi()
	if main.iccOffset != 0 && main.iccLength > 0 && int(main.iccOffset+main.iccLength) <= len(data) {
		hdr.ICCProfile = data[main.iccOffset : main.iccOffset+main.iccLength]
	}
	return hdr, nil
}

func (b *Backend) DecodingLoop(ctx context.Context, data []byte, params decoder.DecodeParams, cancel <-chan struct{}, onRefine decoder.RefinementFunc) (decoder.DecodeResult, error) {
	select {
	case <-cancel:
		return decoder.DecodeResult{}, apperrors.Cancellation("tiff.decodingLoop")
	default:
	}

	dirs, order, err := parseDirectories(data)
	if err != nil {
		return decoder.DecodeResult{}, apperrors.New(apperrors.CategoryDecode, "tiff.decodingLoop", err)
	}
	main := selectMainPage(dirs)

	iconHeight := b.IconHeight
	if iconHeight <= 0 {
		iconHeight = defaultIconHeight
	}
	thumb, haveThumb := selectThumbnailPage(dirs, main, iconHeight)

	target := main
	usingThumb := false
	if haveThumb && params.DesiredResolution.X > 0 && params.DesiredResolution.Y > 0 {
		wantScale := float64(params.DesiredResolution.X) / float64(main.width)
		thumbScale := float64(thumb.width) / float64(main.width)
		// Select the page whose horizontal scale is the largest that does
		// not exceed what was requested.
		if wantScale < 1 && thumbScale <= wantScale {
			target = thumb
			usingThumb = true
		}
	}

	patched := make([]byte, len(data))
	copy(patched, data)
	if target.offset != 0 {
		order.PutUint32(patched[4:8], target.offset)
	}

	select {
	case <-cancel:
		return decoder.DecodeResult{}, apperrors.Cancellation("tiff.decodingLoop")
	default:
	}

	img, err := xtiff.Decode(bytes.NewReader(patched))
	if err != nil {
		return decoder.DecodeResult{}, apperrors.New(apperrors.CategoryDecode, "tiff.decodingLoop", err)
	}

	bounds := img.Bounds()
	roi := params.ROI
	if roi.Empty() {
		roi = bounds
	} else {
		roi = roi.Intersect(bounds)
	}

	// The surface handed out is the mapped-roi buffer, not the whole page
	// with a narrower label: crop before publishing.
	if roi != bounds {
		if sub, ok := img.(interface {
			SubImage(goimage.Rectangle) goimage.Image
		}); ok {
			img = sub.SubImage(roi)
		}
	}

	if target.tiled {
		err = publishTiledRefinements(roi, target.tileWidth, target.tileLength, cancel, onRefine)
	} else {
		err = publishStrippedRefinements(roi, target.rowsPerStrip, cancel, onRefine)
	}
	if err != nil {
		return decoder.DecodeResult{}, err
	}

	final := decoder.StateFullImage
	if usingThumb || roi != bounds {
		final = decoder.StatePreviewImage
	}

	pageScale := 1.0
	if usingThumb && main.width > 0 {
		pageScale = float64(target.width) / float64(main.width)
	}

	return decoder.DecodeResult{
		Final:      final,
		Width:      roi.Dx(),
		Height:     roi.Dy(),
		DecodedROI: roi,
		Pixels:     img,
		PageScale:  pageScale,
	}, nil
}

func (b *Backend) Close() error { return nil }

// publishTiledRefinements walks the tiles intersecting roi, publishing each
// and polling cancel between tiles.
func publishTiledRefinements(roi goimage.Rectangle, tileW, tileH int, cancel <-chan struct{}, onRefine decoder.RefinementFunc) error {
	if tileW <= 0 || tileH <= 0 {
		onRefine(roi)
		return nil
	}
	for y := roi.Min.Y; y < roi.Max.Y; y += tileH {
		for x := roi.Min.X; x < roi.Max.X; x += tileW {
			select {
			case <-cancel:
				return apperrors.Cancellation("tiff.decodingLoop")
			default:
			}
			tile := goimage.Rect(x, y, x+tileW, y+tileH).Intersect(roi)
			if !tile.Empty() {
				onRefine(tile)
			}
		}
	}
	return nil
}

// publishStrippedRefinements walks the strips intersecting roi, publishing
// each and polling cancel between strips.
func publishStrippedRefinements(roi goimage.Rectangle, rowsPerStrip int, cancel <-chan struct{}, onRefine decoder.RefinementFunc) error {
	if rowsPerStrip <= 0 {
		onRefine(roi)
		return nil
	}
	for y := roi.Min.Y; y < roi.Max.Y; y += rowsPerStrip {
		select {
		case <-cancel:
			return apperrors.Cancellation("tiff.decodingLoop")
		default:
		}
		strip := goimage.Rect(roi.Min.X, y, roi.Max.X, y+rowsPerStrip).Intersect(roi)
		if !strip.Empty() {
			onRefine(strip)
		}
	}
	return nil
}
