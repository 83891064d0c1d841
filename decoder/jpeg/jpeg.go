// Package jpeg implements the JPEG format backend. Header
// parsing and scale-on-load decode call govips directly — govips gives dimensions, colorspace, embedded ICC,
// and a cheap resize path without ever decoding the full-resolution bitmap
// when a preview suffices. libjpeg's buffered-image scan callback has no
// govips equivalent, so progressive refinement is modeled as a chunked
// reveal: the decoded frame is published band by band, each band a
// cancellation point; see DESIGN.md for the full rationale.
package jpeg

import (
	"context"
	goimage "image"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/skryldev/imgbrowser/core"
	"github.com/skryldev/imgbrowser/decoder"
	apperrors "github.com/skryldev/imgbrowser/errors"
	"github.com/skryldev/imgbrowser/utils"
)

// maxScans caps the number of reveal bands, mirroring the guard against
// pathological progressive streams.
const maxScans = 1000

// revealBandRows is how many output rows each refinement band covers.
const revealBandRows = 64

// Backend decodes JPEG via govips, this module's premier image backend.
type Backend struct{}

// New returns a JPEG format Backend.
func New() decoder.Backend { return &Backend{} }

func init() {
	decoder.Register(core.FormatJPEG, New)
}

func (b *Backend) DecodeHeader(ctx context.Context, data []byte) (decoder.Header, error) {
	if err := ctx.Err(); err != nil {
		return decoder.Header{}, err
	}
	ref, err := govips.NewImageFromBuffer(data)
	if err != nil {
		return decoder.Header{}, apperrors.New(apperrors.CategoryHeader, "jpeg.decodeHeader", err)
	}
	defer ref.Close()

	hdr := decoder.Header{
		Width:       ref.Width(),
		Height:      ref.Height(),
		ColorSpace:  interpretationToColorSpace(ref.Interpretation()),
		HasAlpha:    ref.HasAlpha(),
		Orientation: ref.Orientation(),
	}
	if icc, err := ref.GetBlob("icc-profile-data"); err == nil && len(icc) > 0 {
		hdr.ICCProfile = icc
	}
	return hdr, nil
}

// DecodingLoop produces the requested resolution via govips shrink-on-load
// resize, crops to the ROI when one was requested, and reveals the decoded
// frame in bands, polling cancel before the resize, before materializing the
// pixel buffer, and between bands.
func (b *Backend) DecodingLoop(ctx context.Context, data []byte, params decoder.DecodeParams, cancel <-chan struct{}, onRefine decoder.RefinementFunc) (decoder.DecodeResult, error) {
	if err := poll(cancel, "jpeg.decodingLoop"); err != nil {
		return decoder.DecodeResult{}, err
	}

	ref, err := govips.NewImageFromBuffer(data)
	if err != nil {
		return decoder.DecodeResult{}, apperrors.New(apperrors.CategoryDecode, "jpeg.decodingLoop", err)
	}
	defer ref.Close()

	srcW, srcH := ref.Width(), ref.Height()
	dstW, dstH := srcW, srcH
	scale := 1.0
	cropped := !params.ROI.Empty() && params.ROI != goimage.Rect(0, 0, srcW, srcH)
	scaled := false

	if params.DesiredResolution.X > 0 && params.DesiredResolution.Y > 0 &&
		params.DesiredResolution.X < srcW && params.DesiredResolution.Y < srcH {
		dstW, dstH = utils.ScaleDimensions(srcW, srcH, params.DesiredResolution.X, params.DesiredResolution.Y)
		scaled = true
	}

	if scaled {
		scale = float64(dstW) / float64(srcW)
		if err := ref.Resize(scale, govips.KernelLanczos3); err != nil {
			return decoder.DecodeResult{}, apperrors.New(apperrors.CategoryDecode, "jpeg.decodingLoop.resize", err)
		}
		dstW, dstH = ref.Width(), ref.Height()
	}

	if cropped {
		roi := scaleRect(params.ROI, scale).Intersect(goimage.Rect(0, 0, dstW, dstH))
		if roi.Empty() {
			return decoder.DecodeResult{}, apperrors.New(apperrors.CategoryDecode, "jpeg.decodingLoop.roi", apperrors.ErrInvalidDimensions)
		}
		if err := ref.ExtractArea(roi.Min.X, roi.Min.Y, roi.Dx(), roi.Dy()); err != nil {
			return decoder.DecodeResult{}, apperrors.New(apperrors.CategoryDecode, "jpeg.decodingLoop.extract", err)
		}
		dstW, dstH = ref.Width(), ref.Height()
	}

	if err := poll(cancel, "jpeg.decodingLoop"); err != nil {
		return decoder.DecodeResult{}, err
	}

	pixels, err := ref.ToImage(govips.NewDefaultExportParams())
	if err != nil {
		return decoder.DecodeResult{}, apperrors.New(apperrors.CategoryDecode, "jpeg.decodingLoop.export", err)
	}

	decodedRect := goimage.Rect(0, 0, dstW, dstH)
	if err := revealBands(decodedRect, cancel, onRefine); err != nil {
		return decoder.DecodeResult{}, err
	}

	final := decoder.StateFullImage
	if scaled || cropped {
		final = decoder.StatePreviewImage
	}

	return decoder.DecodeResult{
		Final:      final,
		Width:      dstW,
		Height:     dstH,
		DecodedROI: decodedRect,
		Pixels:     pixels,
		PageScale:  scale,
	}, nil
}

func (b *Backend) Close() error { return nil }

// revealBands publishes the decoded rectangle as a sequence of growing
// bands, polling cancel between each.
func revealBands(rect goimage.Rectangle, cancel <-chan struct{}, onRefine decoder.RefinementFunc) error {
	bands := 0
	for y := rect.Min.Y; y < rect.Max.Y; y += revealBandRows {
		if err := poll(cancel, "jpeg.decodingLoop"); err != nil {
			return err
		}
		bands++
		if bands >= maxScans {
			onRefine(rect)
			return nil
		}
		bottom := y + revealBandRows
		if bottom > rect.Max.Y {
			bottom = rect.Max.Y
		}
		onRefine(goimage.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, bottom))
	}
	if bands == 0 {
		onRefine(rect)
	}
	return nil
}

func poll(cancel <-chan struct{}, op string) error {
	select {
	case <-cancel:
		return apperrors.Cancellation(op)
	default:
		return nil
	}
}

func scaleRect(r goimage.Rectangle, s float64) goimage.Rectangle {
	return goimage.Rect(
		int(float64(r.Min.X)*s),
		int(float64(r.Min.Y)*s),
		int(float64(r.Max.X)*s),
		int(float64(r.Max.Y)*s),
	)
}

func interpretationToColorSpace(i govips.Interpretation) core.ColorSpace {
	switch i {
	case govips.InterpretationBW:
		return core.ColorSpaceGray
	case govips.InterpretationCMYK:
		return core.ColorSpaceCMYK
	default:
		return core.ColorSpaceRGB
	}
}
