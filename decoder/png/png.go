// Package png implements the PNG format backend. Grounded on the same
// adapters/vips govips path as decoder/jpeg, since PNG needs no special-case
// handling beyond format dispatch.
package png

import (
	"context"
	goimage "image"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/skryldev/imgbrowser/core"
	"github.com/skryldev/imgbrowser/decoder"
	apperrors "github.com/skryldev/imgbrowser/errors"
	"github.com/skryldev/imgbrowser/utils"
)

// Backend decodes PNG via govips.
type Backend struct{}

// New returns a PNG format Backend.
func New() decoder.Backend { return &Backend{} }

func init() {
	decoder.Register(core.FormatPNG, New)
}

func (b *Backend) DecodeHeader(ctx context.Context, data []byte) (decoder.Header, error) {
	if err := ctx.Err(); err != nil {
		return decoder.Header{}, err
	}
	ref, err := govips.NewImageFromBuffer(data)
	if err != nil {
		return decoder.Header{}, apperrors.New(apperrors.CategoryHeader, "png.decodeHeader", err)
	}
	defer ref.Close()

	hdr := decoder.Header{
		Width:      ref.Width(),
		Height:     ref.Height(),
		ColorSpace: core.ColorSpaceRGBA,
		HasAlpha:   ref.HasAlpha(),
	}
	if icc, err := ref.GetBlob("icc-profile-data"); err == nil && len(icc) > 0 {
		hdr.ICCProfile = icc
	}
	return hdr, nil
}

func (b *Backend) DecodingLoop(ctx context.Context, data []byte, params decoder.DecodeParams, cancel <-chan struct{}, onRefine decoder.RefinementFunc) (decoder.DecodeResult, error) {
	select {
	case <-cancel:
		return decoder.DecodeResult{}, apperrors.Cancellation("png.decodingLoop")
	default:
	}

	ref, err := govips.NewImageFromBuffer(data)
	if err != nil {
		return decoder.DecodeResult{}, apperrors.New(apperrors.CategoryDecode, "png.decodingLoop", err)
	}
	defer ref.Close()

	srcW, srcH := ref.Width(), ref.Height()
	dstW, dstH := srcW, srcH
	scale := 1.0
	scaled := false
	if params.DesiredResolution.X > 0 && params.DesiredResolution.Y > 0 &&
		params.DesiredResolution.X < srcW && params.DesiredResolution.Y < srcH {
		dstW, dstH = utils.ScaleDimensions(srcW, srcH, params.DesiredResolution.X, params.DesiredResolution.Y)
		scaled = true
		scale = float64(dstW) / float64(srcW)
		if err := ref.Resize(scale, govips.KernelLanczos3); err != nil {
			return decoder.DecodeResult{}, apperrors.New(apperrors.CategoryDecode, "png.decodingLoop.resize", err)
		}
		dstW, dstH = ref.Width(), ref.Height()
	}

	select {
	case <-cancel:
		return decoder.DecodeResult{}, apperrors.Cancellation("png.decodingLoop")
	default:
	}

	pixels, err := ref.ToImage(govips.NewDefaultExportParams())
	if err != nil {
		return decoder.DecodeResult{}, apperrors.New(apperrors.CategoryDecode, "png.decodingLoop.export", err)
	}

	decodedRect := goimage.Rect(0, 0, dstW, dstH)
	onRefine(decodedRect)

	final := decoder.StateFullImage
	if scaled {
		final = decoder.StatePreviewImage
	}
	return decoder.DecodeResult{Final: final, Width: dstW, Height: dstH, DecodedROI: decodedRect, Pixels: pixels, PageScale: scale}, nil
}

func (b *Backend) Close() error { return nil }
