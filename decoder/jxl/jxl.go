// Package jxl implements the JXL format backend: a low-res preview is
// published before committing to the full decode. It rides the same govips
// path as decoder/jpeg and decoder/png — libvips built without JXL support
// surfaces as a header decode error rather than a silent
// miscategorization. The preview/full distinction is modeled as two
// onRefine calls rather than a true preview-buffer callback, the
// pixel-callback analogue of the JPEG/TIFF backends' synthetic-chunk
// refinement; see DESIGN.md.
package jxl

import (
	"context"
	goimage "image"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/skryldev/imgbrowser/core"
	"github.com/skryldev/imgbrowser/decoder"
	apperrors "github.com/skryldev/imgbrowser/errors"
	"github.com/skryldev/imgbrowser/utils"
)

// Backend decodes JXL via govips.
type Backend struct{}

// New returns a JXL format Backend.
func New() decoder.Backend { return &Backend{} }

func init() {
	decoder.Register(core.FormatJXL, New)
}

func (b *Backend) DecodeHeader(ctx context.Context, data []byte) (decoder.Header, error) {
	if err := ctx.Err(); err != nil {
		return decoder.Header{}, err
	}
	ref, err := govips.NewImageFromBuffer(data)
	if err != nil {
		return decoder.Header{}, apperrors.New(apperrors.CategoryHeader, "jxl.decodeHeader", err)
	}
	defer ref.Close()

	return decoder.Header{
		Width:      ref.Width(),
		Height:     ref.Height(),
		ColorSpace: core.ColorSpaceRGBA,
		HasAlpha:   ref.HasAlpha(),
	}, nil
}

func (b *Backend) DecodingLoop(ctx context.Context, data []byte, params decoder.DecodeParams, cancel <-chan struct{}, onRefine decoder.RefinementFunc) (decoder.DecodeResult, error) {
	select {
	case <-cancel:
		return decoder.DecodeResult{}, apperrors.Cancellation("jxl.decodingLoop")
	default:
	}

	ref, err := govips.NewImageFromBuffer(data)
	if err != nil {
		return decoder.DecodeResult{}, apperrors.New(apperrors.CategoryDecode, "jxl.decodingLoop", err)
	}
	defer ref.Close()

	srcW, srcH := ref.Width(), ref.Height()
	needPreview := params.DesiredResolution.X > 0 && params.DesiredResolution.Y > 0 &&
		(params.DesiredResolution.X < srcW || params.DesiredResolution.Y < srcH)

	if needPreview {
		// NEED_PREVIEW_OUT_BUFFER analogue: publish a cheap low-res preview
		// before committing to the full decode.
		previewW, previewH := utils.ScaleDimensions(srcW, srcH, srcW/8, 0)
		onRefine(goimage.Rect(0, 0, previewW, previewH))

		dstW, dstH := utils.ScaleDimensions(srcW, srcH, params.DesiredResolution.X, params.DesiredResolution.Y)
		scale := float64(dstW) / float64(srcW)
		if err := ref.Resize(scale, govips.KernelLanczos3); err != nil {
			return decoder.DecodeResult{}, apperrors.New(apperrors.CategoryDecode, "jxl.decodingLoop.resize", err)
		}
		dstW, dstH = ref.Width(), ref.Height()
		rect := goimage.Rect(0, 0, dstW, dstH)
		onRefine(rect)

		select {
		case <-cancel:
			return decoder.DecodeResult{}, apperrors.Cancellation("jxl.decodingLoop")
		default:
		}

		pixels, err := ref.ToImage(govips.NewDefaultExportParams())
		if err != nil {
			return decoder.DecodeResult{}, apperrors.New(apperrors.CategoryDecode, "jxl.decodingLoop.export", err)
		}
		return decoder.DecodeResult{Final: decoder.StatePreviewImage, Width: dstW, Height: dstH, DecodedROI: rect, Pixels: pixels, PageScale: scale}, nil
	}

	rect := goimage.Rect(0, 0, srcW, srcH)
	onRefine(rect)

	select {
	case <-cancel:
		return decoder.DecodeResult{}, apperrors.Cancellation("jxl.decodingLoop")
	default:
	}

	pixels, err := ref.ToImage(govips.NewDefaultExportParams())
	if err != nil {
		return decoder.DecodeResult{}, apperrors.New(apperrors.CategoryDecode, "jxl.decodingLoop.export", err)
	}
	return decoder.DecodeResult{Final: decoder.StateFullImage, Width: srcW, Height: srcH, DecodedROI: rect, Pixels: pixels, PageScale: 1}, nil
}

func (b *Backend) Close() error { return nil }
