package decoder

import (
	"image"

	"github.com/skryldev/imgbrowser/core"
)

// ImageSink is the subset of the owning Image entity the decoder is allowed
// to mutate or notify. Decoder stores a sink, not a pointer to model.Image,
// so that decoder never imports model — model imports decoder instead. This
// is an interface-seam substitute for a handle-table "store an id, not a
// pointer" design, since this module has no arena to hand out ids from.
type ImageSink interface {
	SetDimensions(w, h int)
	SetOrientation(o int)
	SetColorSpace(cs core.ColorSpace)
	SetICCProfile(p []byte)
	SetDecodedROI(r image.Rectangle)
	SetDPI(x, y float64)
	SetPageScale(s float64)
	SetThumbnail(img image.Image)
	SetSurface(img image.Image)
	ReleaseSurface()
	SetLastError(err error)

	PublishStateChanged(old, new State)
	PublishThumbnailChanged()
	PublishDecodedRegionGrew(r image.Rectangle)
}

// NopSink is an ImageSink that discards everything; useful for tests and for
// decoders created before their owning Image is wired up.
type NopSink struct{}

func (NopSink) SetDimensions(int, int)                   {}
func (NopSink) SetOrientation(int)                       {}
func (NopSink) SetColorSpace(core.ColorSpace)            {}
func (NopSink) SetICCProfile([]byte)                     {}
func (NopSink) SetDecodedROI(image.Rectangle)            {}
func (NopSink) SetDPI(float64, float64)                  {}
func (NopSink) SetPageScale(float64)                     {}
func (NopSink) SetThumbnail(image.Image)                 {}
func (NopSink) SetSurface(image.Image)                   {}
func (NopSink) ReleaseSurface()                          {}
func (NopSink) SetLastError(error)                       {}
func (NopSink) PublishStateChanged(State, State)         {}
func (NopSink) PublishThumbnailChanged()                 {}
func (NopSink) PublishDecodedRegionGrew(image.Rectangle) {}
