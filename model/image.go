// Package model implements the per-path Image entity and the sectioned
// sorted image model. Image is a thread-safe holder: path+stat, dimensions,
// transforms, color space, thumbnail, decoded surface, decode state,
// check-state, EXIF handle, and AF-point overlay, all guarded by one mutex.
// It is a long-lived entity mutated across many decode passes, not a
// one-shot pipeline payload.
package model

import (
	"image"
	"os"
	"sync"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/nfnt/resize"

	"github.com/skryldev/imgbrowser/core"
	"github.com/skryldev/imgbrowser/decoder"
	"github.com/skryldev/imgbrowser/events"
	"github.com/skryldev/imgbrowser/exif"
)

// thumbnailTargetHeight is the height SetSurface downsamples to when
// deriving a thumbnail from a decoded surface that carries no embedded one.
// The monotonic-quality guard in SetThumbnail means this only ever improves
// the stored thumbnail.
const thumbnailTargetHeight = 256

// CheckState is the tri-state selection checkbox value.
type CheckState int

const (
	Unchecked CheckState = iota
	PartiallyChecked
	Checked
)

// Image is one on-disk path's entity. All mutating methods take imu; reads
// from any goroutine are safe. Image never holds imu across a bus Publish
// call, so subscribers may call back into it without deadlocking.
type Image struct {
	imu sync.Mutex

	// Path + stat, set once at construction and never mutated.
	Path    string
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time

	Format  core.Format
	RawKind core.RAWKind

	// Populated by the decoder; valid no later than entering Metadata and
	// never mutated afterward.
	width, height int
	orientation   int // EXIF orientation transform, 1-8
	userTransform int // viewer-driven transform layered atop orientation
	colorSpace    core.ColorSpace
	iccProfile    []byte
	xdpi, ydpi    float64

	thumbnail  image.Image
	thumbWidth int // for the monotonic-quality invariant
	surface    image.Image
	decodedROI image.Rectangle
	pageOffset image.Point // ROI origin in full-resolution coordinates
	pageScale  float64     // decoded-page -> full-resolution scale; 1 = native

	state   decoder.State
	lastErr error

	checkState CheckState

	EXIF    exif.Data
	hasEXIF bool

	afOverlay      []exif.AFPoint
	afRefW, afRefH int

	// PHash is a perceptual hash of the most recent decoded surface, set by
	// SetSurface and compared by LikelyDuplicateOf.
	PHash *goimagehash.ImageHash

	hasDecoder bool
	// HideIfJPEGSiblingFn reports whether this image should be hidden
	// because the "combine RAW and JPEG" view flag is set and a sibling
	// JPEG or TIFF with the same stem exists. nil means never hidden.
	HideIfJPEGSiblingFn func() bool

	dec *decoder.Decoder

	Bus events.ImageBus
}

// NewImage constructs an Image from a directory-enumeration stat.
func NewImage(path, name string, info os.FileInfo, format core.Format, rawKind core.RAWKind) *Image {
	return &Image{
		Path:    path,
		Name:    name,
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Format:  format,
		RawKind: rawKind,
		state:   decoder.StateUnknown,
		// Assumed until a header parse attaches an embedded profile.
		colorSpace: core.ColorSpaceSRGB,
	}
}

// AttachDecoder wires d as the image's decoder, satisfying ImageSink itself
// so the decoder publishes state/thumbnail/ROI changes through Image's bus.
// Called by the directory worker right after constructing the Image, before
// the decoder is shared across goroutines.
func (img *Image) AttachDecoder(d *decoder.Decoder) {
	img.imu.Lock()
	img.dec = d
	img.hasDecoder = true
	img.imu.Unlock()
}

// Decoder returns the attached decoder, or nil if none was built (format
// unrecognised).
func (img *Image) Decoder() *decoder.Decoder {
	img.imu.Lock()
	defer img.imu.Unlock()
	return img.dec
}

// HasDecoder reports whether a format decoder could be constructed for this
// path.
func (img *Image) HasDecoder() bool {
	img.imu.Lock()
	defer img.imu.Unlock()
	return img.hasDecoder
}

// State returns the decoder's last-observed state, or StateUnknown if no
// decoder is attached.
func (img *Image) State() decoder.State {
	img.imu.Lock()
	defer img.imu.Unlock()
	return img.state
}

// Dimensions returns the pixel dimensions, valid once State() >= Metadata.
func (img *Image) Dimensions() (w, h int) {
	img.imu.Lock()
	defer img.imu.Unlock()
	return img.width, img.height
}

// FullRect returns the full-resolution rectangle, valid once State() >=
// Metadata.
func (img *Image) FullRect() image.Rectangle {
	img.imu.Lock()
	defer img.imu.Unlock()
	return image.Rect(0, 0, img.width, img.height)
}

// DecodedROI returns the subrectangle of the full-resolution image currently
// materialised in the decoded surface.
func (img *Image) DecodedROI() image.Rectangle {
	img.imu.Lock()
	defer img.imu.Unlock()
	return img.decodedROI
}

// Thumbnail returns the current thumbnail pixmap, or nil.
func (img *Image) Thumbnail() image.Image {
	img.imu.Lock()
	defer img.imu.Unlock()
	return img.thumbnail
}

// Surface returns the current (possibly partial) decoded surface, or nil.
func (img *Image) Surface() image.Image {
	img.imu.Lock()
	defer img.imu.Unlock()
	return img.surface
}

// ColorSpace returns the attached ICC profile bytes (if any) and the
// resolved ColorSpace, sRGB when no profile was attached.
func (img *Image) ColorSpace() (cs core.ColorSpace, icc []byte) {
	img.imu.Lock()
	defer img.imu.Unlock()
	return img.colorSpace, img.iccProfile
}

// LastError returns the error captured by the most recent Error/Fatal
// transition, or nil.
func (img *Image) LastError() error {
	img.imu.Lock()
	defer img.imu.Unlock()
	return img.lastErr
}

// Orientation returns the EXIF-default orientation transform (1-8, 0 when
// unknown).
func (img *Image) Orientation() int {
	img.imu.Lock()
	defer img.imu.Unlock()
	return img.orientation
}

// UserTransform returns the viewer-driven transform layered atop the
// EXIF-default orientation.
func (img *Image) UserTransform() int {
	img.imu.Lock()
	defer img.imu.Unlock()
	return img.userTransform
}

// SetUserTransform replaces the viewer-driven transform.
func (img *Image) SetUserTransform(t int) {
	img.imu.Lock()
	img.userTransform = t
	img.imu.Unlock()
}

// CheckState returns the image's tri-state checkbox value.
func (img *Image) CheckState() CheckState {
	img.imu.Lock()
	defer img.imu.Unlock()
	return img.checkState
}

// SetCheckState mutates the checkbox value.
func (img *Image) SetCheckState(s CheckState) {
	img.imu.Lock()
	img.checkState = s
	img.imu.Unlock()
}

// AFOverlay returns the cached autofocus overlay rectangles and their
// reference frame size, or (nil, 0, 0) if none was ever computed.
func (img *Image) AFOverlay() ([]exif.AFPoint, int, int) {
	img.imu.Lock()
	defer img.imu.Unlock()
	return img.afOverlay, img.afRefW, img.afRefH
}

// Enabled reports whether the item should be selectable in the view: false
// when a hide predicate (e.g. "has JPEG sibling and combine-RAW-JPEG is on")
// fires.
func (img *Image) Enabled() bool {
	img.imu.Lock()
	fn := img.HideIfJPEGSiblingFn
	img.imu.Unlock()
	if fn == nil {
		return true
	}
	return !fn()
}

// ── ImageSink implementation: the decoder's only mutation surface ──────────

func (img *Image) SetDimensions(w, h int) {
	img.imu.Lock()
	img.width, img.height = w, h
	img.imu.Unlock()
}

func (img *Image) SetOrientation(o int) {
	img.imu.Lock()
	img.orientation = o
	img.imu.Unlock()
}

func (img *Image) SetColorSpace(cs core.ColorSpace) {
	img.imu.Lock()
	img.colorSpace = cs
	img.imu.Unlock()
}

func (img *Image) SetICCProfile(p []byte) {
	img.imu.Lock()
	img.iccProfile = p
	img.imu.Unlock()
}

func (img *Image) SetDecodedROI(r image.Rectangle) {
	img.imu.Lock()
	img.decodedROI = r
	img.pageOffset = r.Min
	img.imu.Unlock()
}

func (img *Image) SetDPI(x, y float64) {
	img.imu.Lock()
	img.xdpi, img.ydpi = x, y
	img.imu.Unlock()
}

// DPI returns the pixel density in dots per inch, (0, 0) when the container
// carried no resolution fields.
func (img *Image) DPI() (x, y float64) {
	img.imu.Lock()
	defer img.imu.Unlock()
	return img.xdpi, img.ydpi
}

func (img *Image) SetPageScale(s float64) {
	img.imu.Lock()
	img.pageScale = s
	img.imu.Unlock()
}

// PageScale returns the decoded-page-to-full-resolution scale of the current
// surface (1 when decoded at native resolution, 0 before any decode).
func (img *Image) PageScale() float64 {
	img.imu.Lock()
	defer img.imu.Unlock()
	return img.pageScale
}

// Offset returns the decoded ROI's origin in full-resolution coordinates.
func (img *Image) Offset() image.Point {
	img.imu.Lock()
	defer img.imu.Unlock()
	return img.pageOffset
}

// ReleaseSurface drops the decoded surface, keeping metadata and thumbnail.
// Called by the decoder's Reset.
func (img *Image) ReleaseSurface() {
	img.imu.Lock()
	img.surface = nil
	img.decodedROI = image.Rectangle{}
	img.pageOffset = image.Point{}
	img.imu.Unlock()
}

// SetThumbnail enforces the monotonic-quality invariant: a non-nil
// thumbnail is only replaced by one of greater-or-equal width.
func (img *Image) SetThumbnail(t image.Image) {
	if t == nil {
		return
	}
	w := t.Bounds().Dx()
	img.imu.Lock()
	if img.thumbnail != nil && w < img.thumbWidth {
		img.imu.Unlock()
		return
	}
	img.thumbnail = t
	img.thumbWidth = w
	img.imu.Unlock()
	img.Bus.Publish(events.ImageEvent{Kind: events.ImageThumbnailChanged, Path: img.Path})
}

func (img *Image) SetLastError(err error) {
	img.imu.Lock()
	img.lastErr = err
	img.imu.Unlock()
}

func (img *Image) PublishStateChanged(old, new decoder.State) {
	img.imu.Lock()
	img.state = new
	img.imu.Unlock()
	img.Bus.Publish(events.ImageEvent{
		Kind: events.ImageStateChanged, Path: img.Path,
		OldState: int(old), NewState: int(new),
	})
}

func (img *Image) PublishThumbnailChanged() {
	img.Bus.Publish(events.ImageEvent{Kind: events.ImageThumbnailChanged, Path: img.Path})
}

func (img *Image) PublishDecodedRegionGrew(r image.Rectangle) {
	img.surfaceGrew(r)
	img.Bus.Publish(events.ImageEvent{Kind: events.ImageDecodedRegionGrew, Path: img.Path, Rect: r})
}

func (img *Image) surfaceGrew(r image.Rectangle) {
	img.imu.Lock()
	img.decodedROI = r
	img.pageOffset = r.Min
	img.imu.Unlock()
}

// SetSurface stores the decoder's pixel buffer as the image's decoded
// surface. It also derives a thumbnail from every surface it receives —
// via resize.Thumbnail when the surface is taller than
// thumbnailTargetHeight, the surface itself otherwise — and offers it to
// SetThumbnail, whose monotonic-quality guard keeps an already-set wider
// thumbnail (such as one attached from EXIF by the directory worker).
// The perceptual hash compared by LikelyDuplicateOf is refreshed from
// whatever surface arrives.
func (img *Image) SetSurface(s image.Image) {
	if s == nil {
		return
	}
	img.imu.Lock()
	img.surface = s
	img.imu.Unlock()

	if s.Bounds().Dy() > thumbnailTargetHeight {
		thumb := resize.Thumbnail(uint(thumbnailTargetHeight*2), uint(thumbnailTargetHeight), s, resize.Lanczos3)
		img.SetThumbnail(thumb)
	} else {
		img.SetThumbnail(s)
	}

	if h, err := goimagehash.PerceptionHash(s); err == nil {
		img.imu.Lock()
		img.PHash = h
		img.imu.Unlock()
	}
}

// LikelyDuplicateOf reports whether img and other carry perceptual hashes
// within a Hamming distance of 8 of one another. Neither Model nor the
// directory worker's stem-based pairing consults it.
func (img *Image) LikelyDuplicateOf(other *Image) bool {
	img.imu.Lock()
	a := img.PHash
	img.imu.Unlock()
	other.imu.Lock()
	b := other.PHash
	other.imu.Unlock()
	if a == nil || b == nil {
		return false
	}
	dist, err := a.Distance(b)
	if err != nil {
		return false
	}
	return dist <= 8
}

// SetEXIF attaches the parsed EXIF handle and derives the AF overlay cache.
func (img *Image) SetEXIF(d exif.Data) {
	img.imu.Lock()
	img.EXIF = d
	img.hasEXIF = true
	img.afOverlay = d.AFPoints
	img.afRefW, img.afRefH = d.RefWidth, d.RefHeight
	img.imu.Unlock()
}

// HasEXIF reports whether an EXIF handle has been attached.
func (img *Image) HasEXIF() bool {
	img.imu.Lock()
	defer img.imu.Unlock()
	return img.hasEXIF
}

// Reset drives the attached decoder's Reset and reflects the resulting
// state locally (the decoder already publishes the transition itself).
func (img *Image) Reset() error {
	d := img.Decoder()
	if d == nil {
		return nil
	}
	return d.Reset()
}
