// Package exif wraps dsoprea/go-exif/v3's IFD-walk API: orientation,
// timestamps, aperture/exposure/iso/lens/focal, Canon/Nikon maker-note
// lens fields, Canon ThumbnailImageValidArea crop, Sony PreviewImageSize
// crop derivation, and AF-point overlay support — the field set a photo
// browser's detail pane and sort keys need.
package exif

import (
	"image"
	"strconv"
	"strings"
	"time"

	goexif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"

	apperrors "github.com/skryldev/imgbrowser/errors"
)

// Data holds the subset of EXIF the browser cares about, already normalized
// into Go types.
type Data struct {
	Orientation      int // 1-8; 0 if absent
	DateTimeOriginal time.Time

	FNumber       float64 // aperture; 0 if absent
	ExposureTime  float64 // seconds; 0 if absent
	ISO           int
	FocalLengthMM float64
	LensModel     string // LensModel, falling back to Canon.LensModel / Nikon.LensIDNumber

	XResolution, YResolution float64
	ResolutionUnit           int // 2=inch, 3=cm

	// CanonThumbnailValidArea is (x1,y1,x2,y2) when present.
	CanonThumbnailValidArea    image.Rectangle
	HasCanonThumbnailValidArea bool

	// SonyPreviewImageSize is (width,height) of the embedded preview, used
	// to derive black-bar crop height.
	SonyPreviewImageSize    image.Point
	HasSonyPreviewImageSize bool

	// AFPoints are camera-reported autofocus point rectangles, in the
	// reference frame RefWidth x RefHeight.
	AFPoints            []AFPoint
	RefWidth, RefHeight int

	// ThumbnailJPEG is the embedded IFD1 thumbnail stream, if present.
	ThumbnailJPEG []byte
}

// AFPointState classifies an autofocus point.
type AFPointState int

const (
	AFDisabled AFPointState = iota
	AFSelected
	AFHasFocus
	AFNormal
)

// AFPoint is one camera-reported autofocus rectangle.
type AFPoint struct {
	Rect  image.Rectangle
	State AFPointState
}

// Extract parses EXIF from the raw encoded bytes of an image. Returns a
// zero Data and a nil error if no EXIF segment is present — a file
// legitimately may carry none, and that is not an error condition.
func Extract(data []byte) (Data, error) {
	rawExif, err := goexif.SearchAndExtractExif(data)
	if err != nil {
		if err == goexif.ErrNoExif {
			return Data{}, nil
		}
		return Data{}, apperrors.HeaderErr("exif.extract", err)
	}

	entries, _, err := goexif.GetFlatExifData(rawExif, nil)
	if err != nil {
		return Data{}, apperrors.HeaderErr("exif.extract", err)
	}

	var d Data
	var canonLens, nikonLens string
	var canonValidArea [4]int
	haveCanonValidArea := 0
	var sonyPreviewW, sonyPreviewH int
	var subjectArea []int

	for _, tag := range entries {
		switch tag.TagName {
		case "Orientation":
			d.Orientation = parseIntFirst(tag.FormattedFirst)
		case "DateTimeOriginal":
			if t, err := time.Parse("2006:01:02 15:04:05", tag.FormattedFirst); err == nil {
				d.DateTimeOriginal = t
			}
		case "FNumber":
			d.FNumber = parseRationalFirst(tag.FormattedFirst)
		case "ExposureTime":
			d.ExposureTime = parseRationalFirst(tag.FormattedFirst)
		case "ISOSpeedRatings", "PhotographicSensitivity":
			d.ISO = parseIntFirst(tag.FormattedFirst)
		case "FocalLength":
			d.FocalLengthMM = parseRationalFirst(tag.FormattedFirst)
		case "LensModel":
			d.LensModel = strings.TrimSpace(tag.FormattedFirst)
		case "XResolution":
			d.XResolution = parseRationalFirst(tag.FormattedFirst)
		case "YResolution":
			d.YResolution = parseRationalFirst(tag.FormattedFirst)
		case "ResolutionUnit":
			d.ResolutionUnit = parseIntFirst(tag.FormattedFirst)
		case "LensModel2", "Canon.LensModel":
			canonLens = strings.TrimSpace(tag.FormattedFirst)
		case "LensIDNumber", "Nikon.LensIDNumber":
			nikonLens = strings.TrimSpace(tag.FormattedFirst)
		case "ThumbnailImageValidArea", "Canon.ThumbnailImageValidArea":
			if v := parseIntList(tag.FormattedFirst); len(v) == 4 {
				canonValidArea = [4]int{v[0], v[1], v[2], v[3]}
				haveCanonValidArea = 4
			}
		case "PreviewImageSize", "Sony1.PreviewImageSize":
			if v := parseIntList(tag.FormattedFirst); len(v) == 2 {
				sonyPreviewW, sonyPreviewH = v[0], v[1]
			}
		case "SubjectArea", "SubjectLocation":
			subjectArea = parseIntList(tag.FormattedFirst)
		case "PixelXDimension":
			d.RefWidth = parseIntFirst(tag.FormattedFirst)
		case "PixelYDimension":
			d.RefHeight = parseIntFirst(tag.FormattedFirst)
		}
	}

	if d.LensModel == "" {
		switch {
		case canonLens != "":
			d.LensModel = canonLens
		case nikonLens != "":
			d.LensModel = nikonLens
		}
	}

	if haveCanonValidArea == 4 {
		// Tag order is x1, x2, y1, y2.
		d.CanonThumbnailValidArea = image.Rect(canonValidArea[0], canonValidArea[2], canonValidArea[1], canonValidArea[3])
		d.HasCanonThumbnailValidArea = true
	}
	if sonyPreviewW > 0 && sonyPreviewH > 0 {
		d.SonyPreviewImageSize = image.Point{X: sonyPreviewW, Y: sonyPreviewH}
		d.HasSonyPreviewImageSize = true
	}

	if p, ok := subjectAreaPoint(subjectArea); ok {
		d.AFPoints = []AFPoint{p}
	}

	d.ThumbnailJPEG = extractThumbnail(rawExif)

	return d, nil
}

// subjectAreaPoint converts a SubjectArea/SubjectLocation value into one
// focused AF rectangle. The tag carries 2 values (a point), 3 (a circle:
// center + diameter), or 4 (a rectangle: center + width/height), all in
// the frame PixelXDimension x PixelYDimension. Vendor maker-note AF grids
// carry richer per-point data but live in undocumented binary blobs the
// standard IFD walk does not decode; see DESIGN.md.
func subjectAreaPoint(vals []int) (AFPoint, bool) {
	switch len(vals) {
	case 2:
		return AFPoint{Rect: image.Rect(vals[0], vals[1], vals[0], vals[1]), State: AFHasFocus}, true
	case 3:
		r := vals[2] / 2
		return AFPoint{Rect: image.Rect(vals[0]-r, vals[1]-r, vals[0]+r, vals[1]+r), State: AFHasFocus}, true
	case 4:
		hw, hh := vals[2]/2, vals[3]/2
		return AFPoint{Rect: image.Rect(vals[0]-hw, vals[1]-hh, vals[0]+hw, vals[1]+hh), State: AFHasFocus}, true
	}
	return AFPoint{}, false
}

// extractThumbnail walks the parsed IFD chain for an embedded thumbnail
// stream (conventionally IFD1). Returns nil when none is present or the
// blob is malformed; a missing thumbnail is not an error.
func extractThumbnail(rawExif []byte) []byte {
	im, err := exifcommon.NewIfdMappingWithStandard()
	if err != nil {
		return nil
	}
	ti := goexif.NewTagIndex()
	_, index, err := goexif.Collect(im, ti, rawExif)
	if err != nil {
		return nil
	}
	for _, ifd := range index.Ifds {
		if tb, err := ifd.Thumbnail(); err == nil && len(tb) > 0 {
			return tb
		}
	}
	return nil
}

// DPI converts the XResolution/YResolution/ResolutionUnit fields into dots
// per inch (unit 2 is inches, unit 3 centimeters). Returns (0, 0) when no
// resolution fields were present.
func (d Data) DPI() (x, y float64) {
	x, y = d.XResolution, d.YResolution
	if d.ResolutionUnit == 3 {
		x *= 2.54
		y *= 2.54
	}
	return x, y
}

// CropThumbnail applies the thumbnail crop rules in priority
// order: Canon valid-area, then Sony preview-size-derived black-bar crop,
// else the thumbnail as decoded.
func CropThumbnail(thumb image.Image, d Data) image.Rectangle {
	full := thumb.Bounds()
	if d.HasCanonThumbnailValidArea {
		r := d.CanonThumbnailValidArea.Intersect(full)
		if !r.Empty() {
			return r
		}
	}
	if d.HasSonyPreviewImageSize {
		barHeight := (full.Dy() - d.SonyPreviewImageSize.Y) / 2
		if barHeight > 0 && barHeight*2 < full.Dy() {
			return image.Rect(full.Min.X, full.Min.Y+barHeight, full.Max.X, full.Max.Y-barHeight)
		}
	}
	return full
}

func parseIntFirst(s string) int {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0
	}
	n, _ := strconv.Atoi(strings.TrimRight(fields[0], "."))
	return n
}

func parseIntList(s string) []int {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// parseRationalFirst parses values formatted like "2.8" or "1/250".
func parseRationalFirst(s string) float64 {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0
	}
	s = strings.TrimSpace(fields[0])
	if strings.Contains(s, "/") {
		parts := strings.SplitN(s, "/", 2)
		num, err1 := strconv.ParseFloat(parts[0], 64)
		den, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 == nil && err2 == nil && den != 0 {
			return num / den
		}
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
