// Package core holds the shared type vocabulary every other package in
// this module builds on: the image Format/RAWKind/ColorSpace enums.
package core

// Format identifies an image codec.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatTIFF    Format = "tiff"
	FormatJXL     Format = "jxl"
	FormatRAW     Format = "raw"
	FormatUnknown Format = "unknown"
)

// RAWKind distinguishes the camera-specific RAW dialect once Format is
// FormatRAW. Needed because the pairing/sniffing rules in the directory
// worker and the raw decoder backend both branch on it.
type RAWKind string

const (
	RAWKindCR2     RAWKind = "cr2"
	RAWKindCR3     RAWKind = "cr3"
	RAWKindNEF     RAWKind = "nef"
	RAWKindARW     RAWKind = "arw"
	RAWKindRW2     RAWKind = "rw2"
	RAWKindRAF     RAWKind = "raf"
	RAWKindDNG     RAWKind = "dng"
	RAWKindORF     RAWKind = "orf"
	RAWKindPEF     RAWKind = "pef"
	RAWKindSRW     RAWKind = "srw"
	RAWKindUnknown RAWKind = ""
)

// ColorSpace represents the image colour model.
type ColorSpace string

const (
	ColorSpaceRGB  ColorSpace = "rgb"
	ColorSpaceRGBA ColorSpace = "rgba"
	ColorSpaceCMYK ColorSpace = "cmyk"
	ColorSpaceGray ColorSpace = "gray"

	// ColorSpaceSRGB is the assumed space when no ICC profile is embedded.
	ColorSpaceSRGB ColorSpace = "srgb"
)
