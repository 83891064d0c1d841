package decoder

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/skryldev/imgbrowser/core"
)

// rawExtensionKinds maps the RAW suffixes (without the dot) recognised by
// extension-first dispatch to their RAWKind, mirroring
// config.DirectoryConfig.RAWExtensions' default set.
var rawExtensionKinds = map[string]core.RAWKind{
	"cr2": core.RAWKindCR2,
	"cr3": core.RAWKindCR3,
	"nef": core.RAWKindNEF,
	"arw": core.RAWKindARW,
	"rw2": core.RAWKindRW2,
	"raf": core.RAWKindRAF,
	"dng": core.RAWKindDNG,
	"orf": core.RAWKindORF,
	"pef": core.RAWKindPEF,
	"srw": core.RAWKindSRW,
}

// DetectByExtension maps a filename's extension to a Format and, when the
// format is RAW, the specific RAWKind. Returns FormatUnknown if the
// extension is not recognised; callers fall back to DetectByMagic.
func DetectByExtension(name string) (core.Format, core.RAWKind) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch ext {
	case "jpg", "jpeg":
		return core.FormatJPEG, core.RAWKindUnknown
	case "png":
		return core.FormatPNG, core.RAWKindUnknown
	case "webp":
		return core.FormatWebP, core.RAWKindUnknown
	case "tif", "tiff":
		return core.FormatTIFF, core.RAWKindUnknown
	case "jxl":
		return core.FormatJXL, core.RAWKindUnknown
	}
	if kind, ok := rawExtensionKinds[ext]; ok {
		return core.FormatRAW, kind
	}
	return core.FormatUnknown, core.RAWKindUnknown
}

// DetectByMagic sniffs the leading bytes of an encoded file:
// TIFF (II 2A 00 / MM 00 2A), JPEG (FF D8), PNG (89 50 4E 47), JXL (FF 0A),
// and a CR2-specific confirmation at offsets 8-11 ("CR" for classic CR2).
func DetectByMagic(data []byte) (core.Format, core.RAWKind) {
	if len(data) < 4 {
		return core.FormatUnknown, core.RAWKindUnknown
	}
	switch {
	case data[0] == 0xFF && data[1] == 0xD8:
		return core.FormatJPEG, core.RAWKindUnknown
	case data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47:
		return core.FormatPNG, core.RAWKindUnknown
	case data[0] == 0xFF && data[1] == 0x0A:
		return core.FormatJXL, core.RAWKindUnknown
	case (data[0] == 0x49 && data[1] == 0x49 && data[2] == 0x2A && data[3] == 0x00) ||
		(data[0] == 0x4D && data[1] == 0x4D && data[2] == 0x00 && data[3] == 0x2A):
		if len(data) >= 12 && bytes.Equal(data[8:10], []byte("CR")) {
			return core.FormatRAW, core.RAWKindCR2
		}
		return core.FormatTIFF, core.RAWKindUnknown
	}
	return core.FormatUnknown, core.RAWKindUnknown
}

// Detect dispatches by extension first and falls back to magic-byte
// sniffing only when the extension is unrecognised. A recognised extension
// wins even when data's leading bytes indicate another format.
func Detect(name string, data []byte) (core.Format, core.RAWKind) {
	if fmtByExt, kind := DetectByExtension(name); fmtByExt != core.FormatUnknown {
		return fmtByExt, kind
	}
	return DetectByMagic(data)
}

// Factory builds a Backend for a given Format/RAWKind pair. Registered by
// each decoder/<format> package's init into a map of constructors keyed by
// format.
type Factory func() Backend

var factories = map[core.Format]Factory{}

// Register associates a Backend constructor with a Format. Called from the
// init() of decoder/jpeg, decoder/tiff, decoder/png, decoder/jxl,
// decoder/raw.
func Register(format core.Format, f Factory) {
	factories[format] = f
}

// NewBackend looks up the registered Factory for format and constructs a
// Backend, or returns ok=false if no backend has been registered.
func NewBackend(format core.Format) (Backend, bool) {
	f, ok := factories[format]
	if !ok {
		return nil, false
	}
	return f(), true
}
