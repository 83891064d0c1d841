package model

import (
	"strings"
	"time"
	"unicode"
)

// Field identifies a sortable attribute, used both to pick the section key
// and to order images within a section.
type Field int

const (
	FieldName Field = iota
	FieldDateModified
	FieldDateTaken
	FieldAperture
	FieldExposureSeconds
	FieldISO
	FieldFocalLength
	FieldLensModel
	FieldFileType
)

// Order is ascending or descending.
type Order int

const (
	Ascending Order = iota
	Descending
)

// CompareNames implements the natural, case-insensitive filename compare:
// compare("file2","file10") < 0, compare("FILE","file") == 0.
func CompareNames(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	i, j := 0, 0
	for i < len(ra) && j < len(rb) {
		ca, cb := ra[i], rb[j]
		if unicode.IsDigit(ca) && unicode.IsDigit(cb) {
			starti, startj := i, j
			for i < len(ra) && unicode.IsDigit(ra[i]) {
				i++
			}
			for j < len(rb) && unicode.IsDigit(rb[j]) {
				j++
			}
			na := strings.TrimLeft(string(ra[starti:i]), "0")
			nb := strings.TrimLeft(string(rb[startj:j]), "0")
			if len(na) != len(nb) {
				if len(na) < len(nb) {
					return -1
				}
				return 1
			}
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
			continue
		}
		la, lb := unicode.ToLower(ca), unicode.ToLower(cb)
		if la != lb {
			if la < lb {
				return -1
			}
			return 1
		}
		i++
		j++
	}
	switch {
	case len(ra)-i < len(rb)-j:
		return -1
	case len(ra)-i > len(rb)-j:
		return 1
	}
	// Case-insensitively equal: compare("FILE","file") == 0. CompareImages
	// breaks the remaining tie by byte order to keep its order total.
	return 0
}

// numericCompare implements nulls-last ordering for an optional numeric
// field: present values compare numerically; an absent value (ok=false)
// always sorts after a present one, in both ascending and descending order.
func numericCompare(av float64, aok bool, bv float64, bok bool, order Order) int {
	if !aok && !bok {
		return 0
	}
	if !aok {
		return 1
	}
	if !bok {
		return -1
	}
	c := 0
	switch {
	case av < bv:
		c = -1
	case av > bv:
		c = 1
	}
	if order == Descending {
		c = -c
	}
	return c
}

// timeCompare is numericCompare's analogue for optional instants.
func timeCompare(at time.Time, bt time.Time, order Order) int {
	aok, bok := !at.IsZero(), !bt.IsZero()
	if !aok && !bok {
		return 0
	}
	if !aok {
		return 1
	}
	if !bok {
		return -1
	}
	c := 0
	switch {
	case at.Before(bt):
		c = -1
	case at.After(bt):
		c = 1
	}
	if order == Descending {
		c = -c
	}
	return c
}

// stringCompare is nulls-last lexicographic compare for an optional string
// field (lens model, camera).
func stringCompare(a string, b string, order Order) int {
	aok, bok := a != "", b != ""
	if !aok && !bok {
		return 0
	}
	if !aok {
		return 1
	}
	if !bok {
		return -1
	}
	c := 0
	switch {
	case a < b:
		c = -1
	case a > b:
		c = 1
	}
	if order == Descending {
		c = -c
	}
	return c
}

// CompareImages implements the image-field comparison rule: directories
// precede files always (not reordered by field or direction); beyond that,
// the named field is compared with nulls-last semantics, and natural-name
// compare is always the final tiebreaker so the order is total.
func CompareImages(a, b *Image, field Field, order Order) int {
	if a.IsDir != b.IsDir {
		if a.IsDir {
			return -1
		}
		return 1
	}

	var c int
	switch field {
	case FieldDateModified:
		c = timeCompare(a.ModTime, b.ModTime, order)
	case FieldDateTaken:
		c = timeCompare(a.EXIF.DateTimeOriginal, b.EXIF.DateTimeOriginal, order)
	case FieldAperture:
		c = numericCompare(a.EXIF.FNumber, a.EXIF.FNumber != 0, b.EXIF.FNumber, b.EXIF.FNumber != 0, order)
	case FieldExposureSeconds:
		c = numericCompare(a.EXIF.ExposureTime, a.EXIF.ExposureTime != 0, b.EXIF.ExposureTime, b.EXIF.ExposureTime != 0, order)
	case FieldISO:
		c = numericCompare(float64(a.EXIF.ISO), a.EXIF.ISO != 0, float64(b.EXIF.ISO), b.EXIF.ISO != 0, order)
	case FieldFocalLength:
		c = numericCompare(a.EXIF.FocalLengthMM, a.EXIF.FocalLengthMM != 0, b.EXIF.FocalLengthMM, b.EXIF.FocalLengthMM != 0, order)
	case FieldLensModel:
		c = stringCompare(a.EXIF.LensModel, b.EXIF.LensModel, order)
	case FieldFileType:
		c = stringCompare(string(a.Format), string(b.Format), order)
	default:
		c = 0
	}
	if c != 0 {
		return c
	}

	name := CompareNames(a.Name, b.Name)
	if name == 0 {
		// Ties after the case-insensitive natural compare break by byte
		// order so the total order stays deterministic.
		switch {
		case a.Name < b.Name:
			name = -1
		case a.Name > b.Name:
			name = 1
		}
	}
	if order == Descending && field != FieldName {
		// Only the tiebreaker stays name-ascending; the field itself already
		// had order applied above.
		return name
	}
	if order == Descending {
		return -name
	}
	return name
}
