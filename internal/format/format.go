package format

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownFormat is returned when a format name is outside the supported set.
var ErrUnknownFormat = errors.New("unknown image format")

// Format identifies one of the supported image container formats.
type Format int

const (
	Unknown Format = iota
	PNG
	JPEG
	ICO
	GIF
	BMP
	WEBP
	TIFF
)

var all = []Format{PNG, JPEG, ICO, GIF, BMP, WEBP, TIFF}

// aliases maps lowercase names that do not match a canonical name directly.
var aliases = map[string]Format{
	"jpg":  JPEG,
	"jpeg": JPEG,
	"ico":  ICO,
	"icon": ICO,
	"tif":  TIFF,
	"tiff": TIFF,
}

// All returns every supported format in a stable order.
func All() []Format {
	out := make([]Format, len(all))
	copy(out, all)
	return out
}

// Normalize resolves a user or container supplied name to a Format.
// Matching is case-insensitive and surrounding whitespace is ignored.
func Normalize(name string) (Format, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return Unknown, fmt.Errorf("%w: empty name", ErrUnknownFormat)
	}
	if f, ok := aliases[key]; ok {
		return f, nil
	}

	upper := strings.ToUpper(key)
	for _, f := range all {
		if f.String() == upper {
			return f, nil
		}
	}
	return Unknown, fmt.Errorf("%w: %s", ErrUnknownFormat, upper)
}

// MustNormalize is like Normalize but panics on unknown names.
// Intended for constants and tests.
func MustNormalize(name string) Format {
	f, err := Normalize(name)
	if err != nil {
		panic(err)
	}
	return f
}

// FromMIME maps a sniffed MIME type to a Format.
func FromMIME(mime string) (Format, bool) {
	switch strings.ToLower(mime) {
	case "image/png":
		return PNG, true
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return JPEG, true
	case "image/x-icon", "image/vnd.microsoft.icon", "image/ico":
		return ICO, true
	case "image/gif":
		return GIF, true
	case "image/bmp", "image/x-bmp", "image/x-ms-bmp":
		return BMP, true
	case "image/webp":
		return WEBP, true
	case "image/tiff":
		return TIFF, true
	default:
		return Unknown, false
	}
}

// IsValid reports whether f is one of the supported formats.
func (f Format) IsValid() bool {
	return f >= PNG && f <= TIFF
}

// String returns the canonical upper-case name of the format.
func (f Format) String() string {
	switch f {
	case PNG:
		return "PNG"
	case JPEG:
		return "JPEG"
	case ICO:
		return "ICO"
	case GIF:
		return "GIF"
	case BMP:
		return "BMP"
	case WEBP:
		return "WEBP"
	case TIFF:
		return "TIFF"
	default:
		return "UNKNOWN"
	}
}

// Extension returns the file extension (with leading dot) written for f.
// Calling it with a value outside the supported set is a programming error.
func (f Format) Extension() string {
	switch f {
	case JPEG:
		return ".jpg"
	case PNG:
		return ".png"
	case ICO:
		return ".ico"
	case GIF:
		return ".gif"
	case BMP:
		return ".bmp"
	case WEBP:
		return ".webp"
	case TIFF:
		return ".tiff"
	default:
		panic(fmt.Sprintf("format: no extension for %d", int(f)))
	}
}

// MimeType returns the MIME type used when serving files of this format.
func (f Format) MimeType() string {
	switch f {
	case ICO:
		return "image/x-icon"
	case Unknown:
		return "application/octet-stream"
	default:
		return "image/" + strings.ToLower(f.String())
	}
}

// SupportsAlpha reports whether the container can store per-pixel transparency.
func (f Format) SupportsAlpha() bool {
	switch f {
	case JPEG, BMP:
		return false
	default:
		return f.IsValid()
	}
}

// SupportsAnimation reports whether animated output is produced for the format.
func (f Format) SupportsAnimation() bool {
	return f == GIF
}

// MarshalText implements encoding.TextMarshaler.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Format) UnmarshalText(text []byte) error {
	parsed, err := Normalize(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
