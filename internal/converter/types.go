package converter

import (
	"fmt"
	"path/filepath"
	"strings"

	"formatforge-go/internal/compositor"
	"formatforge-go/internal/format"
)

// Request describes a single conversion.
type Request struct {
	Target     format.Format
	Filename   string
	Background compositor.RGB
	// IconSizes is only used for ICO targets. Empty means the default preset.
	IconSizes         []int
	PreserveAnimation bool
}

// Fallback names the recovery path a conversion took.
type Fallback int

const (
	// FallbackNone means the first encode succeeded.
	FallbackNone Fallback = iota
	// FallbackAlphaRetry re-encoded an RGBA copy to the same target.
	FallbackAlphaRetry
	// FallbackIconAsRaster wrote PNG bytes in place of an icon.
	FallbackIconAsRaster
)

func (f Fallback) String() string {
	switch f {
	case FallbackNone:
		return "none"
	case FallbackAlphaRetry:
		return "alpha-retry"
	case FallbackIconAsRaster:
		return "icon-as-raster"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f Fallback) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fallback) UnmarshalText(text []byte) error {
	for _, v := range []Fallback{FallbackNone, FallbackAlphaRetry, FallbackIconAsRaster} {
		if v.String() == string(text) {
			*f = v
			return nil
		}
	}
	return fmt.Errorf("unknown fallback %q", text)
}

// DegradationKind identifies a feature that was dropped to complete a conversion.
type DegradationKind string

const (
	DegradedAnimation   DegradationKind = "animation"
	DegradedIcon        DegradationKind = "icon"
	DegradedCompositing DegradationKind = "compositing"
)

// Degradation records a conversion that succeeded with reduced fidelity.
type Degradation struct {
	Kind   DegradationKind `json:"kind"`
	Reason string          `json:"reason"`
}

// Result is a successful conversion.
type Result struct {
	Data     []byte
	Filename string
	Target   format.Format
	// EncodedFormat is the container actually written. It differs from
	// Target only for FallbackIconAsRaster.
	EncodedFormat format.Format
	Fallback      Fallback
	Degradations  []Degradation
}

// MimeType is the MIME type of the encoded bytes.
func (r *Result) MimeType() string {
	return r.EncodedFormat.MimeType()
}

// Degraded reports whether any feature was dropped.
func (r *Result) Degraded() bool {
	return len(r.Degradations) > 0
}

func (r *Result) degrade(kind DegradationKind, reason string) {
	r.Degradations = append(r.Degradations, Degradation{Kind: kind, Reason: reason})
}

// EncodingError is returned when a target could not be written even after
// the fallback retry.
type EncodingError struct {
	Target   format.Format
	Filename string
	Err      error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s as %s: %v", e.Filename, e.Target, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// OutputFilename replaces the extension of original with the target's.
// Directory components are dropped.
func OutputFilename(original string, target format.Format) string {
	base := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	if base == "." || base == "/" {
		base = ""
	}
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" {
		name = "image"
	}
	return name + target.Extension()
}
