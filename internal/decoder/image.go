package decoder

import (
	"image"
	"image/color"
	"time"

	"formatforge-go/internal/extractor"
	"formatforge-go/internal/format"
)

// DefaultFrameDuration is used for frames that declare no delay.
const DefaultFrameDuration = 100 * time.Millisecond

// Mode describes the channel layout of a raster.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeRGB
	ModeRGBA
	ModePaletted
	ModeGray
	ModeGray16
	ModeCMYK
	ModeAlpha
)

// String returns the conventional short mode name (RGB, RGBA, P, L, ...).
func (m Mode) String() string {
	switch m {
	case ModeRGB:
		return "RGB"
	case ModeRGBA:
		return "RGBA"
	case ModePaletted:
		return "P"
	case ModeGray:
		return "L"
	case ModeGray16:
		return "I;16"
	case ModeCMYK:
		return "CMYK"
	case ModeAlpha:
		return "A"
	default:
		return "UNKNOWN"
	}
}

// HasAlpha reports whether the mode carries a per-pixel alpha channel.
func (m Mode) HasAlpha() bool {
	return m == ModeRGBA || m == ModeAlpha
}

// Frame is one fully composed picture of an animation.
type Frame struct {
	Image image.Image
	// Duration is zero when the source declared no delay.
	Duration time.Duration
	Disposal byte
}

// Animation holds the frames of a multi-frame source.
type Animation struct {
	Frames       []Frame
	LoopCount    int
	LoopDeclared bool
}

// Durations returns per-frame durations with DefaultFrameDuration substituted
// for undeclared ones.
func (a *Animation) Durations() []time.Duration {
	out := make([]time.Duration, len(a.Frames))
	for i, f := range a.Frames {
		out[i] = f.Duration
		if out[i] <= 0 {
			out[i] = DefaultFrameDuration
		}
	}
	return out
}

// Loop returns the loop count, 0 meaning forever.
func (a *Animation) Loop() int {
	if !a.LoopDeclared || a.LoopCount < 0 {
		return 0
	}
	return a.LoopCount
}

// Image is a fully materialised raster together with what is known about its source.
type Image struct {
	Pixels image.Image
	Width  int
	Height int
	Mode   Mode
	// PaletteTransparency is set for paletted images whose palette declares a
	// transparent entry.
	PaletteTransparency bool
	// Format is Unknown for rasters that were not produced by Decode.
	Format    format.Format
	MIME      string
	Animation *Animation
	Metadata  *extractor.Metadata
}

// FromImage wraps an in-memory raster that did not come from a container.
func FromImage(img image.Image) *Image {
	mode, transparent := ModeOf(img)
	b := img.Bounds()
	return &Image{
		Pixels:              img,
		Width:               b.Dx(),
		Height:              b.Dy(),
		Mode:                mode,
		PaletteTransparency: transparent,
	}
}

// WithPixels returns a copy of i carrying new pixels in the given mode.
// Animation data is dropped since it no longer describes the pixels.
func (i *Image) WithPixels(pixels image.Image, mode Mode) *Image {
	b := pixels.Bounds()
	return &Image{
		Pixels:   pixels,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Mode:     mode,
		Format:   i.Format,
		MIME:     i.MIME,
		Metadata: i.Metadata,
	}
}

// IsAnimated reports whether the source enumerates more than one frame.
func (i *Image) IsAnimated() bool {
	return i.Animation != nil && len(i.Animation.Frames) > 1
}

// HasTransparency reports whether the pixels carry alpha or palette transparency.
func (i *Image) HasTransparency() bool {
	return i.Mode.HasAlpha() || (i.Mode == ModePaletted && i.PaletteTransparency)
}

// ModeOf classifies the concrete raster type. The second result reports
// whether a paletted image declares a transparent palette entry.
func ModeOf(img image.Image) (Mode, bool) {
	switch m := img.(type) {
	case *image.NRGBA, *image.NRGBA64:
		return ModeRGBA, false
	case *image.RGBA:
		if m.Opaque() {
			return ModeRGB, false
		}
		return ModeRGBA, false
	case *image.RGBA64:
		if m.Opaque() {
			return ModeRGB, false
		}
		return ModeRGBA, false
	case *image.YCbCr:
		return ModeRGB, false
	case *image.NYCbCrA:
		return ModeRGBA, false
	case *image.Paletted:
		return ModePaletted, paletteHasTransparency(m.Palette)
	case *image.Gray:
		return ModeGray, false
	case *image.Gray16:
		return ModeGray16, false
	case *image.CMYK:
		return ModeCMYK, false
	case *image.Alpha, *image.Alpha16:
		return ModeAlpha, false
	case nil:
		return ModeUnknown, false
	default:
		if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
			return ModeRGB, false
		}
		return ModeRGBA, false
	}
}

func paletteHasTransparency(p color.Palette) bool {
	for _, c := range p {
		if _, _, _, a := c.RGBA(); a != 0xffff {
			return true
		}
	}
	return false
}
