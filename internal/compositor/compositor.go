package compositor

import (
	"fmt"
	"image"
	"image/color"

	"formatforge-go/internal/decoder"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// Path names the route FlattenToRGB took.
type Path int

const (
	// PathPlain is a mode conversion without compositing.
	PathPlain Path = iota
	// PathAlpha composites using the alpha channel.
	PathAlpha
	// PathPaletteMask composites using a mask built from the palette.
	PathPaletteMask
	// PathDegraded converted a transparent palette image without compositing.
	PathDegraded
)

// String returns the path name used in logs.
func (p Path) String() string {
	switch p {
	case PathPlain:
		return "plain"
	case PathAlpha:
		return "alpha"
	case PathPaletteMask:
		return "palette-mask"
	case PathDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Report describes how an image was flattened.
type Report struct {
	Path   Path
	Reason string
}

// Degraded reports whether transparency was discarded instead of composited.
func (r Report) Degraded() bool {
	return r.Path == PathDegraded
}

// FlattenToRGB returns an opaque RGB copy of img. Transparent regions resolve to
// bg, opaque regions keep the source colour and partial alpha blends linearly.
func FlattenToRGB(img *decoder.Image, bg RGB) (*decoder.Image, Report) {
	src := img.Pixels

	switch {
	case img.Mode.HasAlpha():
		canvas := imaging.New(img.Width, img.Height, bg.NRGBA())
		out := imaging.Overlay(canvas, src, image.Pt(0, 0), 1.0)
		return img.WithPixels(out, decoder.ModeRGB), Report{Path: PathAlpha}

	case img.Mode == decoder.ModePaletted && img.PaletteTransparency:
		p, ok := src.(*image.Paletted)
		if !ok {
			return img.WithPixels(plainRGB(src), decoder.ModeRGB),
				Report{Path: PathDegraded, Reason: fmt.Sprintf("palette mode without palette data (%T)", src)}
		}
		mask, err := paletteMask(p)
		if err != nil {
			return img.WithPixels(paletteRGB(p), decoder.ModeRGB),
				Report{Path: PathDegraded, Reason: err.Error()}
		}
		canvas := imaging.New(img.Width, img.Height, bg.NRGBA())
		draw.DrawMask(canvas, canvas.Bounds(), paletteRGB(p), image.Point{}, mask, image.Point{}, draw.Over)
		return img.WithPixels(canvas, decoder.ModeRGB), Report{Path: PathPaletteMask}

	default:
		return img.WithPixels(plainRGB(src), decoder.ModeRGB), Report{Path: PathPlain}
	}
}

// plainRGB converts src to NRGBA with every pixel forced opaque.
func plainRGB(src image.Image) *image.NRGBA {
	out := imaging.Clone(src)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}

// paletteMask builds an alpha mask from the palette entry of every pixel.
// It fails when a pixel references an index outside the palette.
func paletteMask(p *image.Paletted) (*image.Alpha, error) {
	b := p.Bounds()
	mask := image.NewAlpha(image.Rect(0, 0, b.Dx(), b.Dy()))
	alphas := make([]uint8, len(p.Palette))
	for i, c := range p.Palette {
		alphas[i] = color.NRGBAModel.Convert(c).(color.NRGBA).A
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			idx := int(p.ColorIndexAt(b.Min.X+x, b.Min.Y+y))
			if idx >= len(alphas) {
				return nil, fmt.Errorf("pixel (%d,%d) references palette index %d of %d", x, y, idx, len(alphas))
			}
			mask.Pix[y*mask.Stride+x] = alphas[idx]
		}
	}
	return mask, nil
}

// paletteRGB renders the palette colours with alpha ignored. Indices outside
// the palette render black.
func paletteRGB(p *image.Paletted) *image.NRGBA {
	b := p.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	colors := make([]color.NRGBA, len(p.Palette))
	for i, c := range p.Palette {
		colors[i] = color.NRGBAModel.Convert(c).(color.NRGBA)
		colors[i].A = 0xff
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBA{A: 0xff}
			if idx := int(p.ColorIndexAt(b.Min.X+x, b.Min.Y+y)); idx < len(colors) {
				c = colors[idx]
			}
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}
