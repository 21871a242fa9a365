package animation

import (
	"image"
	"image/color"
	"image/color/palette"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// alphaThreshold is the alpha below which a pixel becomes the transparent entry.
const alphaThreshold = 128

// maxExactColors leaves one palette slot for the transparent entry.
const maxExactColors = 255

// transparent is always palette index 0.
var transparent = color.NRGBA{}

// Quantize converts img to a paletted frame whose palette starts with a fully
// transparent entry. Frames with few enough distinct opaque colours keep them
// exactly, others are dithered onto the web-safe palette.
func Quantize(img image.Image) *image.Paletted {
	src := imaging.Clone(img)
	b := src.Bounds()

	if pal, ok := exactPalette(src); ok {
		pm := image.NewPaletted(b, pal)
		index := make(map[color.NRGBA]uint8, len(pal))
		for i, c := range pal[1:] {
			index[c.(color.NRGBA)] = uint8(i + 1)
		}
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				c := src.NRGBAAt(x, y)
				if c.A < alphaThreshold {
					continue
				}
				c.A = 0xff
				pm.SetColorIndex(x, y, index[c])
			}
		}
		return pm
	}

	pal := make(color.Palette, 0, len(palette.WebSafe)+1)
	pal = append(pal, transparent)
	pal = append(pal, palette.WebSafe...)

	opaque := imaging.Clone(src)
	for i := 3; i < len(opaque.Pix); i += 4 {
		opaque.Pix[i] = 0xff
	}

	pm := image.NewPaletted(b, pal)
	draw.FloydSteinberg.Draw(pm, b, opaque, b.Min)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if src.NRGBAAt(x, y).A < alphaThreshold {
				pm.SetColorIndex(x, y, 0)
			}
		}
	}
	return pm
}

// exactPalette collects the distinct opaque colours of img, in scan order,
// after the transparent entry. It gives up past maxExactColors.
func exactPalette(img *image.NRGBA) (color.Palette, bool) {
	seen := make(map[color.NRGBA]struct{})
	pal := color.Palette{transparent}

	for i := 0; i+3 < len(img.Pix); i += 4 {
		if img.Pix[i+3] < alphaThreshold {
			continue
		}
		c := color.NRGBA{R: img.Pix[i], G: img.Pix[i+1], B: img.Pix[i+2], A: 0xff}
		if _, ok := seen[c]; ok {
			continue
		}
		if len(seen) == maxExactColors {
			return nil, false
		}
		seen[c] = struct{}{}
		pal = append(pal, c)
	}
	return pal, true
}
