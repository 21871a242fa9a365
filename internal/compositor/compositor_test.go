package compositor

import (
	"image"
	"image/color"
	"testing"

	"formatforge-go/internal/decoder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nrgbaAt(t *testing.T, img image.Image, x, y int) color.NRGBA {
	t.Helper()
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 20), G: uint8(y * 20), B: uint8(x + y), A: 255})
		}
	}
	return img
}

func TestFlattenToRGB_OpaqueIsIdentity(t *testing.T) {
	backgrounds := []RGB{White, {R: 255}, {}}

	sources := map[string]image.Image{
		"rgb":  gradient(6, 5),
		"rgba": func() image.Image { n := image.NewNRGBA(image.Rect(0, 0, 6, 5)); copyOpaque(n, gradient(6, 5)); return n }(),
	}

	for name, src := range sources {
		for _, bg := range backgrounds {
			t.Run(name+"/"+bg.Hex(), func(t *testing.T) {
				in := decoder.FromImage(src)
				out, report := FlattenToRGB(in, bg)

				assert.False(t, report.Degraded())
				assert.Equal(t, decoder.ModeRGB, out.Mode)
				assert.Equal(t, in.Width, out.Width)
				assert.Equal(t, in.Height, out.Height)
				for y := 0; y < in.Height; y++ {
					for x := 0; x < in.Width; x++ {
						require.Equal(t, nrgbaAt(t, src, x, y), nrgbaAt(t, out.Pixels, x, y), "pixel %d,%d", x, y)
					}
				}
			})
		}
	}
}

func copyOpaque(dst *image.NRGBA, src *image.RGBA) {
	b := src.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x, y, src.At(x, y))
		}
	}
}

func TestFlattenToRGB_AlphaBlending(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 0})
	src.SetNRGBA(1, 0, color.NRGBA{R: 255, A: 255})
	src.SetNRGBA(2, 0, color.NRGBA{R: 255, A: 128})

	out, report := FlattenToRGB(decoder.FromImage(src), RGB{B: 255})
	assert.Equal(t, PathAlpha, report.Path)

	assert.Equal(t, color.NRGBA{B: 255, A: 255}, nrgbaAt(t, out.Pixels, 0, 0))
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, nrgbaAt(t, out.Pixels, 1, 0))

	mid := nrgbaAt(t, out.Pixels, 2, 0)
	assert.Equal(t, uint8(255), mid.A)
	assert.InDelta(t, 128, int(mid.R), 3)
	assert.InDelta(t, 127, int(mid.B), 3)
}

func TestFlattenToRGB_PaletteTransparency(t *testing.T) {
	pal := color.Palette{color.RGBA{}, color.RGBA{R: 200, G: 10, B: 10, A: 255}}
	p := image.NewPaletted(image.Rect(0, 0, 2, 1), pal)
	p.SetColorIndex(0, 0, 0)
	p.SetColorIndex(1, 0, 1)

	in := decoder.FromImage(p)
	require.True(t, in.HasTransparency())

	out, report := FlattenToRGB(in, RGB{G: 255})
	assert.Equal(t, PathPaletteMask, report.Path)
	assert.Equal(t, color.NRGBA{G: 255, A: 255}, nrgbaAt(t, out.Pixels, 0, 0))
	assert.Equal(t, color.NRGBA{R: 200, G: 10, B: 10, A: 255}, nrgbaAt(t, out.Pixels, 1, 0))
}

func TestFlattenToRGB_PaletteDegrades(t *testing.T) {
	pal := color.Palette{color.RGBA{}, color.RGBA{R: 9, G: 9, B: 9, A: 255}}
	p := image.NewPaletted(image.Rect(0, 0, 2, 1), pal)
	p.Pix[0] = 1
	p.Pix[1] = 7

	out, report := FlattenToRGB(decoder.FromImage(p), White)
	assert.True(t, report.Degraded())
	assert.NotEmpty(t, report.Reason)
	assert.Equal(t, decoder.ModeRGB, out.Mode)
	assert.Equal(t, color.NRGBA{R: 9, G: 9, B: 9, A: 255}, nrgbaAt(t, out.Pixels, 0, 0))
	assert.Equal(t, color.NRGBA{A: 255}, nrgbaAt(t, out.Pixels, 1, 0))
}

func TestFlattenToRGB_Gray(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 1, 1))
	g.SetGray(0, 0, color.Gray{Y: 77})

	out, report := FlattenToRGB(decoder.FromImage(g), White)
	assert.Equal(t, PathPlain, report.Path)
	assert.Equal(t, color.NRGBA{R: 77, G: 77, B: 77, A: 255}, nrgbaAt(t, out.Pixels, 0, 0))
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		in   string
		want RGB
	}{
		{"#FFFFFF", White},
		{"ff0000", RGB{R: 255}},
		{"#00f", RGB{B: 255}},
		{" #102030 ", RGB{R: 0x10, G: 0x20, B: 0x30}},
	}
	for _, tt := range tests {
		got, err := ParseHex(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseHex("#zzzzzz")
	assert.Error(t, err)
	assert.Equal(t, "#102030", RGB{R: 0x10, G: 0x20, B: 0x30}.Hex())
}
