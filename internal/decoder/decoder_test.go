package decoder

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"formatforge-go/internal/format"

	ico "github.com/sergeymakinen/go-ico"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func solidRGBA(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func animatedGIF(t *testing.T, delays []int, loop int) []byte {
	t.Helper()
	pal := color.Palette{color.RGBA{0, 0, 0, 0}, color.RGBA{255, 0, 0, 255}, color.RGBA{0, 0, 255, 255}}
	g := &gif.GIF{LoopCount: loop}
	for i, d := range delays {
		pm := image.NewPaletted(image.Rect(0, 0, 8, 8), pal)
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				pm.SetColorIndex(x, y, uint8(1+i%2))
			}
		}
		g.Image = append(g.Image, pm)
		g.Delay = append(g.Delay, d)
		g.Disposal = append(g.Disposal, gif.DisposalBackground)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, g))
	return buf.Bytes()
}

func TestDecode_Formats(t *testing.T) {
	src := solidRGBA(12, 7, color.RGBA{10, 20, 30, 255})

	var jpg, bm, tf, ic bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpg, src, nil))
	require.NoError(t, bmp.Encode(&bm, src))
	require.NoError(t, tiff.Encode(&tf, src, nil))
	require.NoError(t, ico.Encode(&ic, image.NewNRGBA(image.Rect(0, 0, 16, 16))))

	tests := []struct {
		name string
		data []byte
		want format.Format
		w, h int
	}{
		{"png", encodePNG(t, src), format.PNG, 12, 7},
		{"jpeg", jpg.Bytes(), format.JPEG, 12, 7},
		{"bmp", bm.Bytes(), format.BMP, 12, 7},
		{"tiff", tf.Bytes(), format.TIFF, 12, 7},
		{"ico", ic.Bytes(), format.ICO, 16, 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Decode(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, img.Format)
			assert.Equal(t, tt.w, img.Width)
			assert.Equal(t, tt.h, img.Height)
			assert.False(t, img.IsAnimated())
		})
	}
}

func TestDecode_Undecodable(t *testing.T) {
	full := encodePNG(t, solidRGBA(32, 32, color.RGBA{1, 2, 3, 255}))

	cases := map[string][]byte{
		"empty":     nil,
		"text":      []byte("definitely not an image"),
		"truncated": full[:len(full)/2],
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUndecodable))
		})
	}
}

func TestDecode_MaxPixels(t *testing.T) {
	data := encodePNG(t, solidRGBA(20, 20, color.RGBA{A: 255}))

	_, err := New(Options{MaxPixels: 100}, nil).Decode(data)
	assert.True(t, errors.Is(err, ErrUndecodable))

	_, err = New(Options{MaxPixels: 400}, nil).Decode(data)
	assert.NoError(t, err)
}

func TestDecode_AnimatedGIF(t *testing.T) {
	img, err := Decode(animatedGIF(t, []int{10, 15, 20}, 0))
	require.NoError(t, err)

	require.True(t, img.IsAnimated())
	assert.Equal(t, format.GIF, img.Format)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 150 * time.Millisecond, 200 * time.Millisecond},
		img.Animation.Durations())
	assert.Equal(t, 0, img.Animation.Loop())
	assert.True(t, img.Animation.LoopDeclared)

	for _, fr := range img.Animation.Frames {
		assert.Equal(t, image.Rect(0, 0, 8, 8), fr.Image.Bounds())
	}
	r, _, _, _ := img.Animation.Frames[1].Image.At(0, 0).RGBA()
	assert.Equal(t, uint32(0), r, "second frame is blue")
}

func TestDecode_GIFWithoutLoopExtension(t *testing.T) {
	img, err := Decode(animatedGIF(t, []int{0, 0}, -1))
	require.NoError(t, err)
	require.True(t, img.IsAnimated())

	assert.False(t, img.Animation.LoopDeclared)
	assert.Equal(t, 0, img.Animation.Loop())
	assert.Equal(t, []time.Duration{DefaultFrameDuration, DefaultFrameDuration}, img.Animation.Durations())
}

func TestDecode_PalettedTransparency(t *testing.T) {
	pm := image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{color.RGBA{}, color.RGBA{255, 255, 255, 255}})
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, pm, nil))

	img, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, ModePaletted, img.Mode)
	assert.True(t, img.PaletteTransparency)
	assert.True(t, img.HasTransparency())
}

func TestModeOf(t *testing.T) {
	rect := image.Rect(0, 0, 2, 2)
	tests := []struct {
		name string
		img  image.Image
		want Mode
	}{
		{"opaque rgba", solidRGBA(2, 2, color.RGBA{A: 255}), ModeRGB},
		{"translucent rgba", image.NewRGBA(rect), ModeRGBA},
		{"nrgba", image.NewNRGBA(rect), ModeRGBA},
		{"gray", image.NewGray(rect), ModeGray},
		{"gray16", image.NewGray16(rect), ModeGray16},
		{"cmyk", image.NewCMYK(rect), ModeCMYK},
		{"ycbcr", image.NewYCbCr(rect, image.YCbCrSubsampleRatio420), ModeRGB},
		{"paletted", image.NewPaletted(rect, color.Palette{color.Black}), ModePaletted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := ModeOf(tt.img)
			assert.Equal(t, tt.want, got)
			assert.NotEqual(t, "UNKNOWN", got.String())
		})
	}
}

func TestDetectedFormat(t *testing.T) {
	decoded, err := Decode(encodePNG(t, solidRGBA(2, 2, color.RGBA{A: 255})))
	require.NoError(t, err)
	assert.Equal(t, "PNG", DetectedFormat(decoded, "photo.jpg"))

	raw := FromImage(image.NewNRGBA(image.Rect(0, 0, 2, 2)))
	assert.Equal(t, "JPG", DetectedFormat(raw, "photo.jpg"))
	assert.Equal(t, "RGBA", DetectedFormat(raw, "photo"))
	assert.Equal(t, "RGBA", DetectedFormat(raw, ""))
}
