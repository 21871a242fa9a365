package converter

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"io"
	"testing"
	"time"

	"formatforge-go/internal/compositor"
	"formatforge-go/internal/decoder"
	"formatforge-go/internal/format"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 13), G: uint8(y * 17), B: uint8((x + y) * 5), A: 255})
		}
	}
	return img
}

func nrgba(img image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}

func TestOutputFilename(t *testing.T) {
	tests := []struct {
		in     string
		target format.Format
		want   string
	}{
		{"photo.png", format.JPEG, "photo.jpg"},
		{"holiday.photo.gif", format.WEBP, "holiday.photo.webp"},
		{"dir/sub/icon.bmp", format.ICO, "icon.ico"},
		{`C:\pics\scan.tif`, format.PNG, "scan.png"},
		{"noext", format.TIFF, "noext.tiff"},
		{"", format.GIF, "image.gif"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OutputFilename(tt.in, tt.target), tt.in)
	}
}

func TestConvert_LosslessRoundTrip(t *testing.T) {
	src := gradient(12, 9)
	c := New(DefaultOptions(), nil)

	for _, target := range []format.Format{format.PNG, format.BMP, format.TIFF} {
		t.Run(target.String(), func(t *testing.T) {
			res, err := c.Convert(decoder.FromImage(src), Request{Target: target, Filename: "in.png"})
			require.NoError(t, err)
			assert.Equal(t, FallbackNone, res.Fallback)
			assert.False(t, res.Degraded())

			back, err := decoder.Decode(res.Data)
			require.NoError(t, err)
			assert.Equal(t, target, back.Format)
			require.Equal(t, src.Bounds().Size(), back.Pixels.Bounds().Size())

			for y := 0; y < 9; y++ {
				for x := 0; x < 12; x++ {
					require.Equal(t, src.NRGBAAt(x, y), nrgba(back.Pixels, x, y), "pixel %d,%d", x, y)
				}
			}
		})
	}
}

func TestConvert_EveryTargetDecodes(t *testing.T) {
	c := New(DefaultOptions(), nil)
	src := decoder.FromImage(gradient(20, 20))

	for _, target := range format.All() {
		t.Run(target.String(), func(t *testing.T) {
			res, err := c.Convert(src, Request{Target: target, Filename: "sample.png", Background: compositor.White})
			require.NoError(t, err)
			assert.Equal(t, "sample"+target.Extension(), res.Filename)
			assert.Equal(t, target, res.EncodedFormat)
			assert.Equal(t, target.MimeType(), res.MimeType())

			back, err := decoder.Decode(res.Data)
			require.NoError(t, err)
			assert.Equal(t, target, back.Format)
		})
	}
}

func TestConvert_JPEGFlattensTransparency(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 16, 16))

	res, err := New(DefaultOptions(), nil).Convert(decoder.FromImage(src), Request{
		Target:     format.JPEG,
		Filename:   "clear.png",
		Background: compositor.RGB{R: 255},
	})
	require.NoError(t, err)

	back, err := decoder.Decode(res.Data)
	require.NoError(t, err)
	c := nrgba(back.Pixels, 8, 8)
	assert.InDelta(t, 255, int(c.R), 8)
	assert.InDelta(t, 0, int(c.G), 8)
	assert.InDelta(t, 0, int(c.B), 8)
}

func TestConvert_AlphaRetry(t *testing.T) {
	calls := 0
	flaky := func(w io.Writer, img image.Image, _ Request) (*Degradation, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("mode not supported")
		}
		_, isNRGBA := img.(*image.NRGBA)
		assert.True(t, isNRGBA)
		return nil, png.Encode(w, img)
	}

	c := New(DefaultOptions(), nil, WithEncoder(format.PNG, flaky))
	res, err := c.Convert(decoder.FromImage(image.NewGray(image.Rect(0, 0, 3, 3))), Request{Target: format.PNG, Filename: "g.bmp"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, FallbackAlphaRetry, res.Fallback)
	assert.Equal(t, format.PNG, res.EncodedFormat)
	assert.False(t, res.Degraded())
}

func TestConvert_IconAsRaster(t *testing.T) {
	broken := func(io.Writer, image.Image, Request) (*Degradation, error) {
		return nil, errors.New("icon writer unavailable")
	}

	c := New(DefaultOptions(), nil, WithEncoder(format.ICO, broken))
	res, err := c.Convert(decoder.FromImage(gradient(8, 8)), Request{Target: format.ICO, Filename: "logo.png"})
	require.NoError(t, err)

	assert.Equal(t, FallbackIconAsRaster, res.Fallback)
	assert.Equal(t, "logo.ico", res.Filename)
	assert.Equal(t, format.ICO, res.Target)
	assert.Equal(t, format.PNG, res.EncodedFormat)
	assert.Equal(t, "image/png", res.MimeType())
	require.Len(t, res.Degradations, 1)
	assert.Equal(t, DegradedIcon, res.Degradations[0].Kind)

	_, err = png.Decode(bytes.NewReader(res.Data))
	assert.NoError(t, err)
}

func TestConvert_EncodingError(t *testing.T) {
	cause := errors.New("disk on fire")
	broken := func(io.Writer, image.Image, Request) (*Degradation, error) {
		return nil, cause
	}

	c := New(DefaultOptions(), nil, WithEncoder(format.BMP, broken))
	_, err := c.Convert(decoder.FromImage(gradient(4, 4)), Request{Target: format.BMP, Filename: "x.png"})
	require.Error(t, err)

	var encErr *EncodingError
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, format.BMP, encErr.Target)
	assert.Equal(t, "x.png", encErr.Filename)
	assert.True(t, errors.Is(err, cause))
}

func TestConvert_IconSizes(t *testing.T) {
	c := New(DefaultOptions(), nil)

	res, err := c.Convert(decoder.FromImage(gradient(40, 40)), Request{Target: format.ICO, Filename: "a.png", IconSizes: []int{16, 32, 48}})
	require.NoError(t, err)
	assert.False(t, res.Degraded())
	assert.Equal(t, uint16(3), uint16(res.Data[4])|uint16(res.Data[5])<<8)

	res, err = c.Convert(decoder.FromImage(gradient(40, 40)), Request{Target: format.ICO, Filename: "a.png"})
	require.NoError(t, err)
	assert.Equal(t, uint16(6), uint16(res.Data[4])|uint16(res.Data[5])<<8, "default preset")

	res, err = c.Convert(decoder.FromImage(gradient(40, 40)), Request{Target: format.ICO, Filename: "a.png", IconSizes: []int{16, 1024}})
	require.NoError(t, err)
	assert.Equal(t, FallbackNone, res.Fallback)
	require.Len(t, res.Degradations, 1)
	assert.Equal(t, DegradedIcon, res.Degradations[0].Kind)
}

func animatedSource(t *testing.T) *decoder.Image {
	t.Helper()
	pal := color.Palette{color.RGBA{R: 255, A: 255}, color.RGBA{G: 255, A: 255}, color.RGBA{B: 255, A: 255}}
	g := &gif.GIF{LoopCount: 0}
	for i := range pal {
		pm := image.NewPaletted(image.Rect(0, 0, 5, 5), pal)
		for j := range pm.Pix {
			pm.Pix[j] = uint8(i)
		}
		g.Image = append(g.Image, pm)
		g.Delay = append(g.Delay, 10+5*i)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, g))

	img, err := decoder.Decode(buf.Bytes())
	require.NoError(t, err)
	require.True(t, img.IsAnimated())
	return img
}

func TestConvert_PreservesAnimation(t *testing.T) {
	c := New(DefaultOptions(), nil)
	src := animatedSource(t)

	res, err := c.Convert(src, Request{Target: format.GIF, Filename: "anim.gif", PreserveAnimation: true})
	require.NoError(t, err)
	assert.False(t, res.Degraded())

	back, err := decoder.Decode(res.Data)
	require.NoError(t, err)
	require.True(t, back.IsAnimated())
	assert.Equal(t,
		[]time.Duration{100 * time.Millisecond, 150 * time.Millisecond, 200 * time.Millisecond},
		back.Animation.Durations())

	still, err := c.Convert(src, Request{Target: format.GIF, Filename: "anim.gif"})
	require.NoError(t, err)
	back, err = decoder.Decode(still.Data)
	require.NoError(t, err)
	assert.False(t, back.IsAnimated())
}

func riffChunk(id string, data []byte) []byte {
	out := make([]byte, 8, 9+len(data))
	copy(out, id)
	binary.LittleEndian.PutUint32(out[4:], uint32(len(data)))
	out = append(out, data...)
	if len(data)%2 == 1 {
		out = append(out, 0)
	}
	return out
}

func le24(v int) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16)}
}

// animatedWEBPSource builds a two-frame 6x6 animated WEBP (red then blue,
// 50ms and 120ms, looping twice) and decodes it.
func animatedWEBPSource(t *testing.T) *decoder.Image {
	t.Helper()

	vp8x := append([]byte{0x12, 0, 0, 0}, append(le24(5), le24(5)...)...)
	body := append([]byte("WEBP"), riffChunk("VP8X", vp8x)...)
	body = append(body, riffChunk("ANIM", []byte{0, 0, 0, 0, 2, 0})...)

	for i, c := range []color.NRGBA{{R: 255, A: 255}, {B: 255, A: 255}} {
		var enc bytes.Buffer
		require.NoError(t, webp.Encode(&enc, imaging.New(6, 6, c), &webp.Options{Lossless: true}))
		still := enc.Bytes()
		require.Equal(t, "VP8L", string(still[12:16]))

		hdr := append(append(le24(0), le24(0)...), le24(5)...)
		hdr = append(hdr, le24(5)...)
		hdr = append(hdr, le24([]int{50, 120}[i])...)
		hdr = append(hdr, 0)
		body = append(body, riffChunk("ANMF", append(hdr, still[12:]...))...)
	}

	data := riffChunk("RIFF", body)
	img, err := decoder.Decode(data)
	require.NoError(t, err)
	require.Equal(t, format.WEBP, img.Format)
	require.True(t, img.IsAnimated())
	return img
}

func TestConvert_WEBPAnimationToGIF(t *testing.T) {
	c := New(DefaultOptions(), nil)

	res, err := c.Convert(animatedWEBPSource(t), Request{Target: format.GIF, Filename: "clip.webp", PreserveAnimation: true})
	require.NoError(t, err)
	assert.False(t, res.Degraded())
	assert.Equal(t, "clip.gif", res.Filename)

	g, err := gif.DecodeAll(bytes.NewReader(res.Data))
	require.NoError(t, err)
	require.Len(t, g.Image, 2)
	assert.Equal(t, []int{5, 12}, g.Delay)
	assert.Equal(t, 2, g.LoopCount)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, nrgba(g.Image[0], 3, 3))
	assert.Equal(t, color.NRGBA{B: 255, A: 255}, nrgba(g.Image[1], 3, 3))
}

func TestConvert_AnimatedToStillTarget(t *testing.T) {
	res, err := New(DefaultOptions(), nil).Convert(animatedSource(t), Request{Target: format.PNG, Filename: "anim.gif", PreserveAnimation: true})
	require.NoError(t, err)

	back, err := decoder.Decode(res.Data)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, nrgba(back.Pixels, 2, 2), "first frame is used")
}

func TestConvert_GIFKeepsTransparency(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 2; x++ {
			src.SetNRGBA(x, y, color.NRGBA{R: 255, A: 255})
		}
	}

	res, err := New(DefaultOptions(), nil).Convert(decoder.FromImage(src), Request{Target: format.GIF, Filename: "half.png"})
	require.NoError(t, err)
	assert.Empty(t, res.Degradations)

	back, err := gif.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, uint8(0), nrgba(back, 3, 3).A)
	assert.Equal(t, uint8(0), nrgba(back, 2, 0).A)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, nrgba(back, 0, 0))
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, nrgba(back, 1, 3))
}

func TestConvert_GIFPartialAlphaDegrades(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := range src.Pix {
		src.Pix[i] = 200
	}
	src.SetNRGBA(0, 0, color.NRGBA{})

	res, err := New(DefaultOptions(), nil).Convert(decoder.FromImage(src), Request{Target: format.GIF, Filename: "soft.png"})
	require.NoError(t, err)
	require.Len(t, res.Degradations, 1)
	assert.Equal(t, DegradedCompositing, res.Degradations[0].Kind)

	back, err := gif.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, uint8(0), nrgba(back, 0, 0).A)
	assert.Equal(t, uint8(255), nrgba(back, 2, 2).A)
}

func TestConvert_OpaqueGIFUnchanged(t *testing.T) {
	res, err := New(DefaultOptions(), nil).Convert(decoder.FromImage(gradient(6, 6)), Request{Target: format.GIF, Filename: "g.png"})
	require.NoError(t, err)
	assert.False(t, res.Degraded())

	back, err := gif.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, uint8(255), nrgba(back, 5, 5).A)
}

func TestConvert_InvalidInput(t *testing.T) {
	c := New(DefaultOptions(), nil)

	_, err := c.Convert(nil, Request{Target: format.PNG})
	assert.ErrorIs(t, err, ErrNoImage)

	_, err = c.Convert(decoder.FromImage(imaging.New(2, 2, color.White)), Request{Target: format.Unknown})
	assert.ErrorIs(t, err, format.ErrUnknownFormat)
}
