package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"formatforge-go/internal/format"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type webpFrame struct {
	img      image.Image
	x, y     int
	duration int
	flags    byte
}

func solidNRGBA(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// animatedWEBP assembles an animated container from losslessly encoded frames.
func animatedWEBP(t *testing.T, w, h, loop int, frames ...webpFrame) []byte {
	t.Helper()

	var body bytes.Buffer
	body.WriteString("WEBP")

	vp8x := make([]byte, vp8xPayloadSize)
	vp8x[0] = webpAnimationFlag | webpAlphaFlag
	putUint24(vp8x[4:7], w-1)
	putUint24(vp8x[7:10], h-1)
	writeChunk(&body, "VP8X", vp8x)

	anim := make([]byte, 6)
	binary.LittleEndian.PutUint16(anim[4:6], uint16(loop))
	writeChunk(&body, "ANIM", anim)

	for _, f := range frames {
		var enc bytes.Buffer
		require.NoError(t, webp.Encode(&enc, f.img, &webp.Options{Lossless: true}))
		chunks, err := readChunks(enc.Bytes()[12:])
		require.NoError(t, err)

		var payload bytes.Buffer
		hdr := make([]byte, anmfHeaderLen)
		b := f.img.Bounds()
		putUint24(hdr[0:3], f.x/2)
		putUint24(hdr[3:6], f.y/2)
		putUint24(hdr[6:9], b.Dx()-1)
		putUint24(hdr[9:12], b.Dy()-1)
		putUint24(hdr[12:15], f.duration)
		hdr[15] = f.flags
		payload.Write(hdr)
		for _, c := range chunks {
			if c.id == "VP8L" || c.id == "VP8 " || c.id == "ALPH" {
				writeChunk(&payload, c.id, c.data)
			}
		}
		writeChunk(&body, "ANMF", payload.Bytes())
	}

	out := make([]byte, 8, 8+body.Len())
	copy(out, "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(body.Len()))
	return append(out, body.Bytes()...)
}

func TestDecode_AnimatedWEBP(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}
	green := color.NRGBA{G: 255, A: 255}
	blue := color.NRGBA{B: 255, A: 255}

	// Left half of the overlay is transparent, so blending keeps red there.
	overlay := solidNRGBA(4, 4, green)
	for y := 0; y < 4; y++ {
		for x := 0; x < 2; x++ {
			overlay.SetNRGBA(x, y, color.NRGBA{})
		}
	}

	data := animatedWEBP(t, 8, 8, 3,
		webpFrame{img: solidNRGBA(8, 8, red), duration: 50},
		webpFrame{img: overlay, x: 2, y: 2, duration: 120, flags: anmfDispose},
		webpFrame{img: solidNRGBA(2, 2, blue), x: 6, y: 6, duration: 0, flags: anmfNoBlend},
	)

	img, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, format.WEBP, img.Format)
	assert.Equal(t, 8, img.Width)
	assert.Equal(t, 8, img.Height)
	require.True(t, img.IsAnimated())

	anim := img.Animation
	require.Len(t, anim.Frames, 3)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 120 * time.Millisecond, DefaultFrameDuration}, anim.Durations())
	assert.True(t, anim.LoopDeclared)
	assert.Equal(t, 3, anim.Loop())

	second := anim.Frames[1].Image
	assert.Equal(t, image.Rect(0, 0, 8, 8), second.Bounds())
	assert.Equal(t, red, nrgbaAt(second, 0, 0))
	assert.Equal(t, red, nrgbaAt(second, 2, 2), "transparent overlay pixels blend over the canvas")
	assert.Equal(t, green, nrgbaAt(second, 5, 5))

	// The second frame is disposed to transparency before the third is drawn.
	third := anim.Frames[2].Image
	assert.Equal(t, red, nrgbaAt(third, 0, 0))
	assert.Equal(t, uint8(0), nrgbaAt(third, 5, 5).A)
	assert.Equal(t, blue, nrgbaAt(third, 7, 7))
}

func TestDecode_AnimatedWEBPInfiniteLoop(t *testing.T) {
	data := animatedWEBP(t, 4, 4, 0,
		webpFrame{img: solidNRGBA(4, 4, color.NRGBA{R: 255, A: 255}), duration: 40},
		webpFrame{img: solidNRGBA(4, 4, color.NRGBA{B: 255, A: 255}), duration: 40},
	)

	img, err := New(Options{MaxPixels: 16}, nil).Decode(data)
	require.NoError(t, err)
	require.True(t, img.IsAnimated())
	assert.Equal(t, 0, img.Animation.Loop())

	_, err = New(Options{MaxPixels: 15}, nil).Decode(data)
	assert.True(t, errors.Is(err, ErrUndecodable))
}

func TestDecode_SingleFrameAnimatedWEBP(t *testing.T) {
	data := animatedWEBP(t, 4, 4, 0, webpFrame{img: solidNRGBA(4, 4, color.NRGBA{G: 255, A: 255}), duration: 10})

	img, err := Decode(data)
	require.NoError(t, err)
	assert.False(t, img.IsAnimated())
	assert.Equal(t, color.NRGBA{G: 255, A: 255}, nrgbaAt(img.Pixels, 1, 1))
}

func TestDecode_StillWEBP(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, webp.Encode(&buf, solidNRGBA(6, 3, color.NRGBA{R: 9, G: 8, B: 7, A: 255}), &webp.Options{Lossless: true}))

	img, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, format.WEBP, img.Format)
	assert.False(t, img.IsAnimated())
	assert.Equal(t, 6, img.Width)
	assert.Equal(t, color.NRGBA{R: 9, G: 8, B: 7, A: 255}, nrgbaAt(img.Pixels, 5, 2))
}

func TestDecode_TruncatedAnimatedWEBP(t *testing.T) {
	data := animatedWEBP(t, 4, 4, 0,
		webpFrame{img: solidNRGBA(4, 4, color.NRGBA{A: 255}), duration: 10},
		webpFrame{img: solidNRGBA(4, 4, color.NRGBA{A: 255}), duration: 10},
	)

	_, err := Decode(data[:len(data)-6])
	assert.True(t, errors.Is(err, ErrUndecodable))
}

func nrgbaAt(img image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}
