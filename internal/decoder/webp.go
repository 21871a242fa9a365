package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	xwebp "golang.org/x/image/webp"
)

// VP8X feature flags and ANMF frame flags.
const (
	webpAnimationFlag = 0x02
	webpAlphaFlag     = 0x10

	anmfHeaderLen   = 16
	anmfDispose     = 0x01
	anmfNoBlend     = 0x02
	vp8xPayloadSize = 10
)

var errWEBPContainer = errors.New("malformed WEBP container")

type riffChunk struct {
	id   string
	data []byte
}

// readChunks splits a RIFF body into its chunks. Odd-sized chunks carry one
// byte of padding.
func readChunks(b []byte) ([]riffChunk, error) {
	var chunks []riffChunk
	for len(b) > 0 {
		if len(b) < 8 {
			return nil, errWEBPContainer
		}
		size := int(binary.LittleEndian.Uint32(b[4:8]))
		if size < 0 || size > len(b)-8 {
			return nil, fmt.Errorf("%w: chunk %q overruns payload", errWEBPContainer, b[:4])
		}
		chunks = append(chunks, riffChunk{id: string(b[:4]), data: b[8 : 8+size]})

		next := 8 + size + size&1
		if next > len(b) {
			next = len(b)
		}
		b = b[next:]
	}
	return chunks, nil
}

func writeChunk(buf *bytes.Buffer, id string, data []byte) {
	var hdr [8]byte
	copy(hdr[:4], id)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(data)))
	buf.Write(hdr[:])
	buf.Write(data)
	if len(data)&1 == 1 {
		buf.WriteByte(0)
	}
}

func uint24(b []byte) int {
	return int(b[0]) | int(b[1])<<8 | int(b[2])<<16
}

func putUint24(b []byte, v int) {
	b[0], b[1], b[2] = byte(v), byte(v>>8), byte(v>>16)
}

// decodeWEBP decodes still WEBP files directly and animated ones frame by
// frame, composing each ANMF frame onto the canvas declared by VP8X.
func decodeWEBP(data []byte) (*Image, error) {
	if len(data) < 12 || string(data[:4]) != "RIFF" || string(data[8:12]) != "WEBP" {
		return nil, errWEBPContainer
	}
	body := data[12:]
	if n := int(binary.LittleEndian.Uint32(data[4:8])) - 4; n >= 0 && n < len(body) {
		body = body[:n]
	}

	chunks, err := readChunks(body)
	if err != nil {
		return nil, err
	}
	if !isAnimatedWEBP(chunks) {
		pixels, err := xwebp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return FromImage(pixels), nil
	}
	return decodeAnimatedWEBP(chunks)
}

func isAnimatedWEBP(chunks []riffChunk) bool {
	return len(chunks) > 0 &&
		chunks[0].id == "VP8X" &&
		len(chunks[0].data) >= vp8xPayloadSize &&
		chunks[0].data[0]&webpAnimationFlag != 0
}

func decodeAnimatedWEBP(chunks []riffChunk) (*Image, error) {
	vp8x := chunks[0].data
	canvas := image.NewNRGBA(image.Rect(0, 0, uint24(vp8x[4:7])+1, uint24(vp8x[7:10])+1))

	var (
		loop   int
		frames []Frame
	)
	for _, c := range chunks[1:] {
		switch c.id {
		case "ANIM":
			// The background colour is a hint only; frames compose onto transparency.
			if len(c.data) >= 6 {
				loop = int(binary.LittleEndian.Uint16(c.data[4:6]))
			}
		case "ANMF":
			f, err := composeWEBPFrame(canvas, c.data)
			if err != nil {
				return nil, fmt.Errorf("frame %d: %w", len(frames), err)
			}
			frames = append(frames, f)
		}
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: animation has no frames", errWEBPContainer)
	}

	img := FromImage(frames[0].Image)
	if len(frames) > 1 {
		img.Animation = &Animation{
			Frames:       frames,
			LoopCount:    loop,
			LoopDeclared: true,
		}
	}
	return img, nil
}

func composeWEBPFrame(canvas *image.NRGBA, b []byte) (Frame, error) {
	if len(b) < anmfHeaderLen {
		return Frame{}, fmt.Errorf("%w: short ANMF header", errWEBPContainer)
	}
	x, y := 2*uint24(b[0:3]), 2*uint24(b[3:6])
	w, h := uint24(b[6:9])+1, uint24(b[9:12])+1
	flags := b[15]

	sub, err := readChunks(b[anmfHeaderLen:])
	if err != nil {
		return Frame{}, err
	}
	pixels, err := xwebp.Decode(bytes.NewReader(frameBitstream(sub, w, h)))
	if err != nil {
		return Frame{}, err
	}

	pb := pixels.Bounds()
	rect := image.Rect(x, y, x+pb.Dx(), y+pb.Dy())
	op := draw.Over
	if flags&anmfNoBlend != 0 {
		op = draw.Src
	}
	draw.Draw(canvas, rect, pixels, pb.Min, op)

	f := Frame{
		Image:    imaging.Clone(canvas),
		Duration: time.Duration(uint24(b[12:15])) * time.Millisecond,
	}
	if flags&anmfDispose != 0 {
		f.Disposal = gif.DisposalBackground
		draw.Draw(canvas, rect, image.Transparent, image.Point{}, draw.Src)
	}
	return f, nil
}

// frameBitstream re-wraps the image chunks of one ANMF frame as a standalone
// WEBP file. Lossy frames with an ALPH chunk need a VP8X header to carry it.
func frameBitstream(sub []riffChunk, w, h int) []byte {
	var body bytes.Buffer
	body.WriteString("WEBP")

	for _, c := range sub {
		if c.id == "ALPH" {
			vp8x := make([]byte, vp8xPayloadSize)
			vp8x[0] = webpAlphaFlag
			putUint24(vp8x[4:7], w-1)
			putUint24(vp8x[7:10], h-1)
			writeChunk(&body, "VP8X", vp8x)
			break
		}
	}
	for _, c := range sub {
		switch c.id {
		case "ALPH", "VP8 ", "VP8L":
			writeChunk(&body, c.id, c.data)
		}
	}

	out := make([]byte, 8, 8+body.Len())
	copy(out, "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(body.Len()))
	return append(out, body.Bytes()...)
}
