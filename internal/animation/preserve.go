package animation

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"time"

	"formatforge-go/internal/decoder"

	"github.com/sirupsen/logrus"
)

// delayUnit is the resolution of GIF frame delays.
const delayUnit = 10 * time.Millisecond

// ErrNoFrames is returned when there is nothing to encode.
var ErrNoFrames = errors.New("animation has no frames")

// Preserved is an encoded animated GIF.
type Preserved struct {
	Data      []byte
	Frames    int
	Durations []time.Duration
	Loop      int
	// Degraded is set when only the first frame could be written.
	Degraded bool
	Reason   string
}

// Preserver writes decoded animations back out as GIF.
type Preserver struct {
	logger logrus.FieldLogger
}

// NewPreserver creates a Preserver.
func NewPreserver(logger logrus.FieldLogger) *Preserver {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		logger = l
	}
	return &Preserver{logger: logger}
}

// Preserve encodes anim with a default Preserver.
func Preserve(anim *decoder.Animation) (*Preserved, error) {
	return NewPreserver(nil).Preserve(anim)
}

// Preserve encodes every frame of anim in order, keeping per-frame durations
// and the loop count. Frames without a declared duration get 100ms and an
// undeclared loop count becomes 0 (forever).
//
// If the animation cannot be written the first frame is encoded as a static
// GIF and the result is marked Degraded.
func (p *Preserver) Preserve(anim *decoder.Animation) (*Preserved, error) {
	if anim == nil || len(anim.Frames) == 0 {
		return nil, ErrNoFrames
	}

	durations := anim.Durations()
	loop := anim.Loop()

	data, err := encodeAll(anim.Frames, durations, loop)
	if err == nil {
		return &Preserved{
			Data:      data,
			Frames:    len(anim.Frames),
			Durations: durations,
			Loop:      loop,
		}, nil
	}

	p.logger.WithFields(logrus.Fields{
		"frames": len(anim.Frames),
		"error":  err.Error(),
	}).Warn("Animation could not be preserved, writing first frame only")

	static, staticErr := encodeStatic(anim.Frames[0].Image)
	if staticErr != nil {
		return nil, fmt.Errorf("encode first frame: %w", staticErr)
	}
	return &Preserved{
		Data:      static,
		Frames:    1,
		Durations: durations[:1],
		Loop:      loop,
		Degraded:  true,
		Reason:    err.Error(),
	}, nil
}

func encodeAll(frames []decoder.Frame, durations []time.Duration, loop int) ([]byte, error) {
	g := &gif.GIF{
		Image:     make([]*image.Paletted, len(frames)),
		Delay:     make([]int, len(frames)),
		Disposal:  make([]byte, len(frames)),
		LoopCount: loop,
	}
	for i, f := range frames {
		if f.Image == nil {
			return nil, fmt.Errorf("frame %d has no pixels", i)
		}
		g.Image[i] = Quantize(f.Image)
		g.Delay[i] = delayUnits(durations[i])
		g.Disposal[i] = gif.DisposalBackground
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeStatic(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, ErrNoFrames
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, &gif.GIF{
		Image: []*image.Paletted{Quantize(img)},
		Delay: []int{0},
	}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// delayUnits rounds d to hundredths of a second.
func delayUnits(d time.Duration) int {
	return int((d + delayUnit/2) / delayUnit)
}
