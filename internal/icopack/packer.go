package icopack

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	ico "github.com/sergeymakinen/go-ico"
	"github.com/sirupsen/logrus"
)

// Packed is an encoded icon container.
type Packed struct {
	Data []byte
	// Sizes lists the square edges actually embedded.
	Sizes []int
	// Degraded is set when only the base image could be encoded.
	Degraded bool
	Reason   string
}

// Packer resamples a source image to several square sizes and packs them into
// one ICO container.
type Packer struct {
	logger logrus.FieldLogger
	filter imaging.ResampleFilter
}

// NewPacker returns a Packer using Lanczos resampling.
func NewPacker(logger logrus.FieldLogger) *Packer {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		logger = l
	}
	return &Packer{logger: logger, filter: imaging.Lanczos}
}

// Pack encodes img once per size into a single ICO container.
//
// When the sizes cannot be packed together (for example a size above MaxSize)
// only the base image is encoded, as a single-entry icon, and the result is
// marked Degraded. The degradation is logged at warn level.
func (p *Packer) Pack(img image.Image, sizes []int) (*Packed, error) {
	norm, err := Normalize(sizes)
	if err != nil {
		return nil, err
	}
	if len(norm) == 0 {
		return nil, fmt.Errorf("%w: no sizes requested", ErrInvalidSize)
	}

	data, err := p.packAll(img, norm)
	if err == nil {
		return &Packed{Data: data, Sizes: norm}, nil
	}

	base := min(largest(norm), MaxSize)
	p.logger.WithFields(logrus.Fields{
		"sizes": norm,
		"base":  base,
		"error": err.Error(),
	}).Warn("Multi-size icon packing failed, encoding base image only")

	var buf bytes.Buffer
	if encErr := ico.Encode(&buf, p.Square(img, base)); encErr != nil {
		return nil, fmt.Errorf("encode base icon: %w", encErr)
	}
	return &Packed{
		Data:     buf.Bytes(),
		Sizes:    []int{base},
		Degraded: true,
		Reason:   err.Error(),
	}, nil
}

func (p *Packer) packAll(img image.Image, sizes []int) ([]byte, error) {
	frames := make([]image.Image, 0, len(sizes))
	for _, s := range sizes {
		if s > MaxSize {
			return nil, fmt.Errorf("size %d exceeds icon limit %d", s, MaxSize)
		}
		frames = append(frames, p.Square(img, s))
	}

	var buf bytes.Buffer
	if err := ico.EncodeAll(&buf, frames); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Square resamples img to fit a size x size box, preserving aspect ratio, and
// centres it on a transparent square canvas.
func (p *Packer) Square(img image.Image, size int) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return imaging.New(size, size, color.NRGBA{})
	}

	scale := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))

	resized := imaging.Resize(img, nw, nh, p.filter)
	if nw == size && nh == size {
		return resized
	}
	return imaging.PasteCenter(imaging.New(size, size, color.NRGBA{}), resized)
}

func largest(sizes []int) int {
	m := 0
	for _, s := range sizes {
		m = max(m, s)
	}
	return m
}
