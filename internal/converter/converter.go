package converter

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"formatforge-go/internal/animation"
	"formatforge-go/internal/compositor"
	"formatforge-go/internal/decoder"
	"formatforge-go/internal/format"
	"formatforge-go/internal/icopack"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

// ErrNoImage is returned when Convert is given nothing to encode.
var ErrNoImage = errors.New("no image to convert")

// Options holds the fixed encoder settings.
type Options struct {
	JPEGQuality  int
	WEBPQuality  float32
	WEBPLossless bool
}

// DefaultOptions returns the stock encoder settings.
func DefaultOptions() Options {
	return Options{
		JPEGQuality: 75,
		WEBPQuality: 80,
	}
}

// Converter turns decoded images into encoded bytes of a target format.
type Converter struct {
	opts      Options
	logger    logrus.FieldLogger
	packer    *icopack.Packer
	preserver *animation.Preserver
	encoders  map[format.Format]EncodeFunc
}

// Option customises a Converter.
type Option func(*Converter)

// WithEncoder replaces the encoder used for f.
func WithEncoder(f format.Format, fn EncodeFunc) Option {
	return func(c *Converter) {
		c.encoders[f] = fn
	}
}

// New creates a Converter.
func New(opts Options, logger logrus.FieldLogger, options ...Option) *Converter {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		logger = l
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = DefaultOptions().JPEGQuality
	}
	if opts.WEBPQuality <= 0 || opts.WEBPQuality > 100 {
		opts.WEBPQuality = DefaultOptions().WEBPQuality
	}

	c := &Converter{
		opts:      opts,
		logger:    logger,
		packer:    icopack.NewPacker(logger),
		preserver: animation.NewPreserver(logger),
	}
	c.encoders = c.defaultEncoders()
	for _, o := range options {
		o(c)
	}
	return c
}

// Convert encodes img as req.Target.
//
// JPEG targets are flattened onto req.Background first. ICO targets are packed
// at req.IconSizes. Animated sources keep their frames when the target is GIF
// and req.PreserveAnimation is set. If the first encode fails an RGBA copy is
// retried once; for ICO the retry writes PNG bytes instead.
func (c *Converter) Convert(img *decoder.Image, req Request) (*Result, error) {
	if img == nil || img.Pixels == nil {
		return nil, ErrNoImage
	}
	if !req.Target.IsValid() {
		return nil, fmt.Errorf("%w: %s", format.ErrUnknownFormat, req.Target)
	}

	res := &Result{
		Filename:      OutputFilename(req.Filename, req.Target),
		Target:        req.Target,
		EncodedFormat: req.Target,
	}
	log := c.logger.WithFields(logrus.Fields{
		"file":   req.Filename,
		"target": req.Target.String(),
	})

	pixels := img.Pixels
	switch {
	case req.Target == format.JPEG:
		flat, report := compositor.FlattenToRGB(img, req.Background)
		if report.Degraded() {
			log.WithField("reason", report.Reason).Warn("Transparency discarded without compositing")
			res.degrade(DegradedCompositing, report.Reason)
		}
		pixels = flat.Pixels

	case req.Target == format.GIF && req.PreserveAnimation && img.IsAnimated():
		preserved, err := c.preserver.Preserve(img.Animation)
		if err == nil {
			res.Data = preserved.Data
			if preserved.Degraded {
				log.WithField("reason", preserved.Reason).Warn("Animation reduced to first frame")
				res.degrade(DegradedAnimation, preserved.Reason)
			}
			return res, nil
		}
		log.WithError(err).Warn("Animation could not be written, encoding still image")
		res.degrade(DegradedAnimation, err.Error())
	}

	data, deg, err := c.encode(req.Target, pixels, req)
	if err == nil {
		res.Data = data
		c.note(res, deg, log)
		return res, nil
	}

	log.WithError(err).Warn("Encoding failed, retrying")

	retryTarget, fallback := req.Target, FallbackAlphaRetry
	if req.Target == format.ICO {
		retryTarget, fallback = format.PNG, FallbackIconAsRaster
	}

	data, deg, retryErr := c.encode(retryTarget, imaging.Clone(pixels), req)
	if retryErr != nil {
		return nil, &EncodingError{
			Target:   req.Target,
			Filename: req.Filename,
			Err:      errors.Join(err, retryErr),
		}
	}

	res.Data = data
	res.EncodedFormat = retryTarget
	res.Fallback = fallback
	if fallback == FallbackIconAsRaster {
		res.degrade(DegradedIcon, err.Error())
	}
	c.note(res, deg, log)
	return res, nil
}

func (c *Converter) encode(f format.Format, img image.Image, req Request) ([]byte, *Degradation, error) {
	enc, ok := c.encoders[f]
	if !ok || enc == nil {
		return nil, nil, fmt.Errorf("no encoder for %s", f)
	}

	var buf bytes.Buffer
	deg, err := enc(&buf, img, req)
	if err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), deg, nil
}

func (c *Converter) note(res *Result, deg *Degradation, log logrus.FieldLogger) {
	if deg == nil {
		return
	}
	log.WithFields(logrus.Fields{
		"kind":   string(deg.Kind),
		"reason": deg.Reason,
	}).Warn("Conversion degraded")
	res.degrade(deg.Kind, deg.Reason)
}
