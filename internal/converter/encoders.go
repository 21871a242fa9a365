package converter

import (
	"bytes"
	"image"
	"image/gif"
	"io"

	"formatforge-go/internal/animation"
	"formatforge-go/internal/format"
	"formatforge-go/internal/icopack"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// EncodeFunc writes img in one container format. A non-nil Degradation means
// the bytes were written with reduced fidelity.
type EncodeFunc func(w io.Writer, img image.Image, req Request) (*Degradation, error)

func (c *Converter) defaultEncoders() map[format.Format]EncodeFunc {
	return map[format.Format]EncodeFunc{
		format.PNG:  imagingEncoder(imaging.PNG),
		format.JPEG: imagingEncoder(imaging.JPEG, imaging.JPEGQuality(c.opts.JPEGQuality)),
		format.GIF:  encodeGIF,
		format.BMP:  imagingEncoder(imaging.BMP),
		format.TIFF: imagingEncoder(imaging.TIFF),
		format.WEBP: c.encodeWEBP,
		format.ICO:  c.encodeICO,
	}
}

func imagingEncoder(f imaging.Format, opts ...imaging.EncodeOption) EncodeFunc {
	return func(w io.Writer, img image.Image, _ Request) (*Degradation, error) {
		return nil, imaging.Encode(w, img, f, opts...)
	}
}

// encodeGIF keeps transparency by quantising onto a palette whose first entry
// is transparent. Opaque images go through imaging unchanged. GIF stores only
// on/off transparency, so partial alpha is thresholded and reported.
func encodeGIF(w io.Writer, img image.Image, _ Request) (*Degradation, error) {
	transparent, partial := alphaProfile(img)
	if !transparent && !partial {
		return nil, imaging.Encode(w, img, imaging.GIF)
	}

	if err := gif.Encode(w, animation.Quantize(img), nil); err != nil {
		return nil, err
	}
	if partial {
		return &Degradation{
			Kind:   DegradedCompositing,
			Reason: "GIF supports only binary transparency, partial alpha was thresholded",
		}, nil
	}
	return nil, nil
}

// alphaProfile reports whether img has fully transparent pixels and whether
// it has partially transparent ones.
func alphaProfile(img image.Image) (transparent, partial bool) {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return false, false
	}
	pix := imaging.Clone(img).Pix
	for i := 3; i < len(pix); i += 4 {
		switch a := pix[i]; {
		case a == 0:
			transparent = true
		case a < 0xff:
			partial = true
		}
		if transparent && partial {
			break
		}
	}
	return transparent, partial
}

func (c *Converter) encodeWEBP(w io.Writer, img image.Image, _ Request) (*Degradation, error) {
	return nil, webp.Encode(w, img, &webp.Options{
		Lossless: c.opts.WEBPLossless,
		Quality:  c.opts.WEBPQuality,
	})
}

func (c *Converter) encodeICO(w io.Writer, img image.Image, req Request) (*Degradation, error) {
	sizes := req.IconSizes
	if len(sizes) == 0 {
		var err error
		if sizes, err = icopack.Resolve(icopack.DefaultPreset, ""); err != nil {
			return nil, err
		}
	}

	packed, err := c.packer.Pack(img, sizes)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(w, bytes.NewReader(packed.Data)); err != nil {
		return nil, err
	}
	if packed.Degraded {
		return &Degradation{Kind: DegradedIcon, Reason: packed.Reason}, nil
	}
	return nil, nil
}
