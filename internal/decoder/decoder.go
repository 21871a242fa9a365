package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"formatforge-go/internal/extractor"
	"formatforge-go/internal/format"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	ico "github.com/sergeymakinen/go-ico"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	xwebp "golang.org/x/image/webp"
)

// ErrUndecodable is returned when the payload is not a recognised, decodable image.
var ErrUndecodable = errors.New("undecodable image")

// Options controls optional decode behaviour.
type Options struct {
	// AutoOrient applies the EXIF orientation tag to the pixels.
	AutoOrient bool
	// MaxPixels rejects images whose width*height exceeds it. Zero disables the check.
	MaxPixels int
}

// Decoder turns encoded bytes into an Image.
type Decoder struct {
	opts   Options
	exif   extractor.MetadataExtractor
	logger logrus.FieldLogger
}

// New returns a Decoder. A nil logger discards debug output.
func New(opts Options, logger logrus.FieldLogger) *Decoder {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		logger = l
	}
	return &Decoder{
		opts:   opts,
		exif:   extractor.NewEXIFExtractor(logger),
		logger: logger,
	}
}

// Decode decodes data with default options.
func Decode(data []byte) (*Image, error) {
	return New(Options{}, nil).Decode(data)
}

// Decode identifies the container, decodes every pixel (and every frame for
// animated GIF and WEBP) and returns the materialised image.
func (d *Decoder) Decode(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUndecodable)
	}

	mime := mimetype.Detect(data)
	f, ok := format.FromMIME(mime.String())
	if !ok {
		return nil, fmt.Errorf("%w: unrecognized container %s", ErrUndecodable, mime.String())
	}

	if err := d.checkDimensions(f, data); err != nil {
		return nil, err
	}

	img, err := decodeFormat(f, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUndecodable, f, err)
	}
	img.Format = f
	img.MIME = mime.String()

	if d.exif.Supports(img.MIME) {
		if meta, err := d.exif.Extract(data); err == nil {
			img.Metadata = meta
		} else {
			d.logger.Debugf("No EXIF metadata: %v", err)
		}
	}

	if d.opts.AutoOrient && img.Metadata != nil && img.Metadata.Orientation.NeedsTransform() && !img.IsAnimated() {
		oriented := orient(img.Pixels, img.Metadata.Orientation)
		b := oriented.Bounds()
		img.Pixels, img.Width, img.Height = oriented, b.Dx(), b.Dy()
		if img.Mode == ModePaletted {
			img.Mode = ModeRGBA
		}
	}

	return img, nil
}

func (d *Decoder) checkDimensions(f format.Format, data []byte) error {
	if d.opts.MaxPixels <= 0 {
		return nil
	}

	var (
		cfg image.Config
		err error
	)
	r := bytes.NewReader(data)
	switch f {
	case format.PNG:
		cfg, err = png.DecodeConfig(r)
	case format.JPEG:
		cfg, err = jpeg.DecodeConfig(r)
	case format.GIF:
		cfg, err = gif.DecodeConfig(r)
	case format.BMP:
		cfg, err = bmp.DecodeConfig(r)
	case format.TIFF:
		cfg, err = tiff.DecodeConfig(r)
	case format.WEBP:
		cfg, err = xwebp.DecodeConfig(r)
	default:
		// ICO entries are bounded by the container.
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %s header: %v", ErrUndecodable, f, err)
	}
	if cfg.Width*cfg.Height > d.opts.MaxPixels {
		return fmt.Errorf("%w: %dx%d exceeds pixel limit %d", ErrUndecodable, cfg.Width, cfg.Height, d.opts.MaxPixels)
	}
	return nil
}

func decodeFormat(f format.Format, data []byte) (*Image, error) {
	r := bytes.NewReader(data)

	var (
		pixels image.Image
		err    error
	)
	switch f {
	case format.PNG:
		pixels, err = png.Decode(r)
	case format.JPEG:
		pixels, err = jpeg.Decode(r)
	case format.GIF:
		return decodeGIF(r)
	case format.BMP:
		pixels, err = bmp.Decode(r)
	case format.TIFF:
		pixels, err = tiff.Decode(r)
	case format.WEBP:
		return decodeWEBP(data)
	case format.ICO:
		pixels, err = ico.Decode(r)
	default:
		return nil, fmt.Errorf("no decoder for %s", f)
	}
	if err != nil {
		return nil, err
	}
	return FromImage(pixels), nil
}

func orient(img image.Image, o extractor.Orientation) image.Image {
	switch o {
	case extractor.OrientationFlipH:
		return imaging.FlipH(img)
	case extractor.OrientationFlipV:
		return imaging.FlipV(img)
	case extractor.OrientationRotate90:
		return imaging.Rotate90(img)
	case extractor.OrientationRotate180:
		return imaging.Rotate180(img)
	case extractor.OrientationRotate270:
		return imaging.Rotate270(img)
	case extractor.OrientationTranspose:
		return imaging.Transpose(img)
	case extractor.OrientationTransverse:
		return imaging.Transverse(img)
	default:
		return img
	}
}

// DetectedFormat names the source format of img: the container format when
// known, else the extension of filenameHint, else the pixel mode.
func DetectedFormat(img *Image, filenameHint string) string {
	if img.Format.IsValid() {
		return img.Format.String()
	}
	if ext := strings.TrimPrefix(filepath.Ext(filenameHint), "."); ext != "" {
		return strings.ToUpper(ext)
	}
	return img.Mode.String()
}
