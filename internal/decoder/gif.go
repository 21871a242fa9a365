package decoder

import (
	"image"
	"image/gif"
	"io"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// gifDelayUnit is the resolution of GIF frame delays.
const gifDelayUnit = 10 * time.Millisecond

func decodeGIF(r io.Reader) (*Image, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, err
	}

	canvas := gifCanvas(g)
	if len(g.Image) == 1 && g.Image[0].Bounds() == canvas {
		return FromImage(g.Image[0]), nil
	}

	frames := composeFrames(g, canvas)
	img := FromImage(g.Image[0])
	if g.Image[0].Bounds() != canvas {
		img = FromImage(frames[0].Image)
	}
	if len(frames) > 1 {
		img.Animation = &Animation{
			Frames:       frames,
			LoopCount:    g.LoopCount,
			LoopDeclared: g.LoopCount >= 0,
		}
	}
	return img, nil
}

// gifCanvas returns the logical screen, widened to cover every frame when the
// header under-reports it.
func gifCanvas(g *gif.GIF) image.Rectangle {
	canvas := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	for _, pm := range g.Image {
		canvas = canvas.Union(pm.Bounds())
	}
	return image.Rect(0, 0, canvas.Max.X, canvas.Max.Y)
}

// composeFrames renders each GIF frame onto a running canvas so that every
// returned frame is a complete picture, honouring the disposal of the frame
// before it.
func composeFrames(g *gif.GIF, bounds image.Rectangle) []Frame {
	canvas := image.NewNRGBA(bounds)
	frames := make([]Frame, 0, len(g.Image))

	for i, pm := range g.Image {
		var disposal byte
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}

		var previous *image.NRGBA
		if disposal == gif.DisposalPrevious {
			previous = imaging.Clone(canvas)
		}

		draw.Draw(canvas, pm.Bounds(), pm, pm.Bounds().Min, draw.Over)

		var delay time.Duration
		if i < len(g.Delay) {
			delay = time.Duration(g.Delay[i]) * gifDelayUnit
		}
		frames = append(frames, Frame{
			Image:    imaging.Clone(canvas),
			Duration: delay,
			Disposal: disposal,
		})

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, pm.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = previous
		}
	}
	return frames
}
