// Package imaging stores frames on disk and draws detection boxes on them.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"herdwatch/internal/engine"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	JPEGQuality  = 90
	boxThickness = 2
)

var (
	boxColor   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	labelColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	labelBg    = color.RGBA{R: 0, G: 128, B: 0, A: 255}
)

// Annotator draws detection boxes and a confidence label onto JPEG frames.
type Annotator struct {
	Quality int
}

func NewAnnotator() *Annotator {
	return &Annotator{Quality: JPEGQuality}
}

// Annotate decodes data, draws every detection and re-encodes as JPEG.
func (a *Annotator) Annotate(data []byte, dets []engine.Detection, confidence float64) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	img := image.NewRGBA(src.Bounds())
	draw.Draw(img, img.Bounds(), src, src.Bounds().Min, draw.Src)

	for _, d := range dets {
		rect := image.Rect(int(d.Box[0]), int(d.Box[1]), int(d.Box[2]), int(d.Box[3])).Intersect(img.Bounds())
		if rect.Empty() {
			continue
		}
		drawRectangle(img, rect, boxColor, boxThickness)
		addLabel(img, fmt.Sprintf("%.2f", d.Confidence), image.Pt(rect.Min.X, rect.Min.Y))
	}
	addLabel(img, fmt.Sprintf("Conf: %.2f", confidence), image.Pt(img.Bounds().Min.X+5, img.Bounds().Min.Y+18))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: a.Quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func drawRectangle(img *image.RGBA, rect image.Rectangle, col color.Color, thickness int) {
	for i := 0; i < thickness; i++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.Set(x, rect.Min.Y+i, col)
			img.Set(x, rect.Max.Y-i-1, col)
		}
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			img.Set(rect.Min.X+i, y, col)
			img.Set(rect.Max.X-i-1, y, col)
		}
	}
}

// addLabel writes text with its baseline at pt over a filled background.
func addLabel(img *image.RGBA, text string, pt image.Point) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(labelColor),
		Face: face,
	}
	width := d.MeasureString(text).Ceil()
	metrics := face.Metrics()
	if pt.Y-metrics.Ascent.Ceil() < img.Bounds().Min.Y {
		pt.Y = img.Bounds().Min.Y + metrics.Ascent.Ceil()
	}
	bg := image.Rect(pt.X, pt.Y-metrics.Ascent.Ceil(), pt.X+width+2, pt.Y+metrics.Descent.Ceil()).Intersect(img.Bounds())
	draw.Draw(img, bg, image.NewUniform(labelBg), image.Point{}, draw.Src)

	d.Dot = fixed.P(pt.X+1, pt.Y)
	d.DrawString(text)
}
