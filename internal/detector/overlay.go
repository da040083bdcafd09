package detector

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const boxThickness = 2

var (
	boxColor   = color.RGBA{0, 255, 0, 255}
	labelBg    = color.RGBA{0, 0, 0, 180}
	labelColor = color.RGBA{0, 255, 0, 255}
)

// DrawOverlays decodes jpegData, draws a box and label for each detection
// and re-encodes the result at the given quality.
func DrawOverlays(jpegData []byte, dets []Detection, quality int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	for _, d := range dets {
		r := image.Rect(int(d.Box.X1), int(d.Box.Y1), int(d.Box.X2), int(d.Box.Y2)).Intersect(bounds)
		if r.Empty() {
			continue
		}
		drawBox(rgba, r, boxColor, boxThickness)
		drawLabel(rgba, r.Min.X, r.Min.Y-14, fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence), labelColor)
	}

	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return buf.Bytes(), nil
}

func drawBox(img *image.RGBA, r image.Rectangle, c color.Color, thickness int) {
	for t := 0; t < thickness; t++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.Set(x, r.Min.Y+t, c)
			img.Set(x, r.Max.Y-1-t, c)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			img.Set(r.Min.X+t, y, c)
			img.Set(r.Max.X-1-t, y, c)
		}
	}
}

// drawLabel renders text on a translucent black strip. A label that would
// start above the image is moved inside the box.
func drawLabel(img *image.RGBA, x, y int, text string, c color.Color) {
	if y < img.Bounds().Min.Y {
		y = img.Bounds().Min.Y + boxThickness
	}
	width := len(text) * 7
	bg := image.Rect(x, y, x+width+4, y+14).Intersect(img.Bounds())
	draw.Draw(img, bg, image.NewUniform(labelBg), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x + 2), Y: fixed.I(y + 11)},
	}
	d.DrawString(text)
}
