package vision

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// palette gives each track a stable colour derived from its ID.
var palette = []color.RGBA{
	{R: 230, G: 57, B: 70, A: 255},
	{R: 46, G: 196, B: 182, A: 255},
	{R: 255, G: 183, B: 3, A: 255},
	{R: 131, G: 56, B: 236, A: 255},
	{R: 58, G: 134, B: 255, A: 255},
	{R: 251, G: 86, B: 7, A: 255},
	{R: 6, G: 214, B: 160, A: 255},
	{R: 239, G: 71, B: 111, A: 255},
}

// TrackColor returns the palette colour for a track ID.
func TrackColor(id int) color.RGBA {
	return palette[id%len(palette)]
}

// DrawBox draws a rectangle outline onto img.
func DrawBox(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	for x := x1; x <= x2; x++ {
		setPixel(img, x, y1, c)
		setPixel(img, x, y2, c)
	}
	for y := y1; y <= y2; y++ {
		setPixel(img, x1, y, c)
		setPixel(img, x2, y, c)
	}
}

// DrawLine draws a straight segment between two points.
func DrawLine(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	dx := math.Abs(float64(x2 - x1))
	dy := math.Abs(float64(y2 - y1))
	steps := int(math.Max(dx, dy))
	if steps == 0 {
		setPixel(img, x1, y1, c)
		return
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := x1 + int(math.Round(t*float64(x2-x1)))
		y := y1 + int(math.Round(t*float64(y2-y1)))
		setPixel(img, x, y, c)
	}
}

// DrawTrail draws a polyline joining consecutive points.
func DrawTrail(img *image.RGBA, points []image.Point, c color.RGBA) {
	for i := 1; i < len(points); i++ {
		DrawLine(img, points[i-1].X, points[i-1].Y, points[i].X, points[i].Y, c)
	}
}

// DrawLabel renders small text at (x, y), the baseline-left corner.
func DrawLabel(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

// AnnotateTrack draws the box and "id:class" label for one confirmed track.
func AnnotateTrack(img *image.RGBA, trk TrackedObject) {
	c := TrackColor(trk.ID)
	x1, y1 := int(trk.Box.X1), int(trk.Box.Y1)
	x2, y2 := int(trk.Box.X2), int(trk.Box.Y2)
	DrawBox(img, x1, y1, x2, y2, c)
	DrawLabel(img, x1, y1-3, fmt.Sprintf("%d:%d", trk.ID, trk.ClassID), c)
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}
