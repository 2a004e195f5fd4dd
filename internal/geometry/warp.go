package geometry

import (
	"image"
	"math"
)

// Warp renders the top-down view of src: every destination pixel is looked
// up through the inverse transform with nearest-neighbour sampling. Pixels
// mapping outside the source stay black.
func Warp(src *image.RGBA, inverse *Homography, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	bounds := src.Bounds()

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p := inverse.Apply(Point{X: float64(x), Y: float64(y)})
			sx := int(math.Round(p.X))
			sy := int(math.Round(p.Y))
			if sx < bounds.Min.X || sx >= bounds.Max.X || sy < bounds.Min.Y || sy >= bounds.Max.Y {
				continue
			}
			si := src.PixOffset(sx, sy)
			di := dst.PixOffset(x, y)
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return dst
}
