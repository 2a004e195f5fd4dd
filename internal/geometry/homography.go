// Package geometry implements the perspective rectification pipeline used
// by the analysis driver: the 3x3 homography, the detection table
// transform, gap interpolation, and the windowed speed estimate.
package geometry

import (
	"math"

	"github.com/recanalyzer/recanalyzer/internal/models"
)

// Point is a 2D image-plane point.
type Point struct {
	X float64
	Y float64
}

// DestinationRect derives the top-down target rectangle from the ROI
// quadrilateral, given in order lt, lb, rt, rb. Width follows the bottom
// edge length, height follows the physical road aspect ratio.
func DestinationRect(roi [4]Point, ratio float64) (dst [4]Point, width, height int) {
	lb, rb := roi[1], roi[3]
	w := math.Sqrt((lb.X-rb.X)*(lb.X-rb.X) + (lb.Y-rb.Y)*(lb.Y-rb.Y))
	width = int(w)
	height = int(math.Round(w * ratio))
	dst = [4]Point{
		{0, 0},
		{0, float64(height)},
		{float64(width), 0},
		{float64(width), float64(height)},
	}
	return dst, width, height
}

// Homography is a 3x3 projective transform in row-major order.
type Homography struct {
	m [9]float64
}

// NewHomography solves for the transform mapping the four source points
// onto the four destination points. Degenerate quadrilaterals (three
// collinear points) make the system singular and fail with a validation
// error.
func NewHomography(src, dst [4]Point) (*Homography, error) {
	// Each correspondence yields two rows of the 8x8 system A·h = b with
	// h = (h0..h7) and h8 fixed at 1.
	var a [8][9]float64
	for i := 0; i < 4; i++ {
		sx, sy := src[i].X, src[i].Y
		dx, dy := dst[i].X, dst[i].Y
		a[2*i] = [9]float64{sx, sy, 1, 0, 0, 0, -sx * dx, -sy * dx, dx}
		a[2*i+1] = [9]float64{0, 0, 0, sx, sy, 1, -sx * dy, -sy * dy, dy}
	}

	// Gaussian elimination with partial pivoting.
	for col := 0; col < 8; col++ {
		pivot := col
		for row := col + 1; row < 8; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, models.Validationf("degenerate ROI quadrilateral")
		}
		a[col], a[pivot] = a[pivot], a[col]

		for row := 0; row < 8; row++ {
			if row == col {
				continue
			}
			factor := a[row][col] / a[col][col]
			for k := col; k < 9; k++ {
				a[row][k] -= factor * a[col][k]
			}
		}
	}

	var h Homography
	for i := 0; i < 8; i++ {
		h.m[i] = a[i][8] / a[i][i]
	}
	h.m[8] = 1
	return &h, nil
}

// Apply maps a point through the transform.
func (h *Homography) Apply(p Point) Point {
	w := h.m[6]*p.X + h.m[7]*p.Y + h.m[8]
	if w == 0 {
		return Point{X: math.Inf(1), Y: math.Inf(1)}
	}
	return Point{
		X: (h.m[0]*p.X + h.m[1]*p.Y + h.m[2]) / w,
		Y: (h.m[3]*p.X + h.m[4]*p.Y + h.m[5]) / w,
	}
}

// Inverse returns the inverse transform, used to warp whole frames by
// destination-pixel lookup.
func (h *Homography) Inverse() (*Homography, error) {
	m := h.m
	det := m[0]*(m[4]*m[8]-m[5]*m[7]) -
		m[1]*(m[3]*m[8]-m[5]*m[6]) +
		m[2]*(m[3]*m[7]-m[4]*m[6])
	if math.Abs(det) < 1e-12 {
		return nil, models.Validationf("homography is not invertible")
	}
	inv := &Homography{}
	inv.m[0] = (m[4]*m[8] - m[5]*m[7]) / det
	inv.m[1] = (m[2]*m[7] - m[1]*m[8]) / det
	inv.m[2] = (m[1]*m[5] - m[2]*m[4]) / det
	inv.m[3] = (m[5]*m[6] - m[3]*m[8]) / det
	inv.m[4] = (m[0]*m[8] - m[2]*m[6]) / det
	inv.m[5] = (m[2]*m[3] - m[0]*m[5]) / det
	inv.m[6] = (m[3]*m[7] - m[4]*m[6]) / det
	inv.m[7] = (m[1]*m[6] - m[0]*m[7]) / det
	inv.m[8] = (m[0]*m[4] - m[1]*m[3]) / det
	return inv, nil
}
