package geometry

import (
	"math"
	"sort"
)

// speedWindow is the frame delta used for the speed difference.
const speedWindow = 5

// Transform maps every row's (x, y) through the homography into
// (perspx, perspy).
func Transform(rows []Row, h *Homography) []Row {
	out := make([]Row, len(rows))
	for i, row := range rows {
		p := h.Apply(Point{X: row.X, Y: row.Y})
		row.PerspX = p.X
		row.PerspY = p.Y
		out[i] = row
	}
	return out
}

// FilterROI drops rows whose transformed position falls outside
// [0, width) x [0, height).
func FilterROI(rows []Row, width, height int) []Row {
	out := rows[:0]
	for _, row := range rows {
		if row.PerspX >= 0 && row.PerspX < float64(width) &&
			row.PerspY >= 0 && row.PerspY < float64(height) {
			out = append(out, row)
		}
	}
	return out
}

// Interpolate fills frame gaps per object: each object's frame sequence is
// expanded from its minimum to its maximum frame, clsid is carried across
// the gap, and x, y, perspx, perspy are linearly interpolated between the
// surrounding observed rows.
func Interpolate(rows []Row) []Row {
	byObj := make(map[int][]Row)
	order := make([]int, 0)
	for _, row := range rows {
		if _, ok := byObj[row.ObjID]; !ok {
			order = append(order, row.ObjID)
		}
		byObj[row.ObjID] = append(byObj[row.ObjID], row)
	}
	sort.Ints(order)

	var out []Row
	for _, objid := range order {
		obs := byObj[objid]
		sort.Slice(obs, func(i, j int) bool { return obs[i].Frame < obs[j].Frame })

		for i := 0; i < len(obs); i++ {
			out = append(out, obs[i])
			if i == len(obs)-1 {
				break
			}
			gap := obs[i+1].Frame - obs[i].Frame
			for f := obs[i].Frame + 1; f < obs[i+1].Frame; f++ {
				t := float64(f-obs[i].Frame) / float64(gap)
				out = append(out, Row{
					ObjID:    objid,
					Frame:    f,
					ClsID:    obs[i].ClsID,
					X:        lerp(obs[i].X, obs[i+1].X, t),
					Y:        lerp(obs[i].Y, obs[i+1].Y, t),
					PerspX:   lerp(obs[i].PerspX, obs[i+1].PerspX, t),
					PerspY:   lerp(obs[i].PerspY, obs[i+1].PerspY, t),
					SpeedKMH: math.NaN(),
				})
			}
		}
	}
	return out
}

// SortRows orders rows by (objid, frame) ascending, the order the speed
// window depends on.
func SortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ObjID != rows[j].ObjID {
			return rows[i].ObjID < rows[j].ObjID
		}
		return rows[i].Frame < rows[j].Frame
	})
}

// ComputeSpeeds fills SpeedKMH per object using a fixed five-frame window:
// the perspy delta over the window, scaled by metres-per-pixel and the
// window duration, converted to km/h. Rows without a predecessor five rows
// back keep NaN.
func ComputeSpeeds(rows []Row, fps float64, metersPerPixel float64) {
	if fps <= 0 {
		return
	}
	deltaTime := float64(speedWindow) / fps

	start := 0
	for start < len(rows) {
		end := start
		for end < len(rows) && rows[end].ObjID == rows[start].ObjID {
			end++
		}
		for i := start + speedWindow; i < end; i++ {
			delta := rows[i].PerspY - rows[i-speedWindow].PerspY
			rows[i].SpeedKMH = delta * (metersPerPixel / deltaTime) * 3.6
		}
		start = end
	}
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
