package vision

// TrackedObject is one object identity maintained across frames.
type TrackedObject struct {
	ID      int
	ClassID int
	Box     Detection
	// hits counts consecutive matched frames; a track is reported only
	// after minHits. misses counts consecutive unmatched frames; the
	// track is dropped after maxMisses.
	hits   int
	misses int
}

// Tracker associates per-frame detections with persistent object IDs by
// greedy IoU matching. It is deliberately simple: CCTV traffic moves
// predictably between consecutive frames, so box overlap alone is a
// reliable association signal.
type Tracker struct {
	iouThreshold float64
	minHits      int
	maxMisses    int

	nextID int
	tracks []*TrackedObject
}

// NewTracker creates a tracker with the default association parameters.
func NewTracker() *Tracker {
	return &Tracker{
		iouThreshold: 0.3,
		minHits:      3,
		maxMisses:    5,
		nextID:       1,
	}
}

// Update feeds one frame's detections and returns the confirmed tracks.
func (t *Tracker) Update(detections []Detection) []TrackedObject {
	matchedDet := make([]bool, len(detections))
	matchedTrk := make([]bool, len(t.tracks))

	// Greedy matching: repeatedly pick the highest-IoU unmatched pair.
	for {
		bestIoU, bestT, bestD := t.iouThreshold, -1, -1
		for ti, trk := range t.tracks {
			if matchedTrk[ti] {
				continue
			}
			for di, det := range detections {
				if matchedDet[di] {
					continue
				}
				if iou := boxIoU(trk.Box, det); iou > bestIoU {
					bestIoU, bestT, bestD = iou, ti, di
				}
			}
		}
		if bestT < 0 {
			break
		}
		matchedTrk[bestT] = true
		matchedDet[bestD] = true
		trk := t.tracks[bestT]
		trk.Box = detections[bestD]
		trk.ClassID = detections[bestD].ClassID
		trk.hits++
		trk.misses = 0
	}

	// Unmatched detections seed new tracks.
	for di, det := range detections {
		if matchedDet[di] {
			continue
		}
		t.tracks = append(t.tracks, &TrackedObject{
			ID:      t.nextID,
			ClassID: det.ClassID,
			Box:     det,
			hits:    1,
		})
		t.nextID++
	}

	// Age unmatched tracks and drop the stale ones.
	kept := t.tracks[:0]
	var confirmed []TrackedObject
	for ti, trk := range t.tracks {
		if ti < len(matchedTrk) && !matchedTrk[ti] {
			trk.misses++
		}
		if trk.misses > t.maxMisses {
			continue
		}
		kept = append(kept, trk)
		if trk.hits >= t.minHits && trk.misses == 0 {
			confirmed = append(confirmed, *trk)
		}
	}
	t.tracks = kept
	return confirmed
}

// boxIoU computes intersection-over-union of two detection boxes.
func boxIoU(a, b Detection) float64 {
	ix1 := max(a.X1, b.X1)
	iy1 := max(a.Y1, b.Y1)
	ix2 := min(a.X2, b.X2)
	iy2 := min(a.Y2, b.Y2)

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	areaA := (a.X2 - a.X1) * (a.Y2 - a.Y1)
	areaB := (b.X2 - b.X1) * (b.Y2 - b.Y1)
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
