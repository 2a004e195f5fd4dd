package models

// Stream is a named geographic CCTV entry. The playlist URL is never
// stored; it is resolved on demand from the coordinate at the moment a
// recording starts.
type Stream struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	CoordX float64 `json:"coordx"`
	CoordY float64 `json:"coordy"`
	Avail  bool    `json:"avail"`
}
