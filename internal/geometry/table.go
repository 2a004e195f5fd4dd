package geometry

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"github.com/recanalyzer/recanalyzer/internal/models"
)

// Row is one detection-table record. PerspX, PerspY and SpeedKMH are
// populated by the analysis pipeline; SpeedKMH is NaN where the speed
// window has no predecessor.
type Row struct {
	ObjID    int
	Frame    int
	ClsID    int
	X        float64
	Y        float64
	PerspX   float64
	PerspY   float64
	SpeedKMH float64
}

var detectionHeader = []string{"frame", "objid", "clsid", "x", "y"}

var analyzedHeader = []string{"objid", "frame", "clsid", "x", "y", "perspx", "perspy", "speed"}

// ReadDetections parses a detection CSV written by the tracking driver.
func ReadDetections(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, models.Validationf("reading detection table: %v", err)
	}
	if len(records) == 0 {
		return nil, models.Validationf("detection table is empty")
	}

	rows := make([]Row, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) < 5 {
			return nil, models.Validationf("detection table line %d has %d columns", i+2, len(rec))
		}
		frame, err1 := strconv.Atoi(rec[0])
		objid, err2 := strconv.Atoi(rec[1])
		clsid, err3 := strconv.Atoi(rec[2])
		x, err4 := strconv.ParseFloat(rec[3], 64)
		y, err5 := strconv.ParseFloat(rec[4], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			return nil, models.Validationf("detection table line %d is malformed", i+2)
		}
		rows = append(rows, Row{
			Frame:    frame,
			ObjID:    objid,
			ClsID:    clsid,
			X:        x,
			Y:        y,
			SpeedKMH: math.NaN(),
		})
	}
	return rows, nil
}

// WriteDetections writes the tracking-driver CSV.
func WriteDetections(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(detectionHeader); err != nil {
		return err
	}
	for _, row := range rows {
		rec := []string{
			strconv.Itoa(row.Frame),
			strconv.Itoa(row.ObjID),
			strconv.Itoa(row.ClsID),
			formatFloat(row.X),
			formatFloat(row.Y),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAnalyzed writes the full analysis CSV. NaN speeds serialise as an
// empty field.
func WriteAnalyzed(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(analyzedHeader); err != nil {
		return err
	}
	for _, row := range rows {
		speed := ""
		if !math.IsNaN(row.SpeedKMH) {
			speed = formatFloat(row.SpeedKMH)
		}
		rec := []string{
			strconv.Itoa(row.ObjID),
			strconv.Itoa(row.Frame),
			strconv.Itoa(row.ClsID),
			formatFloat(row.X),
			formatFloat(row.Y),
			formatFloat(row.PerspX),
			formatFloat(row.PerspY),
			speed,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
