// Package vision provides the object-detection client, the multi-object
// tracker, and the frame annotation helpers used by the tracking and
// analysis drivers.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/recanalyzer/recanalyzer/internal/models"
)

// Detection is one detector hit in pixel coordinates.
type Detection struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"clsid"`
}

// CenterX returns the horizontal centre of the box.
func (d Detection) CenterX() float64 { return (d.X1 + d.X2) / 2 }

// CenterY returns the vertical centre of the box.
func (d Detection) CenterY() float64 { return (d.Y1 + d.Y2) / 2 }

// Detector runs object detection over a single frame. Implementations must
// be safe for sequential reuse across frames.
type Detector interface {
	Detect(ctx context.Context, frame *image.RGBA, confidence float64) ([]Detection, error)
}

// HTTPDetector sends JPEG-encoded frames to an external detection service
// and decodes the returned detection list.
type HTTPDetector struct {
	endpoint   string
	httpClient *http.Client
	quality    int
}

// NewHTTPDetector creates a detector client for the given service endpoint.
func NewHTTPDetector(endpoint string) *HTTPDetector {
	return &HTTPDetector{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		quality:    85,
	}
}

// Detect posts the frame and returns detections at or above the threshold.
func (d *HTTPDetector) Detect(ctx context.Context, frame *image.RGBA, confidence float64) ([]Detection, error) {
	var body bytes.Buffer
	if err := jpeg.Encode(&body, frame, &jpeg.Options{Quality: d.quality}); err != nil {
		return nil, models.Externalf("encoding frame: %v", err)
	}

	q := url.Values{}
	q.Set("confidence", strconv.FormatFloat(confidence, 'f', -1, 64))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"?"+q.Encode(), &body)
	if err != nil {
		return nil, models.Externalf("building detection request: %v", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, models.Externalf("detection request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, models.Externalf("detection service returned HTTP %d", resp.StatusCode)
	}

	var detections []Detection
	if err := json.NewDecoder(resp.Body).Decode(&detections); err != nil {
		return nil, models.Externalf("decoding detections: %v", err)
	}

	// The service is expected to apply the threshold itself; filter again
	// so a permissive deployment cannot leak low-confidence hits.
	out := detections[:0]
	for _, det := range detections {
		if det.Confidence >= confidence {
			out = append(out, det)
		}
	}
	return out, nil
}
