package vision

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recanalyzer/recanalyzer/internal/models"
)

func testFrame() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, 32, 32))
}

func TestHTTPDetector_Detect(t *testing.T) {
	var gotContentType, gotConfidence string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotConfidence = r.URL.Query().Get("confidence")
		fmt.Fprint(w, `[{"x1":10,"y1":20,"x2":30,"y2":40,"confidence":0.9,"clsid":2}]`)
	}))
	t.Cleanup(server.Close)

	detector := NewHTTPDetector(server.URL)
	detections, err := detector.Detect(context.Background(), testFrame(), 0.6)
	require.NoError(t, err)

	assert.Equal(t, "image/jpeg", gotContentType)
	assert.Equal(t, "0.6", gotConfidence)
	require.Len(t, detections, 1)
	assert.Equal(t, 10.0, detections[0].X1)
	assert.Equal(t, 2, detections[0].ClassID)
	assert.Equal(t, 20.0, detections[0].CenterX())
	assert.Equal(t, 30.0, detections[0].CenterY())
}

func TestHTTPDetector_RefiltersBelowThreshold(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"x1":0,"y1":0,"x2":10,"y2":10,"confidence":0.9,"clsid":2},
			{"x1":0,"y1":0,"x2":10,"y2":10,"confidence":0.3,"clsid":2}
		]`)
	}))
	t.Cleanup(server.Close)

	detector := NewHTTPDetector(server.URL)
	detections, err := detector.Detect(context.Background(), testFrame(), 0.6)
	require.NoError(t, err)

	require.Len(t, detections, 1)
	assert.Equal(t, 0.9, detections[0].Confidence)
}

func TestHTTPDetector_ServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	detector := NewHTTPDetector(server.URL)
	_, err := detector.Detect(context.Background(), testFrame(), 0.6)
	assert.ErrorIs(t, err, models.ErrExternal)
}

func TestHTTPDetector_EmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	t.Cleanup(server.Close)

	detector := NewHTTPDetector(server.URL)
	detections, err := detector.Detect(context.Background(), testFrame(), 0.6)
	require.NoError(t, err)
	assert.Empty(t, detections)
}
