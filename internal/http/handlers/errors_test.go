package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recanalyzer/recanalyzer/internal/models"
)

func TestDomainError_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", models.NotFoundf("task x"), http.StatusNotFound},
		{"validation", models.Validationf("bad roi"), http.StatusBadRequest},
		{"external", models.Externalf("directory down"), http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domainError(tt.err).GetStatus())
		})
	}
}

func TestWriteDomainError_Body(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, models.NotFoundf("task abc"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "task abc", body["message"])
	// The compact shape carries nothing but the message.
	assert.Len(t, body, 1)
}

func TestUseCompactErrors(t *testing.T) {
	UseCompactErrors()

	serr := huma.NewError(http.StatusBadRequest, "invalid value", errors.New("confidence out of range"))
	require.IsType(t, &ErrorModel{}, serr)
	assert.Equal(t, http.StatusBadRequest, serr.GetStatus())
	assert.Equal(t, "invalid value: confidence out of range", serr.Error())
}
