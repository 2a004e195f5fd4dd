package handlers

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recanalyzer/recanalyzer/internal/models"
	"github.com/recanalyzer/recanalyzer/internal/repository"
)

func newOutputHandler(t *testing.T) (*OutputHandler, repository.OutputRepository) {
	t.Helper()
	dir := t.TempDir()
	outputs, err := repository.NewJSONOutputRepository(dir, filepath.Join(dir, "outputs"), nil)
	require.NoError(t, err)
	return NewOutputHandler(outputs, nil), outputs
}

func TestOutputHandler_ListOutputs(t *testing.T) {
	handler, outputs := newOutputHandler(t)
	require.NoError(t, outputs.Save(models.NewOutput("t1", "t1.mp4", models.OutputTypeVideoMP4, "", nil)))

	out, err := handler.ListOutputs(context.Background(), &struct{}{})
	require.NoError(t, err)
	assert.Len(t, out.Body, 1)
}

func TestOutputHandler_GetByName(t *testing.T) {
	handler, outputs := newOutputHandler(t)
	require.NoError(t, outputs.Save(models.NewOutput("t1", "t1.mp4", models.OutputTypeVideoMP4, "clip", nil)))

	out, err := handler.GetByName(context.Background(), &OutputByNameInput{Name: "t1.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "clip", out.Body.Desc)

	_, err = handler.GetByName(context.Background(), &OutputByNameInput{Name: "missing"})
	require.Error(t, err)
	var serr huma.StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusNotFound, serr.GetStatus())
}

func TestOutputHandler_GetByTask_EmptyIsNotAnError(t *testing.T) {
	handler, _ := newOutputHandler(t)

	out, err := handler.GetByTask(context.Background(), &OutputByTaskInput{TaskID: "none"})
	require.NoError(t, err)
	assert.NotNil(t, out.Body)
	assert.Empty(t, out.Body)
}

func TestOutputHandler_DeleteByTask(t *testing.T) {
	handler, outputs := newOutputHandler(t)
	require.NoError(t, outputs.Save(models.NewOutput("t1", "t1.mp4", models.OutputTypeVideoMP4, "", nil)))
	require.NoError(t, outputs.Save(models.NewOutput("t1", "t1.csv", models.OutputTypeDetection, "", nil)))

	out, err := handler.DeleteByTask(context.Background(), &OutputByTaskInput{TaskID: "t1"})
	require.NoError(t, err)
	assert.Len(t, out.Body, 2)
	assert.Empty(t, outputs.GetByTaskID("t1"))
}
