package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recanalyzer/recanalyzer/internal/repository"
)

func newStreamHandler(t *testing.T) *StreamHandler {
	t.Helper()
	streams, err := repository.NewJSONStreamRepository(t.TempDir())
	require.NoError(t, err)
	return NewStreamHandler(streams)
}

func TestStreamHandler_AddAndList(t *testing.T) {
	handler := newStreamHandler(t)

	added, err := handler.AddStream(context.Background(), &AddStreamInput{
		Name: "cam1", CoordX: 127.1, CoordY: 37.5,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, added.Body.ID)
	assert.True(t, added.Body.Avail)

	listed, err := handler.ListStreams(context.Background(), &struct{}{})
	require.NoError(t, err)
	require.Len(t, listed.Body, 1)
	assert.Equal(t, "cam1", listed.Body[0].Name)
}

func TestStreamHandler_AddDuplicate(t *testing.T) {
	handler := newStreamHandler(t)

	_, err := handler.AddStream(context.Background(), &AddStreamInput{Name: "cam1", CoordX: 1, CoordY: 2})
	require.NoError(t, err)

	_, err = handler.AddStream(context.Background(), &AddStreamInput{Name: "cam1", CoordX: 1, CoordY: 2})
	require.Error(t, err)
	var serr huma.StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusBadRequest, serr.GetStatus())
}

func TestStreamHandler_Delete(t *testing.T) {
	handler := newStreamHandler(t)

	_, err := handler.AddStream(context.Background(), &AddStreamInput{Name: "cam1", CoordX: 1, CoordY: 2})
	require.NoError(t, err)

	removed, err := handler.DeleteStream(context.Background(), &DeleteStreamInput{Name: "cam1"})
	require.NoError(t, err)
	assert.Equal(t, "cam1", removed.Body.Name)

	_, err = handler.DeleteStream(context.Background(), &DeleteStreamInput{Name: "cam1"})
	require.Error(t, err)
	var serr huma.StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusNotFound, serr.GetStatus())
}
