package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/recanalyzer/recanalyzer/internal/models"
	"github.com/recanalyzer/recanalyzer/internal/repository"
)

// StreamHandler serves the CCTV stream catalog.
type StreamHandler struct {
	streams repository.StreamRepository
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(streams repository.StreamRepository) *StreamHandler {
	return &StreamHandler{streams: streams}
}

// ListStreamsOutput is the response for listing streams.
type ListStreamsOutput struct {
	Body []*models.Stream
}

// AddStreamInput carries the query parameters of a stream registration.
type AddStreamInput struct {
	Name   string  `query:"cctvname" required:"true" doc:"Unique stream name"`
	CoordX float64 `query:"coordx" required:"true" doc:"Longitude in decimal degrees"`
	CoordY float64 `query:"coordy" required:"true" doc:"Latitude in decimal degrees"`
}

// StreamOutput wraps a single stream.
type StreamOutput struct {
	Body *models.Stream
}

// DeleteStreamInput identifies a stream by name.
type DeleteStreamInput struct {
	Name string `path:"cctvname" doc:"Stream name"`
}

// Register registers the stream routes with the API.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listStreams",
		Method:      "GET",
		Path:        "/stream",
		Summary:     "List all streams",
		Tags:        []string{"Streams"},
	}, h.ListStreams)

	huma.Register(api, huma.Operation{
		OperationID: "addStream",
		Method:      "POST",
		Path:        "/stream",
		Summary:     "Add a stream",
		Tags:        []string{"Streams"},
	}, h.AddStream)

	huma.Register(api, huma.Operation{
		OperationID: "deleteStream",
		Method:      "DELETE",
		Path:        "/stream/{cctvname}",
		Summary:     "Remove a stream",
		Tags:        []string{"Streams"},
	}, h.DeleteStream)
}

// ListStreams returns every catalogued stream.
func (h *StreamHandler) ListStreams(ctx context.Context, input *struct{}) (*ListStreamsOutput, error) {
	return &ListStreamsOutput{Body: h.streams.GetAll()}, nil
}

// AddStream registers a stream and returns it.
func (h *StreamHandler) AddStream(ctx context.Context, input *AddStreamInput) (*StreamOutput, error) {
	stream, err := h.streams.Save(input.Name, input.CoordX, input.CoordY)
	if err != nil {
		return nil, domainError(err)
	}
	return &StreamOutput{Body: stream}, nil
}

// DeleteStream removes a stream and returns the removed entry.
func (h *StreamHandler) DeleteStream(ctx context.Context, input *DeleteStreamInput) (*StreamOutput, error) {
	stream, err := h.streams.Delete(input.Name)
	if err != nil {
		return nil, domainError(err)
	}
	return &StreamOutput{Body: stream}, nil
}
