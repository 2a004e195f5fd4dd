package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/recanalyzer/recanalyzer/internal/codec"
	"github.com/recanalyzer/recanalyzer/internal/models"
	"github.com/recanalyzer/recanalyzer/internal/repository"
)

// OutputHandler serves the output catalog and video previews.
type OutputHandler struct {
	outputs   repository.OutputRepository
	previewer *codec.Previewer
}

// NewOutputHandler creates an output handler.
func NewOutputHandler(outputs repository.OutputRepository, previewer *codec.Previewer) *OutputHandler {
	return &OutputHandler{outputs: outputs, previewer: previewer}
}

// ListOutputsOutput is the response for listing outputs.
type ListOutputsOutput struct {
	Body []*models.Output
}

// OutputByNameInput identifies an output by its unique name.
type OutputByNameInput struct {
	Name string `path:"name" doc:"Output name"`
}

// OutputByTaskInput identifies the outputs of one task.
type OutputByTaskInput struct {
	TaskID string `path:"taskid" doc:"Owning task identifier"`
}

// SingleOutputOutput wraps one output entry.
type SingleOutputOutput struct {
	Body *models.Output
}

// Register registers the output routes. The preview route streams JPEG
// bytes, so it is mounted on the router directly.
func (h *OutputHandler) Register(api huma.API, router chi.Router) {
	huma.Register(api, huma.Operation{
		OperationID: "listOutputs",
		Method:      "GET",
		Path:        "/output",
		Summary:     "List all outputs",
		Tags:        []string{"Outputs"},
	}, h.ListOutputs)

	huma.Register(api, huma.Operation{
		OperationID: "getOutputByName",
		Method:      "GET",
		Path:        "/output/name/{name}",
		Summary:     "Get one output by name",
		Tags:        []string{"Outputs"},
	}, h.GetByName)

	huma.Register(api, huma.Operation{
		OperationID: "getOutputsByTask",
		Method:      "GET",
		Path:        "/output/{taskid}",
		Summary:     "Get all outputs of a task",
		Tags:        []string{"Outputs"},
	}, h.GetByTask)

	huma.Register(api, huma.Operation{
		OperationID: "deleteOutputsByTask",
		Method:      "DELETE",
		Path:        "/output/{taskid}",
		Summary:     "Remove all outputs of a task",
		Tags:        []string{"Outputs"},
	}, h.DeleteByTask)

	router.Get("/output/video/preview/{name}", h.Preview)
}

// ListOutputs returns the whole catalog in insertion order.
func (h *OutputHandler) ListOutputs(ctx context.Context, input *struct{}) (*ListOutputsOutput, error) {
	return &ListOutputsOutput{Body: h.outputs.GetAll()}, nil
}

// GetByName returns the single output with the given name.
func (h *OutputHandler) GetByName(ctx context.Context, input *OutputByNameInput) (*SingleOutputOutput, error) {
	output, err := h.outputs.GetByName(input.Name)
	if err != nil {
		return nil, domainError(err)
	}
	return &SingleOutputOutput{Body: output}, nil
}

// GetByTask returns the task's outputs in insertion order. A task with no
// outputs yields an empty array, not 404.
func (h *OutputHandler) GetByTask(ctx context.Context, input *OutputByTaskInput) (*ListOutputsOutput, error) {
	return &ListOutputsOutput{Body: h.outputs.GetByTaskID(input.TaskID)}, nil
}

// DeleteByTask removes every output of the task together with the files.
func (h *OutputHandler) DeleteByTask(ctx context.Context, input *OutputByTaskInput) (*ListOutputsOutput, error) {
	removed := h.outputs.GetByTaskID(input.TaskID)
	if err := h.outputs.Delete(input.TaskID); err != nil {
		return nil, domainError(err)
	}
	return &ListOutputsOutput{Body: removed}, nil
}

// Preview extracts a JPEG thumbnail of a video output. With random=true a
// uniformly random frame is used instead of the first one.
func (h *OutputHandler) Preview(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	output, err := h.outputs.GetByName(name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if output.Type != models.OutputTypeVideoMP4 {
		writeDomainError(w, models.Validationf("output %s is not a video", name))
		return
	}

	random := false
	if raw := r.URL.Query().Get("random"); raw != "" {
		random, err = strconv.ParseBool(raw)
		if err != nil {
			writeDomainError(w, models.Validationf("random: %v", err))
			return
		}
	}

	jpegBytes, err := h.previewer.JPEG(r.Context(), h.outputs.FilePath(name), random)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(jpegBytes)))
	_, _ = w.Write(jpegBytes)
}
