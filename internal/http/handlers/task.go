package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/recanalyzer/recanalyzer/internal/models"
	"github.com/recanalyzer/recanalyzer/internal/service"
)

// TaskHandler serves the task routes for every registered driver.
type TaskHandler struct {
	services map[string]service.TaskService
}

// NewTaskHandler creates a task handler over the given drivers.
func NewTaskHandler(services ...service.TaskService) *TaskHandler {
	byLabel := make(map[string]service.TaskService, len(services))
	for _, svc := range services {
		byLabel[svc.Name()] = svc
	}
	return &TaskHandler{services: byLabel}
}

// TaskKindInput identifies a driver by its route segment.
type TaskKindInput struct {
	Kind string `path:"kind" enum:"record,tracking,analysis" doc:"Driver label"`
}

// TaskIDInput identifies one task of one driver.
type TaskIDInput struct {
	Kind   string `path:"kind" enum:"record,tracking,analysis" doc:"Driver label"`
	TaskID string `path:"taskid" doc:"Task identifier"`
}

// ListTasksOutput is the response for listing a driver's tasks.
type ListTasksOutput struct {
	Body []*models.Task
}

// ParamsOutput is the response for a driver's parameter schema.
type ParamsOutput struct {
	Body []models.ParamMeta
}

// TaskOutput wraps a single task.
type TaskOutput struct {
	Body *models.Task
}

// Register registers the task routes. The start route takes the driver's
// submission parameters as free-form query parameters, so it is mounted on
// the router directly rather than through the typed API.
func (h *TaskHandler) Register(api huma.API, router chi.Router) {
	huma.Register(api, huma.Operation{
		OperationID: "listTasks",
		Method:      "GET",
		Path:        "/task/{kind}",
		Summary:     "List tasks of one driver",
		Tags:        []string{"Tasks"},
	}, h.ListTasks)

	huma.Register(api, huma.Operation{
		OperationID: "getTaskParams",
		Method:      "GET",
		Path:        "/task/{kind}/params",
		Summary:     "Get the submission parameter schema of one driver",
		Tags:        []string{"Tasks"},
	}, h.GetParams)

	huma.Register(api, huma.Operation{
		OperationID: "stopTask",
		Method:      "POST",
		Path:        "/task/{kind}/stop/{taskid}",
		Summary:     "Request cancellation of a task",
		Tags:        []string{"Tasks"},
	}, h.StopTask)

	huma.Register(api, huma.Operation{
		OperationID: "deleteTask",
		Method:      "DELETE",
		Path:        "/task/{kind}/{taskid}",
		Summary:     "Remove a task and its outputs",
		Tags:        []string{"Tasks"},
	}, h.DeleteTask)

	router.Post("/task/{kind}/start", h.StartTask)
}

func (h *TaskHandler) lookup(kind string) (service.TaskService, error) {
	svc, ok := h.services[kind]
	if !ok {
		return nil, models.NotFoundf("unknown task kind %q", kind)
	}
	return svc, nil
}

// ListTasks returns every task of the driver.
func (h *TaskHandler) ListTasks(ctx context.Context, input *TaskKindInput) (*ListTasksOutput, error) {
	svc, err := h.lookup(input.Kind)
	if err != nil {
		return nil, domainError(err)
	}
	return &ListTasksOutput{Body: svc.Tasks()}, nil
}

// GetParams returns the driver's submission parameter schema.
func (h *TaskHandler) GetParams(ctx context.Context, input *TaskKindInput) (*ParamsOutput, error) {
	svc, err := h.lookup(input.Kind)
	if err != nil {
		return nil, domainError(err)
	}
	return &ParamsOutput{Body: svc.Params()}, nil
}

// StartTask submits a task. Driver parameters arrive as query parameters
// and are passed through verbatim.
func (h *TaskHandler) StartTask(w http.ResponseWriter, r *http.Request) {
	svc, err := h.lookup(chi.URLParam(r, "kind"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	params := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	task, err := svc.Start(r.Context(), params)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(task)
}

// StopTask requests cooperative cancellation; the task reaches CANCELED at
// its next suspension point.
func (h *TaskHandler) StopTask(ctx context.Context, input *TaskIDInput) (*TaskOutput, error) {
	svc, err := h.lookup(input.Kind)
	if err != nil {
		return nil, domainError(err)
	}
	if err := svc.Stop(input.TaskID); err != nil {
		return nil, domainError(err)
	}
	task, err := h.findTask(svc, input.TaskID)
	if err != nil {
		return nil, domainError(err)
	}
	return &TaskOutput{Body: task}, nil
}

// DeleteTask removes a terminal task, cascading to its outputs.
func (h *TaskHandler) DeleteTask(ctx context.Context, input *TaskIDInput) (*TaskOutput, error) {
	svc, err := h.lookup(input.Kind)
	if err != nil {
		return nil, domainError(err)
	}
	task, err := h.findTask(svc, input.TaskID)
	if err != nil {
		return nil, domainError(err)
	}
	if err := svc.Delete(input.TaskID); err != nil {
		return nil, domainError(err)
	}
	return &TaskOutput{Body: task}, nil
}

func (h *TaskHandler) findTask(svc service.TaskService, id string) (*models.Task, error) {
	for _, task := range svc.Tasks() {
		if task.ID == id {
			return task, nil
		}
	}
	return nil, models.NotFoundf("task %s", id)
}
