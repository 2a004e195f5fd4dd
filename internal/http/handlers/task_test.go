package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recanalyzer/recanalyzer/internal/models"
)

// fakeTaskService records calls and serves canned task lists.
type fakeTaskService struct {
	name     string
	tasks    []*models.Task
	startErr error
	started  map[string]string
	stopped  []string
	deleted  []string
}

func (f *fakeTaskService) Name() string { return f.name }

func (f *fakeTaskService) Params() []models.ParamMeta {
	return []models.ParamMeta{{Name: "cctv", Accept: []string{models.AcceptStr}}}
}

func (f *fakeTaskService) Tasks() []*models.Task { return f.tasks }

func (f *fakeTaskService) Start(ctx context.Context, params map[string]string) (*models.Task, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = params
	task := models.NewTask(f.name, params)
	f.tasks = append(f.tasks, task)
	return task, nil
}

func (f *fakeTaskService) Stop(id string) error {
	for _, task := range f.tasks {
		if task.ID == id {
			f.stopped = append(f.stopped, id)
			return nil
		}
	}
	return models.NotFoundf("task %s", id)
}

func (f *fakeTaskService) Delete(id string) error {
	for _, task := range f.tasks {
		if task.ID == id {
			f.deleted = append(f.deleted, id)
			return nil
		}
	}
	return models.NotFoundf("task %s", id)
}

func TestTaskHandler_ListTasks(t *testing.T) {
	svc := &fakeTaskService{name: "record", tasks: []*models.Task{models.NewTask("record", nil)}}
	handler := NewTaskHandler(svc)

	out, err := handler.ListTasks(context.Background(), &TaskKindInput{Kind: "record"})
	require.NoError(t, err)
	assert.Len(t, out.Body, 1)
}

func TestTaskHandler_UnknownKind(t *testing.T) {
	handler := NewTaskHandler(&fakeTaskService{name: "record"})

	_, err := handler.ListTasks(context.Background(), &TaskKindInput{Kind: "bogus"})
	require.Error(t, err)
	var serr huma.StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusNotFound, serr.GetStatus())
}

func TestTaskHandler_GetParams(t *testing.T) {
	handler := NewTaskHandler(&fakeTaskService{name: "record"})

	out, err := handler.GetParams(context.Background(), &TaskKindInput{Kind: "record"})
	require.NoError(t, err)
	require.Len(t, out.Body, 1)
	assert.Equal(t, "cctv", out.Body[0].Name)
}

func TestTaskHandler_StartTask(t *testing.T) {
	svc := &fakeTaskService{name: "record"}
	handler := NewTaskHandler(svc)

	router := chi.NewRouter()
	router.Post("/task/{kind}/start", handler.StartTask)

	req := httptest.NewRequest(http.MethodPost, "/task/record/start?cctv=cam1&startat=2026-01-01T00:00:00Z", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cam1", svc.started["cctv"])
	assert.Equal(t, "2026-01-01T00:00:00Z", svc.started["startat"])

	var task models.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, models.TaskStatePending, task.State)
}

func TestTaskHandler_StartTaskValidationError(t *testing.T) {
	svc := &fakeTaskService{name: "record", startErr: models.Validationf("missing parameter %q", "cctv")}
	handler := NewTaskHandler(svc)

	router := chi.NewRouter()
	router.Post("/task/{kind}/start", handler.StartTask)

	req := httptest.NewRequest(http.MethodPost, "/task/record/start", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["message"], "cctv")
}

func TestTaskHandler_StopTask(t *testing.T) {
	task := models.NewTask("record", nil)
	svc := &fakeTaskService{name: "record", tasks: []*models.Task{task}}
	handler := NewTaskHandler(svc)

	out, err := handler.StopTask(context.Background(), &TaskIDInput{Kind: "record", TaskID: task.ID})
	require.NoError(t, err)
	assert.Equal(t, task.ID, out.Body.ID)
	assert.Equal(t, []string{task.ID}, svc.stopped)
}

func TestTaskHandler_DeleteTaskReturnsSnapshot(t *testing.T) {
	task := models.NewTask("record", nil)
	task.State = models.TaskStateFinished
	svc := &fakeTaskService{name: "record", tasks: []*models.Task{task}}
	handler := NewTaskHandler(svc)

	out, err := handler.DeleteTask(context.Background(), &TaskIDInput{Kind: "record", TaskID: task.ID})
	require.NoError(t, err)
	assert.Equal(t, task.ID, out.Body.ID)
	assert.Equal(t, models.TaskStateFinished, out.Body.State)
	assert.Equal(t, []string{task.ID}, svc.deleted)
}

func TestTaskHandler_StopMissingTask(t *testing.T) {
	handler := NewTaskHandler(&fakeTaskService{name: "record"})

	_, err := handler.StopTask(context.Background(), &TaskIDInput{Kind: "record", TaskID: "missing"})
	require.Error(t, err)
	var serr huma.StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusNotFound, serr.GetStatus())
}
