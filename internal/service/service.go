// Package service defines the uniform task-service surface wrapped around
// each driver, plus the shared facade plumbing for listing, stopping and
// deleting tasks.
package service

import (
	"context"

	"github.com/recanalyzer/recanalyzer/internal/models"
	"github.com/recanalyzer/recanalyzer/internal/repository"
	"github.com/recanalyzer/recanalyzer/internal/supervisor"
)

// Driver labels. They double as the {kind} segment of the task routes and
// as the Name field of every task the driver creates.
const (
	DriverRecord   = "record"
	DriverTracking = "tracking"
	DriverAnalysis = "analysis"
)

// TaskService is the uniform surface each driver exposes.
type TaskService interface {
	// Name returns the driver label.
	Name() string
	// Params returns the submission parameter schema.
	Params() []models.ParamMeta
	// Tasks lists every task belonging to this driver.
	Tasks() []*models.Task
	// Start validates params, persists a PENDING task and hands execution
	// to the supervisor. The returned task is the accepted snapshot.
	Start(ctx context.Context, params map[string]string) (*models.Task, error)
	// Stop requests cooperative cancellation.
	Stop(id string) error
	// Delete removes a terminal task, cascading to its outputs and files.
	Delete(id string) error
}

// Facade carries the plumbing shared by every driver: registry and catalog
// handles, the supervisor, and the schema served by Params.
type Facade struct {
	label  string
	params []models.ParamMeta

	TaskRepo   repository.TaskRepository
	OutputRepo repository.OutputRepository
	Supervisor *supervisor.Supervisor
}

// NewFacade builds the shared facade state for a driver.
func NewFacade(label string, params []models.ParamMeta,
	tasks repository.TaskRepository, outputs repository.OutputRepository,
	sup *supervisor.Supervisor) Facade {
	return Facade{
		label:      label,
		params:     params,
		TaskRepo:   tasks,
		OutputRepo: outputs,
		Supervisor: sup,
	}
}

func (f *Facade) Name() string { return f.label }

func (f *Facade) Params() []models.ParamMeta { return f.params }

func (f *Facade) Tasks() []*models.Task { return f.TaskRepo.GetByName(f.label) }

// Validate checks that every non-optional parameter is present and
// non-empty.
func (f *Facade) Validate(params map[string]string) error {
	for _, meta := range f.params {
		if meta.Optional {
			continue
		}
		if params[meta.Name] == "" {
			return models.Validationf("missing parameter %q", meta.Name)
		}
	}
	return nil
}

// Stop verifies ownership and sets the cancel flag.
func (f *Facade) Stop(id string) error {
	if _, err := f.owned(id); err != nil {
		return err
	}
	return f.Supervisor.Stop(id)
}

// Delete removes a terminal task, outputs first so the catalog invariant
// (catalog entry implies file on disk) is never violated mid-delete.
func (f *Facade) Delete(id string) error {
	task, err := f.owned(id)
	if err != nil {
		return err
	}
	if !task.State.IsTerminal() {
		return models.Validationf("task %s is still running; stop it first", id)
	}
	if err := f.OutputRepo.Delete(id); err != nil {
		return err
	}
	return f.TaskRepo.Delete(id)
}

func (f *Facade) owned(id string) (*models.Task, error) {
	task, err := f.TaskRepo.Get(id)
	if err != nil {
		return nil, err
	}
	if task.Name != f.label {
		return nil, models.NotFoundf("task %s does not belong to %s", id, f.label)
	}
	return task, nil
}
