package repository

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/recanalyzer/recanalyzer/internal/models"
)

// TaskRepository is the authoritative registry of tasks. All mutations are
// serialised and persisted before they return; reads return snapshot copies.
type TaskRepository interface {
	Add(task *models.Task) error
	Get(id string) (*models.Task, error)
	GetByName(name string) []*models.Task
	// Update performs an atomic state transition. Transitions out of a
	// terminal state are rejected with models.ErrTerminalState.
	Update(id string, state models.TaskState, reason string) (*models.Task, error)
	// SetProgress updates the progress value of a running task. Progress
	// never decreases within an execution.
	SetProgress(id string, progress float64) error
	Delete(id string) error
	// Recover rewrites every non-terminal task to FAILED. Called once at
	// boot, before any submission is accepted.
	Recover() error
}

const taskFileName = "tasks.json"

// recoverReason is recorded on tasks swept to FAILED at boot.
const recoverReason = "task terminated unexpectedly on a previous run"

// JSONTaskRepository persists tasks as a JSON array under the state dir.
type JSONTaskRepository struct {
	mu     sync.Mutex
	path   string
	tasks  []*models.Task
	logger *slog.Logger
}

// NewJSONTaskRepository loads (or initialises) the task file. It does not
// run recovery; the caller decides when to sweep.
func NewJSONTaskRepository(stateDir string, logger *slog.Logger) (*JSONTaskRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &JSONTaskRepository{
		path:   filepath.Join(stateDir, taskFileName),
		logger: logger,
	}
	if err := loadJSON(r.path, &r.tasks); err != nil {
		return nil, err
	}
	for _, t := range r.tasks {
		if !t.State.Valid() {
			t.State = models.TaskStateUndefined
		}
	}
	return r, nil
}

func (r *JSONTaskRepository) save() error {
	return saveJSON(r.path, r.tasks)
}

func (r *JSONTaskRepository) find(id string) *models.Task {
	for _, t := range r.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Add appends a new task and persists the catalog.
func (r *JSONTaskRepository) Add(task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(task.ID) != nil {
		return models.ErrDuplicateID
	}
	r.tasks = append(r.tasks, task.Clone())
	return r.save()
}

// Get returns a snapshot copy of the task.
func (r *JSONTaskRepository) Get(id string) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.find(id)
	if t == nil {
		return nil, models.NotFoundf("task %s", id)
	}
	return t.Clone(), nil
}

// GetByName returns snapshot copies of every task with the given driver label.
func (r *JSONTaskRepository) GetByName(name string) []*models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.Task, 0)
	for _, t := range r.tasks {
		if t.Name == name {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Update transitions a task and persists before returning.
func (r *JSONTaskRepository) Update(id string, state models.TaskState, reason string) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.find(id)
	if t == nil {
		return nil, models.NotFoundf("task %s", id)
	}
	if t.State.IsTerminal() {
		return nil, models.ErrTerminalState
	}
	if !t.State.CanTransitionTo(state) {
		return nil, models.Validationf("illegal transition %s -> %s", t.State, state)
	}
	t.State = state
	t.Reason = reason
	if state == models.TaskStateFinished {
		t.Progress = 1.0
	}
	if err := r.save(); err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// SetProgress records forward progress. Regressions are ignored rather than
// rejected: a late ticker update racing a finalisation must not fail the task.
func (r *JSONTaskRepository) SetProgress(id string, progress float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.find(id)
	if t == nil {
		return models.NotFoundf("task %s", id)
	}
	if progress > 1 {
		progress = 1
	}
	if progress > t.Progress {
		t.Progress = progress
		return r.save()
	}
	return nil
}

// Delete removes the task record. Output cascade is ordered by the facade,
// not here.
func (r *JSONTaskRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, t := range r.tasks {
		if t.ID == id {
			r.tasks = append(r.tasks[:i], r.tasks[i+1:]...)
			return r.save()
		}
	}
	return models.NotFoundf("task %s", id)
}

// Recover sweeps every PENDING or STARTED task to FAILED. Tasks that were
// mid-flight when the previous process died can never resume.
func (r *JSONTaskRepository) Recover() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	swept := 0
	for _, t := range r.tasks {
		if t.State == models.TaskStatePending || t.State == models.TaskStateStarted {
			t.State = models.TaskStateFailed
			t.Reason = recoverReason
			swept++
		}
	}
	if swept == 0 {
		return nil
	}
	r.logger.Warn("swept non-terminal tasks to failed", slog.Int("count", swept))
	return r.save()
}
