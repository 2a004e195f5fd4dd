package repository

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/recanalyzer/recanalyzer/internal/models"
)

// OutputRepository is the catalog of named artifacts produced by tasks.
// An output visible in the catalog implies its file exists under the
// outputs directory; deleting a task's outputs removes the files too.
type OutputRepository interface {
	Save(output *models.Output) error
	GetAll() []*models.Output
	GetByName(name string) (*models.Output, error)
	// GetByTaskID returns the task's outputs in insertion order.
	GetByTaskID(taskID string) []*models.Output
	// Delete removes every output of the task and best-effort deletes the
	// corresponding files. Missing files are not an error.
	Delete(taskID string) error
	// FilePath resolves an output name to its artifact path.
	FilePath(name string) string
}

const outputFileName = "outputs.json"

// JSONOutputRepository persists the catalog as a JSON array under the state
// dir and owns artifact files under the outputs dir.
type JSONOutputRepository struct {
	mu         sync.Mutex
	path       string
	outputsDir string
	outputs    []*models.Output
	logger     *slog.Logger
}

// NewJSONOutputRepository loads (or initialises) the output catalog and
// makes sure the outputs directory exists.
func NewJSONOutputRepository(stateDir, outputsDir string, logger *slog.Logger) (*JSONOutputRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(outputsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating outputs dir: %w", err)
	}
	r := &JSONOutputRepository{
		path:       filepath.Join(stateDir, outputFileName),
		outputsDir: outputsDir,
		logger:     logger,
	}
	if err := loadJSON(r.path, &r.outputs); err != nil {
		return nil, err
	}
	return r, nil
}

// Save appends an output and persists the catalog. Names are unique.
func (r *JSONOutputRepository) Save(output *models.Output) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range r.outputs {
		if o.Name == output.Name {
			return models.ErrDuplicateID
		}
	}
	r.outputs = append(r.outputs, output.Clone())
	return saveJSON(r.path, r.outputs)
}

// GetAll returns snapshot copies of every output in insertion order.
func (r *JSONOutputRepository) GetAll() []*models.Output {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.Output, 0, len(r.outputs))
	for _, o := range r.outputs {
		out = append(out, o.Clone())
	}
	return out
}

// GetByName returns the single output with the given name.
func (r *JSONOutputRepository) GetByName(name string) (*models.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range r.outputs {
		if o.Name == name {
			return o.Clone(), nil
		}
	}
	return nil, models.NotFoundf("output %s", name)
}

// GetByTaskID returns the task's outputs in insertion order.
func (r *JSONOutputRepository) GetByTaskID(taskID string) []*models.Output {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.Output, 0)
	for _, o := range r.outputs {
		if o.TaskID == taskID {
			out = append(out, o.Clone())
		}
	}
	return out
}

// Delete partitions the catalog, persists the survivors, then removes the
// artifact files of the evicted entries.
func (r *JSONOutputRepository) Delete(taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.outputs[:0]
	var removed []*models.Output
	for _, o := range r.outputs {
		if o.TaskID == taskID {
			removed = append(removed, o)
		} else {
			kept = append(kept, o)
		}
	}
	r.outputs = kept
	if err := saveJSON(r.path, r.outputs); err != nil {
		return err
	}

	for _, o := range removed {
		path := filepath.Join(r.outputsDir, o.Name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("failed to remove output file",
				slog.String("name", o.Name),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// FilePath resolves an output name to its artifact path.
func (r *JSONOutputRepository) FilePath(name string) string {
	return filepath.Join(r.outputsDir, name)
}
