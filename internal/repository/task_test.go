package repository

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recanalyzer/recanalyzer/internal/models"
)

func newTaskRepo(t *testing.T) (*JSONTaskRepository, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := NewJSONTaskRepository(dir, nil)
	require.NoError(t, err)
	return repo, dir
}

func TestTaskRepository_AddAndGet(t *testing.T) {
	repo, _ := newTaskRepo(t)

	task := models.NewTask("record", map[string]string{"cctv": "cam1"})
	require.NoError(t, repo.Add(task))

	got, err := repo.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, models.TaskStatePending, got.State)

	// Reads are snapshots; mutating them must not touch the registry.
	got.State = models.TaskStateFailed
	again, err := repo.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatePending, again.State)
}

func TestTaskRepository_AddDuplicate(t *testing.T) {
	repo, _ := newTaskRepo(t)

	task := models.NewTask("record", nil)
	require.NoError(t, repo.Add(task))
	assert.ErrorIs(t, repo.Add(task), models.ErrDuplicateID)
}

func TestTaskRepository_GetMissing(t *testing.T) {
	repo, _ := newTaskRepo(t)

	_, err := repo.Get("nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTaskRepository_Update(t *testing.T) {
	repo, _ := newTaskRepo(t)

	task := models.NewTask("record", nil)
	require.NoError(t, repo.Add(task))

	updated, err := repo.Update(task.ID, models.TaskStateStarted, "recording in progress")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStateStarted, updated.State)
	assert.Equal(t, "recording in progress", updated.Reason)

	updated, err = repo.Update(task.ID, models.TaskStateFinished, "task completed")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStateFinished, updated.State)
	assert.Equal(t, 1.0, updated.Progress)
}

func TestTaskRepository_UpdateTerminalRejected(t *testing.T) {
	repo, _ := newTaskRepo(t)

	task := models.NewTask("record", nil)
	require.NoError(t, repo.Add(task))
	_, err := repo.Update(task.ID, models.TaskStateCanceled, "stop requested")
	require.NoError(t, err)

	_, err = repo.Update(task.ID, models.TaskStateFinished, "too late")
	assert.ErrorIs(t, err, models.ErrTerminalState)

	got, err := repo.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStateCanceled, got.State)
	assert.Equal(t, "stop requested", got.Reason)
}

func TestTaskRepository_UpdateIllegalTransition(t *testing.T) {
	repo, _ := newTaskRepo(t)

	task := models.NewTask("record", nil)
	require.NoError(t, repo.Add(task))

	// PENDING cannot jump straight to FINISHED.
	_, err := repo.Update(task.ID, models.TaskStateFinished, "nope")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestTaskRepository_SetProgress(t *testing.T) {
	repo, _ := newTaskRepo(t)

	task := models.NewTask("record", nil)
	require.NoError(t, repo.Add(task))
	_, err := repo.Update(task.ID, models.TaskStateStarted, "")
	require.NoError(t, err)

	require.NoError(t, repo.SetProgress(task.ID, 0.4))
	got, _ := repo.Get(task.ID)
	assert.Equal(t, 0.4, got.Progress)

	// Regressions are ignored, not applied.
	require.NoError(t, repo.SetProgress(task.ID, 0.2))
	got, _ = repo.Get(task.ID)
	assert.Equal(t, 0.4, got.Progress)

	// Values above 1 are capped.
	require.NoError(t, repo.SetProgress(task.ID, 1.7))
	got, _ = repo.Get(task.ID)
	assert.Equal(t, 1.0, got.Progress)
}

func TestTaskRepository_Delete(t *testing.T) {
	repo, _ := newTaskRepo(t)

	task := models.NewTask("record", nil)
	require.NoError(t, repo.Add(task))
	require.NoError(t, repo.Delete(task.ID))

	_, err := repo.Get(task.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(task.ID), models.ErrNotFound)
}

func TestTaskRepository_Recover(t *testing.T) {
	repo, dir := newTaskRepo(t)

	pending := models.NewTask("record", nil)
	started := models.NewTask("tracking", nil)
	finished := models.NewTask("analysis", nil)
	require.NoError(t, repo.Add(pending))
	require.NoError(t, repo.Add(started))
	require.NoError(t, repo.Add(finished))

	_, err := repo.Update(started.ID, models.TaskStateStarted, "")
	require.NoError(t, err)
	_, err = repo.Update(finished.ID, models.TaskStateStarted, "")
	require.NoError(t, err)
	_, err = repo.Update(finished.ID, models.TaskStateFinished, "task completed")
	require.NoError(t, err)

	// A fresh repository over the same file simulates a restart.
	reopened, err := NewJSONTaskRepository(dir, nil)
	require.NoError(t, err)
	require.NoError(t, reopened.Recover())

	for _, id := range []string{pending.ID, started.ID} {
		got, err := reopened.Get(id)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStateFailed, got.State)
		assert.Equal(t, "task terminated unexpectedly on a previous run", got.Reason)
	}

	got, err := reopened.Get(finished.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStateFinished, got.State)
	assert.Equal(t, "task completed", got.Reason)
}

func TestTaskRepository_PersistsAcrossReload(t *testing.T) {
	repo, dir := newTaskRepo(t)

	task := models.NewTask("record", map[string]string{"cctv": "cam1"})
	require.NoError(t, repo.Add(task))

	data, err := os.ReadFile(filepath.Join(dir, "tasks.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), task.ID)

	reopened, err := NewJSONTaskRepository(dir, nil)
	require.NoError(t, err)
	got, err := reopened.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "cam1", got.Params["cctv"])
}

func TestTaskRepository_ConcurrentAdds(t *testing.T) {
	repo, _ := newTaskRepo(t)

	const n = 32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = repo.Add(models.NewTask("record", nil))
		}()
	}
	wg.Wait()

	assert.Len(t, repo.GetByName("record"), n)
}
