package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recanalyzer/recanalyzer/internal/models"
	"github.com/recanalyzer/recanalyzer/internal/repository"
)

func newSupervisor(t *testing.T) (*Supervisor, repository.TaskRepository) {
	t.Helper()
	tasks, err := repository.NewJSONTaskRepository(t.TempDir(), nil)
	require.NoError(t, err)
	sup := New(tasks, nil)
	require.NoError(t, sup.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	return sup, tasks
}

func addTask(t *testing.T, tasks repository.TaskRepository) *models.Task {
	t.Helper()
	task := models.NewTask("record", nil)
	require.NoError(t, tasks.Add(task))
	return task
}

func waitForState(t *testing.T, tasks repository.TaskRepository, id string, want models.TaskState) *models.Task {
	t.Helper()
	var got *models.Task
	require.Eventually(t, func() bool {
		task, err := tasks.Get(id)
		if err != nil {
			return false
		}
		got = task
		return task.State == want
	}, 5*time.Second, 10*time.Millisecond)
	return got
}

func TestSupervisor_RunnerSuccessFinishes(t *testing.T) {
	sup, tasks := newSupervisor(t)
	task := addTask(t, tasks)

	err := sup.Submit(task.ID, LaneParallel, func(ctx context.Context, cancel *Flag) error {
		_, err := tasks.Update(task.ID, models.TaskStateStarted, "working")
		return err
	})
	require.NoError(t, err)

	got := waitForState(t, tasks, task.ID, models.TaskStateFinished)
	assert.Equal(t, "task completed", got.Reason)
	assert.Equal(t, 1.0, got.Progress)
}

func TestSupervisor_RunnerCancelledMapsToCanceled(t *testing.T) {
	sup, tasks := newSupervisor(t)
	task := addTask(t, tasks)

	err := sup.Submit(task.ID, LaneParallel, func(ctx context.Context, cancel *Flag) error {
		return models.ErrCancelled
	})
	require.NoError(t, err)

	waitForState(t, tasks, task.ID, models.TaskStateCanceled)
}

func TestSupervisor_RunnerErrorMapsToFailed(t *testing.T) {
	sup, tasks := newSupervisor(t)
	task := addTask(t, tasks)

	err := sup.Submit(task.ID, LaneParallel, func(ctx context.Context, cancel *Flag) error {
		return errors.New("ffmpeg exploded")
	})
	require.NoError(t, err)

	got := waitForState(t, tasks, task.ID, models.TaskStateFailed)
	assert.Equal(t, "ffmpeg exploded", got.Reason)
}

func TestSupervisor_RunnerPanicMapsToFailed(t *testing.T) {
	sup, tasks := newSupervisor(t)
	task := addTask(t, tasks)

	err := sup.Submit(task.ID, LaneParallel, func(ctx context.Context, cancel *Flag) error {
		panic("boom")
	})
	require.NoError(t, err)

	got := waitForState(t, tasks, task.ID, models.TaskStateFailed)
	assert.Contains(t, got.Reason, "task panicked")
}

func TestSupervisor_DuplicateSubmitRejected(t *testing.T) {
	sup, tasks := newSupervisor(t)
	task := addTask(t, tasks)

	block := make(chan struct{})
	err := sup.Submit(task.ID, LaneParallel, func(ctx context.Context, cancel *Flag) error {
		<-block
		return models.ErrCancelled
	})
	require.NoError(t, err)
	defer close(block)

	err = sup.Submit(task.ID, LaneParallel, func(ctx context.Context, cancel *Flag) error {
		return nil
	})
	assert.ErrorIs(t, err, models.ErrDuplicateID)
}

func TestSupervisor_StopSetsFlag(t *testing.T) {
	sup, tasks := newSupervisor(t)
	task := addTask(t, tasks)

	started := make(chan struct{})
	err := sup.Submit(task.ID, LaneParallel, func(ctx context.Context, cancel *Flag) error {
		close(started)
		for !cancel.IsSet() {
			time.Sleep(time.Millisecond)
		}
		return models.ErrCancelled
	})
	require.NoError(t, err)

	<-started
	require.NoError(t, sup.Stop(task.ID))
	waitForState(t, tasks, task.ID, models.TaskStateCanceled)
}

func TestSupervisor_StopUnknownTask(t *testing.T) {
	sup, _ := newSupervisor(t)
	assert.ErrorIs(t, sup.Stop("nope"), models.ErrNotFound)
}

func TestSupervisor_StopTerminalTaskIsNoop(t *testing.T) {
	sup, tasks := newSupervisor(t)
	task := addTask(t, tasks)

	err := sup.Submit(task.ID, LaneParallel, func(ctx context.Context, cancel *Flag) error {
		_, err := tasks.Update(task.ID, models.TaskStateStarted, "")
		return err
	})
	require.NoError(t, err)
	waitForState(t, tasks, task.ID, models.TaskStateFinished)

	assert.NoError(t, sup.Stop(task.ID))
}

func TestSupervisor_SerialLaneRunsInOrder(t *testing.T) {
	sup, tasks := newSupervisor(t)

	var mu sync.Mutex
	var order []string
	ids := make([]string, 3)
	for i := range ids {
		task := addTask(t, tasks)
		ids[i] = task.ID
		id := task.ID
		err := sup.Submit(id, LaneSerial, func(ctx context.Context, cancel *Flag) error {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			if _, err := tasks.Update(id, models.TaskStateStarted, ""); err != nil {
				return err
			}
			return nil
		})
		require.NoError(t, err)
	}

	for _, id := range ids {
		waitForState(t, tasks, id, models.TaskStateFinished)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ids, order)
}

func TestSupervisor_QueuedSerialTaskCancelledBeforeRun(t *testing.T) {
	sup, tasks := newSupervisor(t)

	// Occupy the serial worker so the second submission stays queued.
	blocker := addTask(t, tasks)
	release := make(chan struct{})
	err := sup.Submit(blocker.ID, LaneSerial, func(ctx context.Context, cancel *Flag) error {
		<-release
		return models.ErrCancelled
	})
	require.NoError(t, err)

	queued := addTask(t, tasks)
	ran := false
	err = sup.Submit(queued.ID, LaneSerial, func(ctx context.Context, cancel *Flag) error {
		ran = true
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, sup.Stop(queued.ID))
	close(release)

	waitForState(t, tasks, queued.ID, models.TaskStateCanceled)
	assert.False(t, ran)
}

func TestSupervisor_ShutdownCancelsInFlight(t *testing.T) {
	tasks, err := repository.NewJSONTaskRepository(t.TempDir(), nil)
	require.NoError(t, err)
	sup := New(tasks, nil)
	require.NoError(t, sup.Start(context.Background()))

	task := addTask(t, tasks)
	err = sup.Submit(task.ID, LaneParallel, func(ctx context.Context, cancel *Flag) error {
		for !cancel.IsSet() {
			time.Sleep(time.Millisecond)
		}
		return models.ErrCancelled
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sup.Shutdown(ctx))

	got, err := tasks.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStateCanceled, got.State)
}
