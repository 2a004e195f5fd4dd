// Package supervisor owns the execution of submitted tasks: one concurrent
// worker per task, cooperative cancellation flags, and the translation of
// driver results into terminal registry states.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/recanalyzer/recanalyzer/internal/models"
	"github.com/recanalyzer/recanalyzer/internal/repository"
)

// Flag is a cancellation flag polled by drivers at suspension points.
// There is no forced interruption; setting the flag only takes effect at
// the driver's next poll.
type Flag struct {
	v atomic.Bool
}

// Set requests cancellation. Idempotent.
func (f *Flag) Set() { f.v.Store(true) }

// IsSet reports whether cancellation was requested.
func (f *Flag) IsSet() bool { return f.v.Load() }

// Runner executes one task. It returns nil for FINISHED,
// models.ErrCancelled for CANCELED, and any other error for FAILED.
// ctx is cancelled only on process shutdown; cooperative cancellation
// arrives through the flag.
type Runner func(ctx context.Context, cancel *Flag) error

// Lane selects the execution discipline for a submission.
type Lane int

const (
	// LaneParallel runs the task in its own goroutine immediately.
	// Used by I/O-bound drivers (record) and coarse CPU work (analyze).
	LaneParallel Lane = iota
	// LaneSerial funnels the task through a single-worker FIFO queue so
	// at most one such task executes at a time. Used by tracking.
	LaneSerial
)

const serialQueueSize = 64

type serialItem struct {
	taskID string
	run    Runner
}

// Supervisor tracks one cancel flag and one worker per submitted task and
// serialises terminal state updates through the task repository.
type Supervisor struct {
	mu    sync.Mutex
	flags map[string]*Flag

	tasks  repository.TaskRepository
	logger *slog.Logger

	ctx      context.Context
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
	serialCh chan serialItem
	started  bool
}

// New creates a supervisor bound to the task repository.
func New(tasks repository.TaskRepository, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		flags:    make(map[string]*Flag),
		tasks:    tasks,
		logger:   logger,
		serialCh: make(chan serialItem, serialQueueSize),
	}
}

// Start launches the serial-lane worker. Must be called once before Submit.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("supervisor already started")
	}
	s.ctx, s.cancelFn = context.WithCancel(ctx)
	s.started = true

	s.wg.Add(1)
	go s.serialWorker()
	return nil
}

// Submit registers the cancel flag for the task and dispatches the runner
// on the requested lane. The task must already exist in the registry.
func (s *Supervisor) Submit(taskID string, lane Lane, run Runner) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("supervisor not started")
	}
	if _, ok := s.flags[taskID]; ok {
		s.mu.Unlock()
		return models.ErrDuplicateID
	}
	s.flags[taskID] = &Flag{}
	s.mu.Unlock()

	switch lane {
	case LaneSerial:
		select {
		case s.serialCh <- serialItem{taskID: taskID, run: run}:
			return nil
		default:
			s.dropFlag(taskID)
			return models.Externalf("tracking queue is full")
		}
	default:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runTask(taskID, run)
		}()
		return nil
	}
}

// Stop sets the cancel flag for the task. Idempotent and asynchronous: it
// returns immediately and the task observes the flag at its next suspension
// point. A task that completes before observing the flag stays FINISHED;
// that race is by design.
func (s *Supervisor) Stop(taskID string) error {
	s.mu.Lock()
	flag, ok := s.flags[taskID]
	s.mu.Unlock()

	if ok {
		flag.Set()
		return nil
	}
	// The worker may already have finished and released the flag; a stop
	// on a known terminal task is a no-op.
	if _, err := s.tasks.Get(taskID); err != nil {
		return err
	}
	return nil
}

// Flag returns the cancel flag for a running task, if any.
func (s *Supervisor) Flag(taskID string) (*Flag, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flags[taskID]
	return f, ok
}

// Shutdown requests cancellation of every in-flight task and waits for the
// workers, bounded by ctx.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, f := range s.flags {
		f.Set()
	}
	if s.cancelFn != nil {
		s.cancelFn()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor shutdown: %w", ctx.Err())
	}
}

func (s *Supervisor) serialWorker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case item := <-s.serialCh:
			// A queued task cancelled while still PENDING never runs.
			if flag, ok := s.Flag(item.taskID); ok && flag.IsSet() {
				s.finalize(item.taskID, models.ErrCancelled)
				continue
			}
			s.runTask(item.taskID, item.run)
		}
	}
}

// runTask executes the runner and applies exactly one terminal transition.
// No driver error escapes past this boundary.
func (s *Supervisor) runTask(taskID string, run Runner) {
	flag, ok := s.Flag(taskID)
	if !ok {
		return
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return run(s.ctx, flag)
	}()

	s.finalize(taskID, err)
}

func (s *Supervisor) finalize(taskID string, err error) {
	defer s.dropFlag(taskID)

	var (
		state  models.TaskState
		reason string
	)
	switch {
	case err == nil:
		state, reason = models.TaskStateFinished, "task completed"
	case errors.Is(err, models.ErrCancelled):
		state, reason = models.TaskStateCanceled, err.Error()
	default:
		state, reason = models.TaskStateFailed, err.Error()
	}

	if _, uerr := s.tasks.Update(taskID, state, reason); uerr != nil {
		// A driver may have applied its own terminal transition; only an
		// unexpected failure is worth logging.
		if !errors.Is(uerr, models.ErrTerminalState) {
			s.logger.Error("failed to record terminal task state",
				slog.String("task_id", taskID),
				slog.String("state", state.String()),
				slog.String("error", uerr.Error()))
		}
		return
	}
	s.logger.Info("task reached terminal state",
		slog.String("task_id", taskID),
		slog.String("state", state.String()),
		slog.String("reason", reason))
}

func (s *Supervisor) dropFlag(taskID string) {
	s.mu.Lock()
	delete(s.flags, taskID)
	s.mu.Unlock()
}
