// Package record implements the recording driver: wait for the scheduled
// window, resolve the live HLS URL, and supervise an ffmpeg child process
// copying the stream to disk.
package record

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/recanalyzer/recanalyzer/internal/its"
	"github.com/recanalyzer/recanalyzer/internal/models"
	"github.com/recanalyzer/recanalyzer/internal/repository"
	"github.com/recanalyzer/recanalyzer/internal/service"
	"github.com/recanalyzer/recanalyzer/internal/supervisor"
)

// process is a running recorder child. Done yields the exit error exactly
// once; Terminate asks for a graceful stop.
type process interface {
	Done() <-chan error
	Terminate() error
}

// launchFunc spawns the recorder. Swapped for a fake in tests.
type launchFunc func(url string, duration time.Duration, outPath string, stdout, stderr io.Writer) (process, error)

// Service is the record task driver.
type Service struct {
	service.Facade

	streams    repository.StreamRepository
	resolver   its.Resolver
	outputsDir string
	logger     *slog.Logger

	now    func() time.Time
	tick   time.Duration
	launch launchFunc
}

// New creates the record driver. An empty ffmpegPath falls back to "ffmpeg"
// on PATH.
func New(tasks repository.TaskRepository, outputs repository.OutputRepository,
	streams repository.StreamRepository, resolver its.Resolver,
	sup *supervisor.Supervisor, outputsDir, ffmpegPath string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	params := []models.ParamMeta{
		{Name: "cctv", Desc: "stream name to record", Accept: []string{models.AcceptStr}},
		{Name: "startat", Desc: "recording start time (RFC 3339)", Accept: []string{models.AcceptDatetime}},
		{Name: "endat", Desc: "recording end time (RFC 3339)", Accept: []string{models.AcceptDatetime}},
	}
	return &Service{
		Facade:     service.NewFacade(service.DriverRecord, params, tasks, outputs, sup),
		streams:    streams,
		resolver:   resolver,
		outputsDir: outputsDir,
		logger:     logger,
		now:        time.Now,
		tick:       time.Second,
		launch:     launchFFmpeg(ffmpegPath),
	}
}

// Start validates the submission, persists the PENDING task, and hands the
// runner to the supervisor's parallel lane.
func (s *Service) Start(ctx context.Context, params map[string]string) (*models.Task, error) {
	if err := s.Validate(params); err != nil {
		return nil, err
	}
	startAt, err := time.Parse(time.RFC3339, params["startat"])
	if err != nil {
		return nil, models.Validationf("startat: %v", err)
	}
	endAt, err := time.Parse(time.RFC3339, params["endat"])
	if err != nil {
		return nil, models.Validationf("endat: %v", err)
	}
	if !endAt.After(startAt) {
		return nil, models.Validationf("endat must be after startat")
	}
	if !endAt.After(s.now()) {
		return nil, models.Validationf("recording window is entirely in the past")
	}
	stream, err := s.streams.GetByName(params["cctv"])
	if err != nil {
		return nil, err
	}

	task := models.NewTask(service.DriverRecord, map[string]string{
		"cctv":    stream.Name,
		"startat": startAt.Format(time.RFC3339),
		"endat":   endAt.Format(time.RFC3339),
	})
	if err := s.TaskRepo.Add(task); err != nil {
		return nil, err
	}

	runner := func(ctx context.Context, cancel *supervisor.Flag) error {
		return s.run(ctx, cancel, task.ID, stream, startAt, endAt)
	}
	if err := s.Supervisor.Submit(task.ID, supervisor.LaneParallel, runner); err != nil {
		// The task is already persisted; without a worker it would sit
		// PENDING until the next boot sweep.
		if _, uerr := s.TaskRepo.Update(task.ID, models.TaskStateFailed,
			"submission rejected: "+err.Error()); uerr != nil {
			s.logger.Error("failed to record rejected submission",
				slog.String("task_id", task.ID), slog.String("error", uerr.Error()))
		}
		return nil, err
	}
	return task.Clone(), nil
}

func (s *Service) run(ctx context.Context, cancel *supervisor.Flag, taskID string,
	stream *models.Stream, startAt, endAt time.Time) error {

	// Wait phase. The window-past check precedes the start check so a
	// submission whose window elapsed while queued fails rather than
	// recording nothing.
	for {
		now := s.now()
		if now.After(endAt) || now.Equal(endAt) {
			return fmt.Errorf("recording window already past (endat %s)", endAt.Format(time.RFC3339))
		}
		if !now.Before(startAt) {
			break
		}
		if cancel.IsSet() {
			return models.ErrCancelled
		}
		select {
		case <-ctx.Done():
			return models.ErrCancelled
		case <-time.After(s.tick):
		}
	}

	url, err := s.resolver.Resolve(ctx, stream.CoordX, stream.CoordY)
	if err != nil {
		return fmt.Errorf("resolving stream %q: %w", stream.Name, err)
	}

	duration := endAt.Sub(s.now())
	mp4Path := filepath.Join(s.outputsDir, taskID+".mp4")
	outPath := filepath.Join(s.outputsDir, taskID+".out")
	errPath := filepath.Join(s.outputsDir, taskID+".err")

	stdout, err := os.Create(outPath)
	if err != nil {
		return models.Externalf("opening log sink: %v", err)
	}
	stderr, err := os.Create(errPath)
	if err != nil {
		stdout.Close()
		return models.Externalf("opening log sink: %v", err)
	}

	proc, err := s.launch(url, duration, mp4Path, stdout, stderr)
	if err != nil {
		stdout.Close()
		stderr.Close()
		return models.Externalf("spawning recorder: %v", err)
	}

	if _, err := s.TaskRepo.Update(taskID, models.TaskStateStarted, "recording in progress"); err != nil {
		s.logger.Error("failed to mark recording started",
			slog.String("task_id", taskID), slog.String("error", err.Error()))
	}

	window := endAt.Sub(startAt).Seconds()
	cancelled := false
	var exitErr error

supervise:
	for {
		select {
		case exitErr = <-proc.Done():
			break supervise
		case <-time.After(s.tick):
			progress := s.now().Sub(startAt).Seconds() / window
			if err := s.TaskRepo.SetProgress(taskID, progress); err != nil {
				s.logger.Warn("progress update failed",
					slog.String("task_id", taskID), slog.String("error", err.Error()))
			}
			if cancel.IsSet() || ctx.Err() != nil {
				cancelled = true
				if err := proc.Terminate(); err != nil {
					s.logger.Warn("terminating recorder failed",
						slog.String("task_id", taskID), slog.String("error", err.Error()))
				}
				exitErr = <-proc.Done()
				break supervise
			}
		}
	}

	stdout.Close()
	stderr.Close()

	if cancelled {
		// Nothing is registered for a cancelled recording; remove the
		// partial artifacts.
		removeQuiet(mp4Path, outPath, errPath)
		return models.ErrCancelled
	}

	if exitErr != nil {
		// Keep the subprocess logs for diagnosis, drop the partial video.
		s.registerLogs(taskID, stream.Name, outPath, errPath)
		removeQuiet(mp4Path)
		return models.Externalf("recorder exited abnormally: %v", exitErr)
	}

	metadata := map[string]string{
		"cctv":    stream.Name,
		"startat": startAt.Format(time.RFC3339),
		"endat":   endAt.Format(time.RFC3339),
	}
	output := models.NewOutput(taskID, taskID+".mp4", models.OutputTypeVideoMP4,
		fmt.Sprintf("%s recording", stream.Name), metadata)
	if err := s.OutputRepo.Save(output); err != nil {
		removeQuiet(mp4Path, outPath, errPath)
		return fmt.Errorf("registering recording output: %w", err)
	}
	removeQuiet(outPath, errPath)
	return nil
}

func (s *Service) registerLogs(taskID, streamName, outPath, errPath string) {
	logs := []struct {
		path  string
		typ   string
		label string
	}{
		{outPath, models.OutputTypeStdout, "stdout"},
		{errPath, models.OutputTypeStderr, "stderr"},
	}
	for _, l := range logs {
		output := models.NewOutput(taskID, filepath.Base(l.path), l.typ,
			fmt.Sprintf("%s recorder %s", streamName, l.label), nil)
		if err := s.OutputRepo.Save(output); err != nil {
			s.logger.Warn("failed to register recorder log output",
				slog.String("name", output.Name), slog.String("error", err.Error()))
		}
	}
}

func removeQuiet(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove artifact", slog.String("path", p),
				slog.String("error", err.Error()))
		}
	}
}

// ffmpegProcess wraps the real child process.
type ffmpegProcess struct {
	cmd  *exec.Cmd
	done chan error
}

func (p *ffmpegProcess) Done() <-chan error { return p.done }

func (p *ffmpegProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

// launchFFmpeg builds the production launcher. HLS pre-buffers the window,
// so the child gets an explicit -t duration instead of relying on EOF.
func launchFFmpeg(ffmpegPath string) launchFunc {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return func(url string, duration time.Duration, outPath string, stdout, stderr io.Writer) (process, error) {
		cmd := exec.Command(ffmpegPath,
			"-i", url,
			"-c", "copy",
			"-t", strconv.Itoa(int(duration.Seconds())),
			outPath,
		)
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		p := &ffmpegProcess{cmd: cmd, done: make(chan error, 1)}
		go func() { p.done <- cmd.Wait() }()
		return p, nil
	}
}
