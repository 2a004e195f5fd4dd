// Package track implements the tracking driver: a frame loop over a
// recorded video that runs object detection, maintains track identities,
// and emits a detection table plus an annotated video.
package track

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/recanalyzer/recanalyzer/internal/codec"
	"github.com/recanalyzer/recanalyzer/internal/geometry"
	"github.com/recanalyzer/recanalyzer/internal/models"
	"github.com/recanalyzer/recanalyzer/internal/repository"
	"github.com/recanalyzer/recanalyzer/internal/service"
	"github.com/recanalyzer/recanalyzer/internal/supervisor"
	"github.com/recanalyzer/recanalyzer/internal/vision"
)

const defaultConfidence = 0.6

// frameSource yields decoded frames in presentation order until io.EOF.
type frameSource interface {
	Next() (*image.RGBA, error)
	Close() error
}

// frameSink consumes frames and finalises the container on Close.
type frameSink interface {
	Write(img *image.RGBA) error
	Close() error
}

// Service is the tracking task driver. Submissions run on the supervisor's
// serial lane so at most one tracking job holds the detector at a time.
type Service struct {
	service.Facade

	prober     *codec.Prober
	detector   vision.Detector
	outputsDir string
	ffmpegPath string
	logger     *slog.Logger

	probe      func(ctx context.Context, path string) (*codec.VideoInfo, error)
	openSource func(ctx context.Context, path string, info *codec.VideoInfo) (frameSource, error)
	openSink   func(ctx context.Context, path string, info *codec.VideoInfo) (frameSink, error)
}

// New creates the tracking driver.
func New(tasks repository.TaskRepository, outputs repository.OutputRepository,
	sup *supervisor.Supervisor, prober *codec.Prober, detector vision.Detector,
	outputsDir, ffmpegPath string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	params := []models.ParamMeta{
		{Name: "targetname", Desc: "recorded video output to track", Accept: []string{models.AcceptVideoMP4}},
		{Name: "confidence", Desc: "detection confidence threshold", Accept: []string{models.AcceptFloat}, Optional: true},
	}
	s := &Service{
		Facade:     service.NewFacade(service.DriverTracking, params, tasks, outputs, sup),
		prober:     prober,
		detector:   detector,
		outputsDir: outputsDir,
		ffmpegPath: ffmpegPath,
		logger:     logger,
	}
	s.probe = func(ctx context.Context, path string) (*codec.VideoInfo, error) {
		return s.prober.Probe(ctx, path)
	}
	s.openSource = func(ctx context.Context, path string, info *codec.VideoInfo) (frameSource, error) {
		return codec.NewFrameReader(ctx, s.ffmpegPath, path, info.Width, info.Height)
	}
	s.openSink = func(ctx context.Context, path string, info *codec.VideoInfo) (frameSink, error) {
		return codec.NewFrameWriter(ctx, s.ffmpegPath, path, info.Width, info.Height, info.FPS)
	}
	return s
}

// Start validates the submission and enqueues the runner on the serial lane.
func (s *Service) Start(ctx context.Context, params map[string]string) (*models.Task, error) {
	if err := s.Validate(params); err != nil {
		return nil, err
	}
	target, err := s.OutputRepo.GetByName(params["targetname"])
	if err != nil {
		return nil, err
	}
	if target.Type != models.OutputTypeVideoMP4 {
		return nil, models.Validationf("targetname must reference a %s output, got %s",
			models.OutputTypeVideoMP4, target.Type)
	}

	confidence := defaultConfidence
	if raw := params["confidence"]; raw != "" {
		confidence, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, models.Validationf("confidence: %v", err)
		}
		if confidence <= 0 || confidence > 1 {
			return nil, models.Validationf("confidence must be in (0, 1]")
		}
	}

	task := models.NewTask(service.DriverTracking, map[string]string{
		"targetname": target.Name,
		"confidence": strconv.FormatFloat(confidence, 'f', -1, 64),
	})
	if err := s.TaskRepo.Add(task); err != nil {
		return nil, err
	}

	runner := func(ctx context.Context, cancel *supervisor.Flag) error {
		return s.run(ctx, cancel, task.ID, target, confidence)
	}
	if err := s.Supervisor.Submit(task.ID, supervisor.LaneSerial, runner); err != nil {
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
	target *models.Output, confidence float64) error {

	if _, err := s.TaskRepo.Update(taskID, models.TaskStateStarted, "tracking in progress"); err != nil {
		return fmt.Errorf("marking tracking started: %w", err)
	}

	inputPath := s.OutputRepo.FilePath(target.Name)
	info, err := s.probe(ctx, inputPath)
	if err != nil {
		return err
	}

	mp4Path := filepath.Join(s.outputsDir, taskID+".mp4")
	csvPath := filepath.Join(s.outputsDir, taskID+".csv")

	reader, err := s.openSource(ctx, inputPath, info)
	if err != nil {
		return err
	}
	defer reader.Close()

	writer, err := s.openSink(ctx, mp4Path, info)
	if err != nil {
		return err
	}
	defer writer.Close()

	tracker := vision.NewTracker()
	var rows []geometry.Row

	for frameIdx := 0; ; frameIdx++ {
		if cancel.IsSet() || ctx.Err() != nil {
			removeQuiet(mp4Path)
			return models.ErrCancelled
		}

		img, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			removeQuiet(mp4Path)
			return err
		}

		detections, err := s.detector.Detect(ctx, img, confidence)
		if err != nil {
			removeQuiet(mp4Path)
			return fmt.Errorf("frame %d: %w", frameIdx, err)
		}

		for _, trk := range tracker.Update(detections) {
			vision.AnnotateTrack(img, trk)
			rows = append(rows, geometry.Row{
				Frame: frameIdx,
				ObjID: trk.ID,
				ClsID: trk.ClassID,
				X:     trk.Box.CenterX(),
				Y:     trk.Box.CenterY(),
			})
		}

		if err := writer.Write(img); err != nil {
			removeQuiet(mp4Path)
			return err
		}

		if info.TotalFrames > 0 {
			progress := float64(frameIdx+1) / float64(info.TotalFrames)
			if err := s.TaskRepo.SetProgress(taskID, progress); err != nil {
				s.logger.Warn("progress update failed",
					slog.String("task_id", taskID), slog.String("error", err.Error()))
			}
		}
	}

	// The encoder must finalise the container before the output is
	// registered.
	if err := writer.Close(); err != nil {
		removeQuiet(mp4Path)
		return err
	}

	csvFile, err := os.Create(csvPath)
	if err != nil {
		removeQuiet(mp4Path)
		return models.Externalf("creating detection table: %v", err)
	}
	if err := geometry.WriteDetections(csvFile, rows); err != nil {
		csvFile.Close()
		removeQuiet(mp4Path, csvPath)
		return models.Externalf("writing detection table: %v", err)
	}
	if err := csvFile.Close(); err != nil {
		removeQuiet(mp4Path, csvPath)
		return models.Externalf("closing detection table: %v", err)
	}

	metadata := map[string]string{
		"targetname": target.Name,
		"confidence": strconv.FormatFloat(confidence, 'f', -1, 64),
		"fps":        strconv.FormatFloat(info.FPS, 'f', -1, 64),
		"cctv":       target.Metadata["cctv"],
		"startat":    target.Metadata["startat"],
		"endat":      target.Metadata["endat"],
	}
	csvOutput := models.NewOutput(taskID, taskID+".csv", models.OutputTypeDetection,
		fmt.Sprintf("%s detection table", metadata["cctv"]), metadata)
	if err := s.OutputRepo.Save(csvOutput); err != nil {
		removeQuiet(mp4Path, csvPath)
		return fmt.Errorf("registering detection table: %w", err)
	}
	mp4Output := models.NewOutput(taskID, taskID+".mp4", models.OutputTypeVideoMP4,
		fmt.Sprintf("%s annotated tracking video", metadata["cctv"]), metadata)
	if err := s.OutputRepo.Save(mp4Output); err != nil {
		removeQuiet(mp4Path)
		return fmt.Errorf("registering tracking video: %w", err)
	}
	return nil
}

func removeQuiet(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove artifact", slog.String("path", p),
				slog.String("error", err.Error()))
		}
	}
}
