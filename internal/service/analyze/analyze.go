// Package analyze implements the analysis driver: perspective-rectify a
// detection table, interpolate per-object gaps, estimate speeds, and render
// a top-down trail video.
package analyze

import (
	"context"
	"encoding/json"
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

const defaultFPS = 30.0

// Service is the analysis task driver.
type Service struct {
	service.Facade

	prober     *codec.Prober
	outputsDir string
	ffmpegPath string
	logger     *slog.Logger
}

// New creates the analysis driver.
func New(tasks repository.TaskRepository, outputs repository.OutputRepository,
	sup *supervisor.Supervisor, prober *codec.Prober,
	outputsDir, ffmpegPath string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	params := []models.ParamMeta{
		{Name: "trackdata", Desc: "detection table to analyse", Accept: []string{models.AcceptDetection}},
		{Name: "roi", Desc: "road quadrilateral as [[x,y],...] in order lt, lb, rt, rb", Accept: []string{models.AcceptJSON}},
		{Name: "roadwidth", Desc: "physical road width in metres", Accept: []string{models.AcceptFloat}},
		{Name: "roadheight", Desc: "physical road length in metres", Accept: []string{models.AcceptFloat}},
	}
	return &Service{
		Facade:     service.NewFacade(service.DriverAnalysis, params, tasks, outputs, sup),
		prober:     prober,
		outputsDir: outputsDir,
		ffmpegPath: ffmpegPath,
		logger:     logger,
	}
}

// Start validates the submission, including that the ROI yields a solvable
// homography, then hands the runner to the parallel lane.
func (s *Service) Start(ctx context.Context, params map[string]string) (*models.Task, error) {
	if err := s.Validate(params); err != nil {
		return nil, err
	}
	trackData, err := s.OutputRepo.GetByName(params["trackdata"])
	if err != nil {
		return nil, err
	}
	if trackData.Type != models.OutputTypeDetection {
		return nil, models.Validationf("trackdata must reference a %s output, got %s",
			models.OutputTypeDetection, trackData.Type)
	}

	roadWidth, err := strconv.ParseFloat(params["roadwidth"], 64)
	if err != nil || roadWidth <= 0 {
		return nil, models.Validationf("roadwidth must be a positive number")
	}
	roadHeight, err := strconv.ParseFloat(params["roadheight"], 64)
	if err != nil || roadHeight <= 0 {
		return nil, models.Validationf("roadheight must be a positive number")
	}

	roi, err := parseROI(params["roi"])
	if err != nil {
		return nil, err
	}
	dst, _, _ := geometry.DestinationRect(roi, roadHeight/roadWidth)
	if _, err := geometry.NewHomography(roi, dst); err != nil {
		return nil, err
	}

	task := models.NewTask(service.DriverAnalysis, map[string]string{
		"trackdata":  trackData.Name,
		"roi":        params["roi"],
		"roadwidth":  params["roadwidth"],
		"roadheight": params["roadheight"],
	})
	if err := s.TaskRepo.Add(task); err != nil {
		return nil, err
	}

	runner := func(ctx context.Context, cancel *supervisor.Flag) error {
		return s.run(ctx, cancel, task.ID, trackData, roi, roadWidth, roadHeight)
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
	trackData *models.Output, roi [4]geometry.Point, roadWidth, roadHeight float64) error {

	if _, err := s.TaskRepo.Update(taskID, models.TaskStateStarted, "analysis in progress"); err != nil {
		return fmt.Errorf("marking analysis started: %w", err)
	}

	dst, roiWidth, roiHeight := geometry.DestinationRect(roi, roadHeight/roadWidth)
	homography, err := geometry.NewHomography(roi, dst)
	if err != nil {
		return err
	}

	fps := defaultFPS
	if raw := trackData.Metadata["fps"]; raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil && parsed > 0 {
			fps = parsed
		}
	}

	csvIn, err := os.Open(s.OutputRepo.FilePath(trackData.Name))
	if err != nil {
		return models.Externalf("opening detection table: %v", err)
	}
	rows, err := geometry.ReadDetections(csvIn)
	csvIn.Close()
	if err != nil {
		return err
	}

	rows = geometry.Transform(rows, homography)
	rows = geometry.FilterROI(rows, roiWidth, roiHeight)
	rows = geometry.Interpolate(rows)
	geometry.SortRows(rows)
	geometry.ComputeSpeeds(rows, fps, roadHeight/float64(roiHeight))

	if cancel.IsSet() || ctx.Err() != nil {
		return models.ErrCancelled
	}

	metadata := map[string]string{
		"trackdata":  trackData.Name,
		"roadwidth":  strconv.FormatFloat(roadWidth, 'f', -1, 64),
		"roadheight": strconv.FormatFloat(roadHeight, 'f', -1, 64),
		"fps":        strconv.FormatFloat(fps, 'f', -1, 64),
		"targetname": trackData.Metadata["targetname"],
		"confidence": trackData.Metadata["confidence"],
		"cctv":       trackData.Metadata["cctv"],
		"startat":    trackData.Metadata["startat"],
		"endat":      trackData.Metadata["endat"],
	}

	csvPath := filepath.Join(s.outputsDir, taskID+".csv")
	csvOut, err := os.Create(csvPath)
	if err != nil {
		return models.Externalf("creating analysis table: %v", err)
	}
	if err := geometry.WriteAnalyzed(csvOut, rows); err != nil {
		csvOut.Close()
		removeQuiet(csvPath)
		return models.Externalf("writing analysis table: %v", err)
	}
	if err := csvOut.Close(); err != nil {
		removeQuiet(csvPath)
		return models.Externalf("closing analysis table: %v", err)
	}
	csvOutput := models.NewOutput(taskID, taskID+".csv", models.OutputTypeCSV,
		fmt.Sprintf("%s analysed detection table", metadata["cctv"]), metadata)
	if err := s.OutputRepo.Save(csvOutput); err != nil {
		removeQuiet(csvPath)
		return fmt.Errorf("registering analysis table: %w", err)
	}

	if err := s.TaskRepo.SetProgress(taskID, 0.5); err != nil {
		s.logger.Warn("progress update failed",
			slog.String("task_id", taskID), slog.String("error", err.Error()))
	}

	mp4Path := filepath.Join(s.outputsDir, taskID+".mp4")
	if err := s.renderTopDown(ctx, cancel, taskID, metadata["targetname"],
		homography, roiWidth, roiHeight, fps, rows, mp4Path); err != nil {
		removeQuiet(mp4Path)
		return err
	}

	mp4Output := models.NewOutput(taskID, taskID+".mp4", models.OutputTypeVideoMP4,
		fmt.Sprintf("%s top-down trail video", metadata["cctv"]), metadata)
	if err := s.OutputRepo.Save(mp4Output); err != nil {
		removeQuiet(mp4Path)
		return fmt.Errorf("registering top-down video: %w", err)
	}
	return nil
}

// renderTopDown warps every source frame into the destination rectangle and
// draws the per-object trail polylines over it.
func (s *Service) renderTopDown(ctx context.Context, cancel *supervisor.Flag, taskID, targetName string,
	homography *geometry.Homography, width, height int, fps float64,
	rows []geometry.Row, mp4Path string) error {

	if targetName == "" {
		return models.Validationf("trackdata metadata carries no source video name")
	}
	inverse, err := homography.Inverse()
	if err != nil {
		return err
	}

	inputPath := s.OutputRepo.FilePath(targetName)
	info, err := s.prober.Probe(ctx, inputPath)
	if err != nil {
		return err
	}

	byFrame := make(map[int][]geometry.Row)
	for _, row := range rows {
		byFrame[row.Frame] = append(byFrame[row.Frame], row)
	}

	reader, err := codec.NewFrameReader(ctx, s.ffmpegPath, inputPath, info.Width, info.Height)
	if err != nil {
		return err
	}
	defer reader.Close()

	writer, err := codec.NewFrameWriter(ctx, s.ffmpegPath, mp4Path, width, height, fps)
	if err != nil {
		return err
	}
	defer writer.Close()

	trails := make(map[int][]image.Point)
	for frameIdx := 0; ; frameIdx++ {
		if cancel.IsSet() || ctx.Err() != nil {
			return models.ErrCancelled
		}

		img, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		framePoints := byFrame[frameIdx]

		// Trails of objects absent from this frame are dropped, matching
		// the track lifetime.
		active := make(map[int]bool, len(framePoints))
		for _, row := range framePoints {
			active[row.ObjID] = true
		}
		for objid := range trails {
			if !active[objid] {
				delete(trails, objid)
			}
		}

		warped := geometry.Warp(img, inverse, width, height)
		for _, row := range framePoints {
			pt := image.Pt(int(row.PerspX), int(row.PerspY))
			trails[row.ObjID] = append(trails[row.ObjID], pt)
			vision.DrawTrail(warped, trails[row.ObjID], vision.TrackColor(row.ObjID))
		}

		if err := writer.Write(warped); err != nil {
			return err
		}

		if info.TotalFrames > 0 {
			progress := 0.5 + 0.5*float64(frameIdx+1)/float64(info.TotalFrames)
			if err := s.TaskRepo.SetProgress(taskID, progress); err != nil {
				s.logger.Warn("progress update failed",
					slog.String("task_id", taskID), slog.String("error", err.Error()))
			}
		}
	}
	return writer.Close()
}

// parseROI decodes a JSON array of four [x, y] points in order lt, lb, rt, rb.
func parseROI(raw string) ([4]geometry.Point, error) {
	var points [][2]float64
	if err := json.Unmarshal([]byte(raw), &points); err != nil {
		return [4]geometry.Point{}, models.Validationf("roi: %v", err)
	}
	if len(points) != 4 {
		return [4]geometry.Point{}, models.Validationf("roi must contain exactly four points, got %d", len(points))
	}
	var roi [4]geometry.Point
	for i, p := range points {
		roi[i] = geometry.Point{X: p[0], Y: p[1]}
	}
	return roi, nil
}

func removeQuiet(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove artifact", slog.String("path", p),
				slog.String("error", err.Error()))
		}
	}
}
