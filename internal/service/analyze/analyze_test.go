package analyze

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recanalyzer/recanalyzer/internal/codec"
	"github.com/recanalyzer/recanalyzer/internal/models"
	"github.com/recanalyzer/recanalyzer/internal/repository"
	"github.com/recanalyzer/recanalyzer/internal/supervisor"
)

const validROI = `[[0,0],[0,100],[100,0],[100,100]]`

type harness struct {
	svc        *Service
	tasks      repository.TaskRepository
	outputs    repository.OutputRepository
	outputsDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	outputsDir := filepath.Join(dir, "outputs")

	tasks, err := repository.NewJSONTaskRepository(dir, nil)
	require.NoError(t, err)
	outputs, err := repository.NewJSONOutputRepository(dir, outputsDir, nil)
	require.NoError(t, err)

	sup := supervisor.New(tasks, nil)
	require.NoError(t, sup.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})

	svc := New(tasks, outputs, sup, codec.NewProber(""), outputsDir, "", nil)
	return &harness{svc: svc, tasks: tasks, outputs: outputs, outputsDir: outputsDir}
}

// seedTrackData registers a small detection table as an existing output.
func (h *harness) seedTrackData(t *testing.T, name string, metadata map[string]string) {
	t.Helper()
	table := "frame,objid,clsid,x,y\n0,1,2,10,20\n1,1,2,12,22\n"
	require.NoError(t, os.WriteFile(filepath.Join(h.outputsDir, name), []byte(table), 0o644))
	require.NoError(t, h.outputs.Save(
		models.NewOutput("rec1", name, models.OutputTypeDetection, "detection table", metadata)))
}

func (h *harness) waitForState(t *testing.T, id string, want models.TaskState) *models.Task {
	t.Helper()
	var got *models.Task
	require.Eventually(t, func() bool {
		task, err := h.tasks.Get(id)
		if err != nil {
			return false
		}
		got = task
		return task.State == want
	}, 5*time.Second, 5*time.Millisecond)
	return got
}

func analysisParams(overrides map[string]string) map[string]string {
	params := map[string]string{
		"trackdata":  "track.csv",
		"roi":        validROI,
		"roadwidth":  "10",
		"roadheight": "50",
	}
	for k, v := range overrides {
		params[k] = v
	}
	return params
}

func TestAnalyze_StartValidation(t *testing.T) {
	h := newHarness(t)
	h.seedTrackData(t, "track.csv", nil)

	tests := []struct {
		name      string
		overrides map[string]string
	}{
		{"missing trackdata", map[string]string{"trackdata": ""}},
		{"roi not json", map[string]string{"roi": "not-json"}},
		{"roi wrong arity", map[string]string{"roi": `[[0,0],[0,1],[1,0]]`}},
		{"roi degenerate", map[string]string{"roi": `[[0,0],[1,1],[2,2],[3,3]]`}},
		{"roadwidth zero", map[string]string{"roadwidth": "0"}},
		{"roadwidth garbage", map[string]string{"roadwidth": "wide"}},
		{"roadheight negative", map[string]string{"roadheight": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Start(context.Background(), analysisParams(tt.overrides))
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}
}

func TestAnalyze_TrackdataMissing(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Start(context.Background(), analysisParams(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAnalyze_TrackdataWrongType(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.outputs.Save(
		models.NewOutput("rec1", "clip.mp4", models.OutputTypeVideoMP4, "", nil)))

	_, err := h.svc.Start(context.Background(),
		analysisParams(map[string]string{"trackdata": "clip.mp4"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Contains(t, err.Error(), "must reference")
}

// Without a source video name in the trackdata metadata the render step cannot
// start, but the analysed table must already be registered by then.
func TestAnalyze_TableWrittenBeforeRenderFails(t *testing.T) {
	h := newHarness(t)
	h.seedTrackData(t, "track.csv", map[string]string{
		"cctv": "cam1",
		"fps":  "30",
	})

	task, err := h.svc.Start(context.Background(), analysisParams(nil))
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatePending, task.State)
	assert.Equal(t, "track.csv", task.Params["trackdata"])

	failed := h.waitForState(t, task.ID, models.TaskStateFailed)
	assert.Contains(t, failed.Reason, "source video name")

	csvOutput, err := h.outputs.GetByName(task.ID + ".csv")
	require.NoError(t, err)
	assert.Equal(t, models.OutputTypeCSV, csvOutput.Type)
	assert.Equal(t, "track.csv", csvOutput.Metadata["trackdata"])
	assert.Equal(t, "30", csvOutput.Metadata["fps"])

	f, err := os.Open(filepath.Join(h.outputsDir, task.ID+".csv"))
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	assert.Equal(t, "objid,frame,clsid,x,y,perspx,perspy,speed", scanner.Text())
}
