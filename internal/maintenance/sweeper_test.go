package maintenance

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recanalyzer/recanalyzer/internal/models"
	"github.com/recanalyzer/recanalyzer/internal/repository"
)

func newSweeper(t *testing.T, grace time.Duration) (*Sweeper, *repository.JSONOutputRepository, string) {
	t.Helper()
	dir := t.TempDir()
	outputsDir := filepath.Join(dir, "outputs")
	outputs, err := repository.NewJSONOutputRepository(dir, outputsDir, nil)
	require.NoError(t, err)
	return NewSweeper(outputs, outputsDir, grace, nil), outputs, outputsDir
}

func writeAged(t *testing.T, dir, name string, age time.Duration) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	stamp := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, stamp, stamp))
}

func TestSweeper_RemovesOrphansPastGrace(t *testing.T) {
	sweeper, outputs, outputsDir := newSweeper(t, time.Hour)

	writeAged(t, outputsDir, "catalogued.mp4", 48*time.Hour)
	writeAged(t, outputsDir, "orphan-old.mp4", 48*time.Hour)
	writeAged(t, outputsDir, "orphan-fresh.mp4", time.Minute)
	require.NoError(t, outputs.Save(models.NewOutput("t1", "catalogued.mp4", models.OutputTypeVideoMP4, "", nil)))

	removed, err := sweeper.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// Catalogued files survive regardless of age; fresh orphans are still
	// inside the grace window.
	assert.FileExists(t, filepath.Join(outputsDir, "catalogued.mp4"))
	assert.FileExists(t, filepath.Join(outputsDir, "orphan-fresh.mp4"))
	assert.NoFileExists(t, filepath.Join(outputsDir, "orphan-old.mp4"))
}

func TestSweeper_EmptyDirectory(t *testing.T) {
	sweeper, _, _ := newSweeper(t, time.Hour)

	removed, err := sweeper.Sweep()
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestSweeper_SkipsSubdirectories(t *testing.T) {
	sweeper, _, outputsDir := newSweeper(t, 0)

	require.NoError(t, os.MkdirAll(filepath.Join(outputsDir, "nested"), 0o755))

	removed, err := sweeper.Sweep()
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.DirExists(t, filepath.Join(outputsDir, "nested"))
}

func TestSweeper_MissingDirectory(t *testing.T) {
	dir := t.TempDir()
	outputs, err := repository.NewJSONOutputRepository(dir, filepath.Join(dir, "outputs"), nil)
	require.NoError(t, err)

	sweeper := NewSweeper(outputs, filepath.Join(dir, "does-not-exist"), time.Hour, nil)
	_, err = sweeper.Sweep()
	assert.Error(t, err)
}
