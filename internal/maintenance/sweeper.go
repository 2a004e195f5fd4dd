// Package maintenance removes orphaned artifact files from the output
// directory. Crashes between writing a file and cataloguing it, or between
// decataloguing and deleting, leave files no catalog entry points at; the
// sweeper reclaims them on a cron schedule.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/recanalyzer/recanalyzer/internal/repository"
)

// Sweeper deletes files in the output directory that no catalog entry
// references and that are older than the grace period. The grace period
// protects files a running task has written but not yet registered.
type Sweeper struct {
	outputs    repository.OutputRepository
	outputsDir string
	grace      time.Duration
	logger     *slog.Logger

	cron *cron.Cron
	now  func() time.Time
}

// NewSweeper creates a sweeper over the output directory.
func NewSweeper(outputs repository.OutputRepository, outputsDir string, grace time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		outputs:    outputs,
		outputsDir: outputsDir,
		grace:      grace,
		logger:     logger,
		now:        time.Now,
	}
}

// Start schedules sweeps using a 6-field cron expression (seconds included).
func (s *Sweeper) Start(spec string) error {
	s.cron = cron.New(cron.WithSeconds())
	_, err := s.cron.AddFunc(spec, func() {
		removed, err := s.Sweep()
		if err != nil {
			s.logger.Error("artifact sweep failed", slog.String("error", err.Error()))
			return
		}
		if removed > 0 {
			s.logger.Info("artifact sweep removed orphaned files", slog.Int("removed", removed))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling sweep %q: %w", spec, err)
	}
	s.cron.Start()
	s.logger.Info("artifact sweeper scheduled",
		slog.String("cron", spec),
		slog.Duration("grace", s.grace))
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// Sweep runs one pass and returns the number of files removed.
func (s *Sweeper) Sweep() (int, error) {
	referenced := make(map[string]struct{})
	for _, output := range s.outputs.GetAll() {
		referenced[output.Name] = struct{}{}
	}

	entries, err := os.ReadDir(s.outputsDir)
	if err != nil {
		return 0, fmt.Errorf("reading output directory: %w", err)
	}

	cutoff := s.now().Add(-s.grace)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := referenced[entry.Name()]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.outputsDir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to remove orphaned artifact",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		s.logger.Debug("removed orphaned artifact", slog.String("path", path))
		removed++
	}
	return removed, nil
}
