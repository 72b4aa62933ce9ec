package shutdown

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// StagingPrefix names the temp files the file sink writes before renaming an
// artifact into place. An interrupted save leaves one behind.
const StagingPrefix = ".artifact-"

// RemoveStaging returns a hook that deletes leftover staging files under
// dir. Failures are logged, never returned, so they do not mask the errors
// of earlier hooks.
//
// Example:
//
//	manager.Add("staging-files", shutdown.StageFiles, shutdown.RemoveStaging(logger, cfg.OutputDir))
func RemoveStaging(logger *zap.Logger, dir string) Hook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) error {
		removed, failed := 0, 0
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == dir && os.IsNotExist(err) {
					return fs.SkipAll
				}
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() || !strings.HasPrefix(d.Name(), StagingPrefix) {
				return nil
			}
			if err := os.Remove(path); err != nil {
				failed++
				logger.Warn("failed to remove staging file", zap.String("file", path), zap.Error(err))
				return nil
			}
			removed++
			return nil
		})
		if err != nil {
			logger.Warn("staging cleanup interrupted", zap.Int("removed", removed), zap.Error(err))
			return nil
		}
		if removed > 0 || failed > 0 {
			logger.Info("staging cleanup complete",
				zap.String("directory", dir),
				zap.Int("removed", removed),
				zap.Int("failed", failed))
		}
		return nil
	}
}
