package upload

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"gramport/internal/fileutil"
	"gramport/internal/metrics"
)

// SweepResult contains the outcome of one janitor pass.
type SweepResult struct {
	Removed []string
	Skipped []string
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// Janitor deletes top-level temp entries whose mtime is older than the staleness
// threshold. Uploads in flight stay fresh because every chunk rename touches the
// session directory; running stages are protected by their lease.
type Janitor struct {
	layout     Layout
	staleAfter time.Duration
	logger     logrus.FieldLogger
	now        func() time.Time
}

func NewJanitor(layout Layout, staleAfter time.Duration, logger logrus.FieldLogger) *Janitor {
	return &Janitor{layout: layout, staleAfter: staleAfter, logger: logger, now: time.Now}
}

// Sweep is best-effort: failures are logged and collected, never returned.
func (j *Janitor) Sweep(ctx context.Context) SweepResult {
	result := SweepResult{}

	entries, err := os.ReadDir(j.layout.Root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: j.layout.Root, Error: err})
			j.logger.WithError(err).WithField("path", j.layout.Root).Warn("failed to read temp root")
		}
		return result
	}

	cutoff := j.now().Add(-j.staleAfter)

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}

		path := filepath.Join(j.layout.Root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			if !os.IsNotExist(err) {
				result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			}
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		release := func() {}
		if id := SessionIDFromEntry(entry.Name()); id != "" {
			var held bool
			release, held = tryLease(j.layout.LockPath(id))
			if held {
				result.Skipped = append(result.Skipped, path)
				j.logger.WithField("path", path).Info("stale entry belongs to a running import, skipping")
				continue
			}
		}

		err = fileutil.RemoveTree(path)
		release()

		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			metrics.JanitorErrors.Inc()
			j.logger.WithError(err).WithField("path", path).Warn("failed to remove stale temp entry")
			continue
		}

		result.Removed = append(result.Removed, path)
		metrics.JanitorRemoved.Inc()
		j.logger.WithFields(logrus.Fields{
			"path": path,
			"age":  j.now().Sub(info.ModTime()).Round(time.Second).String(),
		}).Info("removed stale temp entry")
	}

	return result
}
