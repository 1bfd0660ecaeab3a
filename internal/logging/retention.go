package logging

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Archived daemon logs are named nori-watch-<stamp>.log, where stamp is the
// UTC modification time of the log when it was rotated. A collision appends
// "-<nanos>" after the stamp.
const (
	archivePrefix = "nori-watch-"
	archiveExt    = ".log"
	archiveStamp  = "20060102T150405.000Z"
)

// ArchiveName returns the archive file name for a log last written at t.
func ArchiveName(t time.Time) string {
	return archivePrefix + t.UTC().Format(archiveStamp) + archiveExt
}

// RotateLog moves the previous run's log at logPath into archiveDir and
// returns the archive path. A missing or empty log is left alone and yields
// an empty path.
func RotateLog(logPath, archiveDir string) (string, error) {
	info, err := os.Stat(logPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if info.Size() == 0 {
		return "", nil
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", fmt.Errorf("create log archive directory: %w", err)
	}
	target := filepath.Join(archiveDir, ArchiveName(info.ModTime()))
	if _, err := os.Stat(target); err == nil {
		name := strings.TrimSuffix(filepath.Base(target), archiveExt)
		target = filepath.Join(archiveDir, fmt.Sprintf("%s-%d%s", name, time.Now().UnixNano(), archiveExt))
	}
	if err := os.Rename(logPath, target); err != nil {
		return "", fmt.Errorf("archive log: %w", err)
	}
	return target, nil
}

// PruneArchives deletes archived daemon logs in archiveDir older than
// retentionDays, judged by the stamp in the name and falling back to the
// file's mtime. Other files are never touched. A retentionDays of 0 keeps
// everything. It returns the removed paths.
func PruneArchives(logger *slog.Logger, archiveDir string, retentionDays int, now time.Time) []string {
	if retentionDays <= 0 {
		return nil
	}
	entries, err := os.ReadDir(archiveDir)
	if err != nil {
		return nil
	}
	cutoff := now.AddDate(0, 0, -retentionDays)

	var removed []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, archiveExt) {
			continue
		}
		written, ok := archiveTime(name)
		if !ok {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			written = info.ModTime()
		}
		if !written.Before(cutoff) {
			continue
		}
		path := filepath.Join(archiveDir, name)
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "old daemon log not removed", "log_retention_failed",
				Path(path),
				Error(err),
				Hint("check ownership of "+archiveDir),
				Impact("old log stays on disk"),
			)
			continue
		}
		removed = append(removed, path)
	}
	if len(removed) > 0 && logger != nil {
		logger.Info("old daemon logs pruned",
			Path(archiveDir),
			Int("removed", len(removed)),
			String(FieldEventType, "log_pruned"),
		)
	}
	return removed
}

func archiveTime(name string) (time.Time, bool) {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, archivePrefix), archiveExt)
	if len(stamp) < len(archiveStamp) {
		return time.Time{}, false
	}
	t, err := time.Parse(archiveStamp, stamp[:len(archiveStamp)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
