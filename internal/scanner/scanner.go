// Package scanner periodically walks the transcript cache, deletes expired
// transcripts, and hands stale ones to the upload pipeline one at a time.
package scanner

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"nori/internal/daemonstate"
	"nori/internal/logging"
	"nori/internal/transcript"
	"nori/internal/upload"
)

// Processor uploads one cached transcript.
type Processor interface {
	Process(ctx context.Context, path, orgID string) (upload.Result, error)
}

// Options configures a Scanner.
type Options struct {
	CacheRoot  string
	Interval   time.Duration
	Thresholds Thresholds
	// MaxValidationFailures quarantines a transcript that failed validation
	// this many times until it changes. Zero retries forever.
	MaxValidationFailures int
}

// TickResult summarises one pass over the cache.
type TickResult struct {
	Fresh           int
	Deleted         []string
	Uploaded        []string
	AlreadyUploaded []string
	Failed          []string
	Skipped         []string
}

// Scanner owns the periodic cache pass.
type Scanner struct {
	opts      Options
	state     *daemonstate.State
	processor Processor
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs a Scanner.
func New(opts Options, state *daemonstate.State, processor Processor, logger *slog.Logger) *Scanner {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	return &Scanner{
		opts:      opts,
		state:     state,
		processor: processor,
		logger:    logging.NewComponentLogger(logger, "scanner"),
		now:       time.Now,
	}
}

// Run ticks once immediately and then on every interval until ctx is
// cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		s.Tick(ctx, s.now())
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

type cachedFile struct {
	path    string
	modTime time.Time
	class   Class
}

// Tick performs one pass: all expired transcripts are deleted first, then
// stale ones are uploaded sequentially. Nothing happens once shutdown begins.
func (s *Scanner) Tick(ctx context.Context, now time.Time) TickResult {
	var result TickResult
	if ctx.Err() != nil || s.state.ShuttingDown() {
		return result
	}

	var expired, stale []cachedFile
	for _, file := range s.collect(now) {
		switch file.class {
		case Expired:
			expired = append(expired, file)
		case Stale:
			stale = append(stale, file)
		default:
			result.Fresh++
		}
	}

	for _, file := range expired {
		if s.state.ShuttingDown() {
			return result
		}
		if err := os.Remove(file.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logging.WarnWithContext(s.logger, "expired transcript delete failed", "transcript_expire_failed",
				logging.Path(file.path),
				logging.Error(err),
				logging.Hint("check permissions on the transcript cache"),
				logging.Impact("expired transcript stays on disk until the next scan"),
			)
			continue
		}
		s.state.ClearValidationFailures(file.path)
		result.Deleted = append(result.Deleted, file.path)
		s.logger.Info("expired transcript deleted",
			logging.Path(file.path),
			logging.Duration("age", now.Sub(file.modTime)),
			logging.String(logging.FieldEventType, "transcript_expired"),
		)
	}

	if len(stale) > 0 && s.state.OrgID() == "" {
		logging.WarnWithContext(s.logger, "stale transcripts waiting for a destination", "upload_no_destination",
			logging.Int("pending", len(stale)),
			logging.Hint("run nori watch --set-destination or set upload.org_id"),
			logging.Impact("no transcript is uploaded until a destination is selected"),
		)
		for _, file := range stale {
			result.Skipped = append(result.Skipped, file.path)
		}
		return result
	}

	for _, file := range stale {
		if ctx.Err() != nil || s.state.ShuttingDown() {
			return result
		}
		s.uploadOne(ctx, file, &result)
	}
	return result
}

func (s *Scanner) uploadOne(ctx context.Context, file cachedFile, result *TickResult) {
	if s.state.Quarantined(file.path, file.modTime, s.opts.MaxValidationFailures) {
		result.Skipped = append(result.Skipped, file.path)
		return
	}
	if !s.state.TryBeginUpload(file.path) {
		result.Skipped = append(result.Skipped, file.path)
		return
	}
	defer s.state.EndUpload(file.path)

	orgID := s.state.OrgID()
	// Shutdown stops new uploads between files; one already started runs to
	// completion under the client's own timeout.
	res, err := s.processor.Process(context.WithoutCancel(ctx), file.path, orgID)
	switch {
	case err == nil:
		s.state.ClearValidationFailures(file.path)
		if res.AlreadyUploaded {
			result.AlreadyUploaded = append(result.AlreadyUploaded, file.path)
		} else {
			result.Uploaded = append(result.Uploaded, file.path)
		}
	case errors.Is(err, upload.ErrNoSessionID):
		failures := s.state.RecordValidationFailure(file.path, file.modTime)
		result.Failed = append(result.Failed, file.path)
		impact := "transcript is kept and retried on the next scan"
		attrs := []logging.Attr{
			logging.Path(file.path),
			logging.Int("failures", failures),
			logging.Error(err),
			logging.Hint("the agent has not written a session id to this transcript"),
		}
		if limit := s.opts.MaxValidationFailures; limit > 0 && failures >= limit {
			impact = "transcript is skipped until it changes or expires"
			attrs = append(attrs, logging.Alert("transcript_quarantined"))
		}
		attrs = append(attrs, logging.Impact(impact))
		logging.WarnWithContext(s.logger, "transcript failed validation", "upload_validation_failed", attrs...)
	default:
		result.Failed = append(result.Failed, file.path)
		logging.WarnWithContext(s.logger, "transcript upload failed", "upload_failed",
			logging.Path(file.path),
			logging.OrgID(orgID),
			logging.Error(err),
			logging.Hint("check network access, upload.base_url and the API token"),
			logging.Impact("transcript is kept and retried on the next scan"),
		)
	}
}

// collect walks the cache and classifies every transcript, ordered by path.
// Walk errors are logged and the walk continues.
func (s *Scanner) collect(now time.Time) []cachedFile {
	var files []cachedFile
	err := filepath.WalkDir(s.opts.CacheRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Debug("cache walk error", logging.Path(path), logging.Error(err))
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if _, ok := transcript.FromCachePath(s.opts.CacheRoot, path, info.ModTime()); !ok {
			return nil
		}
		files = append(files, cachedFile{
			path:    path,
			modTime: info.ModTime(),
			class:   Classify(now.Sub(info.ModTime()), s.opts.Thresholds),
		})
		return nil
	})
	if err != nil {
		logging.WarnWithContext(s.logger, "cache walk failed", "cache_walk_failed",
			logging.Path(s.opts.CacheRoot),
			logging.Error(err),
			logging.Hint("check permissions on the transcript cache"),
			logging.Impact("some transcripts were not considered this tick"),
		)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files
}

// Summary counts cached transcripts by class without changing anything.
func Summary(cacheRoot string, now time.Time, t Thresholds) (map[Class]int, error) {
	counts := map[Class]int{Fresh: 0, Stale: 0, Expired: 0}
	err := filepath.WalkDir(cacheRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if _, ok := transcript.FromCachePath(cacheRoot, path, info.ModTime()); !ok {
			return nil
		}
		counts[Classify(now.Sub(info.ModTime()), t)]++
		return nil
	})
	return counts, err
}
