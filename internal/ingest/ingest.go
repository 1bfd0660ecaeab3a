// Package ingest mirrors agent session files into the transcript cache. It
// consumes watcher events, debounces them per path, and copies each session
// file to its cache location keyed by session id.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"nori/internal/daemonstate"
	"nori/internal/fileutil"
	"nori/internal/logging"
	"nori/internal/paths"
	"nori/internal/transcript"
	"nori/internal/watcher"
)

// ErrSessionPending reports a source file that has no session id yet.
var ErrSessionPending = errors.New("transcript has no session id yet")

// ErrUnsafeSessionID reports a session id that cannot be used as a cache file
// name.
var ErrUnsafeSessionID = errors.New("session id is not a safe file name")

// Options configures an Ingester.
type Options struct {
	Agent      string
	SourceRoot string
	CacheRoot  string
	Debounce   time.Duration
	// SyncWindow bounds startup sync to sources modified this recently. Zero
	// syncs every source file.
	SyncWindow time.Duration
}

// Ingester copies source transcripts into the cache.
type Ingester struct {
	opts   Options
	state  *daemonstate.State
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	trailing map[string]*time.Timer
	stopped  bool
	pending  sync.WaitGroup
}

// New constructs an Ingester sharing state with the rest of the daemon.
func New(opts Options, state *daemonstate.State, logger *slog.Logger) *Ingester {
	return &Ingester{
		opts:     opts,
		state:    state,
		logger:   logging.NewComponentLogger(logger, "ingest"),
		now:      time.Now,
		trailing: make(map[string]*time.Timer),
	}
}

// Accept reports whether path is a session file this ingester mirrors. It is
// suitable as a watcher filter.
func (i *Ingester) Accept(path string) bool {
	return transcript.IsSessionFile(i.opts.SourceRoot, path)
}

// Handle processes one watcher event. Failures are logged and dropped; the
// next change to the same file retries the copy.
func (i *Ingester) Handle(ctx context.Context, event watcher.Event) {
	if event.Kind == watcher.KindRemove || !i.Accept(event.Path) {
		return
	}
	if ctx.Err() != nil || i.state.ShuttingDown() {
		return
	}
	at := event.Time
	if at.IsZero() {
		at = i.now()
	}
	if !i.state.Debounce(event.Path, at, i.opts.Debounce) {
		i.logger.Debug("change debounced", logging.Path(event.Path))
		i.scheduleTrailing(ctx, event.Path, i.state.WindowRemaining(event.Path, at, i.opts.Debounce))
		return
	}
	i.mirror(event.Path)
}

// scheduleTrailing copies path once more after its debounce window closes, so
// the last write of a burst reaches the cache. At most one copy is pending
// per path.
func (i *Ingester) scheduleTrailing(ctx context.Context, path string, delay time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopped {
		return
	}
	if _, ok := i.trailing[path]; ok {
		return
	}
	i.pending.Add(1)
	i.trailing[path] = time.AfterFunc(delay, func() {
		defer i.pending.Done()
		i.mu.Lock()
		delete(i.trailing, path)
		stopped := i.stopped
		i.mu.Unlock()
		if stopped || ctx.Err() != nil || i.state.ShuttingDown() {
			return
		}
		i.mirror(path)
	})
}

// Stop cancels pending trailing copies and waits for one already running.
// Handle schedules nothing once Stop has been called.
func (i *Ingester) Stop() {
	i.mu.Lock()
	i.stopped = true
	for path, timer := range i.trailing {
		if timer.Stop() {
			i.pending.Done()
		}
		delete(i.trailing, path)
	}
	i.mu.Unlock()
	i.pending.Wait()
}

// Copy mirrors one source file into the cache and returns the cache path.
func (i *Ingester) Copy(sourcePath string) (string, error) {
	sessionID, err := transcript.ReadSessionID(sourcePath)
	if err != nil {
		return "", fmt.Errorf("read session id: %w", err)
	}
	if sessionID == "" {
		return "", ErrSessionPending
	}
	if !transcript.SafeSessionID(sessionID) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeSessionID, sessionID)
	}
	project := transcript.ProjectName(i.opts.SourceRoot, sourcePath)
	dest := paths.CachePath(i.opts.CacheRoot, i.opts.Agent, project, sessionID)
	if err := fileutil.ReplaceFile(sourcePath, dest); err != nil {
		return "", fmt.Errorf("copy transcript: %w", err)
	}
	return dest, nil
}

func (i *Ingester) mirror(sourcePath string) bool {
	dest, err := i.Copy(sourcePath)
	switch {
	case errors.Is(err, ErrSessionPending):
		i.logger.Debug("transcript skipped until session id is written",
			logging.Path(sourcePath),
			logging.String(logging.FieldEventType, "transcript_pending"),
		)
		return false
	case errors.Is(err, ErrUnsafeSessionID):
		logging.WarnWithContext(i.logger, "transcript has an unusable session id", "transcript_session_id_rejected",
			logging.Path(sourcePath),
			logging.Error(err),
			logging.Hint("session ids must not contain path separators or dot segments"),
			logging.Impact("transcript is not cached or uploaded"),
		)
		return false
	case err != nil:
		logging.WarnWithContext(i.logger, "transcript copy failed", "transcript_copy_failed",
			logging.Path(sourcePath),
			logging.Error(err),
			logging.Hint("check permissions on the source file and the cache directory"),
			logging.Impact("cache copy is stale until the next change to this file"),
		)
		return false
	}
	i.logger.Debug("transcript mirrored",
		logging.Path(sourcePath),
		logging.String("cache_path", dest),
		logging.String(logging.FieldEventType, "transcript_mirrored"),
	)
	return true
}

// Sync mirrors every existing session file under the source root once, so
// transcripts written while the daemon was down reach the cache. It returns
// the number of files copied.
func (i *Ingester) Sync(ctx context.Context) (int, error) {
	root := strings.TrimSpace(i.opts.SourceRoot)
	if root == "" {
		return 0, errors.New("source root is required")
	}
	var cutoff time.Time
	if i.opts.SyncWindow > 0 {
		cutoff = i.now().Add(-i.opts.SyncWindow)
	}

	copied := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			i.logger.Debug("sync walk error", logging.Path(path), logging.Error(err))
			return nil
		}
		if ctx.Err() != nil || i.state.ShuttingDown() {
			return fs.SkipAll
		}
		if d.IsDir() || !i.Accept(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !cutoff.IsZero() && info.ModTime().Before(cutoff) {
			return nil
		}
		if i.mirror(path) {
			copied++
		}
		return nil
	})
	if err != nil {
		return copied, fmt.Errorf("sync %s: %w", root, err)
	}
	i.logger.Info("startup sync complete",
		logging.Path(root),
		logging.Int("copied", copied),
		logging.String(logging.FieldEventType, "startup_sync"),
	)
	return copied, ctx.Err()
}
