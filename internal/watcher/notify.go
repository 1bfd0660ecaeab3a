package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"nori/internal/logging"
)

// Notify watches the root with OS file notifications. Directories created
// after startup are added as they appear.
type Notify struct {
	root   string
	filter func(string) bool
	logger *slog.Logger
	now    func() time.Time
}

// NewNotify builds an fsnotify-backed watcher.
func NewNotify(root string, filter func(string) bool, logger *slog.Logger) *Notify {
	return &Notify{
		root:   root,
		filter: filter,
		logger: logging.NewComponentLogger(logger, "watcher"),
		now:    time.Now,
	}
}

// Run watches until ctx is cancelled. The root is created if missing so the
// agent's first session is observed.
func (n *Notify) Run(ctx context.Context, onChange func(Event)) error {
	if err := os.MkdirAll(n.root, 0o755); err != nil {
		return fmt.Errorf("create watch root: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := n.addTree(fsw, n.root, nil); err != nil {
		return fmt.Errorf("watch %s: %w", n.root, err)
	}
	n.logger.Debug("native watcher started", logging.Path(n.root))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			n.handle(fsw, event, onChange)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(n.logger, "file watcher error", "watcher_error",
				logging.Path(n.root),
				logging.Error(err),
				logging.Hint("raise fs.inotify.max_user_watches or switch watch.mode to poll"),
				logging.Impact("some transcript changes may be missed until the next scan"),
			)
		}
	}
}

func (n *Notify) handle(fsw *fsnotify.Watcher, event fsnotify.Event, onChange func(Event)) {
	now := n.now()
	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			// Files written before the directory watch was registered would be
			// missed, so report them as adds.
			if err := n.addTree(fsw, event.Name, func(path string) {
				onChange(Event{Path: path, Kind: KindAdd, Time: now})
			}); err != nil {
				n.logger.Debug("watch new directory failed", logging.Path(event.Name), logging.Error(err))
			}
			return
		}
		if accept(n.filter, event.Name) {
			onChange(Event{Path: event.Name, Kind: KindAdd, Time: now})
		}
	case event.Has(fsnotify.Write):
		if accept(n.filter, event.Name) {
			onChange(Event{Path: event.Name, Kind: KindChange, Time: now})
		}
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if accept(n.filter, event.Name) {
			onChange(Event{Path: event.Name, Kind: KindRemove, Time: now})
		}
	}
}

// addTree registers dir and every directory beneath it. existing, when set,
// is called for each matching file already present.
func (n *Notify) addTree(fsw *fsnotify.Watcher, dir string, existing func(string)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		if existing != nil && d.Type().IsRegular() && accept(n.filter, path) {
			existing(path)
		}
		return nil
	})
}
