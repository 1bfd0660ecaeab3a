package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"nori/internal/logging"
)

const defaultPollInterval = time.Second

type fileStat struct {
	size    int64
	modTime time.Time
}

// Poller detects changes by walking the root on an interval and comparing
// size and modification time with the previous walk.
type Poller struct {
	root     string
	interval time.Duration
	filter   func(string) bool
	logger   *slog.Logger
	now      func() time.Time
}

// NewPoller builds a polling watcher. A non-positive interval uses one second.
func NewPoller(root string, interval time.Duration, filter func(string) bool, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		root:     root,
		interval: interval,
		filter:   filter,
		logger:   logging.NewComponentLogger(logger, "watcher"),
		now:      time.Now,
	}
}

// Run polls until ctx is cancelled. Files present at startup produce no
// events; only differences from that first snapshot are reported.
func (p *Poller) Run(ctx context.Context, onChange func(Event)) error {
	previous := p.snapshot()
	p.logger.Debug("poll watcher started",
		logging.Path(p.root),
		logging.Duration("interval", p.interval),
		logging.Int("files", len(previous)),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			current := p.snapshot()
			for _, event := range diff(previous, current, p.now()) {
				if ctx.Err() != nil {
					return nil
				}
				onChange(event)
			}
			previous = current
		}
	}
}

func (p *Poller) snapshot() map[string]fileStat {
	files := make(map[string]fileStat)
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !accept(p.filter, path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files[path] = fileStat{size: info.Size(), modTime: info.ModTime()}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		p.logger.Debug("poll walk incomplete", logging.Path(p.root), logging.Error(err))
	}
	return files
}

// diff returns the events that turn previous into current, ordered by path.
func diff(previous, current map[string]fileStat, now time.Time) []Event {
	var events []Event
	for path, stat := range current {
		old, ok := previous[path]
		switch {
		case !ok:
			events = append(events, Event{Path: path, Kind: KindAdd, Time: now})
		case old.size != stat.size || !old.modTime.Equal(stat.modTime):
			events = append(events, Event{Path: path, Kind: KindChange, Time: now})
		}
	}
	for path := range previous {
		if _, ok := current[path]; !ok {
			events = append(events, Event{Path: path, Kind: KindRemove, Time: now})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	return events
}
