// Package watcher observes the agent session directory and reports file
// additions, modifications, and removals. Two implementations share one
// interface: a polling walker (the default) and an fsnotify-backed native
// watcher.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Kind classifies a file event.
type Kind string

const (
	KindAdd    Kind = "add"
	KindChange Kind = "change"
	KindRemove Kind = "remove"
)

// Event reports one observed change to a file beneath the watched root.
type Event struct {
	Path string
	Kind Kind
	Time time.Time
}

// Watcher delivers file events to onChange until ctx is cancelled. onChange
// runs on the watcher's goroutine.
type Watcher interface {
	Run(ctx context.Context, onChange func(Event)) error
}

const (
	ModePoll   = "poll"
	ModeNative = "native"
)

// Options configures New.
type Options struct {
	Mode         string
	Root         string
	PollInterval time.Duration
	// Filter limits events to matching file paths. Nil accepts every file.
	Filter func(path string) bool
	Logger *slog.Logger
}

// New returns the watcher implementation selected by opts.Mode.
func New(opts Options) (Watcher, error) {
	switch opts.Mode {
	case ModePoll, "":
		return NewPoller(opts.Root, opts.PollInterval, opts.Filter, opts.Logger), nil
	case ModeNative:
		return NewNotify(opts.Root, opts.Filter, opts.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported watch mode %q", opts.Mode)
	}
}

func accept(filter func(string) bool, path string) bool {
	return filter == nil || filter(path)
}
