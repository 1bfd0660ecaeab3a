package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"nori/internal/config"
	"nori/internal/daemonstate"
	"nori/internal/ingest"
	"nori/internal/logging"
	"nori/internal/registry"
	"nori/internal/scanner"
	"nori/internal/upload"
	"nori/internal/watcher"
)

// ErrAlreadyRunning means another nori watch process owns the PID file or lock.
var ErrAlreadyRunning = errors.New("nori watch is already running")

// Phase is the daemon lifecycle stage.
type Phase int32

const (
	PhaseStopped Phase = iota
	PhaseStarting
	PhaseRunning
	PhaseShuttingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseStopped:
		return "stopped"
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Daemon coordinates one capture run.
type Daemon struct {
	cfg      *config.Config
	uploader upload.Uploader
	logger   *slog.Logger
	state    *daemonstate.State

	pidPath string
	lock    *flock.Flock

	phase        atomic.Int32
	store        *registry.Store
	ingester     *ingest.Ingester
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
	done         chan struct{}
}

// New constructs a daemon. orgID is the selected upload destination and may
// be empty, in which case transcripts are cached but not uploaded.
func New(cfg *config.Config, uploader upload.Uploader, orgID string, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || uploader == nil {
		return nil, errors.New("daemon requires config and uploader")
	}
	layout := cfg.Layout()
	state := daemonstate.New(os.Getpid())
	state.SetOrgID(orgID)
	return &Daemon{
		cfg:      cfg,
		uploader: uploader,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		state:    state,
		pidPath:  layout.PIDPath(),
		lock:     flock.New(layout.LockPath()),
		done:     make(chan struct{}),
	}, nil
}

// Phase returns the current lifecycle stage.
func (d *Daemon) Phase() Phase {
	return Phase(d.phase.Load())
}

// State exposes the shared run state.
func (d *Daemon) State() *daemonstate.State {
	return d.state
}

// Done is closed once Shutdown has released every resource.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// Start acquires the single-instance guards, opens the registry, and launches
// the ingest watcher and the cache scanner. Any error leaves nothing held.
func (d *Daemon) Start(ctx context.Context) (err error) {
	if d.state.ShuttingDown() {
		return errors.New("daemon has been shut down")
	}
	if !d.phase.CompareAndSwap(int32(PhaseStopped), int32(PhaseStarting)) {
		return fmt.Errorf("daemon cannot start from phase %s", d.Phase())
	}
	var cleanups []func()
	defer func() {
		if err == nil {
			return
		}
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
		d.phase.Store(int32(PhaseStopped))
	}()

	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}

	pid := d.state.PID()
	if existing, readErr := ReadPIDFile(d.pidPath); readErr == nil && existing != pid && ProcessAlive(existing) {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, existing)
	}
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w (lock %s held)", ErrAlreadyRunning, d.lock.Path())
	}
	cleanups = append(cleanups, func() { _ = d.lock.Unlock() })

	if err := writePIDFile(d.pidPath, pid); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	cleanups = append(cleanups, func() { _ = removePIDFile(d.pidPath, pid) })

	layout := d.cfg.Layout()
	store, err := registry.Open(layout.RegistryPath())
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	cleanups = append(cleanups, func() { _ = store.Close() })

	sourceRoot, err := d.cfg.SourceRoot()
	if err != nil {
		return err
	}
	ing := ingest.New(ingest.Options{
		Agent:      d.cfg.Watch.Agent,
		SourceRoot: sourceRoot,
		CacheRoot:  layout.CacheRoot(),
		Debounce:   d.cfg.DebounceWindow(),
		SyncWindow: d.cfg.ExpireThreshold(),
	}, d.state, d.logger)
	w, err := watcher.New(watcher.Options{
		Mode:         d.cfg.Watch.Mode,
		Root:         sourceRoot,
		PollInterval: d.cfg.PollInterval(),
		Filter:       ing.Accept,
		Logger:       d.logger,
	})
	if err != nil {
		return err
	}
	scan := scanner.New(scanner.Options{
		CacheRoot: layout.CacheRoot(),
		Interval:  d.cfg.ScanInterval(),
		Thresholds: scanner.Thresholds{
			Stale:  d.cfg.StaleThreshold(),
			Expire: d.cfg.ExpireThreshold(),
		},
		MaxValidationFailures: d.cfg.Watch.MaxValidationFailures,
	}, d.state, upload.NewPipeline(store, d.uploader, d.logger), d.logger)

	runCtx, cancel := context.WithCancel(ctx)
	d.store = store
	d.ingester = ing
	d.cancel = cancel

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		if _, syncErr := ing.Sync(runCtx); syncErr != nil && runCtx.Err() == nil {
			logging.WarnWithContext(d.logger, "startup sync incomplete", "startup_sync_failed",
				logging.Error(syncErr),
				logging.Hint("check permissions on "+sourceRoot),
				logging.Impact("transcripts written while stopped are captured on their next change"),
			)
		}
		if runErr := w.Run(runCtx, func(event watcher.Event) { ing.Handle(runCtx, event) }); runErr != nil {
			logging.ErrorWithContext(d.logger, "source watcher stopped", "watcher_failed",
				logging.Path(sourceRoot),
				logging.Error(runErr),
				logging.Hint("set watch.mode = \"poll\" or check that the source directory is readable"),
			)
		}
	}()
	go func() {
		defer d.wg.Done()
		_ = scan.Run(runCtx)
	}()

	d.phase.Store(int32(PhaseRunning))
	d.logger.Info("nori watch started",
		logging.Int("pid", pid),
		logging.String(logging.FieldAgent, d.cfg.Watch.Agent),
		logging.String("source_root", sourceRoot),
		logging.String("cache_root", layout.CacheRoot()),
		logging.String("watch_mode", d.cfg.Watch.Mode),
		logging.Bool("destination_selected", d.state.OrgID() != ""),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Shutdown stops the run. It is safe to call any number of times from any
// goroutine; only the first call does work. No new copy or upload starts once
// it is called. An upload already on the wire is not cancelled; it finishes or
// hits upload.request_timeout before the registry is closed.
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() {
		previous := Phase(d.phase.Swap(int32(PhaseShuttingDown)))
		d.state.BeginShutdown()
		if d.cancel != nil {
			d.cancel()
		}
		d.wg.Wait()
		if d.ingester != nil {
			d.ingester.Stop()
		}

		if previous == PhaseRunning {
			if d.store != nil {
				if err := d.store.Close(); err != nil {
					logging.WarnWithContext(d.logger, "registry close failed", "registry_close_failed",
						logging.Error(err),
						logging.Impact("registry may need WAL recovery on next start"),
					)
				}
			}
			if err := removePIDFile(d.pidPath, d.state.PID()); err != nil {
				logging.WarnWithContext(d.logger, "pid file removal failed", "pid_remove_failed",
					logging.Path(d.pidPath),
					logging.Error(err),
					logging.Hint("delete the pid file manually"),
					logging.Impact("nori watch stop may report a stale process"),
				)
			}
			if err := d.lock.Unlock(); err != nil {
				logging.WarnWithContext(d.logger, "lock release failed", "lock_release_failed",
					logging.Error(err),
					logging.Impact("lock is released when the process exits"),
				)
			}
		}
		d.state.Reset()
		d.phase.Store(int32(PhaseStopped))
		close(d.done)
		d.logger.Info("nori watch stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
	})
}
