// Package daemonrun wires configuration, logging, the destination, and the
// daemon into one foreground process that runs until signalled.
package daemonrun

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"nori/internal/config"
	"nori/internal/daemon"
	"nori/internal/daemonctl"
	"nori/internal/destination"
	"nori/internal/logging"
	"nori/internal/upload"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel   string
	Foreground bool
}

// Run starts the capture daemon and blocks until SIGINT, SIGTERM, or ctx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	layout := cfg.Layout()
	if running, pid, _ := daemonctl.ProcessInfo(layout.PIDPath()); running {
		return fmt.Errorf("%w (pid %d)", daemon.ErrAlreadyRunning, pid)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	archived, rotateErr := logging.RotateLog(layout.LogPath(), layout.LogArchiveDir())
	if rotateErr != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to rotate previous log: %v\n", rotateErr)
	}

	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	logger, err := logging.NewFromConfig(cfg, opts.Foreground)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	runID := uuid.NewString()
	logger = logger.With(logging.String(logging.FieldRunID, runID))
	if archived != "" {
		logger.Info("previous log archived",
			logging.Path(archived),
			logging.String(logging.FieldEventType, "log_rotated"),
		)
	}
	logging.PruneArchives(logger, layout.LogArchiveDir(), cfg.Logging.RetentionDays, time.Now())

	orgID, err := ResolveDestination(signalCtx, cfg)
	if err != nil {
		return err
	}
	if orgID == "" {
		logging.WarnWithContext(logger, "no upload destination selected", "destination_missing",
			logging.Hint("run nori watch --set-destination or set upload.org_id"),
			logging.Impact("transcripts are cached but not uploaded"),
		)
	}

	uploader := upload.NewClient(upload.ClientOptions{
		BaseURL:  cfg.Upload.BaseURL,
		APIToken: cfg.Upload.APIToken,
		Timeout:  cfg.UploadTimeout(),
	})
	d, err := daemon.New(cfg, uploader, orgID, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.Hint("run nori watch stop or remove a stale pid file"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("nori watch shutting down", logging.String(logging.FieldEventType, "daemon_stopping"))
	d.Shutdown()
	return nil
}

// ResolveDestination returns the configured organization, falling back to
// the selection saved by --set-destination.
func ResolveDestination(ctx context.Context, cfg *config.Config) (string, error) {
	chain := destination.Chain{
		destination.Static(cfg.Upload.OrgID),
		destination.NewFileStore(cfg.Layout().DestinationPath()),
	}
	orgID, err := chain.OrgID(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve destination: %w", err)
	}
	return orgID, nil
}

// SelectDestination prompts for an organization on out, reading the answer
// from in, and saves it for later runs.
func SelectDestination(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer, logger *slog.Logger) (string, error) {
	current, err := ResolveDestination(ctx, cfg)
	if err != nil {
		return "", err
	}
	orgID, err := destination.Prompt(in, out, current)
	if err != nil {
		return "", err
	}
	store := destination.NewFileStore(cfg.Layout().DestinationPath())
	if err := store.Save(destination.Selection{OrgID: orgID}); err != nil {
		return "", err
	}
	if cfg.Upload.OrgID != "" && cfg.Upload.OrgID != orgID {
		logging.WarnWithContext(logger, "configured org id overrides the saved destination", "destination_overridden",
			logging.OrgID(cfg.Upload.OrgID),
			logging.String("saved_org_id", orgID),
			logging.Hint("clear upload.org_id and NORI_ORG_ID to use the saved destination"),
			logging.Impact("uploads go to the configured org id"),
		)
	}
	return orgID, nil
}
