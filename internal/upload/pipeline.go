// Package upload turns a cached transcript into at most one remote upload per
// content hash. Pipeline handles parsing, dedup against the registry, and
// recording success; Client is the default HTTP Uploader.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"nori/internal/logging"
	"nori/internal/transcript"
)

var (
	// ErrNoSessionID means no line of the transcript carries a session id.
	ErrNoSessionID = errors.New("transcript has no session id")
	// ErrNoDestination means no organization was selected for uploads.
	ErrNoDestination = errors.New("no upload destination selected")
)

// IsValidation reports whether err means the transcript itself cannot be
// uploaded as it stands, as opposed to a transient failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNoSessionID) || errors.Is(err, ErrNoDestination)
}

// Registry is the dedup store consulted before and updated after an upload.
type Registry interface {
	IsUploaded(ctx context.Context, sessionID, hash string) (bool, error)
	MarkUploaded(ctx context.Context, sessionID, hash, transcriptPath string) error
}

// Result describes a successful Process call.
type Result struct {
	SessionID       string
	Hash            string
	Uploaded        bool
	AlreadyUploaded bool
}

// Pipeline uploads cached transcripts.
type Pipeline struct {
	registry Registry
	uploader Uploader
	logger   *slog.Logger
}

// NewPipeline wires a registry and uploader together.
func NewPipeline(registry Registry, uploader Uploader, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		registry: registry,
		uploader: uploader,
		logger:   logging.NewComponentLogger(logger, "upload"),
	}
}

// Process uploads the transcript at path to orgID unless this exact content
// was uploaded before. The registry is updated only after the uploader
// succeeds, so any error leaves the transcript eligible for a retry.
func (p *Pipeline) Process(ctx context.Context, path, orgID string) (Result, error) {
	if strings.TrimSpace(orgID) == "" {
		return Result{}, ErrNoDestination
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read transcript: %w", err)
	}
	records := transcript.ParseRecords(raw)
	sessionID := transcript.SessionIDFromRecords(records)
	if sessionID == "" {
		return Result{}, ErrNoSessionID
	}
	hash := transcript.Hash(raw)
	result := Result{SessionID: sessionID, Hash: hash}

	uploaded, err := p.registry.IsUploaded(ctx, sessionID, hash)
	if err != nil {
		return result, fmt.Errorf("check registry: %w", err)
	}
	if uploaded {
		result.AlreadyUploaded = true
		p.logger.Debug("transcript already uploaded",
			logging.SessionID(sessionID),
			logging.Path(path),
		)
		return result, nil
	}

	if err := p.uploader.Upload(ctx, Request{
		SessionID: sessionID,
		OrgID:     orgID,
		Records:   records,
		Raw:       raw,
	}); err != nil {
		return result, fmt.Errorf("upload %s: %w", sessionID, err)
	}
	if err := p.registry.MarkUploaded(ctx, sessionID, hash, path); err != nil {
		return result, fmt.Errorf("record upload %s: %w", sessionID, err)
	}
	result.Uploaded = true
	p.logger.Info("transcript uploaded",
		logging.SessionID(sessionID),
		logging.OrgID(orgID),
		logging.Path(path),
		logging.Int("records", len(records)),
		logging.String(logging.FieldEventType, "upload_succeeded"),
	)
	return result, nil
}
