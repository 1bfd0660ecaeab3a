package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"nori/internal/config"
	"nori/internal/daemonctl"
	"nori/internal/daemonrun"
	"nori/internal/registry"
	"nori/internal/scanner"
)

const recentUploadLimit = 5

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
)

const (
	ansiReset  = "\x1b[0m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const statusLabelWidth = 14

type statusSnapshot struct {
	Running     bool
	PID         int
	Agent       string
	SourceRoot  string
	OrgID       string
	CacheCounts map[scanner.Class]int
	Uploaded    int
	Recent      []registry.Record
}

func newWatchStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, cache, and upload status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			snap, err := buildStatusSnapshot(cmd.Context(), cfg, time.Now())
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			renderStatus(stdout, snap, shouldColorize(stdout))
			return nil
		},
	}
}

func buildStatusSnapshot(ctx context.Context, cfg *config.Config, now time.Time) (statusSnapshot, error) {
	layout := cfg.Layout()
	snap := statusSnapshot{Agent: cfg.Watch.Agent}

	running, pid, err := daemonctl.ProcessInfo(layout.PIDPath())
	if err != nil {
		return snap, err
	}
	snap.Running, snap.PID = running, pid

	if snap.SourceRoot, err = cfg.SourceRoot(); err != nil {
		return snap, err
	}
	if snap.OrgID, err = daemonrun.ResolveDestination(ctx, cfg); err != nil {
		return snap, err
	}

	snap.CacheCounts, err = scanner.Summary(layout.CacheRoot(), now, scanner.Thresholds{
		Stale:  cfg.StaleThreshold(),
		Expire: cfg.ExpireThreshold(),
	})
	if err != nil {
		return snap, fmt.Errorf("summarise cache: %w", err)
	}

	if _, err := os.Stat(layout.RegistryPath()); errors.Is(err, os.ErrNotExist) {
		return snap, nil
	}
	store, err := registry.Open(layout.RegistryPath())
	if err != nil {
		return snap, err
	}
	defer store.Close()
	if snap.Uploaded, err = store.Count(ctx); err != nil {
		return snap, err
	}
	if snap.Recent, err = store.List(ctx, recentUploadLimit); err != nil {
		return snap, err
	}
	return snap, nil
}

func renderStatus(w io.Writer, snap statusSnapshot, colorize bool) {
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(w, line)
	}
	if snap.Running {
		fmt.Fprintln(w, renderStatusLine("nori watch", statusOK, fmt.Sprintf("Running (pid %d)", snap.PID), colorize))
	} else {
		fmt.Fprintln(w, renderStatusLine("nori watch", statusWarn, "Not running (run `nori watch`)", colorize))
	}
	fmt.Fprintln(w, renderStatusLine("Agent", statusInfo, agentDisplayName(snap.Agent)+" "+snap.SourceRoot, colorize))
	if snap.OrgID != "" {
		fmt.Fprintln(w, renderStatusLine("Destination", statusOK, snap.OrgID, colorize))
	} else {
		fmt.Fprintln(w, renderStatusLine("Destination", statusWarn, "Not set (run `nori watch --set-destination`)", colorize))
	}
	fmt.Fprintln(w)

	for _, line := range renderSectionHeader("Cache", colorize) {
		fmt.Fprintln(w, line)
	}
	rows := make([][]string, 0, 3)
	for _, class := range []scanner.Class{scanner.Fresh, scanner.Stale, scanner.Expired} {
		rows = append(rows, []string{class.String(), strconv.Itoa(snap.CacheCounts[class])})
	}
	fmt.Fprintln(w, renderTable([]string{"State", "Transcripts"}, rows, []text.Align{text.AlignLeft, text.AlignRight}))
	fmt.Fprintln(w)

	for _, line := range renderSectionHeader("Uploads", colorize) {
		fmt.Fprintln(w, line)
	}
	if snap.Uploaded == 0 {
		fmt.Fprintln(w, "No transcripts uploaded yet")
		return
	}
	fmt.Fprintf(w, "%d sessions uploaded\n", snap.Uploaded)
	recent := make([][]string, 0, len(snap.Recent))
	for _, rec := range snap.Recent {
		recent = append(recent, []string{
			rec.SessionID,
			rec.UploadedAt.Local().Format("2006-01-02 15:04:05"),
			shortHash(rec.FileHash),
		})
	}
	fmt.Fprintln(w, renderTable([]string{"Session", "Uploaded", "Hash"}, recent, nil))
}

func renderTable(headers []string, rows [][]string, aligns []text.Align) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)
	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(aligns))
	for i, align := range aligns {
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	base := fmt.Sprintf("  %-*s [%s] %s", statusLabelWidth, label+":", statusKindLabel(kind), message)
	if colorize {
		return statusKindColor(kind) + base + ansiReset
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	default:
		return ansiBlue
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// agentDisplayName turns "claude-code" into "Claude Code".
func agentDisplayName(agent string) string {
	words := strings.ReplaceAll(strings.TrimSpace(agent), "-", " ")
	if words == "" {
		return "Unknown"
	}
	return cases.Title(language.English).String(words)
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
