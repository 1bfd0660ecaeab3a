package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nori/internal/config"
	"nori/internal/daemon"
	"nori/internal/daemonctl"
	"nori/internal/daemonrun"
	"nori/internal/logging"
	"nori/internal/paths"
)

const (
	startWaitTimeout = 10 * time.Second
	stopWaitTimeout  = 10 * time.Second
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var setDestination bool
	var agent string
	var foreground bool

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Capture agent transcripts and upload them when idle",
		Long: "Start the nori watch daemon. It mirrors the agent's session files into " +
			"~/.nori/transcripts and uploads each transcript once it has been idle for " +
			"the stale threshold. Without --foreground the daemon detaches and logs to ~/.nori-watch.log.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := applyAgent(cfg, agent); err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if setDestination {
				orgID, err := daemonrun.SelectDestination(cmd.Context(), cfg, cmd.InOrStdin(), out, logging.NewNop())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Upload destination set to %s\n", orgID)
			}

			if foreground {
				return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
					LogLevel:   ctx.logLevel(),
					Foreground: true,
				})
			}

			pidPath := cfg.Layout().PIDPath()
			if running, pid, _ := daemonctl.ProcessInfo(pidPath); running {
				return fmt.Errorf("%w (pid %d); use `nori watch stop` first", daemon.ErrAlreadyRunning, pid)
			}
			exe, err := executablePath()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			pid, err := daemonctl.Launch(exe, daemonctl.LaunchOptions{
				ConfigPath: ctx.configPath(),
				Agent:      strings.TrimSpace(agent),
				LogLevel:   ctx.logLevel(),
			})
			if err != nil {
				return err
			}
			if err := daemonctl.WaitForStart(pidPath, pid, startWaitTimeout); err != nil {
				return err
			}
			fmt.Fprintf(out, "nori watch started (pid %d)\n", pid)
			fmt.Fprintf(out, "Logs: %s\n", cfg.Layout().LogPath())
			return nil
		},
	}
	watchCmd.Flags().BoolVar(&setDestination, "set-destination", false, "Choose the upload organization before starting")
	watchCmd.Flags().StringVar(&agent, "agent", "", fmt.Sprintf("Agent whose transcripts to capture (%s)", strings.Join(paths.Agents(), ", ")))
	watchCmd.Flags().BoolVar(&foreground, "foreground", false, "Run in the foreground instead of detaching")

	watchCmd.AddCommand(newWatchStopCommand(ctx))
	watchCmd.AddCommand(newWatchStatusCommand(ctx))
	return watchCmd
}

func newWatchStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running nori watch daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			pid, err := daemonctl.Stop(cfg.Layout().PIDPath())
			if errors.Is(err, daemonctl.ErrNotRunning) {
				fmt.Fprintln(out, "No running nori watch instance found")
				return err
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Stopping nori watch (pid %d)...\n", pid)
			if err := daemonctl.WaitForExit(pid, stopWaitTimeout); err != nil {
				return err
			}
			fmt.Fprintln(out, "nori watch stopped")
			return nil
		},
	}
}

func applyAgent(cfg *config.Config, agent string) error {
	agent = strings.ToLower(strings.TrimSpace(agent))
	if agent == "" {
		return nil
	}
	cfg.Watch.Agent = agent
	return cfg.Validate()
}
