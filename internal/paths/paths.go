// Package paths computes the well-known filesystem locations used by nori
// watch. Every location is a pure function of the home directory, so tests can
// point a whole daemon at a temporary directory.
package paths

import (
	"fmt"
	"path/filepath"
	"sort"
)

const (
	appDirName       = ".nori"
	transcriptsDir   = "transcripts"
	registryFileName = "registry.db"
	pidFileName      = ".nori-watch.pid"
	logFileName      = ".nori-watch.log"
	lockFileName     = ".nori-watch.lock"
	destinationFile  = "watch-destination.toml"
	logArchiveDir    = "logs"

	// TranscriptExt is the extension of session transcripts in both the source
	// root and the cache.
	TranscriptExt = ".jsonl"
)

// AgentClaudeCode identifies the Claude Code agent.
const AgentClaudeCode = "claude-code"

// agentSourceDirs maps agent names to their session roots relative to home.
var agentSourceDirs = map[string][]string{
	AgentClaudeCode: {".claude", "projects"},
}

// KnownAgent reports whether agent has a built-in session root.
func KnownAgent(agent string) bool {
	_, ok := agentSourceDirs[agent]
	return ok
}

// Agents lists the agents with built-in session roots.
func Agents() []string {
	out := make([]string, 0, len(agentSourceDirs))
	for name := range agentSourceDirs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Layout resolves locations beneath a home directory.
type Layout struct {
	Home string
}

// New returns a Layout rooted at home.
func New(home string) Layout {
	return Layout{Home: home}
}

// AppDir returns <home>/.nori.
func (l Layout) AppDir() string {
	return filepath.Join(l.Home, appDirName)
}

// CacheRoot returns the organized transcript cache root.
func (l Layout) CacheRoot() string {
	return filepath.Join(l.AppDir(), transcriptsDir)
}

// RegistryPath returns the upload registry database file.
func (l Layout) RegistryPath() string {
	return filepath.Join(l.CacheRoot(), registryFileName)
}

// PIDPath returns the daemon PID file.
func (l Layout) PIDPath() string {
	return filepath.Join(l.Home, pidFileName)
}

// LogPath returns the daemon log file.
func (l Layout) LogPath() string {
	return filepath.Join(l.Home, logFileName)
}

// LogArchiveDir returns the directory previous daemon logs are rotated into.
func (l Layout) LogArchiveDir() string {
	return filepath.Join(l.AppDir(), logArchiveDir)
}

// LockPath returns the daemon flock file.
func (l Layout) LockPath() string {
	return filepath.Join(l.Home, lockFileName)
}

// DestinationPath returns the file holding the selected upload destination.
func (l Layout) DestinationPath() string {
	return filepath.Join(l.AppDir(), destinationFile)
}

// SourceRoot returns the directory the agent writes its session files into.
func (l Layout) SourceRoot(agent string) (string, error) {
	parts, ok := agentSourceDirs[agent]
	if !ok {
		return "", fmt.Errorf("unknown agent %q", agent)
	}
	return filepath.Join(append([]string{l.Home}, parts...)...), nil
}

// CachePath returns the cache location for one session transcript. Re-copies
// of the same session resolve to the same path.
func CachePath(cacheRoot, agent, project, sessionID string) string {
	return filepath.Join(cacheRoot, agent, project, sessionID+TranscriptExt)
}
