// Package logging builds the slog loggers nori watch writes with.
//
// The daemon always logs to ~/.nori-watch.log; foreground runs echo to stdout
// as well, and each sink picks its own format under "auto". Field helpers
// (Path, SessionID, OrgID, Hint, Impact) keep the transcript fields named the
// same in every component, and WarnWithContext guarantees each warning says
// what happened, what it means for the transcript, and what to check.
//
// RotateLog and PruneArchives manage the previous runs' logs under
// ~/.nori/logs.
package logging
