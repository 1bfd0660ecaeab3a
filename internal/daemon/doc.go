// Package daemon runs the nori watch capture process.
//
// A Daemon owns one run: it guards against a second instance with the PID file
// and a flock, opens the upload registry, mirrors the agent's session files into
// the cache through the ingest watcher, and drives the stale/expiry scanner.
// Shutdown is idempotent and leaves no PID file, lock, or open registry behind.
//
// Keep orchestration here. Copying, classification, and uploading live in the
// ingest, scanner, and upload packages.
package daemon
