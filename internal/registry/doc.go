// Package registry records which transcript contents have been uploaded.
//
// The Store keeps one row per session identifier holding the hash of the last
// uploaded content. A session counts as uploaded only while its stored hash
// matches the current content; marking a new hash replaces the old one, so a
// transcript that keeps growing is re-uploaded after each change.
//
// The database lives beside the transcript cache and survives restarts. Only
// the daemon writes to it, and the daemon's single-instance guard keeps a
// second process from opening it concurrently.
package registry
