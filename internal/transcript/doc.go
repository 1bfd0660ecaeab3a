// Package transcript understands just enough of an agent session transcript
// to cache and upload it: where the session identifier lives, how the agent
// names project directories, and how to fingerprint the content.
//
// Transcripts are newline-delimited JSON. Nothing here validates the full
// record schema; malformed lines are skipped rather than rejected so one
// corrupt record never blocks an otherwise valid upload.
package transcript
