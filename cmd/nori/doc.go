// Command nori captures coding-agent session transcripts and uploads them to
// the nori service.
//
//	nori watch                    start the capture daemon in the background
//	nori watch --foreground       run the daemon attached to the terminal
//	nori watch --set-destination  choose the upload organization, then start
//	nori watch stop               stop a running daemon
//	nori watch status             show daemon, cache, and upload state
//	nori config init              write a sample configuration file
package main
