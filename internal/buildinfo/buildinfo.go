// Package buildinfo carries the version metadata stamped into the
// field node binary, surfaced on the health endpoint so support can
// tell which build a node in the field is running.
package buildinfo

import "time"

// Stamped via -ldflags at release time
var (
	BuildTime  string // when the node binary was compiled
	CommitTime string // timestamp of the release commit
	CommitHash string // short release commit hash
)

// StartTime is recorded when the node process starts
var StartTime = time.Now().UTC().Format(time.RFC3339)
