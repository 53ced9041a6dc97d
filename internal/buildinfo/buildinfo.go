// Package buildinfo holds version and build metadata for the gyre
// binary, stamped at compile time via ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Set at build time:
//
//	go build -ldflags "-X .../buildinfo.Version=v1.2.3 ..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Info returns build and runtime metadata as a map, suitable for the
// version subcommand and structured log fields.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime is the time since process start, truncated to whole seconds.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String is a one-line summary for logging.
func String() string {
	return fmt.Sprintf("gyre %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}
