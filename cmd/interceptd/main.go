// interceptd CLI entry point.
package main

import (
	"github.com/interceptd/interceptd/pkg/cli"
)

// Build-time variables set via ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.BuildDate = buildDate
	cli.Execute()
}
