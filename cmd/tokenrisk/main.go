// Command tokenrisk scores the risk of tokens from the command line or as
// an HTTP service.
package main

import "github.com/mbd888/tokenrisk/internal/cli"

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cli.Execute(cli.BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
	})
}
