package main

import (
	"fmt"
	"os"

	"github.com/tphakala/loopback/cmd"
	"github.com/tphakala/loopback/internal/buildinfo"
	"github.com/tphakala/loopback/internal/conf"
	"github.com/tphakala/loopback/internal/logging"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   string
	buildDate string
)

func main() {
	logging.Init()

	build := buildinfo.NewContext(version, buildDate)
	rootCmd := cmd.RootCommand(build, &conf.Settings{})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
