// Package main runs the relay as a standalone HTTP server.
package main

import (
	"fmt"
	"os"

	"whatsapp-relay/cmd/server/commands"
)

// version is injected at build time via ldflags.
var version = "dev"

func main() {
	if err := commands.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
