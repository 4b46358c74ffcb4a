// Package main is the portal binary: the HTTP server plus operator commands.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/barangay-portal/portal/cmd/portal/cli"
	"github.com/barangay-portal/portal/internal/app"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	if err := cli.NewRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
