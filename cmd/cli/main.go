// Package main is the entry point for fieldctl, the terminal client for the
// fieldtasks service.
package main

import (
	"fieldtasks/cmd/cli/cmd"
	"os"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
