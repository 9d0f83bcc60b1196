// cmd/tally/main.go
//
// This is the entry point for the tally CLI. All commands live in
// internal/cli; `tally run` starts the terminal UI.

package main

import (
	"fmt"
	"os"

	"github.com/kingrea/tally/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
