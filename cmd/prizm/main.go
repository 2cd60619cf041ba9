// Package main is the entry point for the prizm CLI.
package main

import (
	"os"

	"github.com/runger/prizm/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
