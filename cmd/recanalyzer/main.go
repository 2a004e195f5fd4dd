// Package main is the entry point for the recanalyzer application.
package main

import (
	"os"

	"github.com/recanalyzer/recanalyzer/cmd/recanalyzer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
