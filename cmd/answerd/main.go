// Package main provides the entry point for the answerd service and CLI.
package main

import (
	"os"

	"github.com/agatticelli/grounded-answers/cmd/answerd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
