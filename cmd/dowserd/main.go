// Package main is the entry point for the dowserd daemon.
package main

import (
	"os"

	"dowser/cmd/dowserd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
