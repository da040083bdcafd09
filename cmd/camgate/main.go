// Package main is the entry point for the camgate snapshot gateway.
package main

import (
	"os"

	"github.com/jmylchreest/camgate/cmd/camgate/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
