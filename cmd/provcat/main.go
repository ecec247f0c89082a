// Package main provides the CLI for the provcat dataset provenance catalog.
package main

import (
	"os"

	"github.com/leapstack-labs/provcat/internal/cli"
	_ "github.com/leapstack-labs/provcat/pkg/backends/all"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
