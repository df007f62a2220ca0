// Package main is the entry point for kansactl, the terminal client of the
// Kansa API.
package main

import (
	"os"

	"github.com/raysh454/kansa/cmd/kansactl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
