//go:build mage

package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

// Harvest builds the CLI and runs a harvest with default settings.
// Extra arguments come from the HARVEST_ARGS environment variable, split
// on whitespace. Pass complex queries via a job file instead.
func Harvest() error {
	mg.Deps(Init, Build)

	args := []string{"harvest"}
	if extra := os.Getenv("HARVEST_ARGS"); extra != "" {
		args = append(args, strings.Fields(extra)...)
	}
	cmd := exec.Command(filepath.Join(binDir, binName), args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
