//go:build mage

// Package main contains Mage build targets for paper-citation developer tooling.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// projectDirs lists the working directories a harvest run expects.
var projectDirs = []string{
	"datasets",
	".secrets",
}

// Init creates the project directory structure.
func Init() error {
	for _, dir := range projectDirs {
		mode := os.FileMode(0o755)
		if dir == ".secrets" {
			mode = 0o700
		}
		if err := os.MkdirAll(dir, mode); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		fmt.Println("  ", dir)
	}
	fmt.Println("Project directories initialized.")
	return nil
}

const (
	binDir  = "bin"
	binName = "paper-citation"
	cmdPkg  = "./cmd/paper-citation"
)

// Build compiles the CLI binary into bin/.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", binDir, err)
	}
	out := filepath.Join(binDir, binName)
	cmd := exec.Command("go", "build", "-o", out, cmdPkg)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	fmt.Printf("Built %s\n", out)
	return nil
}

// Stats prints the dataset inventory: every JSONL file under datasets/
// with its size, plus totals.
func Stats() error {
	var files int
	var total int64
	err := filepath.Walk("datasets", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".jsonl") {
			return nil
		}
		files++
		total += info.Size()
		fmt.Printf("  %-64s %10s\n", path, humanize.Bytes(uint64(info.Size())))
		return nil
	})
	if err != nil {
		return err
	}
	if files == 0 {
		fmt.Println("No dataset files found.")
		return nil
	}
	fmt.Printf("\n%d files, %s\n", files, humanize.Bytes(uint64(total)))
	return nil
}
