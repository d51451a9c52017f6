package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ken-ando/paper-citation/internal/manifest"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List datasets recorded in the manifest",
	Long: `Datasets prints every dataset registered in the manifest along with
its most recent output file and update time.`,
	RunE: runDatasets,
}

func init() {
	datasetsCmd.Flags().String("manifest", manifest.DefaultPath, "dataset manifest to read")
	rootCmd.AddCommand(datasetsCmd)
}

func runDatasets(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("manifest")
	entries, err := manifest.Load(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No datasets recorded.")
		return nil
	}

	fmt.Fprintf(out, "%-16s %-52s %s\n", "Dataset", "Latest file", "Updated")
	fmt.Fprintln(out, strings.Repeat("-", 96))
	for _, name := range manifest.Keys(entries) {
		e := entries[name]
		fmt.Fprintf(out, "%-16s %-52s %s\n", name, e.Filename, e.UpdatedAt)
	}
	fmt.Fprintf(out, "\n%d datasets\n", len(entries))
	return nil
}
