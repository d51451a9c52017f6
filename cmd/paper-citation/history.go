// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"github.com/spf13/cobra"

	"github.com/ken-ando/paper-citation/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent harvest runs",
	Long: `History prints recent harvest runs from the local run database,
newest first. Failed runs are listed too.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().String("history-db", history.DefaultPath, "run history database")
	historyCmd.Flags().String("dataset", "", "only show runs for this dataset")
	historyCmd.Flags().Int("limit", 0, "maximum number of runs to show (0 uses the default)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("history-db")
	dataset, _ := cmd.Flags().GetString("dataset")
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := history.NewStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Recent(cmd.Context(), dataset, limit)
	if err != nil {
		return err
	}
	history.WriteTable(runs, cmd.OutOrStdout())
	return nil
}
