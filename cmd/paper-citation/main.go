// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the paper-citation CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ken-ando/paper-citation/internal/logging"
	"github.com/ken-ando/paper-citation/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// rootCmd is the base command for the paper-citation CLI.
var rootCmd = &cobra.Command{
	Use:   "paper-citation",
	Short: "Harvest paper metadata from the Semantic Scholar bulk search API",
	Long: `paper-citation downloads paper metadata in bulk from Semantic Scholar and
writes it to newline-delimited JSON datasets on local disk.

The harvest command pages through the bulk search endpoint with a
rate-limited, retrying client and streams every record to disk as it
arrives, optionally splitting the output into size-bounded parts. Completed
runs are summarized with citation statistics, registered in a dataset
manifest, and recorded in a local run history database.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		pretty, _ := cmd.Flags().GetBool("log-pretty")
		logging.Setup(logging.Config{Level: level, Pretty: pretty})

		s, err := secrets.Load(secrets.DefaultDir)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./paper-citation.yaml or ~/.config/paper-citation/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "human-readable log output instead of JSON")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("paper-citation")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "paper-citation"))
		}
	}

	viper.SetEnvPrefix("PAPER_CITATION")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// SEMANTIC_SCHOLAR_API_KEY is the conventional name for this key, so
	// it binds without the prefix.
	viper.BindEnv("api_key", "SEMANTIC_SCHOLAR_API_KEY")

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
