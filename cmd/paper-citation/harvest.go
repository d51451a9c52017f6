package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ken-ando/paper-citation/internal/harvest"
	"github.com/ken-ando/paper-citation/internal/history"
	"github.com/ken-ando/paper-citation/internal/jsonl"
	"github.com/ken-ando/paper-citation/internal/manifest"
	"github.com/ken-ando/paper-citation/internal/metrics"
	"github.com/ken-ando/paper-citation/internal/secrets"
	"github.com/ken-ando/paper-citation/pkg/types"
)

// Defaults for the harvest command. Flags, the config file, and job files
// override them.
const (
	defaultDataset      = "llm"
	defaultQuery        = `("large language model" | "large language models")`
	defaultYear         = "2025"
	defaultOutputDir    = "datasets"
	defaultRateInterval = 1100 * time.Millisecond
	defaultMaxRetries   = 5
	defaultTimeout      = 30 * time.Second
	defaultUserAgent    = "paper-citation/0.1"

	stampFormat = "20060102_150405"
)

// defaultFields is the paper metadata requested from Semantic Scholar.
var defaultFields = []string{
	"paperId",
	"title",
	"abstract",
	"year",
	"citationCount",
	"publicationDate",
	"authors",
	"url",
	"venue",
	"publicationTypes",
}

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Download papers matching a query into a JSONL dataset",
	Long: `Harvest pages through the Semantic Scholar bulk search endpoint and
streams every matching paper to newline-delimited JSON on disk.

Output can be split into size-bounded part files with --split. Completed
runs are registered in the dataset manifest, recorded in the run history
database, and described by a rerunnable job file written next to the
data.`,
	RunE: runHarvest,
}

func init() {
	harvestCmd.Flags().String("dataset", defaultDataset, "dataset name used in output files and the manifest")
	harvestCmd.Flags().String("query", defaultQuery, "bulk search query expression")
	harvestCmd.Flags().String("year", defaultYear, "publication year filter (empty disables)")
	harvestCmd.Flags().StringSlice("fields", defaultFields, "paper fields to request")
	harvestCmd.Flags().String("output-dir", defaultOutputDir, "directory for dataset files")
	harvestCmd.Flags().String("split", "", "split output at this size, e.g. 250MB (empty writes a single file)")
	harvestCmd.Flags().Duration("rate-interval", defaultRateInterval, "minimum interval between API requests")
	harvestCmd.Flags().Int("max-retries", defaultMaxRetries, "attempts per page before giving up")
	harvestCmd.Flags().Duration("timeout", defaultTimeout, "HTTP request timeout")
	harvestCmd.Flags().String("api-key", "", "Semantic Scholar API key (default: SEMANTIC_SCHOLAR_API_KEY, then the secrets dir)")
	harvestCmd.Flags().String("job", "", "load query and output settings from a job file")
	harvestCmd.Flags().String("manifest", manifest.DefaultPath, "dataset manifest to update")
	harvestCmd.Flags().Bool("no-manifest", false, "skip the manifest update")
	harvestCmd.Flags().String("history-db", history.DefaultPath, "run history database")
	harvestCmd.Flags().Bool("no-history", false, "skip recording the run in the history database")
	harvestCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	harvestCmd.Flags().BoolP("yes", "y", false, "proceed without an API key without asking")
	rootCmd.AddCommand(harvestCmd)
}

// harvestOptions is the fully resolved configuration for one run.
// splitSpec keeps the human-readable form of cfg.Output.SplitSize so job
// files round-trip strings like "250MB" unchanged.
type harvestOptions struct {
	dataset     string
	query       types.Query
	cfg         types.HarvestConfig
	splitSpec   string
	metricsAddr string
	assumeYes   bool
}

func runHarvest(cmd *cobra.Command, args []string) error {
	opts, err := resolveHarvestOptions(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.cfg.Fetch.APIKey == "" && !opts.assumeYes {
		if !confirmWithoutKey(cmd.InOrStdin(), out) {
			fmt.Fprintln(out, "aborted")
			return nil
		}
	}

	ctx := cmd.Context()
	if opts.metricsAddr != "" {
		if _, err := metrics.Start(ctx, opts.metricsAddr); err != nil {
			return err
		}
	}

	stamp := time.Now().Format(stampFormat)
	basePath := filepath.Join(opts.cfg.Output.Dir, datasetBase(opts.dataset, opts.query.Year, stamp))
	sink := jsonl.NewWriter(basePath, opts.cfg.Output)

	if opts.query.Year != "" {
		fmt.Fprintf(out, "searching: %s (year: %s)\n", opts.query.Text, opts.query.Year)
	} else {
		fmt.Fprintf(out, "searching: %s\n", opts.query.Text)
	}
	fmt.Fprintf(out, "fields: %s\n", opts.query.FieldList())
	fmt.Fprintln(out, strings.Repeat("-", 80))

	client := harvest.NewClient(opts.cfg.Fetch)
	started := time.Now()
	stats, runErr := harvest.Run(ctx, client, opts.query, sink, out)

	// Failed runs are recorded too so exhausted retries leave a trace.
	if opts.cfg.Output.HistoryPath != "" {
		if err := recordRun(ctx, opts, stats, started, runErr); err != nil {
			fmt.Fprintf(os.Stderr, "warning: recording run history: %v\n", err)
		}
	}
	if runErr != nil {
		return runErr
	}

	stats.WriteSummary(out)
	if len(stats.Files) == 0 {
		return nil
	}

	if opts.cfg.Output.ManifestPath != "" {
		entry := manifest.Entry{
			Filename:  filepath.Base(stats.Files[0].Path),
			Timestamp: stamp,
		}
		if err := manifest.Update(opts.cfg.Output.ManifestPath, opts.dataset, entry); err != nil {
			return fmt.Errorf("updating manifest: %w", err)
		}
	}
	if err := harvest.WriteJob(basePath+".job.yaml", opts.jobFile(), stats); err != nil {
		return fmt.Errorf("writing job file: %w", err)
	}
	return nil
}

// resolveHarvestOptions merges flags, the optional job file, and the
// config file into one settings struct. Explicit flags always win.
func resolveHarvestOptions(cmd *cobra.Command) (harvestOptions, error) {
	var opts harvestOptions
	flags := cmd.Flags()

	var job harvest.Job
	if jobPath, _ := flags.GetString("job"); jobPath != "" {
		j, err := harvest.ReadJob(jobPath)
		if err != nil {
			return opts, err
		}
		job = *j
	}
	jobFetch, err := job.Fetch.FetchConfig()
	if err != nil {
		return opts, err
	}

	opts.dataset = stringSetting(flags, "dataset", job.Dataset, "dataset")
	opts.query.Text = stringSetting(flags, "query", job.Query.Text, "query")
	opts.query.Year = stringSetting(flags, "year", job.Query.Year, "year")

	opts.query.Fields, _ = flags.GetStringSlice("fields")
	if !flags.Changed("fields") {
		if len(job.Query.Fields) > 0 {
			opts.query.Fields = job.Query.Fields
		} else if cv := viper.GetStringSlice("fields"); len(cv) > 0 {
			opts.query.Fields = cv
		}
	}

	opts.cfg.Output.Dir = stringSetting(flags, "output-dir", job.Output.Dir, "output.dir")
	opts.splitSpec = stringSetting(flags, "split", job.Output.SplitSize, "output.split_size")
	if opts.splitSpec != "" {
		size, err := humanize.ParseBytes(opts.splitSpec)
		if err != nil {
			return opts, fmt.Errorf("invalid split size %q: %w", opts.splitSpec, err)
		}
		opts.cfg.Output.SplitSize = int64(size)
	}

	opts.cfg.Fetch = types.FetchConfig{
		HTTPConfig: types.HTTPConfig{
			Timeout:   durationSetting(flags, "timeout", jobFetch.Timeout, "fetch.timeout"),
			UserAgent: defaultUserAgent,
		},
		RateInterval: durationSetting(flags, "rate-interval", jobFetch.RateInterval, "fetch.rate_interval"),
		MaxRetries:   intSetting(flags, "max-retries", jobFetch.MaxRetries, "fetch.max_retries"),
	}
	opts.cfg.Fetch.APIKey = resolveAPIKey(flags)

	opts.cfg.Output.ManifestPath, _ = flags.GetString("manifest")
	if noManifest, _ := flags.GetBool("no-manifest"); noManifest {
		opts.cfg.Output.ManifestPath = ""
	}
	opts.cfg.Output.HistoryPath, _ = flags.GetString("history-db")
	if noHistory, _ := flags.GetBool("no-history"); noHistory {
		opts.cfg.Output.HistoryPath = ""
	}
	opts.metricsAddr, _ = flags.GetString("metrics-addr")
	opts.assumeYes, _ = flags.GetBool("yes")

	if opts.query.IsEmpty() {
		return opts, fmt.Errorf("query must not be empty")
	}
	return opts, nil
}

// jobFile captures the resolved settings as a rerunnable job definition.
func (o harvestOptions) jobFile() harvest.Job {
	return harvest.Job{
		Dataset: o.dataset,
		Query:   o.query,
		Fetch: harvest.JobFetch{
			RateInterval: o.cfg.Fetch.RateInterval.String(),
			MaxRetries:   o.cfg.Fetch.MaxRetries,
			Timeout:      o.cfg.Fetch.Timeout.String(),
		},
		Output: harvest.JobOutput{
			Dir:       o.cfg.Output.Dir,
			SplitSize: o.splitSpec,
		},
	}
}

// datasetBase builds the output file stem, e.g.
// semantic_scholar_llm_2025_20260102_150405.
func datasetBase(dataset, year, stamp string) string {
	parts := []string{"semantic_scholar", dataset}
	if year != "" {
		parts = append(parts, year)
	}
	parts = append(parts, stamp)
	return strings.Join(parts, "_")
}

// resolveAPIKey returns the Semantic Scholar API key from the flag, the
// config (which binds the SEMANTIC_SCHOLAR_API_KEY environment variable),
// or the secrets directory, in that order.
func resolveAPIKey(flags *pflag.FlagSet) string {
	if v, _ := flags.GetString("api-key"); v != "" {
		return v
	}
	if v := viper.GetString("api_key"); v != "" {
		return v
	}
	return loadedSecrets[secrets.SemanticScholarKeyFile]
}

// confirmWithoutKey warns that unauthenticated requests are heavily rate
// limited and asks before continuing.
func confirmWithoutKey(in io.Reader, out io.Writer) bool {
	fmt.Fprintln(out, "warning: no Semantic Scholar API key is configured.")
	fmt.Fprintln(out, "Requests may be heavily rate limited.")
	fmt.Fprint(out, "Continue? (y/N): ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

func recordRun(ctx context.Context, opts harvestOptions, stats harvest.RunStats, started time.Time, runErr error) error {
	store, err := history.NewStore(opts.cfg.Output.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	run := history.Run{
		Dataset:      opts.dataset,
		Query:        opts.query.Text,
		Year:         opts.query.Year,
		StartedAt:    started,
		FinishedAt:   time.Now(),
		TotalResults: stats.TotalResults,
		Fetched:      stats.Fetched,
		Pages:        stats.Pages,
		Files:        stats.Files,
	}
	if summary, ok := stats.CitationSummary(); ok {
		run.Citations = &summary
	}
	if runErr != nil {
		run.Failed = true
		run.Error = runErr.Error()
	}
	_, err = store.Record(ctx, run)
	return err
}

// stringSetting resolves a string option: an explicitly set flag wins,
// then the job file, then the config file, then the flag default.
func stringSetting(flags *pflag.FlagSet, name, jobValue, configKey string) string {
	v, _ := flags.GetString(name)
	if flags.Changed(name) {
		return v
	}
	if jobValue != "" {
		return jobValue
	}
	if cv := viper.GetString(configKey); cv != "" {
		return cv
	}
	return v
}

func durationSetting(flags *pflag.FlagSet, name string, jobValue time.Duration, configKey string) time.Duration {
	v, _ := flags.GetDuration(name)
	if flags.Changed(name) {
		return v
	}
	if jobValue > 0 {
		return jobValue
	}
	if cv := viper.GetDuration(configKey); cv > 0 {
		return cv
	}
	return v
}

func intSetting(flags *pflag.FlagSet, name string, jobValue int, configKey string) int {
	v, _ := flags.GetInt(name)
	if flags.Changed(name) {
		return v
	}
	if jobValue > 0 {
		return jobValue
	}
	if cv := viper.GetInt(configKey); cv > 0 {
		return cv
	}
	return v
}
