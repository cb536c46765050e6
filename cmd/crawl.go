package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/forkcrawl/internal/app"
)

type crawlOptions struct {
	json bool
}

// newCrawlCmd creates the 'crawl' subcommand. Flags are read through viper, so
// every one of them can also come from the config file or a CRAWLER_ env var.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:         "crawl [url...]",
		Annotations: map[string]string{needsApp: "true"},
		Short:       "Crawls from the given URLs and prints what the handler collected",
		Long: `Crawls outward from the target URLs (or crawler.targets from the
config) and prints the handler's results, one per line, once every worker
has merged. The links handler prints every hyperlink seen, the suffix
handler the links that end with one of --suffix, and the regex handler
the captured group of every --pattern match.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.Int("chunk-size", 10, "frontier size above which a batch is forked; 0 disables forking")
	f.Int("budget", 100, "maximum pages visited across all workers; 0 means a single round")
	f.Int("concurrency", 0, "worker goroutines; 0 uses GOMAXPROCS")
	f.String("handler", "links", "result handler: links, regex or suffix")
	f.StringArray("pattern", nil, "regex handler pattern (repeatable)")
	f.Int("group", 0, "capture group recorded by the regex handler")
	f.StringSlice("suffix", nil, "link suffixes collected by the suffix handler")
	f.String("scope", "child", "links followed: child, host or all")
	f.StringSlice("block", nil, "hosts whose links are never followed, e.g. ads.example.com or *.example.net")
	f.String("snapshot-dir", "", "save every visited text page under this directory")
	f.String("user-agent", "", "User-Agent header for page requests")
	f.Float64("rate", 0, "requests per second per host; 0 disables limiting")
	f.String("render", "never", "headless Chrome rendering: never, auto or always")
	f.String("metrics-addr", "", "serve /metrics, /healthz and /v1/run on this address")
	f.Bool("dev", false, "development logging")
	f.BoolVar(&opts.json, "json", false, "print the report as JSON")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts *crawlOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()
	defer func() {
		if cerr := appInstance.Close(cmd.Context()); cerr != nil {
			logger.Warn("Failed to close application", zap.Error(cerr))
		}
	}()

	appInstance.ServeMetrics()
	report, runErr := appInstance.Crawl(cmd.Context())

	if err := writeReport(cmd.OutOrStdout(), report, opts.json); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	logger.Info("Crawl finished",
		zap.Stringer("run_id", report.Stats.RunID),
		zap.Int("visited", report.Stats.Visited),
		zap.Int("forks", report.Stats.Forks),
		zap.Int("merges", report.Stats.Merges),
		zap.Bool("aborted", report.Stats.Aborted),
		zap.Duration("duration", report.Stats.Duration),
	)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run crawler: %w", runErr)
	}
	return nil
}

func writeReport(w io.Writer, report app.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	for _, link := range report.Links {
		if _, err := fmt.Fprintln(w, link); err != nil {
			return err
		}
	}
	for _, pattern := range slices.Sorted(maps.Keys(report.Matches)) {
		for _, match := range report.Matches[pattern] {
			if _, err := fmt.Fprintln(w, match); err != nil {
				return err
			}
		}
	}
	return nil
}
