package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/olegrjumin/stackprobe/internal/app"
	"github.com/olegrjumin/stackprobe/internal/config"
	"github.com/olegrjumin/stackprobe/internal/logging"
	"github.com/olegrjumin/stackprobe/internal/report"
)

// Output formats
const (
	formatJSON       = "json"
	formatJSONPretty = "json-pretty"
	formatHuman      = "human"
)

type analyzeFlags struct {
	format        string
	human         bool
	pretty        bool
	raw           bool
	meta          bool
	minConfidence int
	wide          bool
	inspect       string
	verbose       bool
}

func newRootCmd() *cobra.Command {
	var f analyzeFlags

	cmd := &cobra.Command{
		Use:   "stackprobe <url>",
		Short: "Detect the technologies a website is built with",
		Long: `stackprobe fetches a page and the scripts and stylesheets it links to,
matches them against the rule database and prints the detected technologies
together with the recommendations they trigger.

Examples:
  stackprobe https://react.dev --human
  stackprobe https://react.dev --human --inspect React --wide
  stackprobe https://example.com --raw --format json-pretty`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args[0], f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.format, "format", "", "output format: json, json-pretty or human")
	flags.BoolVar(&f.human, "human", false, "alias for --format human")
	flags.BoolVar(&f.pretty, "pretty", false, "alias for --format json-pretty")
	flags.BoolVar(&f.raw, "raw", false, "print the full analysis report")
	flags.BoolVar(&f.meta, "meta", true, "include fetch and timing metadata in the clean report")
	flags.IntVar(&f.minConfidence, "min-confidence", 0, "drop detections below this confidence (default from MIN_CONFIDENCE)")
	flags.BoolVar(&f.wide, "wide", false, "human output: do not truncate table cells")
	flags.StringVar(&f.inspect, "inspect", "", "human output: detailed view of one detected technology")
	cmd.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "log progress to stderr")

	cmd.AddCommand(newTaxonomyCmd(&f.verbose))
	cmd.AddCommand(newValidateMappingCmd())
	return cmd
}

func runAnalyze(cmd *cobra.Command, rawURL string, f analyzeFlags) error {
	target, err := normalizeURL(rawURL)
	if err != nil {
		return err
	}
	format, err := resolveFormat(f)
	if err != nil {
		return err
	}

	cfg, logger, err := loadCLI(f.verbose)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("min-confidence") {
		cfg.MinConfidence = f.minConfidence
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, logger)
	r, err := a.Service.Analyze(ctx, target)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == formatHuman {
		_, err := fmt.Fprintln(out, report.FormatHuman(report.Clean(r, true), report.HumanOptions{
			Inspect: f.inspect,
			Wide:    f.wide,
		}))
		return err
	}

	var payload interface{} = report.Clean(r, f.meta)
	if f.raw {
		payload = r
	}
	return writeJSON(out, payload, format == formatJSONPretty)
}

// resolveFormat applies --format first, then the --human and --pretty aliases
func resolveFormat(f analyzeFlags) (string, error) {
	format := strings.ToLower(strings.TrimSpace(f.format))
	switch {
	case format != "":
	case f.human:
		format = formatHuman
	case f.pretty:
		format = formatJSONPretty
	default:
		format = formatJSON
	}
	switch format {
	case formatJSON, formatJSONPretty, formatHuman:
		return format, nil
	default:
		return "", fmt.Errorf("unknown format %q (want json, json-pretty or human)", format)
	}
}

// normalizeURL accepts absolute http and https URLs only
func normalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("Invalid URL: %s", raw)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("Unsupported protocol: %s:", scheme)
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// loadCLI loads configuration and a stderr logger that stays quiet unless verbose
func loadCLI(verbose bool) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	opts := app.LoggingOptions(cfg)
	opts.Output = "stderr"
	if !verbose {
		opts.Level = "warn"
	}
	logger, err := logging.NewWithOptions(opts)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func writeJSON(w io.Writer, v interface{}, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
