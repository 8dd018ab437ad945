package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/efebarandurmaz/refscan/internal/config"
	"github.com/efebarandurmaz/refscan/internal/enumerate"
	"github.com/efebarandurmaz/refscan/internal/extract"
	"github.com/efebarandurmaz/refscan/internal/metrics"
	"github.com/efebarandurmaz/refscan/internal/observability"
	"github.com/efebarandurmaz/refscan/internal/query"
	"github.com/efebarandurmaz/refscan/internal/refgraph"
	"github.com/efebarandurmaz/refscan/internal/scan"
	"github.com/efebarandurmaz/refscan/internal/shell"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// options are the flags shared by every command.
type options struct {
	configPath string
	workers    int
	include    []string
	exclude    []string
	syntax     string
	logLevel   string
	noProgress bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	rootCmd := &cobra.Command{
		Use:   "refscan [directory]",
		Short: "Find which binary modules reference which other modules",
		Long: "Scans a directory tree of binary modules (ELF, PE, Mach-O, Go builds),\n" +
			"builds the graph of declared module references and lets you filter it\n" +
			"interactively with a regular expression. The directory defaults to the\n" +
			"current working directory.",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd, opts, dirArg(args, 0))
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "refscan.yaml", "Config file path (optional)")
	pf.IntVar(&opts.workers, "workers", 0, "Worker pool size (default: one per CPU)")
	pf.StringSliceVar(&opts.include, "include", nil, "Module file globs to include")
	pf.StringSliceVar(&opts.exclude, "exclude", nil, "File globs to exclude")
	pf.StringVar(&opts.syntax, "syntax", "", "Pattern syntax: re2 or dotnet")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&opts.noProgress, "no-progress", false, "Do not report scan progress")

	var format string
	queryCmd := &cobra.Command{
		Use:   "query PATTERN [directory]",
		Short: "Scan once and print the modules whose references match PATTERN",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, opts, args[0], dirArg(args, 1), format)
		},
	}
	queryCmd.Flags().StringVar(&format, "format", "text", "Output format: text, json, yaml, dot, mermaid")

	var jsonReport bool
	scanCmd := &cobra.Command{
		Use:   "scan [directory]",
		Short: "Scan and print a summary of the reference graph",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, opts, dirArg(args, 0), jsonReport)
		},
	}
	scanCmd.Flags().BoolVar(&jsonReport, "json", false, "Output the summary as JSON")

	rootCmd.AddCommand(queryCmd, scanCmd)
	return rootCmd
}

func dirArg(args []string, i int) string {
	if len(args) > i {
		return args[i]
	}
	return ""
}

// app is what every command needs after configuration is resolved.
type app struct {
	builder  *scan.Builder
	engine   *query.Engine
	shutdown func()
}

func setup(cmd *cobra.Command, opts options, progressOut io.Writer) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, opts, cfg)

	logger := observability.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	tp, err := observability.InitTracing(cmd.Context(), &observability.TracingConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.Endpoint,
		SampleRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	syntax, err := query.ParseSyntax(cfg.Query.Syntax)
	if err != nil {
		return nil, err
	}
	engine, err := query.NewEngine(syntax, cfg.Query.CacheSize, query.WithMatchTimeout(cfg.Query.MatchTimeout))
	if err != nil {
		return nil, err
	}

	en := enumerate.New()
	en.Include = cfg.Scan.Include
	en.Exclude = cfg.Scan.Exclude
	en.Logger = logger

	ex := extract.NewBinary()
	ex.Logger = logger
	ex.SkipGoBuildInfo = cfg.Scan.SkipGoBuildInfo

	builder := scan.NewBuilder(en, ex)
	builder.Workers = cfg.Scan.Workers
	builder.Logger = logger
	if !opts.noProgress && progressOut != nil {
		builder.Progress = progressFor(progressOut, logger)
	}

	return &app{
		builder: builder,
		engine:  engine,
		shutdown: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Warn("tracing shutdown failed", "error", err)
			}
		},
	}, nil
}

// applyFlags lets explicitly set flags win over file and environment values.
func applyFlags(cmd *cobra.Command, opts options, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Scan.Workers = opts.workers
	}
	if flags.Changed("include") {
		cfg.Scan.Include = opts.include
	}
	if flags.Changed("exclude") {
		cfg.Scan.Exclude = opts.exclude
	}
	if flags.Changed("syntax") {
		cfg.Query.Syntax = opts.syntax
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
}

// progressFor draws a bar on terminals and logs percentages otherwise.
func progressFor(w io.Writer, logger *slog.Logger) scan.Progress {
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		return shell.NewProgressBar(w)
	}
	return &shell.LogProgress{Logger: logger}
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func resolveRoot(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("working directory: %w", err)
	}
	return wd, nil
}

// buildGraph runs the scan; Ctrl-C cancels it. The signal handler is released
// on return so an interrupt during the shell ends the process as usual.
func buildGraph(ctx context.Context, a *app, dir string) (refgraph.Graph, scan.Stats, error) {
	root, err := resolveRoot(dir)
	if err != nil {
		return nil, scan.Stats{}, err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, st, err := a.builder.BuildWithStats(ctx, root)
	if bar, ok := a.builder.Progress.(*shell.ProgressBar); ok {
		bar.Finish()
	}
	if err != nil {
		return nil, st, fmt.Errorf("scan %s: %w", root, err)
	}
	return g, st, nil
}

func runInteractive(cmd *cobra.Command, opts options, dir string) error {
	a, err := setup(cmd, opts, os.Stderr)
	if err != nil {
		return err
	}
	defer a.shutdown()

	g, _, err := buildGraph(cmd.Context(), a, dir)
	if err != nil {
		return err
	}

	sh := shell.New(cmd.InOrStdin(), cmd.OutOrStdout(), a.engine)
	if isTerminal(os.Stdout) {
		sh.Styles = shell.DefaultStyles()
	}
	return sh.Run(cmd.Context(), g)
}

func runQuery(cmd *cobra.Command, opts options, pattern, dir, format string) error {
	if _, err := renderer(format); err != nil {
		return err
	}
	a, err := setup(cmd, opts, os.Stderr)
	if err != nil {
		return err
	}
	defer a.shutdown()

	g, _, err := buildGraph(cmd.Context(), a, dir)
	if err != nil {
		return err
	}
	if len(g) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), shell.NoResults)
		return nil
	}

	result, err := a.engine.Query(cmd.Context(), g, pattern)
	if err != nil {
		return err
	}
	render, _ := renderer(format)
	out, err := render(result)
	if err != nil {
		return fmt.Errorf("render %s: %w", format, err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func runScan(cmd *cobra.Command, opts options, dir string, jsonReport bool) error {
	a, err := setup(cmd, opts, os.Stderr)
	if err != nil {
		return err
	}
	defer a.shutdown()

	g, st, err := buildGraph(cmd.Context(), a, dir)
	if err != nil {
		return err
	}

	m := metrics.Collect(st, g)
	if jsonReport {
		data, err := m.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	m.PrintSummary(cmd.OutOrStdout())
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprint(cmd.OutOrStdout(), refgraph.FormatStats(g))
	return nil
}

// renderer maps an output format name to its graph serializer.
func renderer(format string) (func(refgraph.Graph) ([]byte, error), error) {
	switch format {
	case "", "text":
		return func(g refgraph.Graph) ([]byte, error) {
			if len(g) == 0 {
				return []byte(shell.NoMatches + "\n"), nil
			}
			return []byte(refgraph.FormatText(g)), nil
		}, nil
	case "json":
		return func(g refgraph.Graph) ([]byte, error) {
			data, err := refgraph.ExportJSON(g)
			return append(data, '\n'), err
		}, nil
	case "yaml":
		return refgraph.ExportYAML, nil
	case "dot":
		return func(g refgraph.Graph) ([]byte, error) { return []byte(refgraph.ExportDOT(g)), nil }, nil
	case "mermaid":
		return func(g refgraph.Graph) ([]byte, error) { return []byte(refgraph.ExportMermaid(g)), nil }, nil
	}
	return nil, fmt.Errorf("unknown format %q (want text, json, yaml, dot or mermaid)", format)
}
