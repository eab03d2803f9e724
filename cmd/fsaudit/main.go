package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/pflag"

	"github.com/eargollo/fsaudit/internal/config"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

type options struct {
	configPath     string
	outputDir      string
	format         string
	serve          bool
	workers        int
	followSymlinks bool
	excludes       []string
	debug          bool
	showVersion    bool
}

func help() {
	fmt.Fprint(os.Stderr, heredoc.Doc(`
		Walk a directory tree, classify every file, and report duplicates.

		Usage:
		  fsaudit [flags] [path]

		Without --serve, fsaudit scans path once, writes analysis_report.json
		to the output directory and prints a summary. With --serve it runs the
		HTTP API and the scheduled scans instead.

		The path defaults to root_path from the config file, then to the
		current directory.

		Flags:
	`))
	pflag.PrintDefaults()
}

func parseFlags() options {
	var o options

	pflag.StringVarP(&o.configPath, "config", "c", "config.yaml", "Path to the config file")
	pflag.StringVarP(&o.outputDir, "output-dir", "o", "", "Directory for analysis_report.json (overrides output_dir)")
	pflag.StringVarP(&o.format, "format", "f", "table", "Output format: table or json")
	pflag.BoolVar(&o.serve, "serve", false, "Run the HTTP API and scheduler instead of a single scan")
	pflag.IntVarP(&o.workers, "workers", "w", 0, "Number of file processors (overrides scan_workers.processors)")
	pflag.BoolVarP(&o.followSymlinks, "follow-symlinks", "L", false, "Follow symbolic links")
	pflag.StringSliceVarP(&o.excludes, "exclude", "e", nil, "Glob patterns to exclude, relative to the root (repeatable)")
	pflag.BoolVar(&o.debug, "debug", false, "Enable debug logging")
	pflag.BoolVarP(&o.showVersion, "version", "v", false, "Show the version and exit")

	pflag.CommandLine.SortFlags = false
	pflag.Usage = help
	pflag.Parse()

	return o
}

func main() {
	opts := parseFlags()
	if opts.showVersion {
		fmt.Println(version)
		return
	}

	// Initial logger; replaced once the config is loaded.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := applyFlags(cfg, opts); err != nil {
		slog.Error("invalid flags", "error", err)
		os.Exit(2)
	}

	closeLog, err := setupLogging(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		slog.Error("open log file", "path", cfg.LogFile, "error", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.serve {
		err = serve(ctx, cfg)
	} else {
		err = runOnce(ctx, cfg, opts.format)
	}
	if err != nil {
		slog.Error("fsaudit failed", "error", err)
		stop()
		closeLog()
		os.Exit(1)
	}
}

// applyFlags overlays command-line settings on top of the loaded config.
func applyFlags(cfg *config.Config, o options) error {
	if root := pflag.Arg(0); root != "" {
		cfg.RootPath = root
	}
	if cfg.RootPath == "" {
		cfg.RootPath = "."
	}
	if o.outputDir != "" {
		cfg.OutputDir = o.outputDir
	}
	if o.workers > 0 {
		cfg.ScanWorkers.Processors = o.workers
	}
	if pflag.CommandLine.Changed("follow-symlinks") {
		cfg.FollowSymlinks = o.followSymlinks
	}
	cfg.ExcludePatterns = append(cfg.ExcludePatterns, o.excludes...)
	if o.debug {
		cfg.LogLevel = "debug"
	}

	switch o.format {
	case "table", "json":
	default:
		return fmt.Errorf("unknown format %q", o.format)
	}
	if pflag.NArg() > 1 {
		return fmt.Errorf("expected at most one path, got %d", pflag.NArg())
	}
	return cfg.Validate()
}

// setupLogging installs the default slog handler. When logFile is set, log
// lines go to both stderr and the file.
func setupLogging(level, logFile string) (func(), error) {
	var (
		w       io.Writer = os.Stderr
		closeFn           = func() {}
	)
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		w = io.MultiWriter(os.Stderr, f)
		closeFn = func() { f.Close() }
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	})))
	return closeFn, nil
}

// parseLogLevel converts a config string ("debug", "info", "warn", "error")
// to its slog.Level equivalent. Unknown values default to Info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
