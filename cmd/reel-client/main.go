package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/reel-service/internal/app"
	"github.com/book-expert/reel-service/internal/config"
	"github.com/book-expert/reel-service/internal/core"
	"github.com/book-expert/reel-service/internal/report"
	"github.com/book-expert/reel-service/internal/service"
	"github.com/joho/godotenv"
)

// Flag names.
const (
	flagConfig   = "config"
	flagCategory = "category"
	flagWindow   = "window"
	flagLimit    = "limit"
	flagReport   = "report"
	flagCompile  = "compile"
)

// Flag descriptions.
const (
	flagConfigDesc   = "Path to project.toml (defaults to searching up directory tree)"
	flagCategoryDesc = "Content category to fetch (defaults to job.default_category)"
	flagWindowDesc   = "Ranking window: hour, day, week, month, year or all"
	flagLimitDesc    = "Maximum number of items to process"
	flagReportDesc   = "Write the job report to this .json or .yaml file"
	flagCompileDesc  = "Concatenate the finished clips into one video"
)

// Error and log messages.
const (
	errNegativeLimit      = "--limit must not be negative"
	errReportFormat       = "--report must end in .json, .yaml or .yml"
	errFailedToLoadConfig = "failed to load configuration: %w"
	errFailedToInitLogger = "failed to initialize logger: %w"
	errFailedToBuild      = "failed to build job service: %w"
	errJobFailed          = "job failed: %w"
	errFailedToWrite      = "failed to write report: %w"
	logFileName           = "reel-client.log"
	bootstrapLogFileName  = "reel-client-bootstrap.log"
)

var (
	errNegativeLimitFlag = errors.New(errNegativeLimit)
	errReportFormatFlag  = errors.New(errReportFormat)
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	config   string
	category string
	window   string
	limit    int
	report   string
	compile  bool
}

func (f appFlags) query() core.Query {
	return core.Query{Category: f.category, Window: f.window, Limit: f.limit}
}

func main() {
	err := run()
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	envErr := godotenv.Load()
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", envErr)
	}

	cfg, err := loadConfig(flags.config)
	if err != nil {
		return fmt.Errorf(errFailedToLoadConfig, err)
	}

	if flags.compile {
		cfg.Video.Compile = true
	}

	clientLog, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return fmt.Errorf(errFailedToInitLogger, err)
	}
	defer func() { _ = clientLog.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	built, err := app.Build(cfg, config.EnvCredentials{}, nil, clientLog)
	if err != nil {
		return fmt.Errorf(errFailedToBuild, err)
	}

	defer func() {
		closeErr := built.Close()
		if closeErr != nil {
			clientLog.Error("%v", closeErr)
		}
	}()

	result, err := built.Service.Execute(ctx, flags.query())
	if err != nil {
		clientLog.Error("Job failed: %v", err)

		return fmt.Errorf(errJobFailed, err)
	}

	printResult(os.Stdout, result)

	if flags.report != "" {
		err = report.Write(flags.report, result)
		if err != nil {
			return fmt.Errorf(errFailedToWrite, err)
		}

		fmt.Fprintf(os.Stdout, "Report: %s\n", flags.report)
	}

	return nil
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("reel-client", flag.ContinueOnError)
	flagSet.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	flagSet.StringVar(&flags.category, flagCategory, "", flagCategoryDesc)
	flagSet.StringVar(&flags.window, flagWindow, "", flagWindowDesc)
	flagSet.IntVar(&flags.limit, flagLimit, 0, flagLimitDesc)
	flagSet.StringVar(&flags.report, flagReport, "", flagReportDesc)
	flagSet.BoolVar(&flags.compile, flagCompile, false, flagCompileDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	err = validateFlags(flags)
	if err != nil {
		return appFlags{}, err
	}

	return flags, nil
}

func validateFlags(flags appFlags) error {
	if flags.limit < 0 {
		return errNegativeLimitFlag
	}

	if flags.report != "" {
		switch strings.ToLower(filepath.Ext(flags.report)) {
		case ".json", ".yaml", ".yml":
		default:
			return errReportFormatFlag
		}
	}

	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}

	bootstrapLog, err := logger.New(os.TempDir(), bootstrapLogFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create bootstrap logger: %w", err)
	}
	defer func() { _ = bootstrapLog.Close() }()

	return config.Load(bootstrapLog)
}

// printResult writes the run summary, then one line per produced video and failure.
func printResult(out io.Writer, result *service.Result) {
	fmt.Fprintf(out, "Job %s: %s\n", result.JobID, result.Summary)

	for _, entry := range result.Manifest.Entries {
		switch entry.Status {
		case core.StatusSucceeded:
			if entry.Video != nil {
				fmt.Fprintf(out, "  ok      %s -> %s\n", entry.ItemID, entry.Video.Path)
			}
		case core.StatusSkipped:
			fmt.Fprintf(out, "  skipped %s (%s)\n", entry.ItemID, entry.Detail)
		case core.StatusFailed:
			fmt.Fprintf(out, "  failed  %s at %s: %s\n", entry.ItemID, entry.Stage, entry.Kind.Describe())
		}
	}

	if result.CompilationPath != "" {
		fmt.Fprintf(out, "Compilation: %s\n", result.CompilationPath)
	}
}
