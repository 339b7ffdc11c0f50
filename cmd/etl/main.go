// Package main provides the ETL command-line front end for the
// ClinicalTrials.gov warehouse: run, migrate-db, init-db, and status
// subcommands over the core orchestrator.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
)

const (
	version = "1.0.0-dev"
	name    = "ctgov-etl"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	command := args[0]

	if command == "--help" || command == "-h" {
		printUsage()
		return 0
	}
	if command == "--version" {
		fmt.Printf("%s v%s\n", name, version)
		return 0
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 2
	}

	logger := newLogger(cfg)
	ctx := context.Background()

	switch command {
	case "run":
		return runCommand(ctx, logger, cfg, args[1:])
	case "migrate-db":
		return migrateDBCommand(ctx, logger, cfg)
	case "init-db":
		return initDBCommand(ctx, logger, cfg)
	case "status":
		return statusCommand(ctx, logger, cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		return 2
	}
}

func newLogger(cfg *appConfig) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.logLevel})
	return slog.New(handler)
}

func printUsage() {
	fmt.Printf(`%s v%s - ClinicalTrials.gov warehouse ETL

USAGE:
    %s COMMAND [OPTIONS]

COMMANDS:
    run --load-type {full|delta} --connector <name>
                  Run one load cycle
    migrate-db    Apply pending schema migrations
    init-db       Apply migrations if the schema is absent, else no-op
    status        Print the last load_history entries

OPTIONS:
    --help        Show this help message
    --version     Show version information

ENVIRONMENT VARIABLES:
    DB_DSN                 PostgreSQL connection string (required)
    API_BASE_URL            default https://clinicaltrials.gov/api/v2/studies
    API_PAGE_SIZE           default 100, max 1000
    API_MAX_RETRIES         default 5
    API_TIMEOUT_SECONDS     default 30
    LOAD_BATCH_SIZE_ROWS    default 5000
    CONNECTOR_NAME          default postgres
    LOG_LEVEL               default info

EXIT CODES:
    0  success
    1  transient error (advise retry)
    2  fatal or configuration error

EXAMPLES:
    %s run --load-type full --connector postgres
    %s run --load-type delta
    %s status
`, name, version, name, name, name, name)
}
