package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/gowthamrao/py-load-clinicaltrialsgov/internal/apiclient"
	"github.com/gowthamrao/py-load-clinicaltrialsgov/internal/etlerrors"
	"github.com/gowthamrao/py-load-clinicaltrialsgov/internal/orchestrator"
	"github.com/gowthamrao/py-load-clinicaltrialsgov/internal/storage"
)

func runCommand(ctx context.Context, logger *slog.Logger, cfg *appConfig, args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	loadType := fs.String("load-type", "delta", "full or delta")
	connectorName := fs.String("connector", cfg.Connector.Name, "backend connector name")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *connectorName != "postgres" {
		fmt.Fprintf(os.Stderr, "unknown connector: %s\n", *connectorName)
		return 2
	}

	var lt orchestrator.LoadType
	switch *loadType {
	case "full":
		lt = orchestrator.LoadTypeFull
	case "delta":
		lt = orchestrator.LoadTypeDelta
	default:
		fmt.Fprintf(os.Stderr, "unknown --load-type: %s (want full or delta)\n", *loadType)
		return 2
	}

	conn, err := storage.NewConnection(cfg.DatabaseURL(), storage.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		return 2
	}
	defer conn.Close()

	client := apiclient.New(apiclient.Config{
		BaseURL:        cfg.API.BaseURL,
		PageSize:       cfg.API.PageSize,
		MaxRetries:     cfg.API.MaxRetries,
		TimeoutSeconds: cfg.API.TimeoutSeconds,
	}, logger)

	connector := storage.NewConnector(conn)
	o := orchestrator.New(client, connector, logger, cfg.Load.BatchSizeRows)

	metrics, runErr := o.RunETL(ctx, lt)

	logger.Info("load run finished",
		slog.String("load_type", string(lt)),
		slog.Int("studies_fetched", metrics.StudiesFetched),
		slog.Int("studies_valid", metrics.StudiesValid),
		slog.Int("studies_invalid", metrics.StudiesInvalid),
		slog.Int64("wall_clock_ms", metrics.WallClockMS),
		slog.Int("retry_count", metrics.RetryCount),
	)

	if runErr != nil {
		logger.Error("load run failed", slog.String("error", runErr.Error()))
	}

	return etlerrors.ExitCode(runErr)
}
