package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/gowthamrao/py-load-clinicaltrialsgov/internal/studies"
)

const statusHistoryLimit = 10

// statusCommand prints the most recent load_history entries, newest
// first, so an operator can tell whether the last run succeeded without
// reaching for a database client.
func statusCommand(ctx context.Context, logger *slog.Logger, cfg *appConfig) int {
	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		logger.Error("failed to open database", slog.String("error", err.Error()))
		return 2
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		"SELECT load_timestamp, status, metrics FROM load_history ORDER BY load_timestamp DESC LIMIT $1",
		statusHistoryLimit,
	)
	if err != nil {
		logger.Error("failed to query load_history", slog.String("error", err.Error()))
		return 2
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		found = true

		var (
			ts          time.Time
			status      string
			metricsJSON []byte
		)
		if err := rows.Scan(&ts, &status, &metricsJSON); err != nil {
			logger.Error("failed to scan load_history row", slog.String("error", err.Error()))
			return 2
		}

		var metrics studies.Metrics
		_ = json.Unmarshal(metricsJSON, &metrics)

		fmt.Printf("%s  %-7s  fetched=%d valid=%d invalid=%d merged=%v wall_clock_ms=%d retries=%d\n",
			ts.Format(time.RFC3339), status,
			metrics.StudiesFetched, metrics.StudiesValid, metrics.StudiesInvalid,
			metrics.RowsMerged, metrics.WallClockMS, metrics.RetryCount,
		)
	}

	if err := rows.Err(); err != nil {
		logger.Error("error iterating load_history", slog.String("error", err.Error()))
		return 2
	}

	if !found {
		fmt.Println("no load history recorded yet")
	}

	return 0
}
