// Package orchestrator drives one load run end to end: determine the
// high-water mark, stream raw studies from the API client, validate and
// transform each one, flush batches into the connector's staging tables,
// merge them into the target schema, and record the run's outcome.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gowthamrao/py-load-clinicaltrialsgov/internal/apiclient"
	"github.com/gowthamrao/py-load-clinicaltrialsgov/internal/etlerrors"
	"github.com/gowthamrao/py-load-clinicaltrialsgov/internal/studies"
)

// LoadType selects whether a run processes the full remote dataset or
// only studies updated since the last successful run.
type LoadType string

const (
	LoadTypeFull  LoadType = "full"
	LoadTypeDelta LoadType = "delta"
)

// apiClient is the subset of apiclient.Client the Orchestrator drives,
// narrowed to ease testing with a fake.
type apiClient interface {
	Stream(ctx context.Context, updatedSince *time.Time) (<-chan apiclient.Result, *int)
}

// connector is the subset of storage.Connector the Orchestrator drives.
type connector interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	StageRawStudies(ctx context.Context, rows []studies.RawStudy) error
	StageStudies(ctx context.Context, rows []studies.Study) error
	StageSponsors(ctx context.Context, rows []studies.Sponsor) error
	StageConditions(ctx context.Context, rows []studies.Condition) error
	StageInterventions(ctx context.Context, rows []studies.Intervention) error
	StageInterventionArmGroups(ctx context.Context, rows []studies.InterventionArmGroup) error
	StageDesignOutcomes(ctx context.Context, rows []studies.DesignOutcome) error
	ExecuteMerge(ctx context.Context, table string) error

	RecordFailedStudy(ctx context.Context, nctID *string, payload []byte, cause error) error
	RecordLoadHistory(ctx context.Context, status studies.LoadStatus, metrics studies.Metrics) error
	GetLastSuccessfulLoadTimestamp(ctx context.Context) (*time.Time, error)
}

// Orchestrator owns the in-memory per-table batch buffers for the
// duration of one run; the Connector and Transformer it drives hold no
// state of their own between studies.
type Orchestrator struct {
	client      apiClient
	conn        connector
	validator   *studies.Validator
	transformer *studies.Transformer
	logger      *slog.Logger

	batchSizeRows int
}

// New builds an Orchestrator. batchSizeRows is the per-table buffer
// threshold that triggers a mid-run stage+merge flush.
func New(client apiClient, conn connector, logger *slog.Logger, batchSizeRows int) *Orchestrator {
	if batchSizeRows <= 0 {
		batchSizeRows = 5000
	}

	return &Orchestrator{
		client:        client,
		conn:          conn,
		validator:     studies.NewValidator(),
		transformer:   studies.NewTransformer(),
		logger:        logger,
		batchSizeRows: batchSizeRows,
	}
}

// buffers accumulates flattened rows across studies until a flush.
type buffers struct {
	raw            []studies.RawStudy
	study          []studies.Study
	sponsors       []studies.Sponsor
	conditions     []studies.Condition
	interventions  []studies.Intervention
	armGroups      []studies.InterventionArmGroup
	designOutcomes []studies.DesignOutcome
}

func (b *buffers) append(batch *studies.Batch) {
	b.raw = append(b.raw, batch.Raw)
	b.study = append(b.study, batch.Study)
	b.sponsors = append(b.sponsors, batch.Sponsors...)
	b.conditions = append(b.conditions, batch.Conditions...)
	b.interventions = append(b.interventions, batch.Interventions...)
	b.armGroups = append(b.armGroups, batch.InterventionArmGroups...)
	b.designOutcomes = append(b.designOutcomes, batch.DesignOutcomes...)
}

// rowCount returns the row count of the fullest per-table buffer, the
// figure RunETL compares against batchSizeRows.
func (b *buffers) rowCount() int {
	return max(len(b.raw), len(b.study), len(b.sponsors), len(b.conditions),
		len(b.interventions), len(b.armGroups), len(b.designOutcomes))
}

// dedup collapses each slice down to one row per natural key, keeping the
// last occurrence. Two pages of the same flush window can both carry a
// study that was updated mid-walk. The staging tables carry no key
// constraint and the merge SQL collapses duplicate keys on its own, so
// this keeps redundant copies out of the staging COPY and keeps
// RowsMerged counting one row per key.
func (b *buffers) dedup() {
	b.raw = dedupKeepLast(b.raw, func(r studies.RawStudy) string { return r.NCTID })
	b.study = dedupKeepLast(b.study, func(s studies.Study) string { return s.NCTID })
	b.sponsors = dedupKeepLast(b.sponsors, func(s studies.Sponsor) [3]string {
		return [3]string{s.NCTID, s.Name, s.AgencyClass}
	})
	b.conditions = dedupKeepLast(b.conditions, func(c studies.Condition) [2]string {
		return [2]string{c.NCTID, c.Name}
	})
	b.interventions = dedupKeepLast(b.interventions, func(i studies.Intervention) [3]string {
		return [3]string{i.NCTID, i.InterventionType, i.Name}
	})
	b.armGroups = dedupKeepLast(b.armGroups, func(a studies.InterventionArmGroup) [3]string {
		return [3]string{a.NCTID, a.InterventionName, a.ArmGroupLabel}
	})
	b.designOutcomes = dedupKeepLast(b.designOutcomes, func(d studies.DesignOutcome) [3]string {
		return [3]string{d.NCTID, d.OutcomeType, d.Measure}
	})
}

// dedupKeepLast returns rows with one entry per key, keeping whichever
// occurrence appeared last in the input and preserving first-seen order.
func dedupKeepLast[T any, K comparable](rows []T, keyOf func(T) K) []T {
	if len(rows) == 0 {
		return rows
	}

	latest := make(map[K]T, len(rows))
	order := make([]K, 0, len(rows))
	for _, row := range rows {
		key := keyOf(row)
		if _, seen := latest[key]; !seen {
			order = append(order, key)
		}
		latest[key] = row
	}

	out := make([]T, len(order))
	for i, key := range order {
		out[i] = latest[key]
	}
	return out
}

// RunETL drives one full load cycle per its seven-step contract.
// On success it returns the run's metrics with a nil error; on any
// failure the run's transaction is rolled back, a FAILURE load_history
// row is recorded in a fresh transaction, and the original error is
// returned unchanged so the caller can classify it via etlerrors.ExitCode.
func (o *Orchestrator) RunETL(ctx context.Context, loadType LoadType) (*studies.Metrics, error) {
	start := time.Now()
	metrics := &studies.Metrics{RowsMerged: make(map[string]int)}

	var updatedSince *time.Time
	if loadType == LoadTypeDelta {
		ts, err := o.conn.GetLastSuccessfulLoadTimestamp(ctx)
		if err != nil {
			return o.fail(ctx, metrics, start, err)
		}
		updatedSince = ts
	}

	if err := o.conn.Begin(ctx); err != nil {
		return o.fail(ctx, metrics, start, err)
	}

	buf := &buffers{}
	stream, retryCount := o.client.Stream(ctx, updatedSince)

	for result := range stream {
		if result.Err != nil {
			_ = o.conn.Rollback()
			metrics.RetryCount = *retryCount
			return o.fail(ctx, metrics, start, result.Err)
		}

		metrics.StudiesFetched++

		if err := o.processStudy(ctx, result.Study, buf, metrics); err != nil {
			_ = o.conn.Rollback()
			metrics.RetryCount = *retryCount
			return o.fail(ctx, metrics, start, err)
		}

		if buf.rowCount() >= o.batchSizeRows {
			if err := o.flush(ctx, buf, metrics); err != nil {
				_ = o.conn.Rollback()
				metrics.RetryCount = *retryCount
				return o.fail(ctx, metrics, start, err)
			}
			buf = &buffers{}
		}
	}

	if err := o.flush(ctx, buf, metrics); err != nil {
		_ = o.conn.Rollback()
		metrics.RetryCount = *retryCount
		return o.fail(ctx, metrics, start, err)
	}

	metrics.RetryCount = *retryCount
	metrics.WallClockMS = time.Since(start).Milliseconds()

	if err := o.conn.RecordLoadHistory(ctx, studies.LoadStatusSuccess, *metrics); err != nil {
		_ = o.conn.Rollback()
		return o.fail(ctx, metrics, start, err)
	}

	if err := o.conn.Commit(); err != nil {
		return o.fail(ctx, metrics, start, err)
	}

	return metrics, nil
}

// processStudy validates and transforms one raw study, routing a
// validation failure to the dead-letter queue instead of aborting the
// run.
func (o *Orchestrator) processStudy(ctx context.Context, payload []byte, buf *buffers, metrics *studies.Metrics) error {
	nctID := studies.ExtractNCTID(payload)

	study, err := o.validator.Validate(payload)
	if err != nil {
		metrics.StudiesInvalid++

		var nctIDPtr *string
		if nctID != "" {
			nctIDPtr = &nctID
		}

		if dlqErr := o.conn.RecordFailedStudy(ctx, nctIDPtr, payload, err); dlqErr != nil {
			return dlqErr
		}

		var valErr *etlerrors.Validation
		if errors.As(err, &valErr) {
			return nil
		}

		return err
	}

	metrics.StudiesValid++

	lastUpdated, lastUpdatedStr := studies.ExtractLastUpdatedAPI(payload)

	batch, err := o.transformer.Transform(*study, payload, lastUpdated, lastUpdatedStr)
	if err != nil {
		return err
	}

	buf.append(batch)
	return nil
}

// flush stages and merges every non-empty buffer in dependency order:
// raw_studies before studies before the five child tables. Each buffer is
// deduplicated by natural key first, last occurrence wins, so a key
// repeated within the same flush window never reaches the database twice.
func (o *Orchestrator) flush(ctx context.Context, buf *buffers, metrics *studies.Metrics) error {
	buf.dedup()

	if err := stageAndMerge(ctx, o.conn, "raw_studies", buf.raw, metrics, o.conn.StageRawStudies); err != nil {
		return err
	}
	if err := stageAndMerge(ctx, o.conn, "studies", buf.study, metrics, o.conn.StageStudies); err != nil {
		return err
	}
	if err := stageAndMerge(ctx, o.conn, "sponsors", buf.sponsors, metrics, o.conn.StageSponsors); err != nil {
		return err
	}
	if err := stageAndMerge(ctx, o.conn, "conditions", buf.conditions, metrics, o.conn.StageConditions); err != nil {
		return err
	}
	if err := stageAndMerge(ctx, o.conn, "interventions", buf.interventions, metrics, o.conn.StageInterventions); err != nil {
		return err
	}
	if err := stageAndMerge(ctx, o.conn, "intervention_arm_groups", buf.armGroups, metrics, o.conn.StageInterventionArmGroups); err != nil {
		return err
	}
	if err := stageAndMerge(ctx, o.conn, "design_outcomes", buf.designOutcomes, metrics, o.conn.StageDesignOutcomes); err != nil {
		return err
	}

	return nil
}

// stageAndMerge is a small generic helper: stage rows via stageFn, then
// merge the table, skipping entirely when rows is empty so a quiet buffer
// doesn't force a needless TRUNCATE/merge round trip.
func stageAndMerge[T any](ctx context.Context, conn connector, table string, rows []T, metrics *studies.Metrics, stageFn func(context.Context, []T) error) error {
	if len(rows) == 0 {
		return nil
	}

	if err := stageFn(ctx, rows); err != nil {
		return err
	}
	if err := conn.ExecuteMerge(ctx, table); err != nil {
		return err
	}

	metrics.RowsMerged[table] += len(rows)
	return nil
}

// fail records a FAILURE load_history row in a fresh transaction (the
// main one has already been rolled back) and returns the original cause
// unchanged so the caller's exit-code classification stays intact.
func (o *Orchestrator) fail(ctx context.Context, metrics *studies.Metrics, start time.Time, cause error) (*studies.Metrics, error) {
	metrics.WallClockMS = time.Since(start).Milliseconds()
	metrics.ErrorMessage = cause.Error()
	metrics.ErrorKind = classify(cause)

	if err := o.conn.RecordLoadHistory(ctx, studies.LoadStatusFailure, *metrics); err != nil {
		o.logger.Error("failed to record FAILURE load history", slog.String("error", err.Error()), slog.String("original_error", cause.Error()))
	}

	return metrics, cause
}

func classify(err error) string {
	switch {
	case errors.As(err, new(*etlerrors.TransientExtraction)):
		return "transient_extraction"
	case errors.As(err, new(*etlerrors.FatalExtraction)):
		return "fatal_extraction"
	case errors.As(err, new(*etlerrors.Transform)):
		return "transform"
	case errors.As(err, new(*etlerrors.Load)):
		return "load"
	case errors.As(err, new(*etlerrors.Transaction)):
		return "transaction"
	default:
		return "unknown"
	}
}
