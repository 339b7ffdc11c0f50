package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/gowthamrao/py-load-clinicaltrialsgov/internal/etlerrors"
	"github.com/gowthamrao/py-load-clinicaltrialsgov/internal/studies"
)

// Connector is the abstract backend boundary: one open database connection,
// exclusive to a single run, bracketing that run's transaction and owning
// the staging/merge/bookkeeping operations the Orchestrator drives. The
// reference implementation targets PostgreSQL via lib/pq's COPY support.
type Connector struct {
	conn *Connection
	tx   *sql.Tx
}

// NewConnector wraps an already-opened Connection. The Connector does not
// own the Connection's lifecycle — callers close it independently.
func NewConnector(conn *Connection) *Connector {
	return &Connector{conn: conn}
}

// Begin opens the run's single transaction. Calling Begin while a
// transaction is already open is a programmer error.
func (c *Connector) Begin(ctx context.Context) error {
	if c.tx != nil {
		return &etlerrors.Transaction{Op: "begin", Err: etlerrors.ErrTransactionAlreadyOpen}
	}

	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return &etlerrors.Transaction{Op: "begin", Err: err}
	}

	c.tx = tx
	return nil
}

// Commit commits the run's transaction.
func (c *Connector) Commit() error {
	if c.tx == nil {
		return &etlerrors.Transaction{Op: "commit", Err: etlerrors.ErrTransactionNotOpen}
	}

	err := c.tx.Commit()
	c.tx = nil
	if err != nil {
		return &etlerrors.Transaction{Op: "commit", Err: err}
	}

	return nil
}

// Rollback rolls back the run's transaction. Safe to call when no
// transaction is open — it is then a no-op, since the failure path
// may call Rollback defensively after a failed Begin.
func (c *Connector) Rollback() error {
	if c.tx == nil {
		return nil
	}

	err := c.tx.Rollback()
	c.tx = nil
	if err != nil {
		return &etlerrors.Transaction{Op: "rollback", Err: err}
	}

	return nil
}

// stageRows truncates a table's staging table and streams rows into it
// via the backend's bulk COPY protocol. rowOf projects each element of
// rows into the positional values matching schema.columns.
func stageRows[T any](ctx context.Context, tx *sql.Tx, schema tableSchema, rows []T, rowOf func(T) []any) error {
	if tx == nil {
		return &etlerrors.Transaction{Op: "bulk_load_staging", Err: etlerrors.ErrTransactionNotOpen}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", schema.staging)); err != nil {
		return &etlerrors.Load{Table: schema.staging, Op: "truncate", Err: err}
	}

	if len(rows) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(schema.staging, schema.columns...))
	if err != nil {
		return &etlerrors.Load{Table: schema.staging, Op: "copy_prepare", Err: err}
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, rowOf(row)...); err != nil {
			return &etlerrors.Load{Table: schema.staging, Op: "copy_row", Err: err}
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		return &etlerrors.Load{Table: schema.staging, Op: "copy_flush", Err: err}
	}

	return nil
}

// StageRawStudies bulk-loads raw_studies_staging.
func (c *Connector) StageRawStudies(ctx context.Context, rows []studies.RawStudy) error {
	return stageRows(ctx, c.tx, schemas[tableRawStudies], rows, func(r studies.RawStudy) []any {
		return []any{r.NCTID, string(r.Payload), r.LastUpdatedAPI, nullString(r.LastUpdatedAPIStr), time.Now().UTC()}
	})
}

// StageStudies bulk-loads studies_staging.
func (c *Connector) StageStudies(ctx context.Context, rows []studies.Study) error {
	return stageRows(ctx, c.tx, schemas[tableStudies], rows, func(s studies.Study) []any {
		return []any{
			s.NCTID, s.BriefTitle, s.OfficialTitle, s.OverallStatus,
			s.StartDate, s.StartDateStr,
			s.PrimaryCompletionDate, s.PrimaryCompletionDateStr,
			s.StudyType, s.BriefSummary,
		}
	})
}

// StageSponsors bulk-loads sponsors_staging.
func (c *Connector) StageSponsors(ctx context.Context, rows []studies.Sponsor) error {
	return stageRows(ctx, c.tx, schemas[tableSponsors], rows, func(s studies.Sponsor) []any {
		return []any{s.NCTID, s.Name, s.AgencyClass, s.IsLead}
	})
}

// StageConditions bulk-loads conditions_staging.
func (c *Connector) StageConditions(ctx context.Context, rows []studies.Condition) error {
	return stageRows(ctx, c.tx, schemas[tableConditions], rows, func(r studies.Condition) []any {
		return []any{r.NCTID, r.Name}
	})
}

// StageInterventions bulk-loads interventions_staging.
func (c *Connector) StageInterventions(ctx context.Context, rows []studies.Intervention) error {
	return stageRows(ctx, c.tx, schemas[tableInterventions], rows, func(r studies.Intervention) []any {
		return []any{r.NCTID, r.InterventionType, r.Name, r.Description}
	})
}

// StageInterventionArmGroups bulk-loads intervention_arm_groups_staging.
func (c *Connector) StageInterventionArmGroups(ctx context.Context, rows []studies.InterventionArmGroup) error {
	return stageRows(ctx, c.tx, schemas[tableInterventionArmGroups], rows, func(r studies.InterventionArmGroup) []any {
		return []any{r.NCTID, r.InterventionName, r.ArmGroupLabel}
	})
}

// StageDesignOutcomes bulk-loads design_outcomes_staging.
func (c *Connector) StageDesignOutcomes(ctx context.Context, rows []studies.DesignOutcome) error {
	return stageRows(ctx, c.tx, schemas[tableDesignOutcomes], rows, func(r studies.DesignOutcome) []any {
		return []any{r.NCTID, r.OutcomeType, r.Measure, r.TimeFrame, r.Description}
	})
}

// ExecuteMerge merges table's staging rows into its target: insert rows
// whose natural key is absent, update rows whose key matches by setting
// every non-key column from the staged value. Tables with no non-key
// columns (conditions) fall back to DO NOTHING, matching the merge
// algorithm. The staging table carries no uniqueness constraint on its
// natural key — a flush window can stage the same key twice — so the
// source of the INSERT first collapses the staging rows to one per key
// via DISTINCT ON, keeping whichever was staged last (highest
// staged_seq). That keeps ON CONFLICT from ever seeing two rows sharing
// a key in the same statement, which Postgres rejects outright.
func (c *Connector) ExecuteMerge(ctx context.Context, table string) error {
	if c.tx == nil {
		return &etlerrors.Transaction{Op: "execute_merge", Err: etlerrors.ErrTransactionNotOpen}
	}

	schema, ok := schemas[table]
	if !ok {
		return &etlerrors.Load{Table: table, Op: "execute_merge", Err: fmt.Errorf("unknown table %q", table)}
	}

	stmt := buildMergeSQL(schema)
	if _, err := c.tx.ExecContext(ctx, stmt); err != nil {
		return &etlerrors.Load{Table: table, Op: "execute_merge", Err: err}
	}

	return nil
}

func buildMergeSQL(schema tableSchema) string {
	colList := joinCols(schema.columns)
	keyList := joinCols(schema.keyCols)

	nonKey := schema.mergeColumns()
	conflictClause := "DO NOTHING"
	if len(nonKey) > 0 {
		conflictClause = "DO UPDATE SET " + joinSetClause(nonKey)
	}

	deduped := fmt.Sprintf(
		"SELECT DISTINCT ON (%s) %s FROM %s ORDER BY %s, staged_seq DESC",
		keyList, colList, schema.staging, keyList,
	)

	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM (%s) deduped ON CONFLICT (%s) %s",
		schema.target, colList, colList, deduped, keyList, conflictClause,
	)
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

func joinSetClause(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s = EXCLUDED.%s", c, c)
	}
	return out
}

// RecordFailedStudy inserts one dead-letter-queue row in a transaction of
// its own, separate from the run's main transaction, so it survives a
// subsequent rollback.
func (c *Connector) RecordFailedStudy(ctx context.Context, nctID *string, payload []byte, loadErr error) error {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return &etlerrors.Transaction{Op: "record_failed_study", Err: err}
	}

	_, execErr := tx.ExecContext(ctx,
		"INSERT INTO dead_letter_queue (id, nct_id, payload, error, created_at) VALUES ($1, $2, $3, $4, $5)",
		uuid.NewString(), nctID, nullBytes(payload), loadErr.Error(), time.Now().UTC(),
	)
	if execErr != nil {
		_ = tx.Rollback()
		return &etlerrors.Load{Table: "dead_letter_queue", Op: "insert", Err: execErr}
	}

	if err := tx.Commit(); err != nil {
		return &etlerrors.Transaction{Op: "record_failed_study", Err: err}
	}

	return nil
}

// RecordLoadHistory inserts one load_history row. On SUCCESS the row is
// inserted within the caller's open run transaction, so it commits
// atomically with the merged data; on FAILURE the caller has already
// rolled back, so this method opens a fresh transaction of its own.
func (c *Connector) RecordLoadHistory(ctx context.Context, status studies.LoadStatus, metrics studies.Metrics) error {
	metricsJSON, err := metricsToJSON(metrics)
	if err != nil {
		return &etlerrors.Load{Table: "load_history", Op: "marshal_metrics", Err: err}
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	if status == studies.LoadStatusSuccess {
		if c.tx == nil {
			return &etlerrors.Transaction{Op: "record_load_history", Err: etlerrors.ErrTransactionNotOpen}
		}

		_, err := c.tx.ExecContext(ctx,
			"INSERT INTO load_history (id, load_timestamp, status, metrics) VALUES ($1, $2, $3, $4)",
			id, now, string(status), metricsJSON,
		)
		if err != nil {
			return &etlerrors.Load{Table: "load_history", Op: "insert", Err: err}
		}
		return nil
	}

	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return &etlerrors.Transaction{Op: "record_load_history", Err: err}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO load_history (id, load_timestamp, status, metrics) VALUES ($1, $2, $3, $4)",
		id, now, string(status), metricsJSON,
	); err != nil {
		_ = tx.Rollback()
		return &etlerrors.Load{Table: "load_history", Op: "insert", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &etlerrors.Transaction{Op: "record_load_history", Err: err}
	}

	return nil
}

// GetLastSuccessfulLoadTimestamp returns the most recent load_timestamp
// among SUCCESS load_history rows, or nil if none exist yet — the signal
// a delta run uses to decide whether to run full instead.
func (c *Connector) GetLastSuccessfulLoadTimestamp(ctx context.Context) (*time.Time, error) {
	row := c.conn.QueryRowContext(ctx,
		"SELECT MAX(load_timestamp) FROM load_history WHERE status = $1", string(studies.LoadStatusSuccess),
	)

	var ts sql.NullTime
	if err := row.Scan(&ts); err != nil {
		return nil, &etlerrors.Load{Table: "load_history", Op: "get_last_successful_load_timestamp", Err: err}
	}

	if !ts.Valid {
		return nil, nil
	}

	return &ts.Time, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
