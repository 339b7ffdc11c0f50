package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gowthamrao/py-load-clinicaltrialsgov/internal/apiclient"
	"github.com/gowthamrao/py-load-clinicaltrialsgov/internal/etlerrors"
	"github.com/gowthamrao/py-load-clinicaltrialsgov/internal/studies"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClient struct {
	studies []string
	err     error
}

func (f *fakeClient) Stream(ctx context.Context, updatedSince *time.Time) (<-chan apiclient.Result, *int) {
	out := make(chan apiclient.Result, len(f.studies)+1)
	retryCount := 0

	for _, s := range f.studies {
		out <- apiclient.Result{Study: []byte(s)}
	}
	if f.err != nil {
		out <- apiclient.Result{Err: f.err}
	}
	close(out)

	return out, &retryCount
}

type mergeCall struct {
	table string
}

type fakeConnector struct {
	began     bool
	committed bool
	rolledBack bool

	staged map[string]int
	merges []mergeCall
	dlq    []string

	history []studies.LoadStatus
	lastTS  *time.Time

	failStage string
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{staged: make(map[string]int)}
}

func (f *fakeConnector) Begin(ctx context.Context) error { f.began = true; return nil }
func (f *fakeConnector) Commit() error                   { f.committed = true; return nil }
func (f *fakeConnector) Rollback() error                 { f.rolledBack = true; return nil }

func (f *fakeConnector) StageRawStudies(ctx context.Context, rows []studies.RawStudy) error {
	return f.stage("raw_studies", len(rows))
}
func (f *fakeConnector) StageStudies(ctx context.Context, rows []studies.Study) error {
	return f.stage("studies", len(rows))
}
func (f *fakeConnector) StageSponsors(ctx context.Context, rows []studies.Sponsor) error {
	return f.stage("sponsors", len(rows))
}
func (f *fakeConnector) StageConditions(ctx context.Context, rows []studies.Condition) error {
	return f.stage("conditions", len(rows))
}
func (f *fakeConnector) StageInterventions(ctx context.Context, rows []studies.Intervention) error {
	return f.stage("interventions", len(rows))
}
func (f *fakeConnector) StageInterventionArmGroups(ctx context.Context, rows []studies.InterventionArmGroup) error {
	return f.stage("intervention_arm_groups", len(rows))
}
func (f *fakeConnector) StageDesignOutcomes(ctx context.Context, rows []studies.DesignOutcome) error {
	return f.stage("design_outcomes", len(rows))
}

func (f *fakeConnector) stage(table string, n int) error {
	if f.failStage == table {
		return &etlerrors.Load{Table: table, Op: "copy_row", Err: errors.New("boom")}
	}
	f.staged[table] += n
	return nil
}

func (f *fakeConnector) ExecuteMerge(ctx context.Context, table string) error {
	f.merges = append(f.merges, mergeCall{table: table})
	return nil
}

func (f *fakeConnector) RecordFailedStudy(ctx context.Context, nctID *string, payload []byte, cause error) error {
	id := ""
	if nctID != nil {
		id = *nctID
	}
	f.dlq = append(f.dlq, id)
	return nil
}

func (f *fakeConnector) RecordLoadHistory(ctx context.Context, status studies.LoadStatus, metrics studies.Metrics) error {
	f.history = append(f.history, status)
	return nil
}

func (f *fakeConnector) GetLastSuccessfulLoadTimestamp(ctx context.Context) (*time.Time, error) {
	return f.lastTS, nil
}

func validStudyPayload(nctID string) string {
	return `{"protocolSection": {"identificationModule": {"nctId": "` + nctID + `"}}}`
}

func TestRunETLHappyPathMergesAndCommits(t *testing.T) {
	client := &fakeClient{studies: []string{validStudyPayload("NCT001"), validStudyPayload("NCT002")}}
	conn := newFakeConnector()

	o := New(client, conn, testLogger(), 5000)
	metrics, err := o.RunETL(context.Background(), LoadTypeFull)

	if err != nil {
		t.Fatalf("RunETL() error = %v", err)
	}
	if metrics.StudiesFetched != 2 || metrics.StudiesValid != 2 || metrics.StudiesInvalid != 0 {
		t.Fatalf("metrics = %+v, want fetched=2 valid=2 invalid=0", metrics)
	}
	if !conn.committed || conn.rolledBack {
		t.Fatalf("committed=%v rolledBack=%v, want committed only", conn.committed, conn.rolledBack)
	}
	if conn.staged["raw_studies"] != 2 || conn.staged["studies"] != 2 {
		t.Fatalf("staged = %+v, want raw_studies=2 studies=2", conn.staged)
	}
	if len(conn.history) != 1 || conn.history[0] != studies.LoadStatusSuccess {
		t.Fatalf("history = %+v, want one SUCCESS entry", conn.history)
	}
}

func TestRunETLRoutesInvalidStudiesToDLQWithoutAborting(t *testing.T) {
	client := &fakeClient{studies: []string{
		validStudyPayload("NCT001"),
		`{"protocolSection": {"identificationModule": {"nctId": ""}}}`,
	}}
	conn := newFakeConnector()

	o := New(client, conn, testLogger(), 5000)
	metrics, err := o.RunETL(context.Background(), LoadTypeFull)

	if err != nil {
		t.Fatalf("RunETL() error = %v", err)
	}
	if metrics.StudiesValid != 1 || metrics.StudiesInvalid != 1 {
		t.Fatalf("metrics = %+v, want valid=1 invalid=1", metrics)
	}
	if len(conn.dlq) != 1 {
		t.Fatalf("dlq entries = %d, want 1", len(conn.dlq))
	}
	if !conn.committed {
		t.Fatal("expected commit despite one invalid study")
	}
}

func TestRunETLRollsBackAndRecordsFailureOnExtractionError(t *testing.T) {
	fatalErr := etlerrors.NewFatalExtraction(503, "tok", errors.New("upstream down"))
	client := &fakeClient{studies: []string{validStudyPayload("NCT001")}, err: fatalErr}
	conn := newFakeConnector()

	o := New(client, conn, testLogger(), 5000)
	_, err := o.RunETL(context.Background(), LoadTypeFull)

	if !errors.Is(err, fatalErr) && err.Error() != fatalErr.Error() {
		t.Fatalf("RunETL() error = %v, want the fatal extraction error surfaced", err)
	}
	if !conn.rolledBack || conn.committed {
		t.Fatalf("rolledBack=%v committed=%v, want rollback only", conn.rolledBack, conn.committed)
	}
	if len(conn.history) != 1 || conn.history[0] != studies.LoadStatusFailure {
		t.Fatalf("history = %+v, want one FAILURE entry", conn.history)
	}
}

func TestRunETLDeltaUsesLastSuccessfulTimestamp(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	conn := newFakeConnector()
	conn.lastTS = &ts

	var capturedSince *time.Time
	client := &captureClient{fakeClient: fakeClient{}, onStream: func(u *time.Time) { capturedSince = u }}

	o := New(client, conn, testLogger(), 5000)
	if _, err := o.RunETL(context.Background(), LoadTypeDelta); err != nil {
		t.Fatalf("RunETL() error = %v", err)
	}

	if capturedSince == nil || !capturedSince.Equal(ts) {
		t.Fatalf("updatedSince = %v, want %v", capturedSince, ts)
	}
}

type captureClient struct {
	fakeClient
	onStream func(*time.Time)
}

func (c *captureClient) Stream(ctx context.Context, updatedSince *time.Time) (<-chan apiclient.Result, *int) {
	c.onStream(updatedSince)
	return c.fakeClient.Stream(ctx, updatedSince)
}

func TestRunETLFullLoadDoesNotConsultLastSuccessfulTimestamp(t *testing.T) {
	conn := newFakeConnector()
	calledGetLastTS := false
	conn.lastTS = nil

	client := &fakeClient{}
	o := New(client, &trackingConnector{fakeConnector: conn, onGetLastTS: func() { calledGetLastTS = true }}, testLogger(), 5000)

	if _, err := o.RunETL(context.Background(), LoadTypeFull); err != nil {
		t.Fatalf("RunETL() error = %v", err)
	}
	if calledGetLastTS {
		t.Error("full load must not call GetLastSuccessfulLoadTimestamp")
	}
}

type trackingConnector struct {
	*fakeConnector
	onGetLastTS func()
}

func (t *trackingConnector) GetLastSuccessfulLoadTimestamp(ctx context.Context) (*time.Time, error) {
	t.onGetLastTS()
	return t.fakeConnector.GetLastSuccessfulLoadTimestamp(ctx)
}
