// Package studies holds the domain model for ClinicalTrials.gov studies,
// the structural Validator that turns a raw JSON payload into a typed
// Study, and the Transformer that flattens a typed Study into the
// per-table row batches the Connector stages and merges.
package studies

import "time"

// RawStudy is the persisted form of one fetched study: the opaque payload
// plus the high-water-mark timestamp extracted from it.
type RawStudy struct {
	NCTID             string
	Payload           []byte
	LastUpdatedAPI    *time.Time
	LastUpdatedAPIStr string
}

// Study is the typed, validated form of one study record. Partial dates
// retain both the best-effort parsed value and the original API string.
type Study struct {
	NCTID                    string
	BriefTitle               *string
	OfficialTitle            *string
	OverallStatus            *string
	StartDate                *time.Time
	StartDateStr             *string
	PrimaryCompletionDate    *time.Time
	PrimaryCompletionDateStr *string
	StudyType                *string
	BriefSummary             *string
}

// Sponsor is one row of the many-per-study sponsors table. Natural key:
// (NCTID, Name, AgencyClass).
type Sponsor struct {
	NCTID       string
	Name        string
	AgencyClass string
	IsLead      bool
}

// Condition is one row of the many-per-study conditions table. Natural
// key: (NCTID, Name).
type Condition struct {
	NCTID string
	Name  string
}

// Intervention is one row of the many-per-study interventions table.
// Natural key: (NCTID, InterventionType, Name).
type Intervention struct {
	NCTID            string
	InterventionType string
	Name             string
	Description      *string
}

// InterventionArmGroup maps an intervention to one of its arm groups.
// Natural key: (NCTID, InterventionName, ArmGroupLabel).
type InterventionArmGroup struct {
	NCTID            string
	InterventionName string
	ArmGroupLabel    string
}

// DesignOutcome is one row of the many-per-study design outcomes table.
// Natural key: (NCTID, OutcomeType, Measure).
type DesignOutcome struct {
	NCTID       string
	OutcomeType string
	Measure     string
	TimeFrame   *string
	Description *string
}

// Batch holds one study's flattened rows, ready to be appended to the
// Orchestrator's in-memory per-table buffers.
type Batch struct {
	Raw                   RawStudy
	Study                 Study
	Sponsors              []Sponsor
	Conditions            []Condition
	Interventions         []Intervention
	InterventionArmGroups []InterventionArmGroup
	DesignOutcomes        []DesignOutcome
}

// DLQEntry is one dead-letter-queue row: a study that failed validation,
// preserved with its raw payload and a diagnostic message.
type DLQEntry struct {
	ID        string
	NCTID     *string
	Payload   []byte
	Error     string
	CreatedAt time.Time
}

// LoadStatus is the terminal state of one run, recorded in load_history.
type LoadStatus string

const (
	LoadStatusSuccess LoadStatus = "SUCCESS"
	LoadStatusFailure LoadStatus = "FAILURE"
)

// LoadHistoryEntry is one row of load_history: a run's outcome plus its
// metrics blob.
type LoadHistoryEntry struct {
	ID            string
	LoadTimestamp time.Time
	Status        LoadStatus
	Metrics       Metrics
}

// Metrics is the run summary persisted alongside a LoadHistoryEntry and
// reported by the status CLI subcommand.
type Metrics struct {
	StudiesFetched int            `json:"studies_fetched"`
	StudiesValid   int            `json:"studies_valid"`
	StudiesInvalid int            `json:"studies_invalid"`
	RowsMerged     map[string]int `json:"rows_merged"`
	WallClockMS    int64          `json:"wall_clock_ms"`
	RetryCount     int            `json:"retry_count"`
	ErrorKind      string         `json:"error_kind,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
}
