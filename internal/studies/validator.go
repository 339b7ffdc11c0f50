package studies

import (
	"encoding/json"
	"fmt"

	"github.com/gowthamrao/py-load-clinicaltrialsgov/internal/etlerrors"
)

// allowedOverallStatuses mirrors the enum the V2 API documents for
// protocolSection.statusModule.overallStatus. A value outside this set is
// a validation failure.
var allowedOverallStatuses = map[string]bool{
	"ACTIVE_NOT_RECRUITING":     true,
	"COMPLETED":                 true,
	"ENROLLING_BY_INVITATION":   true,
	"NOT_YET_RECRUITING":        true,
	"RECRUITING":                true,
	"SUSPENDED":                 true,
	"TERMINATED":                true,
	"WITHDRAWN":                 true,
	"AVAILABLE":                 true,
	"NO_LONGER_AVAILABLE":       true,
	"TEMPORARILY_NOT_AVAILABLE": true,
	"APPROVED_FOR_MARKETING":    true,
	"WITHHELD":                  true,
	"UNKNOWN":                   true,
}

// Validator performs purely structural, per-record validation of a raw
// ClinicalTrials.gov study payload: it does not check cross-record
// integrity.
type Validator struct{}

// NewValidator creates a new Validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// ExtractNCTID best-effort extracts protocolSection.identificationModule.nctId
// from a raw payload for diagnostics, even when the payload otherwise fails
// validation. Returns "" if it cannot be found.
func ExtractNCTID(payload []byte) string {
	var w wireStudy
	if err := json.Unmarshal(payload, &w); err != nil {
		return ""
	}

	id, err := scalarString(w.ProtocolSection.IdentificationModule.NCTID, "nctId")
	if err != nil || id == nil {
		return ""
	}

	return *id
}

// Validate parses payload into a typed Study, or returns a validation
// failure carrying a diagnostic message. A record is invalid only if (a)
// nct_id is missing/empty, (b) a required scalar has the wrong JSON kind,
// or (c) an enum-bearing field has a disallowed value.
func (v *Validator) Validate(payload []byte) (*Study, error) {
	var w wireStudy
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, etlerrors.NewValidation("", fmt.Errorf("payload is not a JSON object: %w", err))
	}

	nctID, err := scalarString(w.ProtocolSection.IdentificationModule.NCTID, "protocolSection.identificationModule.nctId")
	if err != nil {
		return nil, etlerrors.NewValidation("", err)
	}
	if nctID == nil || *nctID == "" {
		return nil, etlerrors.NewValidation("", etlerrors.ErrNCTIDMissing)
	}

	briefTitle, err := scalarString(w.ProtocolSection.IdentificationModule.BriefTitle, "briefTitle")
	if err != nil {
		return nil, etlerrors.NewValidation(*nctID, err)
	}

	officialTitle, err := scalarString(w.ProtocolSection.IdentificationModule.OfficialTitle, "officialTitle")
	if err != nil {
		return nil, etlerrors.NewValidation(*nctID, err)
	}

	overallStatus, err := scalarString(w.ProtocolSection.StatusModule.OverallStatus, "overallStatus")
	if err != nil {
		return nil, etlerrors.NewValidation(*nctID, err)
	}
	if overallStatus != nil && *overallStatus != "" && !allowedOverallStatuses[*overallStatus] {
		return nil, etlerrors.NewValidation(*nctID, fmt.Errorf("%w: overallStatus=%q", etlerrors.ErrEnumValueInvalid, *overallStatus))
	}

	startDateStr, err := scalarString(w.ProtocolSection.StatusModule.StartDateStruct.Date, "startDateStruct.date")
	if err != nil {
		return nil, etlerrors.NewValidation(*nctID, err)
	}
	startDate, startDateOriginal := parsePartialDate(startDateStr)

	pcDateStr, err := scalarString(w.ProtocolSection.StatusModule.PrimaryCompletionDate.Date, "primaryCompletionDateStruct.date")
	if err != nil {
		return nil, etlerrors.NewValidation(*nctID, err)
	}
	pcDate, pcDateOriginal := parsePartialDate(pcDateStr)

	studyType, err := scalarString(w.ProtocolSection.DesignModule.StudyType, "studyType")
	if err != nil {
		return nil, etlerrors.NewValidation(*nctID, err)
	}

	briefSummary, err := scalarString(w.ProtocolSection.DescriptionModule.BriefSummary, "briefSummary")
	if err != nil {
		return nil, etlerrors.NewValidation(*nctID, err)
	}

	study := &Study{
		NCTID:                    *nctID,
		BriefTitle:               briefTitle,
		OfficialTitle:            officialTitle,
		OverallStatus:            overallStatus,
		StartDate:                startDate,
		StartDateStr:             startDateOriginal,
		PrimaryCompletionDate:    pcDate,
		PrimaryCompletionDateStr: pcDateOriginal,
		StudyType:                studyType,
		BriefSummary:             briefSummary,
	}

	return study, nil
}

// scalarString decodes raw into a *string. A missing or JSON-null field
// yields (nil, nil). A field present but of the wrong JSON kind (array,
// object, number, bool) yields a wrapped ErrFieldKindMismatch.
func scalarString(raw json.RawMessage, fieldPath string) (*string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: field %s", etlerrors.ErrFieldKindMismatch, fieldPath)
	}

	return &s, nil
}
