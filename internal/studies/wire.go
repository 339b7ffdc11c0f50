package studies

import "encoding/json"

// wireStudy mirrors the subset of the ClinicalTrials.gov V2 study JSON
// shape this system cares about. Unknown fields are tolerated by
// construction (encoding/json ignores fields it has no tag for) — forward
// compatibility with fields this system doesn't yet model.
type wireStudy struct {
	ProtocolSection struct {
		IdentificationModule struct {
			NCTID         json.RawMessage `json:"nctId"`
			BriefTitle    json.RawMessage `json:"briefTitle"`
			OfficialTitle json.RawMessage `json:"officialTitle"`
		} `json:"identificationModule"`

		StatusModule struct {
			OverallStatus            json.RawMessage `json:"overallStatus"`
			StartDateStruct          wireDateStruct  `json:"startDateStruct"`
			PrimaryCompletionDate    wireDateStruct  `json:"primaryCompletionDateStruct"`
			LastUpdatePostDateStruct wireDateStruct  `json:"lastUpdatePostDateStruct"`
		} `json:"statusModule"`

		DesignModule struct {
			StudyType json.RawMessage `json:"studyType"`
		} `json:"designModule"`

		DescriptionModule struct {
			BriefSummary json.RawMessage `json:"briefSummary"`
		} `json:"descriptionModule"`

		SponsorCollaboratorsModule struct {
			LeadSponsor   wireSponsor   `json:"leadSponsor"`
			Collaborators []wireSponsor `json:"collaborators"`
		} `json:"sponsorCollaboratorsModule"`

		ConditionsModule struct {
			Conditions []json.RawMessage `json:"conditions"`
		} `json:"conditionsModule"`

		ArmsInterventionsModule struct {
			Interventions []wireIntervention `json:"interventions"`
		} `json:"armsInterventionsModule"`

		OutcomesModule struct {
			PrimaryOutcomes   []wireOutcome `json:"primaryOutcomes"`
			SecondaryOutcomes []wireOutcome `json:"secondaryOutcomes"`
		} `json:"outcomesModule"`
	} `json:"protocolSection"`
}

type wireDateStruct struct {
	Date json.RawMessage `json:"date"`
}

type wireSponsor struct {
	Name  json.RawMessage `json:"name"`
	Class json.RawMessage `json:"class"`
}

type wireIntervention struct {
	Type           json.RawMessage   `json:"type"`
	Name           json.RawMessage   `json:"name"`
	Description    json.RawMessage   `json:"description"`
	ArmGroupLabels []json.RawMessage `json:"armGroupLabels"`
}

type wireOutcome struct {
	Measure     json.RawMessage `json:"measure"`
	TimeFrame   json.RawMessage `json:"timeFrame"`
	Description json.RawMessage `json:"description"`
}

// outcomeType is synthesized from which list (primary/secondary) an
// outcome was found in — the wire format does not carry it per-element.
type classifiedOutcome struct {
	outcome     wireOutcome
	outcomeType string
}
