package studies

import (
	"encoding/json"
	"time"

	"github.com/gowthamrao/py-load-clinicaltrialsgov/internal/etlerrors"
)

// Transformer flattens one typed Study plus its original raw payload into
// the seven per-table row sets the Connector stages and merges. It is
// stateless between studies — all accumulation lives in buffers owned by
// the Orchestrator.
type Transformer struct{}

// NewTransformer creates a new Transformer instance.
func NewTransformer() *Transformer {
	return &Transformer{}
}

// Transform builds a Batch for one study. payload is the untouched raw
// JSON, carried forward into raw_studies; lastUpdatedAPI/lastUpdatedAPIStr
// are the high-water-mark timestamp extracted by the caller from the same
// payload.
func (t *Transformer) Transform(study Study, payload []byte, lastUpdatedAPI *time.Time, lastUpdatedAPIStr string) (*Batch, error) {
	var w wireStudy
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, &etlerrors.Transform{NCTID: study.NCTID, Err: err}
	}

	batch := &Batch{
		Raw: RawStudy{
			NCTID:             study.NCTID,
			Payload:           payload,
			LastUpdatedAPI:    lastUpdatedAPI,
			LastUpdatedAPIStr: lastUpdatedAPIStr,
		},
		Study: study,
	}

	batch.Sponsors = t.flattenSponsors(study.NCTID, w)
	batch.Conditions = t.flattenConditions(study.NCTID, w)
	batch.Interventions, batch.InterventionArmGroups = t.flattenInterventions(study.NCTID, w)
	batch.DesignOutcomes = t.flattenOutcomes(study.NCTID, w)

	return batch, nil
}

func (t *Transformer) flattenSponsors(nctID string, w wireStudy) []Sponsor {
	seen := make(map[[2]string]bool)
	var sponsors []Sponsor

	appendSponsor := func(wire wireSponsor, isLead bool) {
		name, _ := scalarString(wire.Name, "sponsor.name")
		class, _ := scalarString(wire.Class, "sponsor.class")
		if name == nil || *name == "" || class == nil {
			return
		}

		key := [2]string{*name, *class}
		if seen[key] {
			return
		}
		seen[key] = true

		sponsors = append(sponsors, Sponsor{
			NCTID:       nctID,
			Name:        *name,
			AgencyClass: *class,
			IsLead:      isLead,
		})
	}

	appendSponsor(w.ProtocolSection.SponsorCollaboratorsModule.LeadSponsor, true)
	for _, collaborator := range w.ProtocolSection.SponsorCollaboratorsModule.Collaborators {
		appendSponsor(collaborator, false)
	}

	return sponsors
}

func (t *Transformer) flattenConditions(nctID string, w wireStudy) []Condition {
	seen := make(map[string]bool)
	var conditions []Condition

	for _, raw := range w.ProtocolSection.ConditionsModule.Conditions {
		name, _ := scalarString(raw, "conditions[]")
		if name == nil || *name == "" || seen[*name] {
			continue
		}
		seen[*name] = true

		conditions = append(conditions, Condition{NCTID: nctID, Name: *name})
	}

	return conditions
}

func (t *Transformer) flattenInterventions(nctID string, w wireStudy) ([]Intervention, []InterventionArmGroup) {
	seenIntervention := make(map[[2]string]bool)
	seenArmGroup := make(map[[2]string]bool)

	var interventions []Intervention
	var armGroups []InterventionArmGroup

	for _, wire := range w.ProtocolSection.ArmsInterventionsModule.Interventions {
		itype, _ := scalarString(wire.Type, "intervention.type")
		name, _ := scalarString(wire.Name, "intervention.name")
		description, _ := scalarString(wire.Description, "intervention.description")

		if itype == nil || *itype == "" || name == nil || *name == "" {
			continue
		}

		key := [2]string{*itype, *name}
		if !seenIntervention[key] {
			seenIntervention[key] = true
			interventions = append(interventions, Intervention{
				NCTID:            nctID,
				InterventionType: *itype,
				Name:             *name,
				Description:      description,
			})
		}

		for _, rawLabel := range wire.ArmGroupLabels {
			label, _ := scalarString(rawLabel, "intervention.armGroupLabels[]")
			if label == nil || *label == "" {
				continue
			}

			agKey := [2]string{*name, *label}
			if seenArmGroup[agKey] {
				continue
			}
			seenArmGroup[agKey] = true

			armGroups = append(armGroups, InterventionArmGroup{
				NCTID:            nctID,
				InterventionName: *name,
				ArmGroupLabel:    *label,
			})
		}
	}

	return interventions, armGroups
}

func (t *Transformer) flattenOutcomes(nctID string, w wireStudy) []DesignOutcome {
	seen := make(map[[2]string]bool)
	var outcomes []DesignOutcome

	classified := make([]classifiedOutcome, 0, len(w.ProtocolSection.OutcomesModule.PrimaryOutcomes)+len(w.ProtocolSection.OutcomesModule.SecondaryOutcomes))
	for _, o := range w.ProtocolSection.OutcomesModule.PrimaryOutcomes {
		classified = append(classified, classifiedOutcome{outcome: o, outcomeType: "PRIMARY"})
	}
	for _, o := range w.ProtocolSection.OutcomesModule.SecondaryOutcomes {
		classified = append(classified, classifiedOutcome{outcome: o, outcomeType: "SECONDARY"})
	}

	for _, c := range classified {
		measure, _ := scalarString(c.outcome.Measure, "outcome.measure")
		if measure == nil || *measure == "" {
			continue
		}

		key := [2]string{c.outcomeType, *measure}
		if seen[key] {
			continue
		}
		seen[key] = true

		timeFrame, _ := scalarString(c.outcome.TimeFrame, "outcome.timeFrame")
		description, _ := scalarString(c.outcome.Description, "outcome.description")

		outcomes = append(outcomes, DesignOutcome{
			NCTID:       nctID,
			OutcomeType: c.outcomeType,
			Measure:     *measure,
			TimeFrame:   timeFrame,
			Description: description,
		})
	}

	return outcomes
}
