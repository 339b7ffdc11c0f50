package storage

// tableSchema describes one target/staging table pair: its column order
// (used for both pq.CopyIn and the merge statement) and its natural key.
// Every name here must exist in the corresponding migration in
// internal/schema, and the rowOf projections in connector.go must follow
// this order — pq.CopyIn binds values positionally to the listed columns.
type tableSchema struct {
	target  string
	staging string
	columns []string
	keyCols []string
}

// mergeColumns returns the non-key columns driving the UPSERT's SET clause.
func (s tableSchema) mergeColumns() []string {
	key := make(map[string]bool, len(s.keyCols))
	for _, k := range s.keyCols {
		key[k] = true
	}

	var cols []string
	for _, c := range s.columns {
		if !key[c] {
			cols = append(cols, c)
		}
	}

	return cols
}

const (
	tableRawStudies            = "raw_studies"
	tableStudies               = "studies"
	tableSponsors              = "sponsors"
	tableConditions            = "conditions"
	tableInterventions         = "interventions"
	tableInterventionArmGroups = "intervention_arm_groups"
	tableDesignOutcomes        = "design_outcomes"
)

// schemas is the registry the Connector consults for every table it can
// stage and merge, keyed by the logical table name used throughout the
// Orchestrator. It is a map and carries no order; the FK-safe merge order
// (parents before children) is fixed by the Orchestrator's flush.
var schemas = map[string]tableSchema{
	tableRawStudies: {
		target:  tableRawStudies,
		staging: "raw_studies_staging",
		columns: []string{"nct_id", "payload", "last_updated_api", "last_updated_api_str", "fetched_at"},
		keyCols: []string{"nct_id"},
	},
	tableStudies: {
		target:  tableStudies,
		staging: "studies_staging",
		columns: []string{
			"nct_id", "brief_title", "official_title", "overall_status",
			"start_date", "start_date_str",
			"primary_completion_date", "primary_completion_date_str",
			"study_type", "brief_summary",
		},
		keyCols: []string{"nct_id"},
	},
	tableSponsors: {
		target:  tableSponsors,
		staging: "sponsors_staging",
		columns: []string{"nct_id", "name", "agency_class", "is_lead"},
		keyCols: []string{"nct_id", "name", "agency_class"},
	},
	tableConditions: {
		target:  tableConditions,
		staging: "conditions_staging",
		columns: []string{"nct_id", "name"},
		keyCols: []string{"nct_id", "name"},
	},
	tableInterventions: {
		target:  tableInterventions,
		staging: "interventions_staging",
		columns: []string{"nct_id", "intervention_type", "name", "description"},
		keyCols: []string{"nct_id", "intervention_type", "name"},
	},
	tableInterventionArmGroups: {
		target:  tableInterventionArmGroups,
		staging: "intervention_arm_groups_staging",
		columns: []string{"nct_id", "intervention_name", "arm_group_label"},
		keyCols: []string{"nct_id", "intervention_name", "arm_group_label"},
	},
	tableDesignOutcomes: {
		target:  tableDesignOutcomes,
		staging: "design_outcomes_staging",
		columns: []string{"nct_id", "outcome_type", "measure", "time_frame", "description"},
		keyCols: []string{"nct_id", "outcome_type", "measure"},
	},
}
