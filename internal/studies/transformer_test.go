package studies

import "testing"

const samplePayload = `{
	"protocolSection": {
		"identificationModule": {"nctId": "NCT100"},
		"sponsorCollaboratorsModule": {
			"leadSponsor": {"name": "Acme Pharma", "class": "INDUSTRY"},
			"collaborators": [
				{"name": "Acme Pharma", "class": "INDUSTRY"},
				{"name": "Research University", "class": "OTHER"}
			]
		},
		"conditionsModule": {
			"conditions": ["Diabetes", "Diabetes", "Hypertension"]
		},
		"armsInterventionsModule": {
			"interventions": [
				{
					"type": "DRUG",
					"name": "Drug A",
					"description": "A test drug",
					"armGroupLabels": ["Arm 1", "Arm 2", "Arm 1"]
				}
			]
		},
		"outcomesModule": {
			"primaryOutcomes": [
				{"measure": "Survival rate", "timeFrame": "12 months"}
			],
			"secondaryOutcomes": [
				{"measure": "Quality of life", "timeFrame": "6 months"}
			]
		}
	}
}`

func TestTransformFlattensAndDeduplicates(t *testing.T) {
	tr := NewTransformer()
	study := Study{NCTID: "NCT100"}

	batch, err := tr.Transform(study, []byte(samplePayload), nil, "")
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}

	if len(batch.Sponsors) != 2 {
		t.Fatalf("Sponsors = %d, want 2 (lead duplicate with a collaborator collapses)", len(batch.Sponsors))
	}
	if !batch.Sponsors[0].IsLead {
		t.Errorf("first sponsor should be the lead sponsor with IsLead=true")
	}

	if len(batch.Conditions) != 2 {
		t.Fatalf("Conditions = %d, want 2 (duplicate condition collapses)", len(batch.Conditions))
	}

	if len(batch.Interventions) != 1 {
		t.Fatalf("Interventions = %d, want 1", len(batch.Interventions))
	}

	if len(batch.InterventionArmGroups) != 2 {
		t.Fatalf("InterventionArmGroups = %d, want 2 (duplicate arm label collapses)", len(batch.InterventionArmGroups))
	}

	if len(batch.DesignOutcomes) != 2 {
		t.Fatalf("DesignOutcomes = %d, want 2 (one primary, one secondary)", len(batch.DesignOutcomes))
	}

	var sawPrimary, sawSecondary bool
	for _, o := range batch.DesignOutcomes {
		switch o.OutcomeType {
		case "PRIMARY":
			sawPrimary = true
		case "SECONDARY":
			sawSecondary = true
		}
	}
	if !sawPrimary || !sawSecondary {
		t.Errorf("expected both PRIMARY and SECONDARY outcomes, got %+v", batch.DesignOutcomes)
	}
}

func TestTransformEmptyModulesProduceNoRows(t *testing.T) {
	tr := NewTransformer()
	study := Study{NCTID: "NCT200"}

	batch, err := tr.Transform(study, []byte(`{"protocolSection": {"identificationModule": {"nctId": "NCT200"}}}`), nil, "")
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}

	if len(batch.Sponsors) != 0 || len(batch.Conditions) != 0 || len(batch.Interventions) != 0 ||
		len(batch.InterventionArmGroups) != 0 || len(batch.DesignOutcomes) != 0 {
		t.Errorf("expected all child row sets empty, got %+v", batch)
	}
}
