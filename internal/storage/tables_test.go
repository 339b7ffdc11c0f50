package storage

import (
	"strings"
	"testing"
)

func TestBuildMergeSQLUsesUpdateWhenNonKeyColumnsExist(t *testing.T) {
	sql := buildMergeSQL(schemas[tableStudies])

	if !strings.Contains(sql, "ON CONFLICT (nct_id) DO UPDATE SET") {
		t.Errorf("buildMergeSQL(studies) = %q, want an ON CONFLICT DO UPDATE clause", sql)
	}
	if !strings.Contains(sql, "brief_title = EXCLUDED.brief_title") {
		t.Errorf("buildMergeSQL(studies) = %q, want every non-key column in the SET clause", sql)
	}
}

func TestBuildMergeSQLCollapsesDuplicateKeysBeforeConflict(t *testing.T) {
	sql := buildMergeSQL(schemas[tableStudies])

	if !strings.Contains(sql, "SELECT DISTINCT ON (nct_id)") {
		t.Errorf("buildMergeSQL(studies) = %q, want a DISTINCT ON (nct_id) subquery so a key staged twice never reaches ON CONFLICT", sql)
	}
	if !strings.Contains(sql, "ORDER BY nct_id, staged_seq DESC") {
		t.Errorf("buildMergeSQL(studies) = %q, want the dedup subquery ordered by staged_seq DESC so the last staged row wins", sql)
	}
}

func TestBuildMergeSQLUsesDoNothingWhenNoNonKeyColumns(t *testing.T) {
	sql := buildMergeSQL(schemas[tableConditions])

	if !strings.Contains(sql, "ON CONFLICT (nct_id, name) DO NOTHING") {
		t.Errorf("buildMergeSQL(conditions) = %q, want DO NOTHING (no non-key columns)", sql)
	}
}

func TestMergeColumnsExcludesKeyColumns(t *testing.T) {
	cols := schemas[tableSponsors].mergeColumns()

	want := map[string]bool{"is_lead": true}
	for _, c := range cols {
		if c == "nct_id" || c == "name" || c == "agency_class" {
			t.Errorf("mergeColumns() included key column %q", c)
		}
		delete(want, c)
	}
	if len(want) != 0 {
		t.Errorf("mergeColumns() missing expected non-key columns: %v", want)
	}
}
