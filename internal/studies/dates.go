package studies

import (
	"encoding/json"
	"time"
)

var partialDateLayouts = []string{
	"2006-01-02",
	"2006-01",
	"2006",
}

// parsePartialDate attempts to parse a ClinicalTrials.gov date string that
// may be a full date, a year-month, or a year-only value. It always
// preserves the original string (even on parse failure) alongside a
// best-effort parsed value, per its partial-date invariant.
func parsePartialDate(raw *string) (*time.Time, *string) {
	if raw == nil || *raw == "" {
		return nil, nil
	}

	original := *raw

	for _, layout := range partialDateLayouts {
		if t, err := time.Parse(layout, original); err == nil {
			return &t, &original
		}
	}

	return nil, &original
}

// ExtractLastUpdatedAPI reads protocolSection.statusModule.lastUpdatePostDateStruct.date
// from a raw payload — the field raw_studies.last_updated_api is sourced
// from. Delta runs do not filter on it; their high-water mark is the last
// successful load_history timestamp. Returns a nil
// time and empty string if the payload cannot be parsed or the field is
// absent; that is a transform-layer concern, not a validation failure.
func ExtractLastUpdatedAPI(payload []byte) (*time.Time, string) {
	var w wireStudy
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, ""
	}

	raw, err := scalarString(w.ProtocolSection.StatusModule.LastUpdatePostDateStruct.Date, "lastUpdatePostDateStruct.date")
	if err != nil || raw == nil {
		return nil, ""
	}

	parsed, original := parsePartialDate(raw)
	if original == nil {
		return nil, ""
	}

	return parsed, *original
}
