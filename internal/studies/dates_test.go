package studies

import "testing"

func TestParsePartialDate(t *testing.T) {
	tests := []struct {
		name      string
		raw       *string
		wantNil   bool
		wantParse bool
	}{
		{name: "nil", raw: nil, wantNil: true},
		{name: "empty", raw: strPtr(""), wantNil: true},
		{name: "full date", raw: strPtr("2024-03-15"), wantParse: true},
		{name: "year-month", raw: strPtr("2024-03"), wantParse: true},
		{name: "year only", raw: strPtr("2024"), wantParse: true},
		{name: "garbage", raw: strPtr("not-a-date"), wantParse: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, original := parsePartialDate(tt.raw)

			if tt.wantNil {
				if parsed != nil || original != nil {
					t.Errorf("parsePartialDate(%v) = (%v, %v), want (nil, nil)", tt.raw, parsed, original)
				}
				return
			}

			if original == nil || *original != *tt.raw {
				t.Errorf("parsePartialDate(%v) original = %v, want preserved original string", tt.raw, original)
			}

			if tt.wantParse && parsed == nil {
				t.Errorf("parsePartialDate(%v) parsed = nil, want a parsed date", tt.raw)
			}
			if !tt.wantParse && parsed != nil {
				t.Errorf("parsePartialDate(%v) parsed = %v, want nil", tt.raw, parsed)
			}
		})
	}
}

func strPtr(s string) *string { return &s }
