package schema

import "testing"

func TestListMigrations(t *testing.T) {
	files, err := ListMigrations()
	if err != nil {
		t.Fatalf("ListMigrations() error = %v", err)
	}

	if len(files) != 18 {
		t.Fatalf("ListMigrations() returned %d files, want 18 (9 tables x up/down)", len(files))
	}

	if files[0] != "001_raw_studies.down.sql" && files[0] != "001_raw_studies.up.sql" {
		t.Errorf("first migration = %q, want one of the 001_raw_studies files", files[0])
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestParseFilename(t *testing.T) {
	tests := []struct {
		filename  string
		wantErr   bool
		sequence  int
		name      string
		direction string
	}{
		{filename: "001_raw_studies.up.sql", sequence: 1, name: "raw_studies", direction: "up"},
		{filename: "009_load_history.down.sql", sequence: 9, name: "load_history", direction: "down"},
		{filename: "not_a_migration.sql", wantErr: true},
		{filename: "1_too_short.up.sql", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			info, err := parseFilename(tt.filename)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseFilename(%q) expected error, got nil", tt.filename)
				}
				return
			}

			if err != nil {
				t.Fatalf("parseFilename(%q) error = %v", tt.filename, err)
			}
			if info.Sequence != tt.sequence || info.Name != tt.name || info.Direction != tt.direction {
				t.Errorf("parseFilename(%q) = %+v, want {%d %s %s}", tt.filename, info, tt.sequence, tt.name, tt.direction)
			}
		})
	}
}

func TestChecksumStable(t *testing.T) {
	a, err := Checksum("001_raw_studies.up.sql")
	if err != nil {
		t.Fatalf("Checksum() error = %v", err)
	}

	b, err := Checksum("001_raw_studies.up.sql")
	if err != nil {
		t.Fatalf("Checksum() error = %v", err)
	}

	if a != b {
		t.Errorf("Checksum() not stable across calls: %s != %s", a, b)
	}
}
