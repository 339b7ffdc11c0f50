// Package schema embeds the SQL migration set for the nine tables of the
// warehouse and validates its structural integrity (filename format,
// up/down pairing, sequence gaps, file readability) before it is handed to
// golang-migrate.
package schema

import (
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var migrationFiles embed.FS

// migrationFilenameRegex matches 001_migration_name.up.sql or
// 001_migration_name.down.sql.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// MigrationInfo is the parsed form of a migration filename.
type MigrationInfo struct {
	Sequence  int
	Name      string
	Direction string
	Filename  string
}

// Migrations returns the embedded migration filesystem, ready to be wrapped
// by golang-migrate's source/iofs driver.
func Migrations() fs.FS {
	return migrationFiles
}

// ListMigrations returns every embedded filename matching the naming
// standard, lexicographically sorted (which also orders lower sequence
// numbers first and, within one sequence, down before up).
func ListMigrations() ([]string, error) {
	entries, err := fs.ReadDir(migrationFiles, ".")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if filepath.Ext(name) == ".sql" && migrationFilenameRegex.MatchString(name) {
			files = append(files, name)
		}
	}

	sort.Strings(files)

	return files, nil
}

// Validate performs filename, pairing, sequence and checksum-readability
// validation of the embedded migration set. It is meant to run once at
// process startup so a malformed migration set fails fast instead of
// surfacing as a cryptic golang-migrate error mid-run.
func Validate() error {
	files, err := ListMigrations()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no embedded migration files found")
	}

	for _, file := range files {
		if _, err := Content(file); err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}
	}

	if err := validatePairing(files); err != nil {
		return err
	}

	return validateSequence(files)
}

// Content returns the raw bytes of an embedded migration file.
func Content(filename string) ([]byte, error) {
	return migrationFiles.ReadFile(filename)
}

// Checksum returns the SHA256 checksum of an embedded migration's content,
// used to detect drift between the binary and a deployed schema baseline.
func Checksum(filename string) (string, error) {
	content, err := Content(filename)
	if err != nil {
		return "", err
	}

	hash := sha256.Sum256(content)
	return fmt.Sprintf("%x", hash), nil
}

func parseFilename(filename string) (*MigrationInfo, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf("invalid migration filename format: %s", filename)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in %s: %w", filename, err)
	}

	return &MigrationInfo{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

func validatePairing(files []string) error {
	migrations := make(map[string]map[string]*MigrationInfo)

	for _, file := range files {
		info, err := parseFilename(file)
		if err != nil {
			return err
		}

		key := fmt.Sprintf("%03d_%s", info.Sequence, info.Name)
		if migrations[key] == nil {
			migrations[key] = make(map[string]*MigrationInfo)
		}
		migrations[key][info.Direction] = info
	}

	for key, directions := range migrations {
		if _, hasUp := directions["up"]; !hasUp {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}
		if _, hasDown := directions["down"]; !hasDown {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return nil
}

func validateSequence(files []string) error {
	seen := make(map[int]bool)
	for _, file := range files {
		info, err := parseFilename(file)
		if err != nil {
			return err
		}
		seen[info.Sequence] = true
	}

	var sequences []int
	for seq := range seen {
		sequences = append(sequences, seq)
	}
	sort.Ints(sequences)

	if len(sequences) == 0 {
		return nil
	}

	if sequences[0] != 1 {
		return fmt.Errorf("migration sequence should start with 001, found %03d", sequences[0])
	}

	for i := 1; i < len(sequences); i++ {
		expected := sequences[i-1] + 1
		if sequences[i] != expected {
			return fmt.Errorf("gap in migration sequence: expected %03d, found %03d", expected, sequences[i])
		}
	}

	return nil
}
