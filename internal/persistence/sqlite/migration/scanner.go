package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var fileNamePattern = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.sql$`)

// Load reads every *.sql file in dir, validates names and sequence, and
// returns the migrations ordered by version.
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, &MigrationError{FilePath: dir, Operation: "read directory", Err: err}
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		filePath := path.Join(dir, entry.Name())
		m, err := parseFileName(entry.Name())
		if err != nil {
			return nil, &MigrationError{FilePath: filePath, Operation: "parse file name", Err: err}
		}
		body, err := fs.ReadFile(fsys, filePath)
		if err != nil {
			return nil, &MigrationError{Version: m.Version, FilePath: filePath, Operation: "read file", Err: err}
		}
		m.FilePath = filePath
		m.SQL = string(body)
		if strings.TrimSpace(m.SQL) == "" {
			return nil, newMigrationError(m, "read file", fmt.Errorf("%w: empty body", ErrInvalidMigrationFile))
		}
		sum := sha256.Sum256(body)
		m.Checksum = hex.EncodeToString(sum[:])
		migrations = append(migrations, m)
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	if err := validateSequence(migrations); err != nil {
		return nil, err
	}
	return migrations, nil
}

func parseFileName(name string) (Migration, error) {
	match := fileNamePattern.FindStringSubmatch(name)
	if match == nil {
		return Migration{}, fmt.Errorf("%w: %q does not match {version}_{description}.sql", ErrInvalidMigrationFile, name)
	}
	version, err := strconv.Atoi(match[1])
	if err != nil || version <= 0 {
		return Migration{}, fmt.Errorf("%w: version in %q must be a positive integer", ErrInvalidMigrationFile, name)
	}
	return Migration{
		Version:     version,
		Description: strings.ReplaceAll(match[2], "_", " "),
	}, nil
}

func validateSequence(migrations []Migration) error {
	for i, m := range migrations {
		if i > 0 && migrations[i-1].Version == m.Version {
			return newMigrationError(m, "validate sequence", ErrDuplicateVersion)
		}
		if m.Version != i+1 {
			return newMigrationError(m, "validate sequence", fmt.Errorf("%w: expected version %d", ErrVersionGap, i+1))
		}
	}
	return nil
}

// splitStatements breaks a migration body into statements on semicolons,
// skipping line comments and semicolons inside quoted literals.
func splitStatements(body string) []string {
	var (
		statements []string
		current    strings.Builder
		inQuote    bool
	)
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if !inQuote && strings.HasPrefix(trimmed, "--") {
			continue
		}
		for _, r := range line {
			switch {
			case r == '\'':
				inQuote = !inQuote
				current.WriteRune(r)
			case r == ';' && !inQuote:
				if stmt := strings.TrimSpace(current.String()); stmt != "" {
					statements = append(statements, stmt)
				}
				current.Reset()
			default:
				current.WriteRune(r)
			}
		}
		current.WriteByte('\n')
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}
