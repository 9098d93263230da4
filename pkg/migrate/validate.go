package migrate

import (
	"bytes"
	"fmt"
	"io/fs"
	"regexp"

	"go.uber.org/multierr"
)

var migrationName = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

var requiredMarkers = [][]byte{[]byte("-- +goose Up"), []byte("-- +goose Down")}

// Validate checks every .sql file in migrations for a versioned name, a
// unique version and both goose sections. All problems are reported.
func Validate(migrations fs.FS) error {
	files, err := fs.Glob(migrations, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	var errs error
	versions := make(map[string]string, len(files))
	for _, name := range files {
		m := migrationName.FindStringSubmatch(name)
		if m == nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: expected YYYYMMDDHHMMSS_name.sql", name))
			continue
		}
		if prev, dup := versions[m[1]]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%s: version %s already used by %s", name, m[1], prev))
		}
		versions[m[1]] = name

		body, err := fs.ReadFile(migrations, name)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		for _, marker := range requiredMarkers {
			if !bytes.Contains(body, marker) {
				errs = multierr.Append(errs, fmt.Errorf("%s: missing %q", name, marker))
			}
		}
	}
	return errs
}
