package migrate

import (
	"fmt"
	"io/fs"
	"regexp"
	"testing/fstest"
)

// Postgres column types that go-sqlite3 cannot scan back into the gorm
// models. Every other type keeps its name and takes SQLite's affinity rules.
var sqliteTypes = []struct {
	pattern *regexp.Regexp
	repl    string
}{
	{regexp.MustCompile(`(?i)\btimestamptz\b`), "datetime"},
	{regexp.MustCompile(`(?i)\bjsonb\b`), "text"},
	{regexp.MustCompile(`(?i)\buuid\b`), "text"},
}

// SQLiteSource copies every migration in src with the Postgres column types
// rewritten for SQLite. Constraints and indexes are kept as written.
func SQLiteSource(src fs.FS) (fs.FS, error) {
	files, err := fs.Glob(src, "*.sql")
	if err != nil {
		return nil, err
	}
	out := make(fstest.MapFS, len(files))
	for _, name := range files {
		data, err := fs.ReadFile(src, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		for _, t := range sqliteTypes {
			data = t.pattern.ReplaceAll(data, []byte(t.repl))
		}
		out[name] = &fstest.MapFile{Data: data, Mode: 0o444}
	}
	return out, nil
}
