package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/payintents-backend/pkg/logger"
)

// DefaultDir is where the migrate tool creates and validates files.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Embedded returns the migrations compiled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Runner applies goose migrations from one source to one database.
type Runner struct {
	provider *goose.Provider
	logg     *logger.Logger
}

// NewRunner builds a runner for a Postgres database.
func NewRunner(db *sql.DB, migrations fs.FS, logg *logger.Logger) (*Runner, error) {
	return newRunner(goose.DialectPostgres, db, migrations, logg)
}

// NewSQLiteRunner builds a runner for a SQLite database. The migrations are
// rewritten with SQLiteSource first.
func NewSQLiteRunner(db *sql.DB, migrations fs.FS, logg *logger.Logger) (*Runner, error) {
	if migrations == nil {
		return nil, errors.New("migrations source is required")
	}
	portable, err := SQLiteSource(migrations)
	if err != nil {
		return nil, err
	}
	return newRunner(goose.DialectSQLite3, db, portable, logg)
}

func newRunner(dialect goose.Dialect, db *sql.DB, migrations fs.FS, logg *logger.Logger) (*Runner, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if migrations == nil {
		return nil, errors.New("migrations source is required")
	}
	p, err := goose.NewProvider(dialect, db, migrations)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Runner{provider: p, logg: logg}, nil
}

// Up applies every pending migration.
func (r *Runner) Up(ctx context.Context) error {
	results, err := r.provider.Up(ctx)
	r.report(ctx, results...)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Down rolls back the newest applied migration.
func (r *Runner) Down(ctx context.Context) error {
	result, err := r.provider.Down(ctx)
	if result != nil {
		r.report(ctx, result)
	}
	if err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	return nil
}

// To moves the schema up or down to target.
func (r *Runner) To(ctx context.Context, target int64) error {
	current, err := r.Version(ctx)
	if err != nil {
		return err
	}

	var results []*goose.MigrationResult
	switch {
	case current == target:
		return nil
	case current < target:
		results, err = r.provider.UpTo(ctx, target)
	default:
		results, err = r.provider.DownTo(ctx, target)
	}
	r.report(ctx, results...)
	if err != nil {
		return fmt.Errorf("goose migrate %d -> %d: %w", current, target, err)
	}
	return nil
}

func (r *Runner) Version(ctx context.Context) (int64, error) {
	v, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("goose db version: %w", err)
	}
	return v, nil
}

// Status lists every known migration and whether it is applied.
func (r *Runner) Status(ctx context.Context) ([]*goose.MigrationStatus, error) {
	st, err := r.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose status: %w", err)
	}
	return st, nil
}

func (r *Runner) report(ctx context.Context, results ...*goose.MigrationResult) {
	if r.logg == nil {
		return
	}
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		fields := map[string]any{
			"version":   res.Source.Version,
			"direction": res.Direction,
			"took":      res.Duration.String(),
		}
		if res.Error != nil {
			r.logg.Error(r.logg.WithFields(ctx, fields), "migration failed", res.Error)
			continue
		}
		r.logg.Info(r.logg.WithFields(ctx, fields), "migration applied")
	}
}
