package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Diagnosis is what gets logged for a failed request: the code, every link
// of the wrap chain, and Postgres details when a driver error is inside.
type Diagnosis struct {
	Code     Code
	Chain    []string
	Postgres map[string]string
}

// Diagnose walks err. Both pgx and lib/pq errors are recognised.
func Diagnose(err error) Diagnosis {
	var d Diagnosis
	if err == nil {
		return d
	}
	if typed := As(err); typed != nil {
		d.Code = typed.code
	}
	for link := err; link != nil; link = stdErrors.Unwrap(link) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", link, link))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case stdErrors.As(err, &pgxErr):
		d.Postgres = nonEmpty(map[string]string{
			"pg_code":       pgxErr.Code,
			"pg_message":    pgxErr.Message,
			"pg_detail":     pgxErr.Detail,
			"pg_table":      pgxErr.TableName,
			"pg_column":     pgxErr.ColumnName,
			"pg_constraint": pgxErr.ConstraintName,
		})
	case stdErrors.As(err, &pqErr):
		d.Postgres = nonEmpty(map[string]string{
			"pg_code":       string(pqErr.Code),
			"pg_message":    pqErr.Message,
			"pg_detail":     pqErr.Detail,
			"pg_table":      pqErr.Table,
			"pg_column":     pqErr.Column,
			"pg_constraint": pqErr.Constraint,
		})
	}
	return d
}

// LogFields flattens d for logger.WithFields.
func (d Diagnosis) LogFields() map[string]any {
	fields := make(map[string]any, 2+len(d.Postgres))
	if d.Code != "" {
		fields["error_code"] = d.Code
	}
	if len(d.Chain) > 0 {
		fields["error_chain"] = d.Chain
	}
	for k, v := range d.Postgres {
		fields[k] = v
	}
	return fields
}

func nonEmpty(m map[string]string) map[string]string {
	for k, v := range m {
		if v == "" {
			delete(m, k)
		}
	}
	return m
}
