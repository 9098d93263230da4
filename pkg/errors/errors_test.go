package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogRendering(t *testing.T) {
	cases := map[Code]Metadata{
		CodeValidation:    {http.StatusBadRequest, false, "validation failed", true, true},
		CodeNotFound:      {http.StatusNotFound, false, "resource not found", true, false},
		CodeAlreadyFinal:  {http.StatusConflict, false, "payment intent already final", true, true},
		CodeExpired:       {http.StatusGone, false, "payment intent expired", true, true},
		CodeDependency:    {http.StatusServiceUnavailable, true, "dependency unavailable", false, true},
		CodeUpdateBlocked: {http.StatusConflict, true, "update blocked", false, false},
		CodeStoreTimeout:  {http.StatusGatewayTimeout, true, "store timed out", false, false},
	}
	for code, want := range cases {
		assert.Equal(t, want, MetadataFor(code), code)
	}
	assert.Equal(t, MetadataFor(CodeInternal), MetadataFor("SOMETHING_UNKNOWN"))
	assert.False(t, MetadataFor(CodeInternal).ExposeMessage, "internal messages stay private")
}

func TestErrorCarriesCodeMessageAndCause(t *testing.T) {
	cause := stdErrors.New("boom")
	err := Wrap(CodeConflict, cause, "insert intent").WithDetails(map[string]string{"field": "id"})

	assert.Equal(t, CodeConflict, err.Code())
	assert.Equal(t, "insert intent", err.Message())
	assert.Equal(t, "CONFLICT: insert intent", err.Error())
	assert.Equal(t, map[string]string{"field": "id"}, err.Details())
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, "NOT_FOUND: intent 7 not found", Newf(CodeNotFound, "intent %d not found", 7).Error())
}

func TestErrorsMatchByCode(t *testing.T) {
	err := fmt.Errorf("confirm: %w", New(CodeExpired, "payment intent expired at 12:00"))

	assert.ErrorIs(t, err, New(CodeExpired, ""))
	assert.NotErrorIs(t, err, New(CodeAlreadyFinal, ""))
}

func TestNilErrorIsSafe(t *testing.T) {
	var e *Error
	assert.Equal(t, CodeInternal, e.Code())
	assert.Empty(t, e.Message())
	assert.Nil(t, e.WithDetails("x"))
	assert.Nil(t, As(nil))
}

func TestIsCodeAndRetryableFollowWrappedChain(t *testing.T) {
	wrapped := fmt.Errorf("confirm: %w", Wrap(CodeStoreTimeout, context.DeadlineExceeded, "store call timed out"))

	assert.True(t, IsCode(wrapped, CodeStoreTimeout))
	assert.True(t, Retryable(wrapped))
	assert.False(t, Retryable(New(CodeAlreadyFinal, "done")))
	assert.False(t, Retryable(stdErrors.New("plain")))
	assert.False(t, IsCode(nil, CodeNotFound))
}

func TestDiagnosePgx(t *testing.T) {
	err := Wrap(CodeConflict, &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "ux_payment_intents_scope_idempotency",
		TableName:      "payment_intents",
		Message:        "duplicate key value violates unique constraint",
	}, "insert intent")

	d := Diagnose(err)
	assert.Equal(t, CodeConflict, d.Code)
	assert.Len(t, d.Chain, 2)
	assert.Equal(t, "23505", d.Postgres["pg_code"])
	assert.Equal(t, "ux_payment_intents_scope_idempotency", d.Postgres["pg_constraint"])
	assert.NotContains(t, d.Postgres, "pg_column", "empty fields are dropped")

	fields := d.LogFields()
	assert.Equal(t, CodeConflict, fields["error_code"])
	assert.Equal(t, "payment_intents", fields["pg_table"])
}

func TestDiagnosePq(t *testing.T) {
	d := Diagnose(fmt.Errorf("claim: %w", &pq.Error{Code: "40P01", Message: "deadlock detected"}))

	require.NotNil(t, d.Postgres)
	assert.Equal(t, "40P01", d.Postgres["pg_code"])
	assert.Empty(t, d.Code)
	assert.NotContains(t, d.LogFields(), "error_code")
}

func TestDiagnoseNil(t *testing.T) {
	assert.Empty(t, Diagnose(nil).LogFields())
}
