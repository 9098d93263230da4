package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/payintents-backend/pkg/errors"
)

type sampleBody struct {
	Amount   int64  `json:"amount" validate:"required,gt=0"`
	Currency string `json:"currency" validate:"omitempty,len=3"`
	Method   string `json:"method" validate:"omitempty,oneof=QR LINK"`
}

type optionalBody struct {
	Reason *string `json:"reason" validate:"omitempty,max=10"`
}

func TestDecodeJSONBodyValid(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":1250,"currency":"GBP","method":"LINK"}`))
	var body sampleBody
	require.NoError(t, DecodeJSONBody(req, &body))
	assert.Equal(t, int64(1250), body.Amount)
	assert.Equal(t, "GBP", body.Currency)
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":0,"currency":"POUND","method":"CARD"}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "is required", details["amount"])
	assert.Equal(t, "must be exactly 3 characters", details["currency"])
	assert.Equal(t, "must be one of [QR LINK]", details["method"])
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":5,"tip":1}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestDecodeJSONBodyRejectsEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	var body sampleBody
	assert.True(t, pkgerrors.IsCode(DecodeJSONBody(req, &body), pkgerrors.CodeValidation))
}

func TestDecodeOptionalJSONBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	var body optionalBody
	require.NoError(t, DecodeOptionalJSONBody(req, &body))
	assert.Nil(t, body.Reason)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"way too long reason"}`))
	err := DecodeOptionalJSONBody(req, &body)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=25", nil)
	got, err := ParseQueryInt(req, "limit", 50, 1, 200)
	require.NoError(t, err)
	assert.Equal(t, 25, got)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	got, err = ParseQueryInt(req, "limit", 50, 1, 200)
	require.NoError(t, err)
	assert.Equal(t, 50, got)

	for _, raw := range []string{"abc", "0", "201"} {
		req = httptest.NewRequest(http.MethodGet, "/?limit="+raw, nil)
		_, err = ParseQueryInt(req, "limit", 50, 1, 200)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), raw)
	}
}

func TestDecodeJSONBodyDescribesMalformedInput(t *testing.T) {
	oversized := `{"amount":1,"currency":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	cases := []struct{ body, want string }{
		{`{"amount":`, "body is empty or truncated"},
		{`{"amount":1}{"amount":2}`, "body must hold a single JSON object"},
		{`{"amount":"12"}`, "amount must be int64"},
		{`{"amount":1,"tip":1}`, `unknown field "tip"`},
		{`{"amount":1,}`, "malformed JSON at offset 13"},
		{oversized, "body exceeds 65536 bytes"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
		var dest sampleBody
		typed := pkgerrors.As(DecodeJSONBody(req, &dest))
		require.NotNil(t, typed)
		assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
		details, ok := typed.Details().(map[string]any)
		require.True(t, ok)
		assert.Equal(t, tc.want, details["error"])
	}
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "abc", SanitizeString("  abc  ", 10))
	assert.Equal(t, "ab", SanitizeString("abcdef", 2))
	assert.Equal(t, "abcdef", SanitizeString("abcdef", 0))
	assert.Equal(t, "caf", SanitizeString("café", 4), "never splits a rune")
	assert.Equal(t, "ab", SanitizeString("ab cd", 3))
}
