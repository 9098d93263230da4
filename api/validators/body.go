// Package validators decodes and checks request input, reporting failures as
// VALIDATION_ERROR with per-field details.
package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/payintents-backend/pkg/errors"
)

// MaxBodyBytes caps every request body the API reads.
const MaxBodyBytes = 64 << 10

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Field errors are keyed by the JSON name the client sent.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	return v
}()

// DecodeJSONBody reads exactly one JSON object into dest and validates it.
func DecodeJSONBody(r *http.Request, dest any) error {
	return decode(r, dest, false)
}

// DecodeOptionalJSONBody accepts an empty body and validates dest at its
// zero value.
func DecodeOptionalJSONBody(r *http.Request, dest any) error {
	return decode(r, dest, true)
}

// ReadBody buffers the capped request body. An oversized or unreadable body
// is a VALIDATION_ERROR.
func ReadBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, MaxBodyBytes))
	if err != nil {
		return nil, invalidBody(err)
	}
	return data, nil
}

func decode(r *http.Request, dest any, optional bool) error {
	body := http.MaxBytesReader(nil, r.Body, MaxBodyBytes)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	switch err := dec.Decode(dest); {
	case err == nil:
		if dec.More() {
			return invalidBody(errors.New("body must hold a single JSON object"))
		}
	case optional && errors.Is(err, io.EOF):
	default:
		return invalidBody(err)
	}

	if err := validate.Struct(dest); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
		}
		details := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			details[fe.Field()] = describe(fe)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return nil
}

func invalidBody(err error) error {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		sizeErr   *http.MaxBytesError
	)
	reason := err.Error()
	switch {
	case errors.As(err, &syntaxErr):
		reason = fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		reason = "body is empty or truncated"
	case errors.As(err, &typeErr):
		reason = fmt.Sprintf("%s must be %s", typeErr.Field, typeErr.Type)
	case errors.As(err, &sizeErr):
		reason = fmt.Sprintf("body exceeds %d bytes", sizeErr.Limit)
	case strings.HasPrefix(reason, "json: unknown field "):
		reason = "unknown field " + strings.TrimPrefix(reason, "json: unknown field ")
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").
		WithDetails(map[string]any{"error": reason})
}

func describe(fe validator.FieldError) string {
	param := fe.Param()
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + param
	case "min":
		return "must be at least " + param
	case "max":
		return "must be at most " + param
	case "len":
		return "must be exactly " + param + " characters"
	case "oneof":
		return "must be one of [" + param + "]"
	}
	return "is invalid"
}
