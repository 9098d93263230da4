package intents

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/payintents-backend/api/middleware"
	"github.com/angelmondragon/payintents-backend/api/responses"
	"github.com/angelmondragon/payintents-backend/api/validators"
	internalintents "github.com/angelmondragon/payintents-backend/internal/intents"
	"github.com/angelmondragon/payintents-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/payintents-backend/pkg/errors"
	"github.com/angelmondragon/payintents-backend/pkg/logger"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	defaultListLimit     = 50
)

type createIntentRequest struct {
	Amount           int64  `json:"amount" validate:"gt=0"`
	Currency         string `json:"currency" validate:"omitempty,len=3"`
	Method           string `json:"method" validate:"omitempty,max=16"`
	ExpiresInSeconds *int   `json:"expiresInSeconds" validate:"omitempty"`
	IdempotencyKey   string `json:"idempotencyKey" validate:"omitempty,max=128"`
}

type failIntentRequest struct {
	Reason *string `json:"reason" validate:"omitempty,max=200"`
}

// Create opens a new PENDING intent. A repeated idempotency key returns the
// original intent with 200 instead of 201.
func Create(svc internalintents.Service, maxExpiresIn time.Duration, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "intents service unavailable"))
			return
		}

		var payload createIntentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := internalintents.CreateInput{
			Amount:         payload.Amount,
			Currency:       payload.Currency,
			Method:         payload.Method,
			IdempotencyKey: strings.TrimSpace(payload.IdempotencyKey),
		}
		if input.IdempotencyKey == "" {
			input.IdempotencyKey = strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
		}
		if payload.ExpiresInSeconds != nil {
			maxSeconds := int(maxExpiresIn / time.Second)
			if *payload.ExpiresInSeconds < 1 || (maxSeconds > 0 && *payload.ExpiresInSeconds > maxSeconds) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
					WithDetails(map[string]string{"expiresInSeconds": "must be between 1 and " + strconv.Itoa(maxSeconds)}))
				return
			}
			input.ExpiresInSeconds = *payload.ExpiresInSeconds
		}

		result, err := svc.CreateIntent(r.Context(), middleware.ScopeIDFromContext(r.Context()), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.Replayed {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, result.Intent)
	}
}

// Get returns one intent, expiring it first when its deadline has passed.
func Get(svc internalintents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "intents service unavailable"))
			return
		}
		intentID, err := parseIntentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, err := svc.GetIntent(r.Context(), middleware.ScopeIDFromContext(r.Context()), intentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

// Confirm marks a PENDING intent as SUCCEEDED.
func Confirm(svc internalintents.Service, logg *logger.Logger) http.HandlerFunc {
	return transitionHandler(svc, logg, func(r *http.Request, scopeID string, id uuid.UUID) (*internalintents.IntentDTO, error) {
		return svc.ConfirmIntent(r.Context(), scopeID, id)
	})
}

// Cancel marks a PENDING intent as CANCELLED.
func Cancel(svc internalintents.Service, logg *logger.Logger) http.HandlerFunc {
	return transitionHandler(svc, logg, func(r *http.Request, scopeID string, id uuid.UUID) (*internalintents.IntentDTO, error) {
		return svc.CancelIntent(r.Context(), scopeID, id)
	})
}

// Fail marks a PENDING intent as FAILED with an optional reason.
func Fail(svc internalintents.Service, logg *logger.Logger) http.HandlerFunc {
	return transitionHandler(svc, logg, func(r *http.Request, scopeID string, id uuid.UUID) (*internalintents.IntentDTO, error) {
		var payload failIntentRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			return nil, err
		}
		reason := ""
		if payload.Reason != nil {
			reason = validators.SanitizeString(*payload.Reason, 200)
		}
		return svc.FailIntent(r.Context(), scopeID, id, reason)
	})
}

type transitionFunc func(r *http.Request, scopeID string, id uuid.UUID) (*internalintents.IntentDTO, error)

func transitionHandler(svc internalintents.Service, logg *logger.Logger, fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "intents service unavailable"))
			return
		}
		intentID, err := parseIntentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, err := fn(r, middleware.ScopeIDFromContext(r.Context()), intentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

// List returns the scope's intents newest first, expiring lapsed ones first.
func List(svc internalintents.Service, limitCap int, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "intents service unavailable"))
			return
		}
		if limitCap <= 0 {
			limitCap = defaultListLimit
		}

		limit, err := validators.ParseQueryInt(r, "limit", min(defaultListLimit, limitCap), 1, limitCap)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := internalintents.ListInput{Limit: limit}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseIntentStatus(strings.ToUpper(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter").
					WithDetails(map[string]any{"field": "status"}))
				return
			}
			input.Status = &status
		}

		items, err := svc.ListIntents(r.Context(), middleware.ScopeIDFromContext(r.Context()), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if items == nil {
			items = []internalintents.IntentDTO{}
		}
		responses.WriteSuccess(w, items)
	}
}

func parseIntentID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "intentId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "intent id is required")
	}
	// ids are opaque to callers; a malformed one cannot name a stored intent
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "payment intent not found")
	}
	return id, nil
}
