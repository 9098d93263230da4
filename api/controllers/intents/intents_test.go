package intents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/payintents-backend/api/middleware"
	internalintents "github.com/angelmondragon/payintents-backend/internal/intents"
	"github.com/angelmondragon/payintents-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/payintents-backend/pkg/errors"
)

type stubIntentsService struct {
	createFn  func(ctx context.Context, scopeID string, input internalintents.CreateInput) (*internalintents.CreateResult, error)
	getFn     func(ctx context.Context, scopeID string, id uuid.UUID) (*internalintents.IntentDTO, error)
	confirmFn func(ctx context.Context, scopeID string, id uuid.UUID) (*internalintents.IntentDTO, error)
	failFn    func(ctx context.Context, scopeID string, id uuid.UUID, reason string) (*internalintents.IntentDTO, error)
	cancelFn  func(ctx context.Context, scopeID string, id uuid.UUID) (*internalintents.IntentDTO, error)
	listFn    func(ctx context.Context, scopeID string, input internalintents.ListInput) ([]internalintents.IntentDTO, error)
}

func (s *stubIntentsService) CreateIntent(ctx context.Context, scopeID string, input internalintents.CreateInput) (*internalintents.CreateResult, error) {
	return s.createFn(ctx, scopeID, input)
}

func (s *stubIntentsService) GetIntent(ctx context.Context, scopeID string, id uuid.UUID) (*internalintents.IntentDTO, error) {
	return s.getFn(ctx, scopeID, id)
}

func (s *stubIntentsService) ConfirmIntent(ctx context.Context, scopeID string, id uuid.UUID) (*internalintents.IntentDTO, error) {
	return s.confirmFn(ctx, scopeID, id)
}

func (s *stubIntentsService) FailIntent(ctx context.Context, scopeID string, id uuid.UUID, reason string) (*internalintents.IntentDTO, error) {
	return s.failFn(ctx, scopeID, id, reason)
}

func (s *stubIntentsService) CancelIntent(ctx context.Context, scopeID string, id uuid.UUID) (*internalintents.IntentDTO, error) {
	return s.cancelFn(ctx, scopeID, id)
}

func (s *stubIntentsService) ListIntents(ctx context.Context, scopeID string, input internalintents.ListInput) ([]internalintents.IntentDTO, error) {
	return s.listFn(ctx, scopeID, input)
}

func (s *stubIntentsService) SweepExpired(ctx context.Context, scopeID string) (int64, error) {
	return 0, nil
}

func sampleDTO(status enums.IntentStatus) *internalintents.IntentDTO {
	return &internalintents.IntentDTO{
		ID:            uuid.MustParse("0b7c6f4e-7a42-4c55-9d8a-2f3f8f7d9a10"),
		ScopeID:       "m_1",
		Amount:        1250,
		AmountDisplay: "12.50",
		Currency:      enums.CurrencyGBP,
		Method:        enums.IntentMethodQR,
		Status:        status,
		ExpiresAt:     time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC),
	}
}

func scopedRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(middleware.WithScopeID(req.Context(), "m_1"))
}

func withIntentID(req *http.Request, id string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add("intentId", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func decodeEnvelope(t *testing.T, resp *httptest.ResponseRecorder) (map[string]any, map[string]any) {
	t.Helper()
	var payload struct {
		Data  map[string]any `json:"data"`
		Error map[string]any `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v (%s)", err, resp.Body.String())
	}
	return payload.Data, payload.Error
}

func TestCreateReturns201AndPassesInput(t *testing.T) {
	var gotScope string
	var gotInput internalintents.CreateInput
	svc := &stubIntentsService{
		createFn: func(ctx context.Context, scopeID string, input internalintents.CreateInput) (*internalintents.CreateResult, error) {
			gotScope = scopeID
			gotInput = input
			return &internalintents.CreateResult{Intent: sampleDTO(enums.IntentStatusPending)}, nil
		},
	}

	req := scopedRequest(http.MethodPost, "/api/v1/intents", `{"amount":1250,"currency":"gbp","expiresInSeconds":60}`)
	req.Header.Set(idempotencyKeyHeader, "header-key")
	resp := httptest.NewRecorder()
	Create(svc, time.Hour, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if gotScope != "m_1" {
		t.Fatalf("expected scope m_1 got %q", gotScope)
	}
	if gotInput.Amount != 1250 || gotInput.Currency != "gbp" || gotInput.ExpiresInSeconds != 60 {
		t.Fatalf("unexpected input %+v", gotInput)
	}
	if gotInput.IdempotencyKey != "header-key" {
		t.Fatalf("expected header idempotency key, got %q", gotInput.IdempotencyKey)
	}
	data, _ := decodeEnvelope(t, resp)
	if data["status"] != "PENDING" || data["amountDisplay"] != "12.50" {
		t.Fatalf("unexpected data %v", data)
	}
}

func TestCreateBodyKeyWinsAndReplayReturns200(t *testing.T) {
	var gotKey string
	svc := &stubIntentsService{
		createFn: func(ctx context.Context, scopeID string, input internalintents.CreateInput) (*internalintents.CreateResult, error) {
			gotKey = input.IdempotencyKey
			return &internalintents.CreateResult{Intent: sampleDTO(enums.IntentStatusPending), Replayed: true}, nil
		},
	}

	req := scopedRequest(http.MethodPost, "/api/v1/intents", `{"amount":1250,"idempotencyKey":"body-key"}`)
	req.Header.Set(idempotencyKeyHeader, "header-key")
	resp := httptest.NewRecorder()
	Create(svc, time.Hour, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if gotKey != "body-key" {
		t.Fatalf("expected body key, got %q", gotKey)
	}
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero amount", `{"amount":0}`},
		{"negative amount", `{"amount":-5}`},
		{"missing amount", `{}`},
		{"expiry too small", `{"amount":100,"expiresInSeconds":0}`},
		{"expiry too large", `{"amount":100,"expiresInSeconds":3601}`},
		{"bad currency", `{"amount":100,"currency":"POUND"}`},
		{"unknown field", `{"amount":100,"tip":5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubIntentsService{
				createFn: func(ctx context.Context, scopeID string, input internalintents.CreateInput) (*internalintents.CreateResult, error) {
					t.Fatalf("service should not be called")
					return nil, nil
				},
			}
			resp := httptest.NewRecorder()
			Create(svc, time.Hour, nil).ServeHTTP(resp, scopedRequest(http.MethodPost, "/api/v1/intents", tt.body))
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d", resp.Code)
			}
			_, errBody := decodeEnvelope(t, resp)
			if errBody["code"] != string(pkgerrors.CodeValidation) {
				t.Fatalf("unexpected error %v", errBody)
			}
		})
	}
}

func TestGetMapsNotFound(t *testing.T) {
	svc := &stubIntentsService{
		getFn: func(ctx context.Context, scopeID string, id uuid.UUID) (*internalintents.IntentDTO, error) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
		},
	}
	resp := httptest.NewRecorder()
	req := withIntentID(scopedRequest(http.MethodGet, "/api/v1/intents/x", ""), uuid.NewString())
	Get(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestGetMalformedIDIsNotFound(t *testing.T) {
	svc := &stubIntentsService{
		getFn: func(ctx context.Context, scopeID string, id uuid.UUID) (*internalintents.IntentDTO, error) {
			t.Fatalf("service should not be called")
			return nil, nil
		},
	}
	resp := httptest.NewRecorder()
	Get(svc, nil).ServeHTTP(resp, withIntentID(scopedRequest(http.MethodGet, "/api/v1/intents/nope", ""), "nope"))

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestConfirmAlreadyFinal(t *testing.T) {
	svc := &stubIntentsService{
		confirmFn: func(ctx context.Context, scopeID string, id uuid.UUID) (*internalintents.IntentDTO, error) {
			return nil, pkgerrors.New(pkgerrors.CodeAlreadyFinal, "payment intent already CANCELLED").
				WithDetails(map[string]any{"status": "CANCELLED"})
		},
	}
	resp := httptest.NewRecorder()
	Confirm(svc, nil).ServeHTTP(resp, withIntentID(scopedRequest(http.MethodPost, "/confirm", ""), uuid.NewString()))

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	_, errBody := decodeEnvelope(t, resp)
	details, _ := errBody["details"].(map[string]any)
	if details["status"] != "CANCELLED" {
		t.Fatalf("expected status detail, got %v", errBody)
	}
}

func TestCancelExpired(t *testing.T) {
	svc := &stubIntentsService{
		cancelFn: func(ctx context.Context, scopeID string, id uuid.UUID) (*internalintents.IntentDTO, error) {
			return nil, pkgerrors.New(pkgerrors.CodeExpired, "payment intent expired")
		},
	}
	resp := httptest.NewRecorder()
	Cancel(svc, nil).ServeHTTP(resp, withIntentID(scopedRequest(http.MethodPost, "/cancel", ""), uuid.NewString()))

	if resp.Code != http.StatusGone {
		t.Fatalf("expected 410 got %d", resp.Code)
	}
}

func TestFailReasonOptional(t *testing.T) {
	var reasons []string
	svc := &stubIntentsService{
		failFn: func(ctx context.Context, scopeID string, id uuid.UUID, reason string) (*internalintents.IntentDTO, error) {
			reasons = append(reasons, reason)
			return sampleDTO(enums.IntentStatusFailed), nil
		},
	}
	id := uuid.NewString()

	for _, body := range []string{``, `{"reason":"  CARD_DECLINED "}`} {
		resp := httptest.NewRecorder()
		Fail(svc, nil).ServeHTTP(resp, withIntentID(scopedRequest(http.MethodPost, "/fail", body), id))
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
		}
	}
	if len(reasons) != 2 || reasons[0] != "" || reasons[1] != "CARD_DECLINED" {
		t.Fatalf("unexpected reasons %q", reasons)
	}
}

func TestListParsesQuery(t *testing.T) {
	var gotInput internalintents.ListInput
	svc := &stubIntentsService{
		listFn: func(ctx context.Context, scopeID string, input internalintents.ListInput) ([]internalintents.IntentDTO, error) {
			gotInput = input
			return nil, nil
		},
	}

	resp := httptest.NewRecorder()
	List(svc, 200, nil).ServeHTTP(resp, scopedRequest(http.MethodGet, "/api/v1/intents?limit=10&status=expired", ""))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if gotInput.Limit != 10 || gotInput.Status == nil || *gotInput.Status != enums.IntentStatusExpired {
		t.Fatalf("unexpected input %+v", gotInput)
	}
	if strings.TrimSpace(resp.Body.String()) != `{"data":[]}` {
		t.Fatalf("expected empty list envelope, got %s", resp.Body.String())
	}
}

func TestListRejectsBadQuery(t *testing.T) {
	svc := &stubIntentsService{
		listFn: func(ctx context.Context, scopeID string, input internalintents.ListInput) ([]internalintents.IntentDTO, error) {
			t.Fatalf("service should not be called")
			return nil, nil
		},
	}
	for _, target := range []string{"/api/v1/intents?limit=0", "/api/v1/intents?limit=500", "/api/v1/intents?status=paid"} {
		resp := httptest.NewRecorder()
		List(svc, 200, nil).ServeHTTP(resp, scopedRequest(http.MethodGet, target, ""))
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", target, resp.Code)
		}
	}
}

func TestNilServiceIsInternalError(t *testing.T) {
	resp := httptest.NewRecorder()
	Get(nil, nil).ServeHTTP(resp, withIntentID(scopedRequest(http.MethodGet, "/", ""), uuid.NewString()))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
}
