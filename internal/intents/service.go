package intents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payintents-backend/pkg/clock"
	"github.com/angelmondragon/payintents-backend/pkg/config"
	"github.com/angelmondragon/payintents-backend/pkg/db/models"
	"github.com/angelmondragon/payintents-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/payintents-backend/pkg/errors"
	"github.com/angelmondragon/payintents-backend/pkg/logger"
	"github.com/angelmondragon/payintents-backend/pkg/metrics"
	"github.com/angelmondragon/payintents-backend/pkg/outbox"
)

const (
	defaultFailureReason = "DECLINED"
	maxFailureReasonLen  = 200
	defaultListLimit     = 50
)

const (
	opCreate  = "create"
	opGet     = "get"
	opConfirm = "confirm"
	opFail    = "fail"
	opCancel  = "cancel"
	opList    = "list"
	opSweep   = "sweep"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the payment intent lifecycle manager. Every operation is scoped
// to the merchant scope passed by the caller.
type Service interface {
	CreateIntent(ctx context.Context, scopeID string, input CreateInput) (*CreateResult, error)
	GetIntent(ctx context.Context, scopeID string, id uuid.UUID) (*IntentDTO, error)
	ConfirmIntent(ctx context.Context, scopeID string, id uuid.UUID) (*IntentDTO, error)
	FailIntent(ctx context.Context, scopeID string, id uuid.UUID, reason string) (*IntentDTO, error)
	CancelIntent(ctx context.Context, scopeID string, id uuid.UUID) (*IntentDTO, error)
	ListIntents(ctx context.Context, scopeID string, input ListInput) ([]IntentDTO, error)
	SweepExpired(ctx context.Context, scopeID string) (int64, error)
}

// ServiceParams wires the lifecycle manager.
type ServiceParams struct {
	Config     config.IntentsConfig
	Repository Repository
	Tx         txRunner
	Outbox     outboxPublisher
	Clock      clock.Clock
	Logger     *logger.Logger
	Metrics    *metrics.IntentMetrics
}

type service struct {
	cfg     config.IntentsConfig
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	clock   clock.Clock
	logg    *logger.Logger
	metrics *metrics.IntentMetrics
}

// NewService builds the lifecycle manager with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("intents repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.System{}
	}
	return &service{
		cfg:     params.Config,
		repo:    params.Repository,
		tx:      params.Tx,
		outbox:  params.Outbox,
		clock:   clk,
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

func (s *service) CreateIntent(ctx context.Context, scopeID string, input CreateInput) (result *CreateResult, err error) {
	defer func() { s.observe(opCreate, err) }()

	if input.Amount <= 0 {
		return nil, invalidInput("amount", "amount must be greater than 0")
	}
	currencyRaw := input.Currency
	if strings.TrimSpace(currencyRaw) == "" {
		currencyRaw = s.cfg.DefaultCurrency
	}
	currency, err := enums.ParseCurrency(currencyRaw)
	if err != nil {
		return nil, invalidInput("currency", "currency must be a 3-letter code")
	}
	method := enums.IntentMethodQR
	if strings.TrimSpace(input.Method) != "" {
		method, err = enums.ParseIntentMethod(strings.ToUpper(strings.TrimSpace(input.Method)))
		if err != nil {
			return nil, invalidInput("method", "method must be CARD or QR")
		}
	}
	expiresIn := time.Duration(input.ExpiresInSeconds) * time.Second
	if expiresIn <= 0 {
		expiresIn = s.defaultExpiresIn()
	}

	now := s.clock.Now()
	intent := models.PaymentIntent{
		ID:        uuid.New(),
		ScopeID:   scopeID,
		Amount:    input.Amount,
		Currency:  currency,
		Method:    method,
		Status:    enums.IntentStatusPending,
		ExpiresAt: now.Add(expiresIn),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
		intent.IdempotencyKey = &key
	}

	opCtx, cancel := s.storeContext(ctx, opCreate)
	defer cancel()

	insertErr := s.tx.WithTx(opCtx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Insert(opCtx, &intent); err != nil {
			return err
		}
		return s.emit(opCtx, tx, intent, now)
	})
	if insertErr == nil {
		dto := s.toDTO(intent)
		s.logg.Info(s.logContext(ctx, opCreate, scopeID, intent.ID), "payment intent created")
		return &CreateResult{Intent: &dto}, nil
	}
	if !errors.Is(insertErr, ErrDuplicate) || intent.IdempotencyKey == nil {
		return nil, storeError(opCtx, insertErr, "failed to create payment intent")
	}

	existing, err := s.repo.FindByIdempotencyKey(opCtx, scopeID, *intent.IdempotencyKey)
	if err != nil {
		return nil, storeError(opCtx, err, "failed to load payment intent for idempotency key")
	}
	dto := s.toDTO(*existing)
	s.logg.Info(s.logContext(ctx, opCreate, scopeID, existing.ID), "payment intent create replayed")
	return &CreateResult{Intent: &dto, Replayed: true}, nil
}

func (s *service) GetIntent(ctx context.Context, scopeID string, id uuid.UUID) (dto *IntentDTO, err error) {
	defer func() { s.observe(opGet, err) }()

	opCtx, cancel := s.storeContext(ctx, opGet)
	defer cancel()

	intent, err := s.repo.FindByID(opCtx, scopeID, id)
	if err != nil {
		return nil, storeError(opCtx, err, "failed to load payment intent")
	}
	now := s.clock.Now()
	if intent.Status.IsTerminal() || now.Before(intent.ExpiresAt) {
		out := s.toDTO(*intent)
		return &out, nil
	}

	expiredIntent, err := s.expireOne(opCtx, scopeID, id, now)
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logContext(ctx, opGet, scopeID, id), "payment intent expired on read")
	out := s.toDTO(*expiredIntent)
	return &out, nil
}

// expireOne moves a lapsed PENDING intent to EXPIRED. When another caller
// already moved it, the stored record is returned unchanged.
func (s *service) expireOne(ctx context.Context, scopeID string, id uuid.UUID, now time.Time) (*models.PaymentIntent, error) {
	var updated *models.PaymentIntent
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		rec, err := s.repo.WithTx(tx).ConditionalUpdate(ctx, expirePredicate(scopeID, now, id), Mutation{
			Status:    enums.IntentStatusExpired,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		updated = rec
		return s.emit(ctx, tx, *rec, now)
	})
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrNoMatch) {
		return nil, storeError(ctx, err, "failed to expire payment intent")
	}
	current, err := s.repo.FindByID(ctx, scopeID, id)
	if err != nil {
		return nil, storeError(ctx, err, "failed to load payment intent")
	}
	return current, nil
}

func (s *service) ConfirmIntent(ctx context.Context, scopeID string, id uuid.UUID) (*IntentDTO, error) {
	return s.transition(ctx, opConfirm, scopeID, id, enums.IntentStatusSucceeded, nil)
}

func (s *service) FailIntent(ctx context.Context, scopeID string, id uuid.UUID, reason string) (*IntentDTO, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultFailureReason
	}
	if len(reason) > maxFailureReasonLen {
		cut := maxFailureReasonLen
		for cut > 0 && !utf8.RuneStart(reason[cut]) {
			cut--
		}
		reason = reason[:cut]
	}
	return s.transition(ctx, opFail, scopeID, id, enums.IntentStatusFailed, &reason)
}

func (s *service) CancelIntent(ctx context.Context, scopeID string, id uuid.UUID) (*IntentDTO, error) {
	return s.transition(ctx, opCancel, scopeID, id, enums.IntentStatusCancelled, nil)
}

// transition issues one guarded update and, on a miss, explains it in a fixed
// order: not found, already final, expired, blocked.
func (s *service) transition(ctx context.Context, op, scopeID string, id uuid.UUID, target enums.IntentStatus, reason *string) (dto *IntentDTO, err error) {
	defer func() { s.observe(op, err) }()

	opCtx, cancel := s.storeContext(ctx, op)
	defer cancel()

	now := s.clock.Now()
	pred := Predicate{
		ScopeID:         scopeID,
		IDs:             []uuid.UUID{id},
		ExcludeStatuses: enums.TerminalIntentStatuses,
		ExpiresAfter:    &now,
	}
	mut := Mutation{Status: target, FailureReason: reason, UpdatedAt: now}

	var updated *models.PaymentIntent
	err = s.tx.WithTx(opCtx, func(tx *gorm.DB) error {
		rec, err := s.repo.WithTx(tx).ConditionalUpdate(opCtx, pred, mut)
		if err != nil {
			return err
		}
		updated = rec
		return s.emit(opCtx, tx, *rec, now)
	})
	if err == nil {
		out := s.toDTO(*updated)
		s.logg.Info(s.logContext(ctx, op, scopeID, id), "payment intent "+strings.ToLower(string(target)))
		return &out, nil
	}
	if !errors.Is(err, ErrNoMatch) {
		return nil, storeError(opCtx, err, "failed to update payment intent")
	}

	current, err := s.repo.FindByID(opCtx, scopeID, id)
	if err != nil {
		return nil, storeError(opCtx, err, "failed to load payment intent")
	}
	switch {
	case current.Status.IsTerminal():
		return nil, alreadyFinal(current.Status)
	case !now.Before(current.ExpiresAt):
		return nil, expired(current.ExpiresAt)
	}

	s.metrics.IncUpdateBlocked(op)
	logCtx := s.logg.WithFields(s.logContext(ctx, op, scopeID, id), map[string]any{
		"status":     current.Status,
		"expires_at": current.ExpiresAt,
		"target":     target,
	})
	blocked := updateBlocked()
	s.logg.Error(logCtx, "conditional update missed a pending unexpired intent", blocked)
	return nil, blocked
}

func (s *service) ListIntents(ctx context.Context, scopeID string, input ListInput) (out []IntentDTO, err error) {
	defer func() { s.observe(opList, err) }()

	if input.Status != nil && !input.Status.IsValid() {
		return nil, invalidInput("status", "status is not a known payment intent status")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if maxLimit := s.listLimitCap(); limit > maxLimit {
		limit = maxLimit
	}

	if _, err := s.SweepExpired(ctx, scopeID); err != nil {
		return nil, err
	}

	opCtx, cancel := s.storeContext(ctx, opList)
	defer cancel()

	rows, err := s.repo.Query(opCtx, Filter{ScopeID: scopeID, Status: input.Status, Limit: limit})
	if err != nil {
		return nil, storeError(opCtx, err, "failed to list payment intents")
	}
	out = make([]IntentDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, s.toDTO(row))
	}
	return out, nil
}

// SweepExpired moves every lapsed PENDING intent in scope to EXPIRED and
// returns how many changed. Only rows the update actually wrote get an
// expired event.
func (s *service) SweepExpired(ctx context.Context, scopeID string) (swept int64, err error) {
	defer func() { s.observe(opSweep, err) }()

	opCtx, cancel := s.storeContext(ctx, opSweep)
	defer cancel()

	now := s.clock.Now()
	err = s.tx.WithTx(opCtx, func(tx *gorm.DB) error {
		changed, err := s.repo.WithTx(tx).BulkConditionalUpdate(opCtx, expirePredicate(scopeID, now), Mutation{
			Status:    enums.IntentStatusExpired,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		for _, intent := range changed {
			if err := s.emit(opCtx, tx, intent, now); err != nil {
				return err
			}
		}
		swept = int64(len(changed))
		return nil
	})
	if err != nil {
		return 0, storeError(opCtx, err, "failed to sweep expired payment intents")
	}
	if swept > 0 {
		s.metrics.AddSwept(swept)
		logCtx := s.logg.WithField(s.logContext(ctx, opSweep, scopeID, uuid.Nil), "swept", swept)
		s.logg.Info(logCtx, "expired payment intents swept")
	}
	return swept, nil
}

func expirePredicate(scopeID string, now time.Time, ids ...uuid.UUID) Predicate {
	return Predicate{
		ScopeID:           scopeID,
		IDs:               ids,
		Statuses:          []enums.IntentStatus{enums.IntentStatusPending},
		ExpiresAtOrBefore: &now,
	}
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, intent models.PaymentIntent, occurredAt time.Time) error {
	eventType, ok := enums.EventForIntentStatus(intent.Status)
	if !ok {
		return fmt.Errorf("no lifecycle event for status %s", intent.Status)
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   intent.ID,
		ScopeID:       intent.ScopeID,
		Data:          eventPayload(intent, occurredAt),
		Version:       1,
		OccurredAt:    occurredAt,
	})
}

func (s *service) storeContext(ctx context.Context, op string) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := s.cfg.StoreTimeout
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	start := time.Now()
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	return opCtx, func() {
		cancel()
		s.metrics.ObserveStoreDuration(op, time.Since(start))
	}
}

func (s *service) logContext(ctx context.Context, op, scopeID string, id uuid.UUID) context.Context {
	ctx = s.logg.WithOperation(s.logg.WithScopeID(ctx, scopeID), op)
	if id != uuid.Nil {
		ctx = s.logg.WithIntentID(ctx, id.String())
	}
	return ctx
}

func (s *service) observe(op string, err error) {
	outcome := "success"
	if typed := pkgerrors.As(err); typed != nil {
		outcome = strings.ToLower(string(typed.Code()))
	} else if err != nil {
		outcome = "error"
	}
	s.metrics.ObserveOutcome(op, outcome)
}

func (s *service) toDTO(intent models.PaymentIntent) IntentDTO {
	return ToDTO(intent, s.cfg.PayBaseURL)
}

func (s *service) defaultExpiresIn() time.Duration {
	if s.cfg.DefaultExpiresIn > 0 {
		return s.cfg.DefaultExpiresIn
	}
	return 300 * time.Second
}

func (s *service) listLimitCap() int {
	if s.cfg.ListLimitCap > 0 {
		return s.cfg.ListLimitCap
	}
	return 200
}
