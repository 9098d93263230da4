package intents

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/payintents-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/payintents-backend/pkg/errors"
)

func invalidInput(field, message string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, message).
		WithDetails(map[string]string{field: message})
}

func notFound() error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
}

func alreadyFinal(status enums.IntentStatus) error {
	return pkgerrors.New(pkgerrors.CodeAlreadyFinal, "payment intent is already "+string(status)).
		WithDetails(map[string]string{"status": string(status)})
}

func expired(expiresAt time.Time) error {
	return pkgerrors.New(pkgerrors.CodeExpired, "payment intent has expired").
		WithDetails(map[string]string{"expiresAt": expiresAt.UTC().Format(time.RFC3339Nano)})
}

func updateBlocked() error {
	return pkgerrors.New(pkgerrors.CodeUpdateBlocked, "payment intent update was blocked, retry later")
}

// storeError classifies a record store failure. opCtx is the bounded context
// the store call ran under.
func storeError(opCtx context.Context, err error, message string) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeStoreTimeout, err, "record store did not respond in time")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
