package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Error taxonomy shared by every service. Callers wrap these with context via
// fmt.Errorf("%w: ...") and match them with errors.Is.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrEmptyCart        = errors.New("cart is empty")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrNotConfigured    = errors.New("not configured")
	ErrGateway          = errors.New("payment gateway error")
	ErrConflict         = errors.New("conflict")
)

func invalidArgf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// translate maps gorm's not-found onto ErrNotFound for the named entity.
func translate(err error, entity string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFoundf("%s", entity)
	}
	return err
}
