package services

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"quorum/internal/storage"
)

// Service errors. Handlers map them to HTTP statuses; anything else is internal.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrRateLimited     = errors.New("rate limited")
	ErrInternal        = errors.New("internal error")
)

// fail wraps a sentinel with the operation name.
func fail(op string, sentinel error) error {
	return fmt.Errorf("%s: %w", op, sentinel)
}

// failf wraps a sentinel with the operation name and a caller-safe detail.
func failf(op string, sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w: %s", op, sentinel, fmt.Sprintf(format, args...))
}

// storageErr translates a storage error. ErrNotFound keeps its meaning; every
// other failure is logged with full detail and reported as ErrInternal.
func storageErr(log *zap.Logger, op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fail(op, ErrNotFound)
	}
	log.Error("storage failure", zap.String("op", op), zap.Error(err))
	return fail(op, ErrInternal)
}
