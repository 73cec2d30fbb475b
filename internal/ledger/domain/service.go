package domain

import (
	"context"
	"errors"
	"fmt"
)

// DeductRequest asks for credits to be consumed ahead of a gated action.
type DeductRequest struct {
	UserID      string
	Tool        string
	Credits     int64
	Description string
	// IdempotencyKey, when set, makes a retried deduction a no-op that
	// returns the recorded outcome of the first attempt.
	IdempotencyKey string
}

// DeductResult reports a successful deduction.
type DeductResult struct {
	RemainingBalance int64 `json:"remaining_balance"`
}

type Service interface {
	Deduct(ctx context.Context, req DeductRequest) (DeductResult, error)
	GetBalance(ctx context.Context, userID string) (int64, error)
}

var (
	ErrAccountNotFound  = errors.New("account_not_found")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidUser      = errors.New("invalid_user")
	ErrTransientFailure = errors.New("transient_failure")
	// ErrStorageConflict marks a lost optimistic-update race inside the
	// deduction transaction; the engine retries it internally.
	ErrStorageConflict = errors.New("storage_conflict")
)

// InsufficientCreditsError rejects a deduction that exceeds the available
// balance. It always carries both sides of the comparison so callers can
// render "need X, have Y".
type InsufficientCreditsError struct {
	Available int64
	Requested int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient_credits: requested %d, available %d", e.Requested, e.Available)
}

// AsInsufficientCredits unwraps err into an InsufficientCreditsError.
func AsInsufficientCredits(err error) (*InsufficientCreditsError, bool) {
	var ice *InsufficientCreditsError
	if errors.As(err, &ice) {
		return ice, true
	}
	return nil, false
}
