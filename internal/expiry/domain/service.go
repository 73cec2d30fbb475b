// Package domain contains the expiration query contract.
package domain

import (
	"context"
	"time"
)

// Info describes when a user's usable credits run out. A nil Info means
// nothing expires and no warning should ever be shown.
type Info struct {
	ExpiresAt       time.Time `json:"expires_at"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
	ExpiringSoon    bool      `json:"expiring_soon"`
	Expired         bool      `json:"expired"`
}

type Service interface {
	// GetExpirationInfo is a pure read; it never revokes credits. Actual
	// expiry enforcement happens in the deduction batch filter.
	GetExpirationInfo(ctx context.Context, userID string) (*Info, error)
}
