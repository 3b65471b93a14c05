package messes

import "time"

// MessStatus represents the lifecycle state of a mess.
type MessStatus string

const (
	MessStatusActive    MessStatus = "active"
	MessStatusTrial     MessStatus = "trial"
	MessStatusSuspended MessStatus = "suspended"
)

// Mess is a tenant: one food-service operation with its own credit account
// and billing settings.
type Mess struct {
	ID                   int64      `json:"id"`
	Name                 string     `json:"name"`
	Status               MessStatus `json:"status"`
	Balance              int64      `json:"balance"`
	LowBalanceThreshold  int64      `json:"low_balance_threshold"`
	AutoRenewal          bool       `json:"auto_renewal"`
	BillingCycleDays     int        `json:"billing_cycle_days"`
	MaxLeaveDaysPerCycle int        `json:"max_leave_days_per_cycle"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Member is one subscriber of a mess. Only active members count toward
// slab pricing.
type Member struct {
	ID       int64      `json:"id"`
	MessID   int64      `json:"mess_id"`
	Name     string     `json:"name"`
	Active   bool       `json:"active"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// CreateMessRequest represents a request to register a mess.
type CreateMessRequest struct {
	Name                 string `json:"name"`
	BillingCycleDays     int    `json:"billing_cycle_days,omitempty"`
	MaxLeaveDaysPerCycle int    `json:"max_leave_days_per_cycle,omitempty"`
	LowBalanceThreshold  int64  `json:"low_balance_threshold,omitempty"`
}

// UpdateSettingsRequest updates a mess's billing settings. Nil fields are
// left unchanged.
type UpdateSettingsRequest struct {
	Name                 *string `json:"name,omitempty"`
	BillingCycleDays     *int    `json:"billing_cycle_days,omitempty"`
	MaxLeaveDaysPerCycle *int    `json:"max_leave_days_per_cycle,omitempty"`
	LowBalanceThreshold  *int64  `json:"low_balance_threshold,omitempty"`
}
