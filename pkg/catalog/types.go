package catalog

import "time"

// Plan is a purchasable credit pack. PriceCents is the gateway-facing
// price; Credits plus BonusCredits is what lands in the ledger once the
// payment is verified.
type Plan struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Credits      int64     `json:"credits"`
	BonusCredits int64     `json:"bonus_credits"`
	PriceCents   int64     `json:"price_cents"`
	Currency     string    `json:"currency"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TotalCredits is the amount credited on a verified purchase.
func (p *Plan) TotalCredits() int64 {
	return p.Credits + p.BonusCredits
}

// PlanRequest is the admin create/update payload.
type PlanRequest struct {
	Name         string `json:"name"`
	Credits      int64  `json:"credits"`
	BonusCredits int64  `json:"bonus_credits"`
	PriceCents   int64  `json:"price_cents"`
	Currency     string `json:"currency"`
	Active       *bool  `json:"active,omitempty"`
}
