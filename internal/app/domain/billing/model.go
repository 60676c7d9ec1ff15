// Package billing defines the plan and subscription shapes shown on the
// billing page. The payment provider is the system of record.
package billing

import "time"

// Plan is a purchasable subscription tier.
type Plan struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PriceID      string `json:"price_id"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
	Interval     string `json:"interval"`
	RequestQuota int64  `json:"request_quota,omitempty"`
}

// Subscription is the caller's current subscription state.
type Subscription struct {
	ID                string    `json:"id"`
	Status            string    `json:"status"`
	PriceID           string    `json:"price_id"`
	CurrentPeriodEnd  time.Time `json:"current_period_end"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
}
