package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription plans
const (
	PlanStarter      = "starter"
	PlanProfessional = "professional"
	PlanEnterprise   = "enterprise"

	// DefaultPlan is used when a record carries an unknown plan name.
	DefaultPlan = PlanStarter
)

// Subscription lifecycle statuses
const (
	StatusTrial         = "trial"
	StatusActive        = "active"
	StatusPaymentFailed = "payment_failed"
	StatusCancelled     = "cancelled"
)

// Payment history statuses
const (
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
)

// BlockedReasonPaymentRequired is the only blocking reason the access
// decision produces; cancellation surfaces through it once the paid-through
// date is in the past.
const BlockedReasonPaymentRequired = "payment_required"

// TrialPeriodDays is the length of the free trial granted at provisioning.
const TrialPeriodDays = 14

// TenantBillingRecord tracks a tenant's subscription lifecycle. One row per
// tenant. TrialEndsAt doubles as the next billing date once a paid cycle
// begins.
type TenantBillingRecord struct {
	TenantID           uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	Plan               string     `json:"plan" db:"plan"`
	SubscriptionStatus string     `json:"subscription_status" db:"subscription_status"`
	TrialEndsAt        *time.Time `json:"trial_ends_at" db:"trial_ends_at"`
	GatewayCustomerID  *string    `json:"gateway_customer_id" db:"gateway_customer_id"`
	GatewayCardID      *string    `json:"gateway_card_id" db:"gateway_card_id"`
	CardLast4          *string    `json:"card_last4" db:"card_last4"`
	IsSuperAdminOwned  bool       `json:"is_super_admin_owned" db:"is_super_admin_owned"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}

// HasCardOnFile reports whether the tenant has a tokenized card. A card id
// must never exist without a customer id.
func (r *TenantBillingRecord) HasCardOnFile() bool {
	return r.GatewayCustomerID != nil && r.GatewayCardID != nil
}

// PaymentHistoryEntry is an append-only audit record of a single charge
// attempt. Entries are never mutated after creation. CycleKey is the charge
// idempotency key; together with the ledger it answers "did we already
// charge for this cycle".
type PaymentHistoryEntry struct {
	ID               uuid.UUID `json:"id" db:"id"`
	TenantID         uuid.UUID `json:"tenant_id" db:"tenant_id"`
	AmountCents      int64     `json:"amount_cents" db:"amount_cents"`
	Status           string    `json:"status" db:"status"`
	GatewayPaymentID *string   `json:"gateway_payment_id" db:"gateway_payment_id"`
	Description      string    `json:"description" db:"description"`
	CycleKey         string    `json:"cycle_key" db:"cycle_key"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// AccessDecision is computed fresh on every evaluation and never persisted,
// so a payment event is reflected on the very next request.
type AccessDecision struct {
	Allowed       bool   `json:"allowed"`
	BlockedReason string `json:"blocked_reason,omitempty"`
	DaysOverdue   int    `json:"days_overdue,omitempty"`
	// OnAllowedRoute is set by the access guard when a blocked tenant hits a
	// route that must stay reachable (payment method management, account
	// settings) so the UI can render an update-payment surface.
	OnAllowedRoute bool `json:"on_allowed_route,omitempty"`
}

// BillingPatch is a partial update to a TenantBillingRecord. Only non-nil
// fields are written; last-write-wins on the fields provided.
type BillingPatch struct {
	Plan               *string
	SubscriptionStatus *string
	TrialEndsAt        *time.Time
	GatewayCustomerID  *string
	GatewayCardID      *string
	CardLast4          *string
}
