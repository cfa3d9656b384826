package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"dispatchly/internal/models"
	"dispatchly/internal/repositories"

	"github.com/google/uuid"
)

// planPriceCents is the fixed price table, in cents.
var planPriceCents = map[string]int64{
	models.PlanStarter:      2900,
	models.PlanProfessional: 7900,
	models.PlanEnterprise:   19900,
}

// trialWarningDays is how close to the due date the advisory banner kicks in.
const trialWarningDays = 3

// BillingService owns the subscription lifecycle decisions. Decide and
// TrialWarning are pure functions of their inputs so every caller gets the
// same answer for the same record and clock.
type BillingService interface {
	Provision(ctx context.Context, tenantID uuid.UUID) (*models.TenantBillingRecord, error)
	GetStatus(ctx context.Context, tenantID uuid.UUID, now time.Time, isSuperAdmin bool) (*BillingStatus, error)
	Decide(record *models.TenantBillingRecord, now time.Time, isSuperAdmin bool) models.AccessDecision
	TrialWarning(record *models.TenantBillingRecord, now time.Time) (daysLeft int, warn bool)
	Cancel(ctx context.Context, tenantID uuid.UUID) error
	AvailablePlans() map[string]int64
}

// BillingStatus is what the UI needs to render the billing screen.
type BillingStatus struct {
	Record          *models.TenantBillingRecord `json:"record"`
	Decision        models.AccessDecision       `json:"decision"`
	WarningDays     int                         `json:"warning_days,omitempty"`
	ShowWarning     bool                        `json:"show_warning"`
	PlanAmountCents int64                       `json:"plan_amount_cents"`
}

type billingService struct {
	billingRepo repositories.BillingRepository
}

func NewBillingService(billingRepo repositories.BillingRepository) BillingService {
	return &billingService{billingRepo: billingRepo}
}

// PlanAmountCents resolves a plan to its price, falling back to the default
// plan for unknown names so a bad row can never produce a zero charge.
func PlanAmountCents(plan string) int64 {
	if amount, ok := planPriceCents[plan]; ok {
		return amount
	}
	return planPriceCents[models.DefaultPlan]
}

// NextBillingDate anchors the next cycle to "now" rather than the previous
// due date. After a failed cycle this drifts the billing day forward; see
// DESIGN.md before changing the anchor.
func NextBillingDate(now time.Time) time.Time {
	return now.AddDate(0, 1, 0)
}

// Provision creates the trial billing record for a newly provisioned tenant.
// Safe to call twice: the insert is a no-op when the record already exists.
func (s *billingService) Provision(ctx context.Context, tenantID uuid.UUID) (*models.TenantBillingRecord, error) {
	trialEnds := time.Now().AddDate(0, 0, models.TrialPeriodDays)
	record := &models.TenantBillingRecord{
		TenantID:           tenantID,
		Plan:               models.DefaultPlan,
		SubscriptionStatus: models.StatusTrial,
		TrialEndsAt:        &trialEnds,
	}
	if err := s.billingRepo.CreateRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to provision billing record: %w", err)
	}
	return record, nil
}

// Decide computes the access decision for a tenant. Pure: same inputs always
// yield the same decision. The record may be nil (tenant not yet
// provisioned), which fails open so onboarding is never blocked.
func (s *billingService) Decide(record *models.TenantBillingRecord, now time.Time, isSuperAdmin bool) models.AccessDecision {
	if isSuperAdmin {
		return models.AccessDecision{Allowed: true}
	}
	if record == nil {
		return models.AccessDecision{Allowed: true}
	}
	if record.IsSuperAdminOwned {
		return models.AccessDecision{Allowed: true}
	}

	trialExpired := record.TrialEndsAt != nil && now.After(*record.TrialEndsAt)
	if trialExpired && record.SubscriptionStatus != models.StatusActive {
		overdue := int(now.Sub(*record.TrialEndsAt).Hours() / 24)
		return models.AccessDecision{
			Allowed:       false,
			BlockedReason: models.BlockedReasonPaymentRequired,
			DaysOverdue:   overdue,
		}
	}
	return models.AccessDecision{Allowed: true}
}

// TrialWarning reports the advisory "trial ending soon" banner state. It is
// informational only and never blocks access.
func (s *billingService) TrialWarning(record *models.TenantBillingRecord, now time.Time) (int, bool) {
	if record == nil || record.TrialEndsAt == nil {
		return 0, false
	}
	if record.SubscriptionStatus == models.StatusActive {
		return 0, false
	}
	until := record.TrialEndsAt.Sub(now)
	if until <= 0 {
		return 0, false
	}
	// Ceiling division so an exact multiple of 24h counts as that many days,
	// not one more (exactly 72h out is "3 days left").
	daysLeft := int(math.Ceil(until.Hours() / 24))
	return daysLeft, daysLeft <= trialWarningDays
}

func (s *billingService) GetStatus(ctx context.Context, tenantID uuid.UUID, now time.Time, isSuperAdmin bool) (*BillingStatus, error) {
	record, err := s.billingRepo.GetRecord(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	days, warn := s.TrialWarning(record, now)
	return &BillingStatus{
		Record:          record,
		Decision:        s.Decide(record, now, isSuperAdmin),
		WarningDays:     days,
		ShowWarning:     warn,
		PlanAmountCents: PlanAmountCents(record.Plan),
	}, nil
}

// Cancel moves a tenant to cancelled from any state. Administrative action;
// the access guard and charge orchestrator both respect the resulting state.
func (s *billingService) Cancel(ctx context.Context, tenantID uuid.UUID) error {
	status := models.StatusCancelled
	if err := s.billingRepo.UpdateRecord(ctx, tenantID, models.BillingPatch{SubscriptionStatus: &status}); err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}
	log.Printf("[billing] tenant %s subscription cancelled", tenantID)
	return nil
}

func (s *billingService) AvailablePlans() map[string]int64 {
	plans := make(map[string]int64, len(planPriceCents))
	for plan, amount := range planPriceCents {
		plans[plan] = amount
	}
	return plans
}
