package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"dispatchly/internal/models"
	"dispatchly/internal/repositories"

	"github.com/google/uuid"
)

var (
	// ErrSubscriptionCancelled rejects charge attempts against cancelled
	// tenants before anything reaches the gateway.
	ErrSubscriptionCancelled = errors.New("subscription is cancelled")

	// ErrNoCardOnFile means the tenant has no tokenized card to charge.
	ErrNoCardOnFile = errors.New("no card on file")

	// ErrNoBillingCycle means the record has no due date to anchor the
	// idempotency key on.
	ErrNoBillingCycle = errors.New("billing record has no due date")
)

// ChargeOutcome reports the definitive result of one orchestrated charge.
type ChargeOutcome struct {
	TenantID         uuid.UUID `json:"tenant_id"`
	Succeeded        bool      `json:"succeeded"`
	AmountCents      int64     `json:"amount_cents"`
	HistoryID        uuid.UUID `json:"history_id"`
	GatewayPaymentID string    `json:"gateway_payment_id,omitempty"`
	ReasonCode       string    `json:"reason_code,omitempty"`
}

// ChargeService orchestrates a single tenant's charge: ensure customer,
// attempt the charge under a deterministic idempotency key, record the
// outcome, advance the subscription state. Every step is safely re-playable
// within the same billing cycle.
type ChargeService interface {
	ChargeTenant(ctx context.Context, record *models.TenantBillingRecord) (*ChargeOutcome, error)
	ChargeNow(ctx context.Context, tenantID uuid.UUID) (*ChargeOutcome, error)
	SaveCard(ctx context.Context, tenantID uuid.UUID, cardNonce string) (*models.TenantBillingRecord, error)
}

type chargeService struct {
	billingRepo repositories.BillingRepository
	userRepo    repositories.UserRepository
	gateway     PaymentGatewayService
	notifier    NotificationService
	receipts    ReceiptService
}

func NewChargeService(
	billingRepo repositories.BillingRepository,
	userRepo repositories.UserRepository,
	gateway PaymentGatewayService,
	notifier NotificationService,
	receipts ReceiptService,
) ChargeService {
	return &chargeService{
		billingRepo: billingRepo,
		userRepo:    userRepo,
		gateway:     gateway,
		notifier:    notifier,
		receipts:    receipts,
	}
}

// chargeIdempotencyKey is deterministic per tenant per billing cycle, keyed
// on the cycle's start (the current due date). Overlapping sweeps or a manual
// charge racing a swept one resolve to the same gateway payment.
func chargeIdempotencyKey(tenantID uuid.UUID, cycleStart time.Time) string {
	return fmt.Sprintf("charge-%s-%s", tenantID.String(), cycleStart.UTC().Format("2006-01-02"))
}

// cardIdempotencyKey is deterministic per tenant per presented nonce.
func cardIdempotencyKey(tenantID uuid.UUID, cardNonce string) string {
	sum := sha256.Sum256([]byte(cardNonce))
	return fmt.Sprintf("card-%s-%s", tenantID.String(), hex.EncodeToString(sum[:6]))
}

func (s *chargeService) ChargeTenant(ctx context.Context, record *models.TenantBillingRecord) (*ChargeOutcome, error) {
	if record.SubscriptionStatus == models.StatusCancelled {
		return nil, ErrSubscriptionCancelled
	}
	if record.TrialEndsAt == nil {
		return nil, ErrNoBillingCycle
	}

	// The ledger is the source of truth for "did we already charge this
	// cycle". The gateway replays the original result for a repeated key, so
	// an already-recorded cycle short-circuits to the recorded outcome
	// instead of appending a duplicate entry and re-firing notifications.
	key := chargeIdempotencyKey(record.TenantID, *record.TrialEndsAt)
	prior, err := s.billingRepo.GetHistoryByCycleKey(ctx, record.TenantID, key)
	if err == nil {
		log.Printf("[charge] tenant %s cycle %s already recorded as %s, replaying outcome", record.TenantID, key, prior.Status)
		return replayedOutcome(prior), nil
	}
	if !errors.Is(err, repositories.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check ledger for cycle %s: %w", key, err)
	}

	amount := PlanAmountCents(record.Plan)

	customerID, err := s.ensureCustomer(ctx, record)
	if err != nil {
		return nil, err
	}
	if record.GatewayCardID == nil {
		return nil, ErrNoCardOnFile
	}

	result, err := s.gateway.Charge(ctx, customerID, *record.GatewayCardID, amount, key, record.TenantID.String())
	if err != nil {
		// Transient: the gateway never gave a definitive answer. No history
		// entry, no state change; the next sweep retries under the same key.
		return nil, fmt.Errorf("charge attempt for tenant %s: %w", record.TenantID, err)
	}

	now := time.Now()
	if result.Succeeded {
		return s.recordSuccess(ctx, record, amount, key, result, now)
	}
	return s.recordDecline(ctx, record, amount, key, result)
}

// replayedOutcome rebuilds the outcome of a cycle that was already charged
// and recorded.
func replayedOutcome(entry *models.PaymentHistoryEntry) *ChargeOutcome {
	outcome := &ChargeOutcome{
		TenantID:    entry.TenantID,
		Succeeded:   entry.Status == models.PaymentSucceeded,
		AmountCents: entry.AmountCents,
		HistoryID:   entry.ID,
	}
	if entry.GatewayPaymentID != nil {
		outcome.GatewayPaymentID = *entry.GatewayPaymentID
	}
	return outcome
}

func (s *chargeService) recordSuccess(ctx context.Context, record *models.TenantBillingRecord, amount int64, cycleKey string, result *PaymentResult, now time.Time) (*ChargeOutcome, error) {
	entry := &models.PaymentHistoryEntry{
		ID:               uuid.New(),
		TenantID:         record.TenantID,
		AmountCents:      amount,
		Status:           models.PaymentSucceeded,
		GatewayPaymentID: &result.GatewayPaymentID,
		Description:      fmt.Sprintf("Monthly subscription charge (%s plan)", record.Plan),
		CycleKey:         cycleKey,
	}
	if err := s.billingRepo.AppendHistory(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record successful payment: %w", err)
	}

	nextDue := NextBillingDate(now)
	status := models.StatusActive
	if err := s.billingRepo.UpdateRecord(ctx, record.TenantID, models.BillingPatch{
		SubscriptionStatus: &status,
		TrialEndsAt:        &nextDue,
	}); err != nil {
		return nil, fmt.Errorf("failed to advance subscription state: %w", err)
	}

	if err := s.receipts.StoreReceipt(ctx, entry, record.Plan); err != nil {
		log.Printf("[charge] receipt archive failed for tenant %s: %v", record.TenantID, err)
	}
	s.notifyOutcome(ctx, record, models.NotifyPaymentSucceeded, map[string]interface{}{
		"amount":            fmt.Sprintf("%.2f", float64(amount)/100),
		"plan":              record.Plan,
		"next_billing_date": nextDue.Format("2006-01-02"),
	})

	log.Printf("[charge] tenant %s charged %d cents, next due %s", record.TenantID, amount, nextDue.Format("2006-01-02"))
	return &ChargeOutcome{
		TenantID:         record.TenantID,
		Succeeded:        true,
		AmountCents:      amount,
		HistoryID:        entry.ID,
		GatewayPaymentID: result.GatewayPaymentID,
	}, nil
}

func (s *chargeService) recordDecline(ctx context.Context, record *models.TenantBillingRecord, amount int64, cycleKey string, result *PaymentResult) (*ChargeOutcome, error) {
	entry := &models.PaymentHistoryEntry{
		ID:          uuid.New(),
		TenantID:    record.TenantID,
		AmountCents: amount,
		Status:      models.PaymentFailed,
		Description: fmt.Sprintf("Declined: %s (%s)", result.Message, result.ReasonCode),
		CycleKey:    cycleKey,
	}
	if err := s.billingRepo.AppendHistory(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record declined payment: %w", err)
	}

	// Due date stays put so the tenant remains in the due set for the next
	// sweep.
	status := models.StatusPaymentFailed
	if err := s.billingRepo.UpdateRecord(ctx, record.TenantID, models.BillingPatch{
		SubscriptionStatus: &status,
	}); err != nil {
		return nil, fmt.Errorf("failed to mark payment_failed: %w", err)
	}

	s.notifyOutcome(ctx, record, models.NotifyPaymentFailed, map[string]interface{}{
		"plan":   record.Plan,
		"reason": result.ReasonCode,
	})

	log.Printf("[charge] tenant %s declined: %s", record.TenantID, result.ReasonCode)
	return &ChargeOutcome{
		TenantID:    record.TenantID,
		Succeeded:   false,
		AmountCents: amount,
		HistoryID:   entry.ID,
		ReasonCode:  result.ReasonCode,
	}, nil
}

// ensureCustomer creates the gateway customer on first use and persists the
// id immediately, before any further step can fail, so a retry reuses it
// instead of creating a duplicate.
func (s *chargeService) ensureCustomer(ctx context.Context, record *models.TenantBillingRecord) (string, error) {
	if record.GatewayCustomerID != nil {
		return *record.GatewayCustomerID, nil
	}

	contact, err := s.userRepo.GetBillingContact(ctx, record.TenantID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve billing contact: %w", err)
	}

	customerID, err := s.gateway.CreateCustomer(ctx, record.TenantID.String(), contact.FirstName+" "+contact.LastName, contact.Email)
	if err != nil {
		return "", fmt.Errorf("failed to create gateway customer: %w", err)
	}

	if err := s.billingRepo.UpdateRecord(ctx, record.TenantID, models.BillingPatch{
		GatewayCustomerID: &customerID,
	}); err != nil {
		return "", fmt.Errorf("failed to persist gateway customer id: %w", err)
	}
	record.GatewayCustomerID = &customerID
	return customerID, nil
}

func (s *chargeService) ChargeNow(ctx context.Context, tenantID uuid.UUID) (*ChargeOutcome, error) {
	record, err := s.billingRepo.GetRecord(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.ChargeTenant(ctx, record)
}

// SaveCard ensures a gateway customer exists, tokenizes the presented card
// and persists both ids. Calling it twice creates exactly one customer.
func (s *chargeService) SaveCard(ctx context.Context, tenantID uuid.UUID, cardNonce string) (*models.TenantBillingRecord, error) {
	if cardNonce == "" {
		return nil, fmt.Errorf("card nonce is required")
	}

	record, err := s.billingRepo.GetRecord(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if record.SubscriptionStatus == models.StatusCancelled {
		return nil, ErrSubscriptionCancelled
	}

	customerID, err := s.ensureCustomer(ctx, record)
	if err != nil {
		return nil, err
	}

	cardID, last4, err := s.gateway.CreateCardOnFile(ctx, customerID, cardNonce, cardIdempotencyKey(tenantID, cardNonce))
	if err != nil {
		return nil, fmt.Errorf("failed to tokenize card: %w", err)
	}

	if err := s.billingRepo.UpdateRecord(ctx, tenantID, models.BillingPatch{
		GatewayCardID: &cardID,
		CardLast4:     &last4,
	}); err != nil {
		return nil, fmt.Errorf("failed to persist card on file: %w", err)
	}
	record.GatewayCardID = &cardID
	record.CardLast4 = &last4

	log.Printf("[charge] tenant %s saved card ending %s", tenantID, last4)
	return record, nil
}

// notifyOutcome is best-effort: a notifier failure never rolls back the
// billing-state change it describes.
func (s *chargeService) notifyOutcome(ctx context.Context, record *models.TenantBillingRecord, kind models.NotificationKind, data map[string]interface{}) {
	contact, err := s.userRepo.GetBillingContact(ctx, record.TenantID)
	if err != nil {
		log.Printf("[charge] no billing contact for tenant %s, skipping %s notification: %v", record.TenantID, kind, err)
		return
	}
	s.notifier.Notify(ctx, kind, contact.Email, data)
}
